package dm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestConversationID_OrderIndependent(t *testing.T) {
	t.Parallel()

	if got, want := ConversationID("u2", "u1"), "dm:2:u1:u2"; got != want {
		t.Fatalf("ConversationID: got %q want %q", got, want)
	}
	if ConversationID("a", "b") != ConversationID("b", "a") {
		t.Fatalf("ConversationID must not depend on argument order")
	}
	if ConversationID("a", "b:c") == ConversationID("a:b", "c") {
		t.Fatalf("ids containing ':' must not share a key")
	}
}

func TestInMemoryStore_Fetch_IDsWithColonStayIsolated(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: "a:b", RecipientID: "c", ClientMsgID: "c1", Content: "secret", Now: now}); err != nil {
		t.Fatalf("append a:b -> c: %v", err)
	}
	own, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: "a", RecipientID: "b:c", ClientMsgID: "c1", Content: "hello", Now: now})
	if err != nil {
		t.Fatalf("append a -> b:c: %v", err)
	}
	if own.Duplicated || own.Stored.Seq != 1 {
		t.Fatalf("a <-> b:c must start its own sequence, got %+v", own)
	}

	res, err := s.FetchConversation(ctx, FetchConversationInput{SelfID: "a", PeerID: "b:c"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Messages) != 1 || res.HasMore {
		t.Fatalf("expected only the a <-> b:c message, got %+v", res)
	}
	if m := res.Messages[0]; m.SenderID != "a" || m.RecipientID != "b:c" || m.Content != "hello" {
		t.Fatalf("foreign message leaked: %+v", m)
	}
}

func TestInMemoryStore_Append_Dedupe_NoSeqWaste(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 123456789, time.UTC)

	first, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: "u1", RecipientID: "u2", ClientMsgID: "c1", Content: "hi", Now: now})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicated || first.Stored.Seq != 1 || first.Stored.ID == "" {
		t.Fatalf("append first: unexpected %+v", first)
	}
	if !first.Stored.CreatedAt.Equal(now.Truncate(time.Microsecond)) {
		t.Fatalf("created_at: got %v", first.Stored.CreatedAt)
	}

	dup, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: "u1", RecipientID: "u2", ClientMsgID: "c1", Content: "hi again", Now: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !dup.Duplicated || dup.Stored.ID != first.Stored.ID || dup.Stored.Content != "hi" {
		t.Fatalf("append duplicate: expected original row, got %+v", dup)
	}

	// Same client id from the other side is a different message.
	reply, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: "u2", RecipientID: "u1", ClientMsgID: "c1", Content: "yo", Now: now})
	if err != nil {
		t.Fatalf("append reply: %v", err)
	}
	if reply.Duplicated || reply.Stored.Seq != 2 {
		t.Fatalf("append reply: expected seq=2, got %+v", reply)
	}
}

func TestInMemoryStore_InvalidInput(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	cases := []struct {
		name string
		in   AppendMessageInput
		want error
	}{
		{"missing sender", AppendMessageInput{RecipientID: "u2", ClientMsgID: "c"}, ErrInvalidInput},
		{"missing recipient", AppendMessageInput{SenderID: "u1", ClientMsgID: "c"}, ErrInvalidInput},
		{"missing client id", AppendMessageInput{SenderID: "u1", RecipientID: "u2"}, ErrInvalidInput},
		{"self", AppendMessageInput{SenderID: "u1", RecipientID: "u1", ClientMsgID: "c"}, ErrSelfConversation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.AppendMessage(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}

	if _, err := s.FetchConversation(ctx, FetchConversationInput{SelfID: "u1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("fetch without peer: got %v", err)
	}
}

func TestInMemoryStore_Fetch_Order_AfterSeq_HasMore(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		from, to := "u1", "u2"
		if i%2 == 1 {
			from, to = to, from
		}
		if _, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: from, RecipientID: to, ClientMsgID: fmt.Sprintf("c%d", i), Content: fmt.Sprintf("m%d", i), Now: now}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: "u1", RecipientID: "u3", ClientMsgID: "other", Content: "x", Now: now}); err != nil {
		t.Fatalf("append other conversation: %v", err)
	}

	page1, err := s.FetchConversation(ctx, FetchConversationInput{SelfID: "u2", PeerID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("fetch page1: %v", err)
	}
	if !page1.HasMore || len(page1.Messages) != 2 || page1.Messages[0].Seq != 1 || page1.Messages[1].Seq != 2 {
		t.Fatalf("page1: unexpected %+v", page1)
	}

	after := page1.Messages[1].Seq
	page2, err := s.FetchConversation(ctx, FetchConversationInput{SelfID: "u1", PeerID: "u2", AfterSeq: &after, Limit: 2})
	if err != nil {
		t.Fatalf("fetch page2: %v", err)
	}
	if page2.HasMore || len(page2.Messages) != 1 || page2.Messages[0].Content != "m2" {
		t.Fatalf("page2: unexpected %+v", page2)
	}

	empty, err := s.FetchConversation(ctx, FetchConversationInput{SelfID: "u1", PeerID: "u9"})
	if err != nil || len(empty.Messages) != 0 || empty.HasMore {
		t.Fatalf("unknown conversation: %+v %v", empty, err)
	}
}

func TestInMemoryStore_MarkRead(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()
	for i, from := range []string{"u2", "u1", "u2"} {
		to := "u1"
		if from == "u1" {
			to = "u2"
		}
		if _, err := s.AppendMessage(ctx, AppendMessageInput{SenderID: from, RecipientID: to, ClientMsgID: fmt.Sprint(i), Content: "x"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := s.MarkRead(ctx, "u1", "u2")
	if err != nil || n != 2 {
		t.Fatalf("MarkRead: n=%d err=%v", n, err)
	}
	if n, _ := s.MarkRead(ctx, "u1", "u2"); n != 0 {
		t.Fatalf("second MarkRead: expected 0, got %d", n)
	}

	out, _ := s.FetchConversation(ctx, FetchConversationInput{SelfID: "u1", PeerID: "u2"})
	for _, m := range out.Messages {
		if want := m.SenderID == "u2"; m.Read != want {
			t.Fatalf("message %d read=%v want %v", m.Seq, m.Read, want)
		}
	}
}

func TestInMemoryStore_ConcurrentAppend_StrictSeq(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendMessage(context.Background(), AppendMessageInput{SenderID: "u1", RecipientID: "u2", ClientMsgID: fmt.Sprint(i), Content: "x"})
			if err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	out, err := s.FetchConversation(context.Background(), FetchConversationInput{SelfID: "u1", PeerID: "u2", Limit: maxHistoryLimit})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out.Messages) != n {
		t.Fatalf("expected %d messages, got %d", n, len(out.Messages))
	}
	for i, m := range out.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at %d: %d", i, m.Seq)
		}
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{-1: 50, 0: 50, 10: 10, 200: 200, 500: 200} {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d)=%d want %d", in, got, want)
		}
	}
}
