package dm

import (
	"context"
	"sort"
	"sync"

	"buildlink/cmd/internal/ids"
)

const memMaxMessagesPerConversation = 10_000

// InMemoryStore is a dev-only fallback when DB is not configured.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConv
}

type memConv struct {
	seq    int64
	dedupe map[dedupeKey]*StoredMessage
	msgs   []*StoredMessage // ordered by seq
}

type dedupeKey struct {
	sender      string
	clientMsgID string
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]*memConv)}
}

// Close is a noop.
func (s *InMemoryStore) Close() error { return nil }

// AppendMessage persists a message with idempotency and monotonic sequence allocation.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	in, err := in.normalize()
	if err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	convID := ConversationID(in.SenderID, in.RecipientID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[convID]
	if c == nil {
		c = &memConv{
			dedupe: make(map[dedupeKey]*StoredMessage),
			msgs:   make([]*StoredMessage, 0, 64),
		}
		s.convs[convID] = c
	}

	key := dedupeKey{sender: in.SenderID, clientMsgID: in.ClientMsgID}
	if existing, ok := c.dedupe[key]; ok {
		return AppendMessageResult{Stored: *existing, Duplicated: true}, nil
	}

	c.seq++
	msg := &StoredMessage{
		ConversationID: convID,
		Seq:            c.seq,
		ID:             id,
		ClientMsgID:    in.ClientMsgID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Content:        in.Content,
		CreatedAt:      in.Now,
	}
	c.dedupe[key] = msg
	c.msgs = append(c.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		for _, old := range c.msgs[:len(c.msgs)-memMaxMessagesPerConversation] {
			delete(c.dedupe, dedupeKey{sender: old.SenderID, clientMsgID: old.ClientMsgID})
		}
		c.msgs = append([]*StoredMessage(nil), c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]...)
	}

	return AppendMessageResult{Stored: *msg}, nil
}

// FetchConversation returns messages ordered by seq ASC with paging via AfterSeq.
func (s *InMemoryStore) FetchConversation(ctx context.Context, in FetchConversationInput) (FetchConversationResult, error) {
	in, err := in.normalize()
	if err != nil {
		return FetchConversationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FetchConversationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[ConversationID(in.SelfID, in.PeerID)]
	if c == nil || len(c.msgs) == 0 {
		return FetchConversationResult{}, nil
	}

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].Seq > after })
	}

	end := min(start+in.Limit+1, len(c.msgs))
	out := make([]StoredMessage, 0, end-start)
	for _, m := range c.msgs[start:end] {
		out = append(out, *m)
	}

	hasMore := len(out) > in.Limit
	if hasMore {
		out = out[:in.Limit]
	}
	return FetchConversationResult{Messages: out, HasMore: hasMore}, nil
}

// MarkRead flags every unread message from peerID to readerID.
func (s *InMemoryStore) MarkRead(ctx context.Context, readerID, peerID string) (int64, error) {
	if readerID == "" || peerID == "" {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[ConversationID(readerID, peerID)]
	if c == nil {
		return 0, nil
	}
	var n int64
	for _, m := range c.msgs {
		if !m.Read && m.SenderID == peerID && m.RecipientID == readerID {
			m.Read = true
			n++
		}
	}
	return n, nil
}
