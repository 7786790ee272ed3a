package convcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestMessenger(tr Transport, opts ...Option) *Messenger {
	opts = append([]Option{WithClock(fixedClock(2024, 1, 1), time.UTC)}, opts...)
	return NewMessenger(NewCache(self), tr, opts...)
}

func TestMessenger_EndToEnd(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	tr.nextSend = func(from, to, content string) Message {
		return Message{ID: "m1", SenderID: from, RecipientID: to, Content: content, CreatedAt: t0}
	}
	m := newTestMessenger(tr)

	var states []LoadingState
	defer m.Subscribe("u2", func(s Snapshot) { states = append(states, s.State) })()

	var during LoadingState
	tr.onFetch = func(peer string) {
		during = m.LoadingState(peer)
		close(tr.gate)
	}

	require.NoError(t, m.OpenConversation(context.Background(), "u2"))
	require.Equal(t, "u2", m.ActivePeer())
	require.Equal(t, Fetching, during)
	require.Equal(t, Fetched, m.LoadingState("u2"))
	require.Equal(t, []LoadingState{Fetching, Fetched}, states)
	require.Empty(t, m.DisplayItems("u2"))

	sent, err := m.Send(context.Background(), "u2", "hi")
	require.NoError(t, err)
	require.Equal(t, "m1", sent.ID)

	require.Equal(t, []Message{sent}, m.Messages("u2"))
	items := m.DisplayItems("u2")
	require.Len(t, items, 2)
	require.True(t, items[0].IsSeparator())
	require.Equal(t, "Today", items[0].Label)
	require.Equal(t, "hi", items[1].Message.Content)
}

func TestMessenger_OpenTwiceFetchesOnce(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	m := newTestMessenger(tr)

	require.NoError(t, m.OpenConversation(context.Background(), "u2"))
	require.NoError(t, m.OpenConversation(context.Background(), "u2"))
	require.NoError(t, m.EnsureLoaded(context.Background(), "u2"))
	require.Equal(t, 1, tr.calls("u2"))
}

func TestMessenger_SendFailureAppendsNothing(t *testing.T) {
	t.Parallel()

	boom := errors.New("offline")
	tr := newFakeTransport()
	tr.sendErr = boom
	m := newTestMessenger(tr)
	require.NoError(t, m.OpenConversation(context.Background(), "u2"))

	_, err := m.Send(context.Background(), "u2", "draft")
	require.ErrorIs(t, err, ErrSendFailed)
	require.ErrorIs(t, err, boom)

	var se *SendError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "u2", se.Peer)
	require.Empty(t, m.Messages("u2"))
}

func TestMessenger_SendRejectsMismatchedReply(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.nextSend = func(_, _, content string) Message {
		return Message{ID: "x", SenderID: "someone", RecipientID: "else", Content: content, CreatedAt: t0}
	}
	m := newTestMessenger(tr)

	_, err := m.Send(context.Background(), "u2", "hi")
	require.ErrorIs(t, err, ErrForeignMessage)
	require.Zero(t, m.Cache().Len())
}

func TestMessenger_SendBeforeOpenThenFetchMerges(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	old := msgAt("old", "u2", self, t0.Add(-time.Hour))
	sent := Message{ID: "new", SenderID: self, RecipientID: "u2", Content: "hey", CreatedAt: t0}
	tr.history["u2"] = []Message{sent, old}
	tr.nextSend = func(string, string, string) Message { return sent }

	m := newTestMessenger(tr)
	_, err := m.Send(context.Background(), "u2", "hey")
	require.NoError(t, err)
	require.Equal(t, NeverFetched, m.LoadingState("u2"))

	require.NoError(t, m.OpenConversation(context.Background(), "u2"))
	require.Equal(t, []string{"old", "new"}, ids(m.Messages("u2")))
}

func TestMessenger_FetchFailureSurfacesAndIsolated(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.history["u3"] = []Message{msgAt("keep", "u3", self, t0)}
	m := newTestMessenger(tr)
	require.NoError(t, m.OpenConversation(context.Background(), "u3"))

	tr.mu.Lock()
	tr.fetchErr = errors.New("500")
	tr.mu.Unlock()

	err := m.OpenConversation(context.Background(), "u2")
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, NeverFetched, m.LoadingState("u2"))
	require.Equal(t, []string{"keep"}, ids(m.Messages("u3")))
	require.Equal(t, Fetched, m.LoadingState("u3"))
}

func TestMessenger_AwaitSettles(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	m := newTestMessenger(tr)

	st, err := m.Await(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, NeverFetched, st)

	done := make(chan error, 1)
	go func() { done <- m.OpenConversation(context.Background(), "u2") }()
	require.Eventually(t, func() bool { return m.LoadingState("u2") == Fetching }, time.Second, time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(tr.gate)
	}()
	st, err = m.Await(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, Fetched, st)
	require.NoError(t, <-done)
}

func TestMessenger_AwaitHonorsContext(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	defer close(tr.gate)
	m := newTestMessenger(tr)

	go func() { _ = m.OpenConversation(context.Background(), "u2") }()
	require.Eventually(t, func() bool { return m.LoadingState("u2") == Fetching }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := m.Await(ctx, "u2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, Fetching, st)
}

func TestMessenger_PrefetchJoinsErrors(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.history["a"] = []Message{msgAt("a1", "a", self, t0)}
	m := newTestMessenger(tr, WithPrefetchLimit(2))

	require.NoError(t, m.Prefetch(context.Background(), "a", "b", "c", "a"))
	for _, p := range []string{"a", "b", "c"} {
		require.Equal(t, Fetched, m.LoadingState(p))
		require.Equal(t, 1, tr.calls(p))
	}

	tr.mu.Lock()
	tr.fetchErr = errors.New("down")
	tr.mu.Unlock()

	err := m.Prefetch(context.Background(), "d", "e")
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, NeverFetched, m.LoadingState("d"))
	require.Equal(t, NeverFetched, m.LoadingState("e"))
}

func TestMessenger_MarkReadAndUnread(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.history["u2"] = []Message{
		msgAt("in1", "u2", self, t0),
		msgAt("out", self, "u2", t0.Add(time.Second)),
		msgAt("in2", "u2", self, t0.Add(2*time.Second)),
	}
	m := newTestMessenger(tr)
	require.NoError(t, m.OpenConversation(context.Background(), "u2"))
	require.Equal(t, 2, m.UnreadCount("u2"))

	n, err := m.MarkRead(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Zero(t, m.UnreadCount("u2"))
	require.Equal(t, 1, tr.readCalls)
}

func TestMessenger_MarkReadUnsupported(t *testing.T) {
	t.Parallel()

	m := newTestMessenger(TransportFuncs{})
	_, err := m.MarkRead(context.Background(), "u2")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestMessenger_DisplayInfoUsesTransportResolver(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.names["u2"] = "Grace"
	m := newTestMessenger(tr)

	require.Equal(t, "Grace", m.DisplayInfo(context.Background(), "u2").Name)

	tr.nameErr = errors.New("gone")
	require.True(t, m.DisplayInfo(context.Background(), "u9").Placeholder)
}

func TestMessenger_SendMetrics(t *testing.T) {
	t.Parallel()

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	tr := newFakeTransport()
	m := newTestMessenger(tr, WithMetrics(metrics))

	_, err = m.Send(context.Background(), "u2", "one")
	require.NoError(t, err)

	tr.sendErr = errors.New("nope")
	_, _ = m.Send(context.Background(), "u2", "two")

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.sends.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.sends.WithLabelValues("error")))
}

func TestMessenger_EmptyPeer(t *testing.T) {
	t.Parallel()

	m := newTestMessenger(newFakeTransport())
	require.ErrorIs(t, m.OpenConversation(context.Background(), ""), ErrEmptyPeer)
	_, err := m.Send(context.Background(), "", "x")
	require.ErrorIs(t, err, ErrEmptyPeer)
}

func TestMessenger_SubscribeLoading(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	m := newTestMessenger(tr)

	var states []LoadingState
	unsubscribe := m.SubscribeLoading("u2", func(s LoadingState) { states = append(states, s) })

	require.NoError(t, m.OpenConversation(context.Background(), "u2"))
	_, err := m.Send(context.Background(), "u2", "hi")
	require.NoError(t, err)
	unsubscribe()
	_, err = m.Send(context.Background(), "u2", "again")
	require.NoError(t, err)

	require.Equal(t, []LoadingState{Fetching, Fetched}, states)
}
