package convcache

import (
	"context"
	"sync"
	"time"
)

const self = "me"

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func msgAt(id, from, to string, at time.Time) Message {
	return Message{ID: id, SenderID: from, RecipientID: to, Content: "text " + id, CreatedAt: at}
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// fakeTransport records calls and can hold fetches open on a gate.
type fakeTransport struct {
	mu         sync.Mutex
	fetchCalls map[string]int
	sendCalls  int
	history    map[string][]Message
	fetchErr   error
	sendErr    error
	gate       chan struct{}
	onFetch    func(peer string)
	nextSend   func(self, peer, content string) Message
	readCalls  int
	names      map[string]string
	nameErr    error
	nameCalls  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fetchCalls: make(map[string]int),
		history:    make(map[string][]Message),
		names:      make(map[string]string),
	}
}

func (f *fakeTransport) FetchHistory(ctx context.Context, self, peer string) ([]Message, error) {
	f.mu.Lock()
	f.fetchCalls[peer]++
	gate := f.gate
	onFetch := f.onFetch
	f.mu.Unlock()

	if onFetch != nil {
		onFetch(peer)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]Message(nil), f.history[peer]...), nil
}

func (f *fakeTransport) SendMessage(_ context.Context, self, peer, content string) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return Message{}, f.sendErr
	}
	if f.nextSend != nil {
		return f.nextSend(self, peer, content), nil
	}
	return Message{ID: "sent-" + content, SenderID: self, RecipientID: peer, Content: content, CreatedAt: t0}, nil
}

func (f *fakeTransport) MarkRead(_ context.Context, _, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	return 1, nil
}

func (f *fakeTransport) ResolveDisplayInfo(_ context.Context, peer string) (DisplayInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	if f.nameErr != nil {
		return DisplayInfo{}, f.nameErr
	}
	return DisplayInfo{PeerID: peer, Name: f.names[peer]}, nil
}

func (f *fakeTransport) calls(peer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[peer]
}
