package convcache

import "context"

// Transport is the remote call surface the cache sits in front of.
// Implementations return errors rather than panicking; the cache never retries on its own.
type Transport interface {
	// FetchHistory returns the full conversation between self and peer, in any order.
	FetchHistory(ctx context.Context, self, peer string) ([]Message, error)
	// SendMessage stores content and returns the canonical message with its final ID and CreatedAt.
	SendMessage(ctx context.Context, self, peer, content string) (Message, error)
}

// ReadMarker is implemented by transports that can flag a conversation as read.
type ReadMarker interface {
	MarkRead(ctx context.Context, self, peer string) (int64, error)
}

// DisplayInfoResolver looks up presentation data for a peer.
type DisplayInfoResolver interface {
	ResolveDisplayInfo(ctx context.Context, peer string) (DisplayInfo, error)
}

// TransportFuncs adapts plain functions to Transport.
type TransportFuncs struct {
	Fetch func(ctx context.Context, self, peer string) ([]Message, error)
	Send  func(ctx context.Context, self, peer, content string) (Message, error)
}

func (f TransportFuncs) FetchHistory(ctx context.Context, self, peer string) ([]Message, error) {
	if f.Fetch == nil {
		return nil, ErrUnsupported
	}
	return f.Fetch(ctx, self, peer)
}

func (f TransportFuncs) SendMessage(ctx context.Context, self, peer, content string) (Message, error) {
	if f.Send == nil {
		return Message{}, ErrUnsupported
	}
	return f.Send(ctx, self, peer, content)
}
