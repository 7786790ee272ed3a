package dmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"buildlink/cmd/internal/convcache"
	v1 "buildlink/shared/contracts/directmsg/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultPageLimit = 200

// DialOptions configures Dial.
type DialOptions struct {
	// URL is the gateway endpoint, e.g. ws://localhost:8080/ws.
	URL    string
	UserID string
	Origin string

	// PageLimit is the history page size (default 200).
	PageLimit int
	Logger    *slog.Logger
}

// WSTransport talks to the dm gateway over one WebSocket connection.
// Replies are matched to requests by reply_to, so calls may run concurrently.
type WSTransport struct {
	conn      *websocket.Conn
	self      string
	sessionID string
	pageLimit int
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var (
	_ convcache.Transport           = (*WSTransport)(nil)
	_ convcache.ReadMarker          = (*WSTransport)(nil)
	_ convcache.DisplayInfoResolver = (*WSTransport)(nil)
)

// Dial connects to the gateway and completes the hello handshake as opts.UserID.
func Dial(ctx context.Context, opts DialOptions) (*WSTransport, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return nil, errors.New("dmclient: missing user id")
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = defaultPageLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	h := http.Header{}
	if opts.Origin != "" {
		h.Set("Origin", opts.Origin)
	}
	conn, resp, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	if conn.Subprotocol() != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("dial %s: server did not select %s", opts.URL, v1.Subprotocol)
	}

	t := &WSTransport{
		conn:      conn,
		self:      userID,
		pageLimit: opts.PageLimit,
		log:       opts.Logger,
		pending:   make(map[string]chan v1.Envelope),
		done:      make(chan struct{}),
	}
	go t.readLoop()

	var ack v1.HelloAckPayload
	if err := t.call(ctx, v1.TypeHello, v1.HelloPayload{UserID: userID}, v1.TypeHelloAck, &ack); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	t.sessionID = ack.SessionID
	t.log.Debug("dmclient.connected", "user_id", userID, "session_id", ack.SessionID)
	return t, nil
}

// Self returns the bound user id.
func (t *WSTransport) Self() string { return t.self }

// SessionID returns the id the gateway assigned in hello_ack.
func (t *WSTransport) SessionID() string { return t.sessionID }

// Close closes the connection. Pending calls fail with ErrClosed.
func (t *WSTransport) Close() error {
	t.shutdown(ErrClosed)
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (t *WSTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.closeErr = err
		close(t.done)
	})
}

func (t *WSTransport) readLoop() {
	for {
		_, b, err := t.conn.Read(context.Background())
		if err != nil {
			t.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.log.Debug("dmclient.read.bad_json", "err", err)
			continue
		}
		if env.ReplyTo == "" {
			t.log.Debug("dmclient.read.unsolicited", "type", env.Type)
			continue
		}

		t.mu.Lock()
		ch := t.pending[env.ReplyTo]
		delete(t.pending, env.ReplyTo)
		t.mu.Unlock()
		if ch != nil {
			ch <- env
		}
	}
}

// call sends a request and decodes the matching reply into out.
func (t *WSTransport) call(ctx context.Context, typ string, payload any, wantType string, out any) error {
	id := uuid.NewString()
	env, err := v1.NewEnvelope(typ, id, "", time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch := make(chan v1.Envelope, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	select {
	case <-t.done:
		return t.closeErr
	default:
	}

	if err := t.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}

	var reply v1.Envelope
	select {
	case reply = <-ch:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.closeErr
	}

	if reply.Type == v1.TypeError {
		var p v1.ErrorPayload
		if err := json.Unmarshal(reply.Payload, &p); err != nil {
			return fmt.Errorf("decode error reply: %w", err)
		}
		return &RemoteError{Code: p.Code, Message: p.Message}
	}
	if reply.Type != wantType {
		return fmt.Errorf("%w: got %q want %q", ErrUnexpectedReply, reply.Type, wantType)
	}
	if err := json.Unmarshal(reply.Payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", wantType, err)
	}
	return nil
}

func (t *WSTransport) checkSelf(self string) error {
	if self != t.self {
		return fmt.Errorf("%w: %q", ErrWrongUser, self)
	}
	return nil
}

// FetchHistory pages through the whole conversation with peer.
func (t *WSTransport) FetchHistory(ctx context.Context, self, peer string) ([]convcache.Message, error) {
	if err := t.checkSelf(self); err != nil {
		return nil, err
	}

	var (
		out   []convcache.Message
		after *int64
	)
	for {
		var chunk v1.HistoryChunkPayload
		req := v1.HistoryFetchPayload{PeerID: peer, AfterSeq: after, Limit: t.pageLimit}
		if err := t.call(ctx, v1.TypeHistoryFetch, req, v1.TypeHistoryChunk, &chunk); err != nil {
			return nil, err
		}
		for _, m := range chunk.Messages {
			out = append(out, FromWire(m))
		}
		if !chunk.HasMore || len(chunk.Messages) == 0 {
			return out, nil
		}
		last := chunk.Messages[len(chunk.Messages)-1].Seq
		after = &last
	}
}

// SendMessage sends content to peer with a fresh idempotency key.
func (t *WSTransport) SendMessage(ctx context.Context, self, peer, content string) (convcache.Message, error) {
	if err := t.checkSelf(self); err != nil {
		return convcache.Message{}, err
	}
	var ack v1.MessageAckPayload
	req := v1.MessageSendPayload{PeerID: peer, ClientMsgID: uuid.NewString(), Text: content}
	if err := t.call(ctx, v1.TypeMessageSend, req, v1.TypeMessageAck, &ack); err != nil {
		return convcache.Message{}, err
	}
	return FromWire(ack.Message), nil
}

// MarkRead flags peer's messages to self as read on the server.
func (t *WSTransport) MarkRead(ctx context.Context, self, peer string) (int64, error) {
	if err := t.checkSelf(self); err != nil {
		return 0, err
	}
	var ack v1.MarkReadAckPayload
	if err := t.call(ctx, v1.TypeMarkRead, v1.MarkReadPayload{PeerID: peer}, v1.TypeMarkReadAck, &ack); err != nil {
		return 0, err
	}
	return ack.Updated, nil
}

// ResolveDisplayInfo looks up peer's profile.
func (t *WSTransport) ResolveDisplayInfo(ctx context.Context, peer string) (convcache.DisplayInfo, error) {
	var p v1.ProfilePayload
	if err := t.call(ctx, v1.TypeProfileLookup, v1.ProfileLookupPayload{UserID: peer}, v1.TypeProfile, &p); err != nil {
		return convcache.DisplayInfo{}, err
	}
	return convcache.DisplayInfo{PeerID: p.UserID, Name: p.DisplayName, AvatarURL: p.AvatarURL}, nil
}
