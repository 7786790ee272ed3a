// Package main provides a CI-friendly WebSocket smoke test for the BuildLink dm gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session binding for two users
//   - send -> ack with a canonical message
//   - history fetch from the recipient's side, then an empty page after the last seq
//   - idempotent dedupe by client_msg_id
//   - mark_read on the recipient's side
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "buildlink/shared/contracts/directmsg/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string
	nextID    int

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "smoke-a", "Sender user id")
		userB   = flag.String("b", "smoke-b", "Recipient user id")
		text    = flag.String("text", "hello buildlink 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *userA == *userB {
		fatalf("-a and -b must differ")
	}

	root := context.Background()

	a := mustConnect(root, "A", *userA, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())

	sent := mustSend(root, a, b.userID, clientMsgID, *text, false, *timeout)

	// Earlier runs may leave history behind; start just before the new message.
	before := sent.Seq - 1
	var chunk v1.HistoryChunkPayload
	b.mustCall(root, v1.TypeHistoryFetch, v1.HistoryFetchPayload{PeerID: a.userID, AfterSeq: &before, Limit: 50}, v1.TypeHistoryChunk, &chunk, *timeout)
	if chunk.PeerID != a.userID {
		fatalf("history_chunk peer_id mismatch: got=%q want=%q", chunk.PeerID, a.userID)
	}
	if !containsMessage(chunk.Messages, sent) {
		fatalf("history_chunk missing sent message %s", sent.ID)
	}

	after := sent.Seq
	chunk = v1.HistoryChunkPayload{}
	b.mustCall(root, v1.TypeHistoryFetch, v1.HistoryFetchPayload{PeerID: a.userID, AfterSeq: &after}, v1.TypeHistoryChunk, &chunk, *timeout)
	if len(chunk.Messages) != 0 || chunk.HasMore {
		fatalf("expected empty history after seq %d, got=%d has_more=%v", after, len(chunk.Messages), chunk.HasMore)
	}

	dup := mustSend(root, a, b.userID, clientMsgID, *text, true, *timeout)
	if dup.ID != sent.ID || dup.Seq != sent.Seq {
		fatalf("dedupe: got id=%s seq=%d, want id=%s seq=%d", dup.ID, dup.Seq, sent.ID, sent.Seq)
	}

	var read v1.MarkReadAckPayload
	b.mustCall(root, v1.TypeMarkRead, v1.MarkReadPayload{PeerID: a.userID}, v1.TypeMarkReadAck, &read, *timeout)
	if read.Updated < 1 {
		fatalf("mark_read updated=%d, want >= 1", read.Updated)
	}

	fmt.Printf("OK: A=%s B=%s seq=%d msg_id=%s\n", a.sessionID, b.sessionID, sent.Seq, sent.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 64),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	var ack v1.HelloAckPayload
	c.mustCall(parent, v1.TypeHello, v1.HelloPayload{UserID: userID}, v1.TypeHelloAck, &ack, stepTimeout)
	if strings.TrimSpace(ack.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if ack.UserID != userID {
		fatalf("hello_ack user_id mismatch (%s): got=%q want=%q", name, ack.UserID, userID)
	}
	c.sessionID = ack.SessionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustCall writes one request and waits for the reply carrying its id.
func (c *smokeClient) mustCall(parent context.Context, typ string, payload any, wantType string, out any, stepTimeout time.Duration) {
	c.nextID++
	id := fmt.Sprintf("%s-%s-%d", c.name, typ, c.nextID)

	env, err := v1.NewEnvelope(typ, id, "", time.Now().UTC(), payload)
	if err != nil {
		fatalf("build %s (%s): %v", typ, c.name, err)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	reply := c.mustReadReply(parent, id, stepTimeout)
	if reply.Type == v1.TypeError {
		var ep v1.ErrorPayload
		_ = json.Unmarshal(reply.Payload, &ep)
		fatalf("server error on %s (%s): code=%q msg=%q", typ, c.name, ep.Code, ep.Message)
	}
	if reply.Type != wantType {
		fatalf("unexpected reply to %s (%s): got=%q want=%q", typ, c.name, reply.Type, wantType)
	}
	if err := json.Unmarshal(reply.Payload, out); err != nil {
		fatalf("unmarshal %s payload (%s): %v", wantType, c.name, err)
	}
}

func mustSend(parent context.Context, c *smokeClient, peerID, clientMsgID, text string, wantDup bool, stepTimeout time.Duration) v1.Message {
	var ack v1.MessageAckPayload
	c.mustCall(parent, v1.TypeMessageSend, v1.MessageSendPayload{
		PeerID:      peerID,
		ClientMsgID: clientMsgID,
		Text:        text,
	}, v1.TypeMessageAck, &ack, stepTimeout)

	m := ack.Message
	if ack.Duplicated != wantDup {
		fatalf("ack duplicated=%v want=%v (%s)", ack.Duplicated, wantDup, c.name)
	}
	if m.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, m.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(m.ID) == "" {
		fatalf("ack missing id (%s)", c.name)
	}
	if m.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, m.Seq)
	}
	if m.SenderID != c.userID || m.RecipientID != peerID {
		fatalf("ack participants mismatch (%s): %s -> %s", c.name, m.SenderID, m.RecipientID)
	}
	if m.CreatedAt.IsZero() {
		fatalf("ack created_at missing/zero (%s)", c.name)
	}
	return m
}

func containsMessage(msgs []v1.Message, want v1.Message) bool {
	for _, m := range msgs {
		if m.ID == want.ID && m.Seq == want.Seq && m.Text == want.Text && m.SenderID == want.SenderID {
			return true
		}
	}
	return false
}

func (c *smokeClient) mustReadReply(parent context.Context, id string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for reply to %q (%s): %v", id, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", id, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", id, c.name)
			}
			if env.ReplyTo == id {
				return env
			}
			fatalf("unexpected envelope (%s): type=%q reply_to=%q want=%q", c.name, env.Type, env.ReplyTo, id)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
