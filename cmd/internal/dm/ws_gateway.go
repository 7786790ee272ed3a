package dm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"buildlink/cmd/internal/ids"
	v1 "buildlink/shared/contracts/directmsg/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// DefaultAllowedOrigins is the localhost-only dev allowlist.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// GatewayConfig tunes WSGateway. Zero values select defaults.
type GatewayConfig struct {
	AllowedOrigins []string
	OriginRequired bool
	// DevInsecure disables websocket.Accept's own origin verification.
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	Now func() time.Time
}

// DefaultGatewayConfig returns the secure-by-default settings.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    DefaultAllowedOrigins,
		OriginRequired:    true,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = d.AllowedOrigins
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	c.SendQueueSize = max(c.SendQueueSize, wsMinSendQueueSize)
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// WSGateway is the WebSocket entrypoint for direct messaging.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats, and
// answers each request envelope with exactly one reply carrying reply_to.
type WSGateway struct {
	log      *slog.Logger
	store    MessageStore
	profiles ProfileStore
	cfg      GatewayConfig
	metrics  *gatewayMetrics

	// Derived for websocket.Accept, which only authorizes cross-origin hosts listed here.
	originPatterns []string
}

// NewWSGateway constructs a gateway. Nil stores fall back to in-memory implementations.
func NewWSGateway(log *slog.Logger, store MessageStore, profiles ProfileStore, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	if profiles == nil {
		profiles = NewInMemoryProfileStore()
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		store:          store,
		profiles:       profiles,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and serves it until close.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := enforceOrigin(r, g.cfg.AllowedOrigins, g.cfg.OriginRequired); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := ids.NewULID(g.cfg.Now())
	if err != nil {
		g.log.Error("ws.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	sess := NewSession(sessionID, g.cfg.SendQueueSize)
	g.metrics.sessionOpened()
	defer g.metrics.sessionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sess.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case env := <-sess.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sess.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, sess, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	g.log.Info("ws.session.open", "session_id", sess.ID, "remote", r.RemoteAddr)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				g.metrics.request("invalid", v1.CodeBadJSON)
				g.sendError(ctx, sess, "", v1.CodeBadJSON, "invalid JSON")
				continue readLoop
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sess.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := g.cfg.Now()
		if !rl.Allow(now) {
			g.metrics.request("any", v1.CodeRateLimited)
			g.writeError(ctx, conn, sess, env.ID, v1.CodeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.metrics.request("invalid", v1.CodeBadEnvelope)
			g.sendError(ctx, sess, env.ID, v1.CodeBadEnvelope, err.Error())
			continue readLoop
		}

		typ, payload, err := g.dispatch(ctx, sess, env, now)
		if err != nil {
			code, msg := g.errorCode(sess, env, err)
			g.metrics.request(env.Type, code)
			if env.Type == v1.TypeHello {
				g.writeError(ctx, conn, sess, env.ID, code, msg)
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			g.sendError(ctx, sess, env.ID, code, msg)
			continue readLoop
		}

		g.metrics.request(env.Type, "ok")
		if !g.reply(ctx, sess, env.ID, typ, payload) {
			g.log.Info("ws.backpressure", "session_id", sess.ID, "type", typ)
			shutdown(websocket.StatusPolicyViolation, "send queue full")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.session.close", "session_id", sess.ID, "user_id", sess.UserID())
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, sess *Session, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", sess.ID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- request errors ----

// requestError is a client-caused failure with a wire code.
type requestError struct {
	code string
	msg  string
}

func (e *requestError) Error() string { return e.code + ": " + e.msg }

func badPayload(format string, args ...any) error {
	return &requestError{code: v1.CodeBadPayload, msg: fmt.Sprintf(format, args...)}
}

func (g *WSGateway) errorCode(sess *Session, env v1.Envelope, err error) (code, msg string) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		return re.code, re.msg
	case errors.Is(err, ErrProfileNotFound):
		return v1.CodeNotFound, err.Error()
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrSelfConversation),
		errors.Is(err, ErrEmptyText),
		errors.Is(err, ErrTextTooLong):
		return v1.CodeBadPayload, err.Error()
	default:
		g.log.Error("ws.request.fail", "session_id", sess.ID, "type", env.Type, "err", err)
		return v1.CodeInternal, "internal error"
	}
}

// ---- send helpers ----

func (g *WSGateway) reply(ctx context.Context, sess *Session, replyTo, typ string, payload any) bool {
	now := g.cfg.Now()
	id, _ := ids.NewULID(now)
	env, err := v1.NewEnvelope(typ, id, replyTo, now, payload)
	if err != nil {
		g.log.Error("ws.encode.fail", "session_id", sess.ID, "type", typ, "err", err)
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-sess.Done():
		return false
	case sess.Send <- env:
		return true
	default:
		return false
	}
}

func (g *WSGateway) sendError(ctx context.Context, sess *Session, replyTo, code, msg string) {
	_ = g.reply(ctx, sess, replyTo, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// writeError bypasses the send queue for errors that precede a shutdown.
func (g *WSGateway) writeError(ctx context.Context, conn *websocket.Conn, sess *Session, replyTo, code, msg string) {
	now := g.cfg.Now()
	id, _ := ids.NewULID(now)
	env, err := v1.NewEnvelope(v1.TypeError, id, replyTo, now, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
		g.log.Info("ws.write.fail", "session_id", sess.ID, "err", err)
	}
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

