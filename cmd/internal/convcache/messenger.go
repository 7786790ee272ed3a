package convcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout   = 10 * time.Second
	defaultPrefetchLimit = 4
)

// Messenger is the surface the UI layers use: open, observe, send, render.
// Any number of surfaces may share one Messenger; they all read the same Cache.
type Messenger struct {
	cache     *Cache
	transport Transport
	coord     *Coordinator
	directory *Directory
	bucketer  Bucketer
	log       *slog.Logger
	metrics   *Metrics

	fetchTimeout  time.Duration
	sendTimeout   time.Duration
	prefetchLimit int
	resolver      DisplayInfoResolver

	mu     sync.RWMutex
	active string
}

// Option configures a Messenger.
type Option func(*Messenger)

// WithFetchTimeout bounds every history fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Messenger) { m.fetchTimeout = d }
}

// WithSendTimeout bounds every send.
func WithSendTimeout(d time.Duration) Option {
	return func(m *Messenger) { m.sendTimeout = d }
}

// WithClock sets the clock and time zone used for date separators.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(m *Messenger) { m.bucketer = Bucketer{Now: now, Location: loc} }
}

// WithLogger sets a debug logger. The default discards.
func WithLogger(log *slog.Logger) Option {
	return func(m *Messenger) { m.log = log }
}

// WithMetrics records fetch and send outcomes into metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Messenger) { m.metrics = metrics }
}

// WithDisplayInfoResolver overrides the peer directory backend.
// By default the transport is used when it implements DisplayInfoResolver.
func WithDisplayInfoResolver(r DisplayInfoResolver) Option {
	return func(m *Messenger) { m.resolver = r }
}

// WithPrefetchLimit caps concurrent fetches issued by Prefetch.
func WithPrefetchLimit(n int) Option {
	return func(m *Messenger) { m.prefetchLimit = n }
}

// NewMessenger builds a Messenger over cache and transport.
func NewMessenger(cache *Cache, transport Transport, opts ...Option) *Messenger {
	m := &Messenger{
		cache:         cache,
		transport:     transport,
		fetchTimeout:  defaultFetchTimeout,
		sendTimeout:   defaultSendTimeout,
		prefetchLimit: defaultPrefetchLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if m.sendTimeout <= 0 {
		m.sendTimeout = defaultSendTimeout
	}
	if m.prefetchLimit <= 0 {
		m.prefetchLimit = defaultPrefetchLimit
	}
	if m.resolver == nil {
		if r, ok := transport.(DisplayInfoResolver); ok {
			m.resolver = r
		}
	}

	m.coord = NewCoordinator(cache, transport, m.fetchTimeout, m.log, m.metrics)
	m.directory = NewDirectory(m.resolver, 0)
	return m
}

// Self returns the local user id.
func (m *Messenger) Self() string { return m.cache.Self() }

// Cache exposes the underlying store.
func (m *Messenger) Cache() *Cache { return m.cache }

// OpenConversation marks peer active and loads its history if it was never fetched.
// The call blocks only when it is the one performing the fetch; other surfaces
// opening the same peer return at once and see Fetching until it lands.
func (m *Messenger) OpenConversation(ctx context.Context, peer string) error {
	if peer == "" {
		return ErrEmptyPeer
	}
	m.mu.Lock()
	m.active = peer
	m.mu.Unlock()

	_, err := m.coord.EnsureLoaded(ctx, peer)
	return err
}

// EnsureLoaded loads peer's history without changing the active conversation.
func (m *Messenger) EnsureLoaded(ctx context.Context, peer string) error {
	_, err := m.coord.EnsureLoaded(ctx, peer)
	return err
}

// ActivePeer returns the conversation most recently opened, or "".
func (m *Messenger) ActivePeer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Messages returns the cached conversation with peer.
func (m *Messenger) Messages(peer string) []Message { return m.cache.Messages(peer) }

// LoadingState returns peer's fetch state.
func (m *Messenger) LoadingState(peer string) LoadingState { return m.cache.LoadingState(peer) }

// Subscribe observes peer's conversation; see Cache.Subscribe.
func (m *Messenger) Subscribe(peer string, l Listener) func() { return m.cache.Subscribe(peer, l) }

// SubscribeLoading observes only loading-state changes for peer. l runs once per
// distinct state, starting with the next mutation.
func (m *Messenger) SubscribeLoading(peer string, l func(LoadingState)) func() {
	var (
		mu   sync.Mutex
		last LoadingState
		seen bool
	)
	return m.cache.Subscribe(peer, func(s Snapshot) {
		mu.Lock()
		changed := !seen || s.State != last
		last, seen = s.State, true
		mu.Unlock()
		if changed {
			l(s.State)
		}
	})
}

// Await blocks while peer is Fetching and returns the state it settles in.
func (m *Messenger) Await(ctx context.Context, peer string) (LoadingState, error) {
	settled := make(chan LoadingState, 1)
	unsubscribe := m.cache.Subscribe(peer, func(s Snapshot) {
		if s.State == Fetching {
			return
		}
		select {
		case settled <- s.State:
		default:
		}
	})
	defer unsubscribe()

	// Subscribe before reading so a transition between the two cannot be missed.
	if st := m.cache.LoadingState(peer); st != Fetching {
		return st, nil
	}

	select {
	case st := <-settled:
		return st, nil
	case <-ctx.Done():
		return m.cache.LoadingState(peer), ctx.Err()
	}
}

// Send delivers content to peer and, only after the transport confirms, appends the
// returned message. On failure nothing is appended and a *SendError is returned.
func (m *Messenger) Send(ctx context.Context, peer, content string) (Message, error) {
	if peer == "" {
		return Message{}, ErrEmptyPeer
	}

	sctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	msg, err := m.transport.SendMessage(sctx, m.Self(), peer, content)
	if err != nil {
		m.metrics.send("error")
		m.log.Debug("convcache.send.fail", "peer", peer, "err", err)
		return Message{}, &SendError{Peer: peer, Err: err}
	}
	if p, ok := msg.PeerOf(m.Self()); !ok || p != peer {
		m.metrics.send("error")
		return Message{}, &SendError{Peer: peer, Err: ErrForeignMessage}
	}

	if err := m.cache.AppendLocal(msg); err != nil {
		m.metrics.send("error")
		return Message{}, &SendError{Peer: peer, Err: err}
	}
	m.metrics.send("ok")
	m.log.Debug("convcache.send.done", "peer", peer, "message_id", msg.ID)
	return msg, nil
}

// DisplayItems renders peer's cached conversation with date separators.
func (m *Messenger) DisplayItems(peer string) []DisplayItem {
	return m.bucketer.DisplayItems(m.cache.Messages(peer))
}

// Prefetch loads several conversations concurrently, bounded by the prefetch limit.
// Every peer is attempted; failures are joined into the returned error.
func (m *Messenger) Prefetch(ctx context.Context, peers ...string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(m.prefetchLimit)

	for _, p := range peers {
		g.Go(func() error {
			if _, err := m.coord.EnsureLoaded(ctx, p); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// MarkRead flags peer's messages as read remotely, then locally.
func (m *Messenger) MarkRead(ctx context.Context, peer string) (int, error) {
	rm, ok := m.transport.(ReadMarker)
	if !ok {
		return 0, ErrUnsupported
	}

	sctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	if _, err := rm.MarkRead(sctx, m.Self(), peer); err != nil {
		return 0, err
	}
	return m.cache.MarkReadLocal(peer), nil
}

// UnreadCount counts cached messages from peer not yet marked read.
func (m *Messenger) UnreadCount(peer string) int {
	n := 0
	for _, msg := range m.cache.Messages(peer) {
		if !msg.Read && msg.SenderID == peer && msg.RecipientID == m.Self() {
			n++
		}
	}
	return n
}

// DisplayInfo resolves peer's name and avatar; it never fails.
func (m *Messenger) DisplayInfo(ctx context.Context, peer string) DisplayInfo {
	return m.directory.Lookup(ctx, peer)
}
