package convcache

import (
	"context"
	"log/slog"
	"time"
)

const defaultFetchTimeout = 15 * time.Second

// Coordinator issues history fetches for a Cache with a per-peer single-flight guarantee:
// only the caller that moves a peer from NeverFetched to Fetching talks to the transport.
type Coordinator struct {
	cache     *Cache
	transport Transport
	timeout   time.Duration
	log       *slog.Logger
	metrics   *Metrics
}

// NewCoordinator wires cache to transport. timeout <= 0 selects the default (15s).
func NewCoordinator(cache *Cache, transport Transport, timeout time.Duration, log *slog.Logger, metrics *Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		cache:     cache,
		transport: transport,
		timeout:   timeout,
		log:       log,
		metrics:   metrics,
	}
}

// EnsureLoaded fetches peer's history unless it is already Fetching or Fetched.
//
// fetched reports whether this call performed the fetch. Callers that lose the race
// return immediately and should observe the Cache for the outcome.
// On failure the entry is rolled back to NeverFetched and a *FetchError is returned.
func (c *Coordinator) EnsureLoaded(ctx context.Context, peer string) (fetched bool, err error) {
	if peer == "" {
		return false, ErrEmptyPeer
	}
	if !c.cache.SetFetching(peer) {
		c.metrics.skipped()
		return false, nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	c.log.Debug("convcache.fetch.start", "peer", peer)

	history, err := c.fetch(fctx, peer)
	if err != nil {
		c.cache.AbortFetch(peer)
		c.metrics.fetch("error")
		c.log.Debug("convcache.fetch.fail", "peer", peer, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return true, &FetchError{Peer: peer, Err: err}
	}

	c.cache.SetFetched(peer, history)
	c.metrics.fetch("ok")
	c.log.Debug("convcache.fetch.done", "peer", peer, "messages", len(history), "duration_ms", time.Since(start).Milliseconds())
	return true, nil
}

type fetchResult struct {
	messages []Message
	err      error
}

// fetch bounds the transport call by ctx even when the transport ignores cancellation.
// A result that lands after ctx is done is discarded.
func (c *Coordinator) fetch(ctx context.Context, peer string) ([]Message, error) {
	ch := make(chan fetchResult, 1)
	go func() {
		msgs, err := c.transport.FetchHistory(ctx, c.cache.Self(), peer)
		ch <- fetchResult{messages: msgs, err: err}
	}()

	select {
	case r := <-ch:
		return r.messages, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
