package convcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultLookupTimeout = 5 * time.Second

// Directory resolves peer ids to display info for presentation.
// Concurrent lookups of the same peer share one resolver call; successful results
// are cached, failures degrade to Placeholder and are retried on the next call.
type Directory struct {
	resolver DisplayInfoResolver
	timeout  time.Duration

	group singleflight.Group

	mu    sync.RWMutex
	known map[string]DisplayInfo
}

// NewDirectory builds a Directory. A nil resolver always yields placeholders.
func NewDirectory(resolver DisplayInfoResolver, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Directory{
		resolver: resolver,
		timeout:  timeout,
		known:    make(map[string]DisplayInfo),
	}
}

// Lookup never fails: errors, malformed results and a done ctx produce a placeholder.
// The shared resolver call is detached from ctx so one impatient caller does not fail the others.
func (d *Directory) Lookup(ctx context.Context, peer string) DisplayInfo {
	d.mu.RLock()
	info, ok := d.known[peer]
	d.mu.RUnlock()
	if ok {
		return info
	}
	if d.resolver == nil || peer == "" {
		return Placeholder(peer)
	}

	ch := d.group.DoChan(peer, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		info, err := d.resolver.ResolveDisplayInfo(lctx, peer)
		if err != nil {
			return nil, err
		}
		info.PeerID = peer
		info.Name = strings.TrimSpace(info.Name)
		if info.Name == "" {
			return Placeholder(peer), nil
		}

		d.mu.Lock()
		d.known[peer] = info
		d.mu.Unlock()
		return info, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Placeholder(peer)
		}
		return r.Val.(DisplayInfo)
	case <-ctx.Done():
		return Placeholder(peer)
	}
}

// Forget drops a cached entry so the next Lookup asks the resolver again.
func (d *Directory) Forget(peer string) {
	d.mu.Lock()
	delete(d.known, peer)
	d.mu.Unlock()
}
