package convcache

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// EvictionPolicy decides which conversation entries the Cache drops.
//
// The Cache calls every method while holding its write lock, so implementations
// need no synchronization of their own and must not call back into the Cache.
type EvictionPolicy interface {
	// Touched records an access to peer.
	Touched(peer string)
	// Removed forgets peer.
	Removed(peer string)
	// Victims returns peers to drop given the current entry count.
	// Peers for which pinned returns true must not be returned.
	Victims(count int, pinned func(peer string) bool) []string
}

// NoEviction keeps every entry for the lifetime of the Cache.
type NoEviction struct{}

func (NoEviction) Touched(string) {}

func (NoEviction) Removed(string) {}

func (NoEviction) Victims(int, func(string) bool) []string { return nil }

// LRUEviction caps the number of cached conversations, dropping the least
// recently touched unpinned peers first.
type LRUEviction struct {
	max   int
	order *simplelru.LRU[string, struct{}]
}

// NewLRUEviction returns a policy that keeps at most max conversations.
// max <= 0 is treated as 1.
func NewLRUEviction(max int) *LRUEviction {
	if max <= 0 {
		max = 1
	}
	// The recency list must never drop a key on its own: pinned entries can push the
	// cache over max, and an untracked entry could never be evicted later.
	order, err := simplelru.NewLRU[string, struct{}](math.MaxInt32, nil)
	if err != nil {
		panic(err)
	}
	return &LRUEviction{max: max, order: order}
}

// Max returns the configured capacity.
func (p *LRUEviction) Max() int { return p.max }

func (p *LRUEviction) Touched(peer string) {
	p.order.Add(peer, struct{}{})
}

func (p *LRUEviction) Removed(peer string) {
	p.order.Remove(peer)
}

func (p *LRUEviction) Victims(count int, pinned func(peer string) bool) []string {
	over := count - p.max
	if over <= 0 {
		return nil
	}

	var out []string
	for _, peer := range p.order.Keys() {
		if over == 0 {
			break
		}
		if pinned != nil && pinned(peer) {
			continue
		}
		out = append(out, peer)
		over--
	}
	return out
}
