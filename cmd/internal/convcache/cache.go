package convcache

import (
	"slices"
	"sort"
	"sync"
)

// Snapshot is a consistent view of one conversation entry.
// Messages is owned by the receiver.
type Snapshot struct {
	Peer     string
	Messages []Message
	State    LoadingState
}

// Listener observes mutations of one conversation entry.
// It runs after the cache lock is released and may read or mutate the Cache, including
// its own peer. Snapshots of one peer are delivered in mutation order: the goroutine
// already delivering for that peer also delivers mutations made meanwhile, so a
// mutation can return before its own listeners have run.
type Listener func(Snapshot)

// Cache is the single source of truth for conversation state of one local user.
// It is safe for concurrent use by any number of readers and writers.
type Cache struct {
	self    string
	policy  EvictionPolicy
	metrics *Metrics

	mu      sync.RWMutex
	entries map[string]*entry
	subs    map[string]map[uint64]Listener
	nextSub uint64
	// pending holds undelivered snapshots per peer. A key is present while a
	// goroutine drains that peer.
	pending map[string][]Snapshot
}

type entry struct {
	// messages is replaced wholesale on every mutation and never written in place.
	messages []Message
	state    LoadingState
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithEviction installs an eviction policy (default NoEviction).
func WithEviction(p EvictionPolicy) CacheOption {
	return func(c *Cache) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithCacheMetrics records entry counts and evictions into m.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache returns an empty cache for the local user self.
func NewCache(self string, opts ...CacheOption) *Cache {
	c := &Cache{
		self:    self,
		policy:  NoEviction{},
		entries: make(map[string]*entry),
		subs:    make(map[string]map[uint64]Listener),
		pending: make(map[string][]Snapshot),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Self returns the local user id this cache is bound to.
func (c *Cache) Self() string { return c.self }

// Messages returns the current list for peer, or an empty slice. It never blocks on a fetch.
func (c *Cache) Messages(peer string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.entries[peer]
	if e == nil {
		return []Message{}
	}
	return slices.Clone(e.messages)
}

// LoadingState returns NeverFetched when no entry exists.
func (c *Cache) LoadingState(peer string) LoadingState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e := c.entries[peer]; e != nil {
		return e.state
	}
	return NeverFetched
}

// Snapshot returns messages and loading state read under one lock.
func (c *Cache) Snapshot(peer string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked(peer)
}

// Peers returns the ids of all cached conversations, sorted.
func (c *Cache) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetFetching moves peer from NeverFetched to Fetching.
// It reports whether the transition happened; Fetching and Fetched never regress.
func (c *Cache) SetFetching(peer string) bool {
	return c.mutate(peer, func(e *entry) bool {
		if e.state != NeverFetched {
			return false
		}
		e.state = Fetching
		return true
	})
}

// SetFetched merges history into peer's entry and marks it Fetched regardless of
// its current state. Messages that do not belong to the conversation between self
// and peer are ignored.
func (c *Cache) SetFetched(peer string, history []Message) {
	own := make([]Message, 0, len(history))
	for _, m := range history {
		if p, ok := m.PeerOf(c.self); ok && p == peer {
			own = append(own, m)
		}
	}

	c.mutate(peer, func(e *entry) bool {
		e.messages = mergeMessages(e.messages, own)
		e.state = Fetched
		return true
	})
}

// AbortFetch rolls peer back from Fetching to NeverFetched so a later open can retry.
// It reports whether the rollback happened.
func (c *Cache) AbortFetch(peer string) bool {
	return c.mutate(peer, func(e *entry) bool {
		if e.state != Fetching {
			return false
		}
		e.state = NeverFetched
		return true
	})
}

// AppendLocal merges one transport-confirmed message into the conversation it belongs to.
// The loading state is left untouched.
func (c *Cache) AppendLocal(m Message) error {
	peer, ok := m.PeerOf(c.self)
	if !ok {
		return ErrForeignMessage
	}

	c.mutate(peer, func(e *entry) bool {
		e.messages = mergeMessages(e.messages, []Message{m})
		return true
	})
	return nil
}

// MarkReadLocal flags every message from peer to self as read and returns how many changed.
func (c *Cache) MarkReadLocal(peer string) int {
	changed := 0
	c.mutate(peer, func(e *entry) bool {
		var next []Message
		for i, m := range e.messages {
			if m.Read || m.SenderID != peer || m.RecipientID != c.self {
				continue
			}
			if next == nil {
				next = slices.Clone(e.messages)
			}
			next[i].Read = true
			changed++
		}
		if next == nil {
			return false
		}
		e.messages = next
		return true
	})
	return changed
}

// Subscribe registers l for mutations of peer's entry. The returned func removes it
// and is safe to call more than once.
func (c *Cache) Subscribe(peer string, l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	set := c.subs[peer]
	if set == nil {
		set = make(map[uint64]Listener)
		c.subs[peer] = set
	}
	set[id] = l
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if set := c.subs[peer]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(c.subs, peer)
				}
			}
		})
	}
}

// mutate applies fn to peer's entry (creating it lazily) and notifies subscribers
// when fn reports a change.
func (c *Cache) mutate(peer string, fn func(e *entry) bool) bool {
	c.mu.Lock()
	e := c.entries[peer]
	if e == nil {
		e = &entry{}
		c.entries[peer] = e
	}
	c.policy.Touched(peer)

	changed := fn(e)
	evicted := c.evictLocked(peer)

	drain := false
	if changed && len(c.subs[peer]) > 0 {
		q, draining := c.pending[peer]
		c.pending[peer] = append(q, c.snapshotLocked(peer))
		drain = !draining
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.setEntries(n)
	c.metrics.evicted(evicted)

	if drain {
		c.drain(peer)
	}
	return changed
}

// drain delivers peer's pending snapshots until the queue is empty.
// No lock is held while listeners run.
func (c *Cache) drain(peer string) {
	done := false
	defer func() {
		if !done {
			// A listener panicked; let the next mutation restart delivery.
			c.mu.Lock()
			delete(c.pending, peer)
			c.mu.Unlock()
		}
	}()

	for {
		c.mu.Lock()
		q := c.pending[peer]
		if len(q) == 0 {
			delete(c.pending, peer)
			c.mu.Unlock()
			done = true
			return
		}
		snap := q[0]
		c.pending[peer] = q[1:]
		listeners := make([]Listener, 0, len(c.subs[peer]))
		for _, l := range c.subs[peer] {
			listeners = append(listeners, l)
		}
		c.mu.Unlock()

		for _, l := range listeners {
			// Each listener gets its own copy.
			s := snap
			s.Messages = slices.Clone(snap.Messages)
			l(s)
		}
	}
}

func (c *Cache) evictLocked(current string) int {
	victims := c.policy.Victims(len(c.entries), func(peer string) bool {
		if peer == current {
			return true
		}
		if e := c.entries[peer]; e != nil && e.state == Fetching {
			return true
		}
		return len(c.subs[peer]) > 0
	})
	n := 0
	for _, v := range victims {
		if _, ok := c.entries[v]; !ok {
			c.policy.Removed(v)
			continue
		}
		delete(c.entries, v)
		c.policy.Removed(v)
		n++
	}
	return n
}

func (c *Cache) snapshotLocked(peer string) Snapshot {
	e := c.entries[peer]
	if e == nil {
		return Snapshot{Peer: peer, Messages: []Message{}, State: NeverFetched}
	}
	return Snapshot{Peer: peer, Messages: slices.Clone(e.messages), State: e.state}
}
