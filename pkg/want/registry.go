// Package want implements the in-memory want registry the bitswap
// engine owns: a concurrency-safe map from CID to the set of waiters
// and interested peers wanting that block (spec §4.G, Component G).
package want

import (
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/blocksync-project/blocksync/pkg/blockmodel"
)

// Result is what a Waiter receives: either a resolved block or a
// cancellation.
type Result struct {
	Block     blockmodel.DataBlock
	Cancelled bool
}

// Waiter is a single-shot completion primitive: exactly one of
// resolve or cancel fires for it, exactly once (spec §9 design note).
type Waiter struct {
	ch   chan Result
	once sync.Once
}

// NewWaiter creates an unresolved Waiter.
func NewWaiter() *Waiter {
	return &Waiter{ch: make(chan Result, 1)}
}

// Chan exposes the receive side for callers that want to select on it
// directly (e.g. alongside ctx.Done()).
func (w *Waiter) Chan() <-chan Result { return w.ch }

func (w *Waiter) resolve(block blockmodel.DataBlock) {
	w.once.Do(func() {
		w.ch <- Result{Block: block}
		close(w.ch)
	})
}

func (w *Waiter) cancel() {
	w.once.Do(func() {
		w.ch <- Result{Cancelled: true}
		close(w.ch)
	})
}

// entry is one CID's bookkeeping. Per spec §4.G's invariant, once
// Found or Unwant has run for an entry it is removed from the
// registry; a later Want for the same CID creates a fresh entry.
type entry struct {
	waiters []*Waiter
	peers   map[blockmodel.PeerID]struct{}
}

// Registry is the concurrency-safe CID -> entry map.
type Registry struct {
	mu      sync.Mutex
	entries map[cid.Cid]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[cid.Cid]*entry)}
}

// Want registers waiter as wanting c on behalf of peer, creating the
// entry if one doesn't already exist. created reports whether this
// call created a fresh entry (the caller uses this to decide whether
// a want-list broadcast is needed). peer may be the zero PeerID for a
// purely local want with no attributable requester.
func (r *Registry) Want(c cid.Cid, peer blockmodel.PeerID, waiter *Waiter) (created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[c]
	if !ok {
		e = &entry{peers: make(map[blockmodel.PeerID]struct{})}
		r.entries[c] = e
		created = true
	}
	e.waiters = append(e.waiters, waiter)
	if peer != "" {
		e.peers[peer] = struct{}{}
	}
	return created
}

// Unwant removes c's entry entirely and cancels every waiter
// registered on it.
func (r *Registry) Unwant(c cid.Cid) {
	r.mu.Lock()
	e, ok := r.entries[c]
	if ok {
		delete(r.entries, c)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	for _, w := range e.waiters {
		w.cancel()
	}
}

// CancelWaiter removes a single waiter from c's entry without
// disturbing the rest of it (spec §9's recommended reading of the
// cancellation open question: a per-waiter cancellation only cancels
// that waiter; Unwant is the caller-driven operation that clears the
// whole entry — see DESIGN.md).
func (r *Registry) CancelWaiter(c cid.Cid, waiter *Waiter) {
	r.mu.Lock()
	e, ok := r.entries[c]
	if !ok {
		r.mu.Unlock()
		return
	}
	for i, w := range e.waiters {
		if w == waiter {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
	if len(e.waiters) == 0 {
		delete(r.entries, c)
	}
	r.mu.Unlock()

	waiter.cancel()
}

// Found removes c's entry and resolves every waiter with block,
// returning the number of waiters notified.
func (r *Registry) Found(c cid.Cid, block blockmodel.DataBlock) (notified int) {
	r.mu.Lock()
	e, ok := r.entries[c]
	if ok {
		delete(r.entries, c)
	}
	r.mu.Unlock()

	if !ok {
		return 0
	}
	for _, w := range e.waiters {
		w.resolve(block)
	}
	return len(e.waiters)
}

// PeerWants snapshots the CIDs whose interested_peers set contains
// peer.
func (r *Registry) PeerWants(peer blockmodel.PeerID) []cid.Cid {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []cid.Cid
	for c, e := range r.entries {
		if _, ok := e.peers[peer]; ok {
			out = append(out, c)
		}
	}
	return out
}

// All snapshots every currently wanted CID, in no particular order.
func (r *Registry) All() []cid.Cid {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]cid.Cid, 0, len(r.entries))
	for c := range r.entries {
		out = append(out, c)
	}
	return out
}

// Len reports how many CIDs are currently wanted.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
