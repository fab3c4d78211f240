// Package bitswap owns the want registry, the per-peer ledgers, and
// the aggregate exchange counters; it reacts to block arrivals and
// drives want-list broadcasts to connected peers (spec §4.H,
// Component H). The wire encoding lives in pkg/wire; this package
// only needs the narrow ProtocolCodec it defines below to send on a
// stream, which keeps bitswap -> wire free of an import cycle (wire
// depends on bitswap to deliver received blocks and wants back in).
package bitswap

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/cidutil"
	"github.com/blocksync-project/blocksync/pkg/corerrors"
	"github.com/blocksync-project/blocksync/pkg/netiface"
	"github.com/blocksync-project/blocksync/pkg/want"
)

var log = logging.Logger("bitswap")

// Store is the narrow slice of the block store the engine needs: check
// presence for duplicate detection, and persist an accepted block.
type Store interface {
	Exists(c cid.Cid) (bool, error)
	Put(c cid.Cid, data []byte) error
}

// WantEntry is one want-list record, protocol-version-agnostic (spec
// §4.I's abstract Message.wantlist.entries).
type WantEntry struct {
	CID      cid.Cid
	Priority int32
	Cancel   bool
}

// ProtocolCodec is what a wire protocol version implements to let the
// engine send on a stream without bitswap knowing the encoding.
type ProtocolCodec interface {
	ProtocolID() protocol.ID
	SendWantList(ctx context.Context, s netiface.Stream, full bool, entries []WantEntry) error
	SendBlock(ctx context.Context, s netiface.Stream, block blockmodel.DataBlock) error
}

// Engine is the bitswap exchange engine.
type Engine struct {
	registry *want.Registry
	store    Store
	ledgers  *ledgerBook
	counters counters

	// OnBlockNeeded is invoked whenever a CID transitions from absent
	// to wanted, i.e. exactly when a Want call creates a fresh entry.
	// It is a hook for callers that want to start provider lookups;
	// the pkg/blocksync facade does not set it, so no
	// Router.FindProviders lookup runs on a local miss there.
	OnBlockNeeded func(c cid.Cid)

	mu          sync.Mutex
	started     bool
	swarm       netiface.Swarm
	router      netiface.Router
	codecs      []ProtocolCodec // preference order: v1.1 before v1.0
	unsubscribe func()
}

// New constructs an Engine over store, speaking the given codecs in
// the preference order supplied (spec §4.H "Per-peer send tries each
// supported protocol in preference order").
func New(store Store, codecs ...ProtocolCodec) *Engine {
	return &Engine{
		registry: want.New(),
		store:    store,
		ledgers:  newLedgerBook(),
		codecs:   codecs,
	}
}

// WantAsync registers a waiter for c on behalf of requester. If this
// is the first want for c, it emits OnBlockNeeded and schedules a
// full want-list broadcast to every connected peer. The returned
// Waiter resolves with the block once Found(c, ...) runs, or is
// cancelled if ctx is cancelled first — cancellation removes only
// this waiter (spec §9's chosen reading of the open question; see
// DESIGN.md), never the other waiters on c; the entry itself goes
// away only once its last waiter does.
func (e *Engine) WantAsync(ctx context.Context, c cid.Cid, requester blockmodel.PeerID) *want.Waiter {
	waiter := want.NewWaiter()
	created := e.registry.Want(c, requester, waiter)

	if created {
		if e.OnBlockNeeded != nil {
			e.OnBlockNeeded(c)
		}
		go e.SendWantListToAllAsync(context.Background(), true)
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.registry.CancelWaiter(c, waiter)
			case <-waiter.Chan():
				// Already resolved/cancelled through normal means;
				// nothing left to do.
			}
		}()
	}

	return waiter
}

// Unwant cancels every waiter on c and removes its entry outright.
func (e *Engine) Unwant(c cid.Cid) {
	e.registry.Unwant(c)
}

// OnBlockReceivedAsync records an inbound block from peer, classifies
// it as a duplicate if it's already in the store, and persists it if
// acceptable. It does not itself call Found — the store's Put is
// expected to trigger that separately (spec §4.H).
func (e *Engine) OnBlockReceivedAsync(ctx context.Context, peer blockmodel.PeerID, data []byte, contentType, hashAlgo string) (cid.Cid, error) {
	c, err := cidutil.NewCIDForContent(contentType, hashAlgo, data)
	if err != nil {
		return cid.Undef, errors.Wrap(corerrors.ErrProtocolError, err.Error())
	}

	e.counters.blocksReceived.Add(1)
	e.counters.dataReceived.Add(uint64(len(data)))

	l := e.ledgers.get(peer)
	l.blocksExchanged.Add(1)
	l.dataReceived.Add(uint64(len(data)))

	dup, err := e.store.Exists(c)
	if err != nil {
		return cid.Undef, err
	}
	if dup {
		e.counters.dupBlocksReceived.Add(1)
		e.counters.dupDataReceived.Add(uint64(len(data)))
		return c, nil
	}

	if err := e.store.Put(c, data); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// OnBlockSentAsync records that block was sent to peer.
func (e *Engine) OnBlockSentAsync(peer blockmodel.PeerID, block blockmodel.DataBlock) {
	e.counters.blocksSent.Add(1)
	e.counters.dataSent.Add(block.Size)

	l := e.ledgers.get(peer)
	l.blocksExchanged.Add(1)
	l.dataSent.Add(block.Size)
}

// Found forwards to the want registry, resolving every waiter on c.
func (e *Engine) Found(c cid.Cid, block blockmodel.DataBlock) int {
	return e.registry.Found(c, block)
}

// LedgerFor returns peer's ledger snapshot.
func (e *Engine) LedgerFor(peer blockmodel.PeerID) Ledger {
	return e.ledgers.snapshot(peer)
}

// Statistics returns the aggregate snapshot (spec §3 BitswapStats).
func (e *Engine) Statistics() Stats {
	return Stats{
		BlocksReceived:    e.counters.blocksReceived.Load(),
		BlocksSent:        e.counters.blocksSent.Load(),
		DataReceived:      e.counters.dataReceived.Load(),
		DataSent:          e.counters.dataSent.Load(),
		DupBlocksReceived: e.counters.dupBlocksReceived.Load(),
		DupDataReceived:   e.counters.dupDataReceived.Load(),
		Wantlist:          e.registry.All(),
		Peers:             e.ledgers.peers(),
	}
}

// Start wires the engine to swarm and router: it clears peer ledgers,
// resets aggregate counters, and subscribes to connection-established
// events so newly connected peers immediately receive the current
// want-list (spec §4.H "Connection-established trigger", "Lifecycle").
// Wire protocol registration with the swarm is the facade's job (it
// owns both this engine and the pkg/wire codecs); Start only needs
// swarm for dialing and connection events.
func (e *Engine) Start(ctx context.Context, swarm netiface.Swarm, router netiface.Router) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("bitswap: already started")
	}

	e.counters.reset()
	e.ledgers.clear()
	e.swarm = swarm
	e.router = router
	e.unsubscribe = swarm.OnConnectionEstablished(func(conn netiface.PeerConnection) {
		e.handleConnectionEstablished(ctx, conn)
	})
	e.started = true
	return nil
}

// Stop unsubscribes from connection events and cancels every
// outstanding want.
func (e *Engine) Stop() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.started = false
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, c := range e.registry.All() {
		e.registry.Unwant(c)
	}
}

func (e *Engine) handleConnectionEstablished(ctx context.Context, conn netiface.PeerConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("bitswap: connection-established handler panicked: %v", r)
		}
	}()

	if err := conn.IdentityEstablished(ctx); err != nil {
		log.Warnf("bitswap: peer identity handshake failed: %s", err)
		return
	}

	if e.registry.Len() == 0 {
		return
	}

	peer := conn.RemotePeer()
	entries := wantEntriesFor(e.registry.All())
	if err := e.sendWantListToPeer(ctx, peer, true, entries); err != nil {
		log.Warnf("bitswap: failed to send want-list to newly connected peer %s: %s", peer, err)
	}
}

// SendWantListToAllAsync dials every known peer in parallel and sends
// wants to each. A failure against one peer never aborts the rest
// (spec §4.H "Want-list broadcast").
func (e *Engine) SendWantListToAllAsync(ctx context.Context, full bool) {
	e.mu.Lock()
	swarm := e.swarm
	e.mu.Unlock()
	if swarm == nil {
		return
	}

	entries := wantEntriesFor(e.registry.All())
	if len(entries) == 0 {
		return
	}

	peers := swarm.KnownPeers()
	g, gctx := errgroup.WithContext(context.Background())
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			if err := e.sendWantListToPeer(gctx, peer, full, entries); err != nil {
				log.Debugf("bitswap: want-list send to %s failed: %s", peer, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	_ = ctx
}

// sendWantListToPeer tries each codec in preference order, stopping at
// the first successful dial (spec §4.H "Per-peer send tries each
// supported protocol in preference order").
func (e *Engine) sendWantListToPeer(ctx context.Context, peer blockmodel.PeerID, full bool, entries []WantEntry) error {
	e.mu.Lock()
	swarm, codecs := e.swarm, e.codecs
	e.mu.Unlock()
	if swarm == nil || len(codecs) == 0 {
		return errors.New("bitswap: engine not started")
	}

	var lastErr error
	for _, codec := range codecs {
		stream, err := swarm.Dial(ctx, peer, codec.ProtocolID())
		if err != nil {
			lastErr = err
			continue
		}
		err = codec.SendWantList(ctx, stream, full, entries)
		closeErr := stream.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if closeErr != nil {
			log.Debugf("bitswap: error closing stream to %s: %s", peer, closeErr)
		}
		return nil
	}
	return errors.Wrap(lastErr, "bitswap: no protocol succeeded")
}

func wantEntriesFor(cids []cid.Cid) []WantEntry {
	entries := make([]WantEntry, len(cids))
	for i, c := range cids {
		entries[i] = WantEntry{CID: c, Priority: 1}
	}
	return entries
}
