package bitswap

import (
	"sync"
	"sync/atomic"

	"github.com/blocksync-project/blocksync/pkg/blockmodel"
)

// ledger is the mutable, atomically-updated counterpart of the
// BitswapLedger snapshot (spec §3).
type ledger struct {
	peer            blockmodel.PeerID
	blocksExchanged atomic.Uint64
	dataSent        atomic.Uint64
	dataReceived    atomic.Uint64
}

// Ledger is the immutable snapshot returned to callers (spec §3
// BitswapLedger).
type Ledger struct {
	Peer            blockmodel.PeerID
	BlocksExchanged uint64
	DataSent        uint64
	DataReceived    uint64
}

func (l *ledger) snapshot() Ledger {
	return Ledger{
		Peer:            l.peer,
		BlocksExchanged: l.blocksExchanged.Load(),
		DataSent:        l.dataSent.Load(),
		DataReceived:    l.dataReceived.Load(),
	}
}

// ledgerBook is the per-peer ledger table, upserted atomically keyed
// by peer id (spec §5 "Shared-resource policy").
type ledgerBook struct {
	mu sync.Mutex
	m  map[blockmodel.PeerID]*ledger
}

func newLedgerBook() *ledgerBook {
	return &ledgerBook{m: make(map[blockmodel.PeerID]*ledger)}
}

func (b *ledgerBook) get(peer blockmodel.PeerID) *ledger {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.m[peer]
	if !ok {
		l = &ledger{peer: peer}
		b.m[peer] = l
	}
	return l
}

func (b *ledgerBook) snapshot(peer blockmodel.PeerID) Ledger {
	b.mu.Lock()
	l, ok := b.m[peer]
	b.mu.Unlock()
	if !ok {
		return Ledger{Peer: peer}
	}
	return l.snapshot()
}

func (b *ledgerBook) peers() []blockmodel.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]blockmodel.PeerID, 0, len(b.m))
	for p := range b.m {
		out = append(out, p)
	}
	return out
}

// clear resets the book. Called on Start, per spec §3's lifecycle
// invariant that ledgers reset only on Start.
func (b *ledgerBook) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m = make(map[blockmodel.PeerID]*ledger)
}
