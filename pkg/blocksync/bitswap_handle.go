package blocksync

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/blocksync-project/blocksync/pkg/bitswap"
	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/want"
)

// Bitswap is the facade's exchange-engine handle (spec §6
// "Bitswap.Wants/Unwant/LedgerFor/Statistics").
type Bitswap struct{ e *Engine }

// Bitswap returns the exchange-engine handle.
func (e *Engine) Bitswap() Bitswap { return Bitswap{e: e} }

// Wants registers interest in c on behalf of requester, returning the
// single-shot waiter the caller can select on (spec §4.H
// "WantAsync").
func (bs Bitswap) Wants(ctx context.Context, c cid.Cid, requester blockmodel.PeerID) *want.Waiter {
	return bs.e.bitswap.WantAsync(ctx, c, requester)
}

// Unwant cancels every waiter on c (spec §4.G "Unwant").
func (bs Bitswap) Unwant(c cid.Cid) { bs.e.bitswap.Unwant(c) }

// LedgerFor returns peer's exchange ledger.
func (bs Bitswap) LedgerFor(peer blockmodel.PeerID) bitswap.Ledger {
	return bs.e.bitswap.LedgerFor(peer)
}

// Statistics returns the aggregate exchange counters.
func (bs Bitswap) Statistics() bitswap.Stats {
	return bs.e.bitswap.Statistics()
}
