package blocksync

import (
	"github.com/blocksync-project/blocksync/pkg/bitswap"
)

// Stats is the facade's aggregate-metrics handle (spec §6
// "Stats.Bitswap/Repository/Bandwidth").
type Stats struct{ e *Engine }

// Stats returns the aggregate-metrics handle.
func (e *Engine) Stats() Stats { return Stats{e: e} }

// Bitswap returns the exchange engine's aggregate counters.
func (s Stats) Bitswap() bitswap.Stats { return s.e.bitswap.Statistics() }

// RepositoryStats summarizes the on-disk block store.
type RepositoryStats struct {
	Path      string
	NumBlocks uint64
	NumBytes  uint64
}

// Repository walks the store's key enumeration to compute aggregate
// size. It is O(n) in the number of persisted blocks; callers wanting
// a cheap liveness check should prefer Block.Stat on a known CID.
func (s Stats) Repository() (RepositoryStats, error) {
	names, err := s.e.store.Names()
	if err != nil {
		return RepositoryStats{}, err
	}

	out := RepositoryStats{Path: s.e.cfg.Store.Path}
	for c := range names {
		length, ok, err := s.e.store.Length(c)
		if err != nil {
			return RepositoryStats{}, err
		}
		if !ok {
			continue
		}
		out.NumBlocks++
		out.NumBytes += length
	}
	return out, nil
}

// BandwidthStats summarizes cumulative bitswap traffic, the facade's
// narrower view of bitswap.Stats for consumers that only care about
// totals (spec §6 "Stats.Bandwidth").
type BandwidthStats struct {
	TotalIn  uint64
	TotalOut uint64
}

// Bandwidth reports cumulative bytes exchanged over bitswap.
func (s Stats) Bandwidth() BandwidthStats {
	bstats := s.e.bitswap.Statistics()
	return BandwidthStats{TotalIn: bstats.DataReceived, TotalOut: bstats.DataSent}
}
