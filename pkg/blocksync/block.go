package blocksync

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Block is the facade's raw-block handle (spec §6 "Block.Get/Put/
// Stat/Remove").
type Block struct{ e *Engine }

// Block returns the raw-block handle.
func (e *Engine) Block() Block { return Block{e: e} }

// Get returns the bytes for c, fetching them from the network via the
// bitswap engine on a local miss and blocking until ctx is done or the
// block arrives (spec §2 "Control/data flow for a Get(cid)").
func (b Block) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, ok, err := b.e.store.TryGet(c)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}

	waiter := b.e.bitswap.WantAsync(ctx, c, "")
	select {
	case res := <-waiter.Chan():
		if res.Cancelled {
			return nil, ctx.Err()
		}
		return res.Block.Bytes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put persists data under c, then wakes any local waiters through the
// store's OnPut hook (spec §3's store/want-registry invariant).
func (b Block) Put(c cid.Cid, data []byte) error {
	return b.e.store.Put(c, data)
}

// Stat reports whether c is present and, if so, its stored length.
func (b Block) Stat(c cid.Cid) (length uint64, ok bool, err error) {
	return b.e.store.Length(c)
}

// Remove deletes c from the store.
func (b Block) Remove(c cid.Cid) error {
	return b.e.store.Remove(c)
}

// blockGetter adapts Block.Get to the reader.BlockGetter shape that
// FileSystem.ReadFile hands to the reader.
type blockGetter struct{ e *Engine }

func (g blockGetter) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	return Block{e: g.e}.Get(ctx, c)
}
