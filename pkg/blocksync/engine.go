// Package blocksync is the facade the rest of an application embeds:
// its New wires the block store, DAG builder, chunked reader, want
// registry, and bitswap engine together, and exposes the public
// Block/FileSystem/Bitswap/Stats surfaces (spec §4.J, Component J).
package blocksync

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/bitswap"
	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/blockstore"
	"github.com/blocksync-project/blocksync/pkg/chunker"
	"github.com/blocksync-project/blocksync/pkg/config"
	"github.com/blocksync-project/blocksync/pkg/netiface"
	"github.com/blocksync-project/blocksync/pkg/wire"
)

var log = logging.Logger("blocksync")

// Engine is the lifecycle-managed facade over every other package in
// this module. New constructs all of its parts up front.
type Engine struct {
	cfg *config.Config

	store   *blockstore.Store
	builder *chunker.Builder
	bitswap *bitswap.Engine
	v10     *wire.CodecV10
	v11     *wire.CodecV11

	mu      sync.Mutex
	started bool
	swarm   netiface.Swarm
	router  netiface.Router
}

// New wires dependency leaves first — the store, then the wire codecs
// and bitswap engine over it, then the builder over the store and the
// router adapter — matching spec §4.J's ordering.
// Nothing here talks to a Swarm or Router; that wiring happens in
// Start.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := blockstore.New(blockstore.Options{
		Dir:             cfg.Store.Path,
		MaxBlockSize:    cfg.Store.MaxBlockSize,
		MaxDAGBlockSize: cfg.Store.MaxDagBlockSize,
		InlineCidLimit:  cfg.Store.InlineCidLimit,
		AllowInlineCid:  cfg.Store.AllowInlineCid,
	})
	if err != nil {
		return nil, errors.Wrap(err, "blocksync: open block store")
	}

	e := &Engine{cfg: cfg, store: store}

	v10 := &wire.CodecV10{Store: store}
	v11 := &wire.CodecV11{Store: store}
	e.bitswap = bitswap.New(store, v11, v10) // preference order: v1.1 before v1.0
	v10.Exchange = e.bitswap
	v11.Exchange = e.bitswap
	e.v10, e.v11 = v10, v11

	// A local Put must wake waiters exactly like an inbound network
	// block would (spec §3's store/want-registry mutual-exclusion
	// invariant): wire the store's post-write hook to Found.
	store.OnPut = func(c cid.Cid, data []byte) {
		e.bitswap.Found(c, blockmodel.DataBlock{ID: c, Size: uint64(len(data)), Bytes: data})
	}

	e.builder = chunker.New(store, routerAdapter{e})

	return e, nil
}

// routerAdapter satisfies chunker.Advertiser by forwarding to whatever
// Router the facade was wired with at Start, or doing nothing before
// Start (spec §4.E "Advertise" only fires "when the engine is
// started").
type routerAdapter struct{ e *Engine }

func (r routerAdapter) Provide(ctx context.Context, c cid.Cid, advertise bool) error {
	r.e.mu.Lock()
	router := r.e.router
	r.e.mu.Unlock()
	if router == nil {
		return nil
	}
	return router.Provide(ctx, c, advertise)
}
