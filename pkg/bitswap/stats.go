package bitswap

import (
	"sync/atomic"

	"github.com/ipfs/go-cid"

	"github.com/blocksync-project/blocksync/pkg/blockmodel"
)

// counters holds the aggregate, monotonic-for-the-engine-lifetime
// stats of spec §3's BitswapStats, minus the derived wantlist/peers
// fields (those come from the want registry and ledger book).
type counters struct {
	blocksReceived    atomic.Uint64
	blocksSent        atomic.Uint64
	dataReceived      atomic.Uint64
	dataSent          atomic.Uint64
	dupBlocksReceived atomic.Uint64
	dupDataReceived   atomic.Uint64
}

func (c *counters) reset() {
	c.blocksReceived.Store(0)
	c.blocksSent.Store(0)
	c.dataReceived.Store(0)
	c.dataSent.Store(0)
	c.dupBlocksReceived.Store(0)
	c.dupDataReceived.Store(0)
}

// Stats is the immutable snapshot returned to callers (spec §3
// BitswapStats).
type Stats struct {
	BlocksReceived    uint64
	BlocksSent        uint64
	DataReceived      uint64
	DataSent          uint64
	DupBlocksReceived uint64
	DupDataReceived   uint64
	Wantlist          []cid.Cid
	Peers             []blockmodel.PeerID
}
