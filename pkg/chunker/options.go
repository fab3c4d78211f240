package chunker

import "github.com/blocksync-project/blocksync/pkg/corerrors"

// DefaultChunkSize is the fixed-size window the splitter reads (spec
// §4.E step 1): 256 KiB.
const DefaultChunkSize = 256 * 1024

// DefaultFanout is the maximum number of children per interior DAG
// node (spec §2, Component E; §4.E step 2).
const DefaultFanout = 174

// Options configures a single Add call.
type Options struct {
	// ChunkSize is the fixed leaf window size. Zero selects
	// DefaultChunkSize.
	ChunkSize int64
	// Fanout is the maximum children per interior node. Zero selects
	// DefaultFanout.
	Fanout int
	// RawLeaves emits bare content-addressed blocks for leaves instead
	// of UnixFS File-wrapped ones.
	RawLeaves bool
	// Wrap produces a directory node whose sole link is the built
	// root.
	Wrap bool
	// WrapName names the single link when Wrap is set. Defaults to
	// empty string.
	WrapName string
	// OnlyHash computes CIDs without persisting any block.
	OnlyHash bool
	// Trickle selects trickle-DAG layout instead of balanced. Always
	// reports corerrors.ErrUnsupported (spec §4.E "Failure semantics").
	Trickle bool
	// Pin advertises the finished root to the Router when set and the
	// engine is started (spec §4.E "Advertise").
	Pin bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Fanout <= 0 {
		o.Fanout = DefaultFanout
	}
	return o
}

func (o Options) validate() error {
	if o.Trickle {
		return corerrors.NewUnsupported("trickle")
	}
	if o.Fanout < 2 {
		return corerrors.NewUnsupported("fanout below 2")
	}
	if o.ChunkSize < 1 {
		return corerrors.NewUnsupported("chunk size below 1")
	}
	return nil
}
