// Package chunker splits an input stream into fixed-size leaf blocks
// and assembles them into a balanced Merkle DAG with recorded chunk
// sizes (spec §4.E, Component E).
package chunker

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"
	chunk "github.com/ipfs/go-ipfs-chunker"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/dagnode"
)

var log = logging.Logger("chunker")

// BlockSink is the narrow interface the builder needs from the block
// store: persist a block under its own CID. PutDAGNode is checked
// against the store's larger DAG-node size bound rather than the
// smaller bound ordinary user Puts face, since interior nodes grow
// with their fanout.
type BlockSink interface {
	PutDAGNode(c cid.Cid, data []byte) error
}

// Advertiser is the narrow slice of the Router (spec §6) the builder
// needs to announce a finished root.
type Advertiser interface {
	Provide(ctx context.Context, c cid.Cid, advertise bool) error
}

// discardSink implements BlockSink for Options.OnlyHash: every CID is
// computed by the caller before PutDAGNode is invoked, so there is nothing
// left to do.
type discardSink struct{}

func (discardSink) PutDAGNode(cid.Cid, []byte) error { return nil }

// Builder turns byte streams into root DAG nodes.
type Builder struct {
	sink    BlockSink
	router  Advertiser
	started bool
}

// New constructs a Builder that persists leaves and interior nodes
// through sink, optionally advertising finished roots through router
// (nil is fine when pinning/advertising is never requested).
func New(sink BlockSink, router Advertiser) *Builder {
	return &Builder{sink: sink, router: router}
}

// SetStarted marks whether the owning engine is running; Options.Pin
// only advertises while started, per spec §4.E "Advertise".
func (b *Builder) SetStarted(started bool) { b.started = started }

// Add reads r to completion, emitting leaf and interior DAG nodes
// through the configured sink, and returns the root CID and its
// logical byte length. I/O errors on r are fatal: any leaves already
// persisted remain (spec §4.E "Failure semantics" — no rollback).
func (b *Builder) Add(ctx context.Context, r io.Reader, opts Options) (root cid.Cid, size uint64, err error) {
	opts = opts.withDefaults()
	if verr := opts.validate(); verr != nil {
		return cid.Undef, 0, verr
	}

	sink := b.sink
	if opts.OnlyHash {
		sink = discardSink{}
	}

	leaves, err := splitLeaves(ctx, r, opts, sink)
	if err != nil {
		return cid.Undef, 0, err
	}

	rootNode, err := reduceToRoot(leaves, opts, sink)
	if err != nil {
		return cid.Undef, 0, err
	}

	if opts.Wrap {
		dirNode, err := dagnode.NewDirectory(opts.WrapName, rootNode)
		if err != nil {
			return cid.Undef, 0, errors.Wrap(err, "chunker: wrap root in directory")
		}
		if err := sink.PutDAGNode(dirNode.Cid(), dirNode.RawData()); err != nil {
			return cid.Undef, 0, errors.Wrap(err, "chunker: persist wrapping directory")
		}
		rootNode = dagnode.FileSystemNode{ID: dirNode.Cid(), Size: rootNode.Size, DagSize: uint64(len(dirNode.RawData()))}
	}

	if opts.Pin && b.started && b.router != nil {
		if err := b.router.Provide(ctx, rootNode.ID, true); err != nil {
			log.Warnf("chunker: advertise root %s failed: %s", rootNode.ID, err)
		}
	}

	return rootNode.ID, rootNode.Size, nil
}

// splitLeaves reads r in fixed windows via go-ipfs-chunker and emits
// one FileSystemNode per window (spec §4.E step 1).
func splitLeaves(ctx context.Context, r io.Reader, opts Options, sink BlockSink) ([]dagnode.FileSystemNode, error) {
	splitter := chunk.NewSizeSplitter(r, opts.ChunkSize)

	var leaves []dagnode.FileSystemNode
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "chunker: context done while reading input")
		}

		window, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "chunker: read input stream")
		}

		leaf, err := buildLeaf(window, opts, sink)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}

	if len(leaves) == 0 {
		// Empty input still yields one empty leaf, matching the
		// "round trip small file" scenario's treatment of a
		// zero-length root (spec §8).
		leaf, err := buildLeaf(nil, opts, sink)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}

	return leaves, nil
}

func buildLeaf(window []byte, opts Options, sink BlockSink) (dagnode.FileSystemNode, error) {
	if opts.RawLeaves {
		block, err := dagnode.NewRawLeaf(window)
		if err != nil {
			return dagnode.FileSystemNode{}, errors.Wrap(err, "chunker: build raw leaf")
		}
		if err := sink.PutDAGNode(block.Cid(), block.RawData()); err != nil {
			return dagnode.FileSystemNode{}, errors.Wrap(err, "chunker: persist raw leaf")
		}
		return dagnode.FileSystemNode{
			ID:      block.Cid(),
			Size:    uint64(len(window)),
			DagSize: uint64(len(block.RawData())),
		}, nil
	}

	node, err := dagnode.NewFileLeaf(window)
	if err != nil {
		return dagnode.FileSystemNode{}, errors.Wrap(err, "chunker: build file leaf")
	}
	if err := sink.PutDAGNode(node.Cid(), node.RawData()); err != nil {
		return dagnode.FileSystemNode{}, errors.Wrap(err, "chunker: persist file leaf")
	}
	return dagnode.FileSystemNode{
		ID:      node.Cid(),
		Size:    uint64(len(window)),
		DagSize: uint64(len(node.RawData())),
	}, nil
}

// reduceToRoot groups leaves into bundles of up to opts.Fanout,
// emitting one interior node per bundle, until exactly one node
// remains (spec §4.E step 2).
func reduceToRoot(level []dagnode.FileSystemNode, opts Options, sink BlockSink) (dagnode.FileSystemNode, error) {
	if len(level) == 1 {
		return level[0], nil
	}

	for len(level) > 1 {
		var next []dagnode.FileSystemNode
		for start := 0; start < len(level); start += opts.Fanout {
			end := start + opts.Fanout
			if end > len(level) {
				end = len(level)
			}
			bundle := level[start:end]

			node, err := dagnode.NewInteriorFile(bundle)
			if err != nil {
				return dagnode.FileSystemNode{}, errors.Wrap(err, "chunker: build interior node")
			}
			if err := sink.PutDAGNode(node.Cid(), node.RawData()); err != nil {
				return dagnode.FileSystemNode{}, errors.Wrap(err, "chunker: persist interior node")
			}

			var total uint64
			for _, child := range bundle {
				total += child.Size
			}
			next = append(next, dagnode.FileSystemNode{
				ID:      node.Cid(),
				Size:    total,
				DagSize: uint64(len(node.RawData())),
			})
		}
		level = next
	}

	return level[0], nil
}
