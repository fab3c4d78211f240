// Package dagnode builds and reads the Merkle DAG nodes and UnixFS
// metadata that carry file content (spec §4.C, §4.D). Serialization
// and the length-prefixed record format are delegated to
// github.com/ipfs/go-merkledag; the tagged Raw/File/Directory payload
// is delegated to github.com/ipfs/go-unixfs. This package supplies
// only the composition the chunker/builder and reader need: leaf and
// interior node construction, and metadata extraction.
package dagnode

import (
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	dag "github.com/ipfs/go-merkledag"
	ft "github.com/ipfs/go-unixfs"
	"github.com/pkg/errors"
)

// FileSystemNode is what the chunker/builder yields for each leaf or
// interior node it constructs: the persisted CID, the logical byte
// span it covers, and the size of its own serialized record (spec
// §4.E step 1).
type FileSystemNode struct {
	ID      cid.Cid
	Size    uint64
	DagSize uint64
}

// NewRawLeaf wraps a chunk of input directly as a raw, content-
// addressed block (spec §4.E, raw_leaves mode). No UnixFS wrapping:
// the block's CID is computed straight over window.
func NewRawLeaf(window []byte) (blocks.Block, error) {
	node := dag.NewRawNode(window)
	return node, nil
}

// NewFileLeaf wraps a chunk of input in a UnixFS File node carrying
// the raw bytes as its payload (spec §4.E, default non-raw-leaf
// mode).
func NewFileLeaf(window []byte) (*dag.ProtoNode, error) {
	node := dag.NodeWithData(ft.FilePBData(window, uint64(len(window))))
	return node, nil
}

// NewInteriorFile builds one interior DAG node covering children, in
// the order supplied (spec §4.C: "readers MUST preserve that order").
// file_size is the sum of the children's logical sizes (FSNode computes
// it as the sum of its recorded block sizes); block_sizes mirrors the
// children's sizes one-for-one.
func NewInteriorFile(children []FileSystemNode) (*dag.ProtoNode, error) {
	fsn := ft.NewFSNode(ft.TFile)
	for _, child := range children {
		fsn.AddBlockSize(child.Size)
	}
	data, err := fsn.GetBytes()
	if err != nil {
		return nil, errors.Wrap(err, "dagnode: marshal interior unixfs metadata")
	}

	node := dag.NodeWithData(data)
	for _, child := range children {
		if err := node.AddRawLink("", &ipld.Link{
			Cid:  child.ID,
			Size: child.DagSize,
		}); err != nil {
			return nil, errors.Wrap(err, "dagnode: add child link")
		}
	}
	return node, nil
}

// NewDirectory wraps a single child under name, producing the
// directory root spec §4.E.3 describes for wrap mode. The link's size
// is the child's logical Size.
func NewDirectory(name string, child FileSystemNode) (*dag.ProtoNode, error) {
	node := dag.NodeWithData(ft.FolderPBData())
	if err := node.AddRawLink(name, &ipld.Link{
		Cid:  child.ID,
		Size: child.Size,
	}); err != nil {
		return nil, errors.Wrap(err, "dagnode: add directory entry")
	}
	return node, nil
}

// DecodeProtoNode parses the length-prefixed record format back into
// a ProtoNode (spec §4.C). Callers are expected to have already
// verified data against c; the block store's Get does not re-hash the
// bytes it reads.
func DecodeProtoNode(c cid.Cid, data []byte) (*dag.ProtoNode, error) {
	b, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return nil, errors.Wrap(err, "dagnode: block digest does not match CID")
	}
	node, err := dag.DecodeProtobufBlock(b)
	if err != nil {
		return nil, errors.Wrap(err, "dagnode: decode record")
	}
	proto, ok := node.(*dag.ProtoNode)
	if !ok {
		return nil, errors.Errorf("dagnode: %s decoded as %T, not a ProtoNode", c, node)
	}
	return proto, nil
}

// FSMeta extracts the tagged UnixFS payload from node's data field
// (spec §4.D).
func FSMeta(node *dag.ProtoNode) (*ft.FSNode, error) {
	meta, err := ft.FSNodeFromBytes(node.Data())
	if err != nil {
		return nil, errors.Wrap(err, "dagnode: parse unixfs metadata")
	}
	return meta, nil
}

// IsRawLeaf reports whether n is a bare raw block rather than a
// ProtoNode-wrapped UnixFS node.
func IsRawLeaf(n interface{}) bool {
	_, ok := n.(*dag.RawNode)
	return ok
}
