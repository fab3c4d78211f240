package blockstore

import (
	"github.com/ipfs/go-cid"
	dag "github.com/ipfs/go-merkledag"
	ft "github.com/ipfs/go-unixfs"
)

// Virtual blocks short-circuit to constant bytes without touching
// disk: the empty DAG node and the empty UnixFS directory (spec
// §4.A). Both are computed once at init time from the same libraries
// the DAG builder uses, so their CIDs always match what the builder
// would produce.
var (
	emptyNodeBytes []byte
	emptyNodeCID   cid.Cid

	emptyDirBytes []byte
	emptyDirCID   cid.Cid
)

func init() {
	emptyNode := dag.NodeWithData(nil)
	emptyNodeBytes = emptyNode.RawData()
	emptyNodeCID = emptyNode.Cid()

	emptyDir := dag.NodeWithData(ft.FolderPBData())
	emptyDirBytes = emptyDir.RawData()
	emptyDirCID = emptyDir.Cid()
}

func isVirtual(c cid.Cid) bool {
	return c.Equals(emptyNodeCID) || c.Equals(emptyDirCID)
}

// virtualBytes returns the constant payload for a virtual CID. ok is
// false (with a nil error) for any CID that isn't virtual.
func virtualBytes(c cid.Cid) (data []byte, ok bool, err error) {
	switch {
	case c.Equals(emptyNodeCID):
		return emptyNodeBytes, true, nil
	case c.Equals(emptyDirCID):
		return emptyDirBytes, true, nil
	default:
		return nil, false, nil
	}
}
