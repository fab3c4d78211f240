package dagnode_test

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/blocksync-project/blocksync/pkg/dagnode"
)

// childID returns a real CID for a test child: links to an undefined
// CID are rejected when a node is built.
func childID(t *testing.T, content string) cid.Cid {
	t.Helper()
	leaf, err := dagnode.NewFileLeaf([]byte(content))
	require.NoError(t, err)
	return leaf.Cid()
}

func TestInteriorFileSizeIsSumOfChildren(t *testing.T) {
	children := []dagnode.FileSystemNode{
		{ID: childID(t, "a"), Size: 10, DagSize: 12},
		{ID: childID(t, "b"), Size: 20, DagSize: 22},
		{ID: childID(t, "c"), Size: 5, DagSize: 7},
	}
	node, err := dagnode.NewInteriorFile(children)
	require.NoError(t, err)

	meta, err := dagnode.FSMeta(node)
	require.NoError(t, err)
	require.Equal(t, uint64(35), meta.FileSize())
	require.Equal(t, 3, len(node.Links()))
}

func TestFileLeafRoundTrip(t *testing.T) {
	window := []byte("some file content")
	node, err := dagnode.NewFileLeaf(window)
	require.NoError(t, err)

	meta, err := dagnode.FSMeta(node)
	require.NoError(t, err)
	require.Equal(t, uint64(len(window)), meta.FileSize())

	decoded, err := dagnode.DecodeProtoNode(node.Cid(), node.RawData())
	require.NoError(t, err)
	require.True(t, decoded.Cid().Equals(node.Cid()))
}

func TestDirectoryWrapsSingleChild(t *testing.T) {
	child := dagnode.FileSystemNode{ID: childID(t, "x"), Size: 1, DagSize: 1}
	node, err := dagnode.NewDirectory("x", child)
	require.NoError(t, err)
	require.Len(t, node.Links(), 1)
	require.Equal(t, "x", node.Links()[0].Name)
	require.EqualValues(t, 1, node.Links()[0].Size)
}
