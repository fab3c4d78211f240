package want_test

import (
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/want"
)

func testCID(t *testing.T) cid.Cid {
	t.Helper()
	digest, err := mh.Sum([]byte("anything"), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, digest)
}

func TestWantThenFoundResolvesAllWaiters(t *testing.T) {
	r := want.New()
	c := testCID(t)

	w1 := want.NewWaiter()
	w2 := want.NewWaiter()
	created1 := r.Want(c, "peerA", w1)
	created2 := r.Want(c, "peerB", w2)
	require.True(t, created1)
	require.False(t, created2)

	block := blockmodel.DataBlock{ID: c, Size: 3, Bytes: []byte("xyz")}
	notified := r.Found(c, block)
	require.Equal(t, 2, notified)

	res1 := <-w1.Chan()
	res2 := <-w2.Chan()
	require.False(t, res1.Cancelled)
	require.Equal(t, block, res1.Block)
	require.False(t, res2.Cancelled)
	require.Equal(t, block, res2.Block)

	require.Equal(t, 0, r.Len())
}

func TestWantThenUnwantCancelsAllWaiters(t *testing.T) {
	r := want.New()
	c := testCID(t)

	w1 := want.NewWaiter()
	w2 := want.NewWaiter()
	r.Want(c, "peerA", w1)
	r.Want(c, "peerB", w2)

	r.Unwant(c)

	res1 := <-w1.Chan()
	res2 := <-w2.Chan()
	require.True(t, res1.Cancelled)
	require.True(t, res2.Cancelled)
	require.Equal(t, 0, r.Len())
}

func TestCancelWaiterOnlyCancelsThatWaiter(t *testing.T) {
	r := want.New()
	c := testCID(t)

	w1 := want.NewWaiter()
	w2 := want.NewWaiter()
	r.Want(c, "peerA", w1)
	r.Want(c, "peerB", w2)

	r.CancelWaiter(c, w1)

	res1 := <-w1.Chan()
	require.True(t, res1.Cancelled)

	// w2 is still pending; a later Found still resolves it.
	block := blockmodel.DataBlock{ID: c, Size: 1, Bytes: []byte("a")}
	notified := r.Found(c, block)
	require.Equal(t, 1, notified)
	res2 := <-w2.Chan()
	require.False(t, res2.Cancelled)
}

func TestFreshEntryAfterResolution(t *testing.T) {
	r := want.New()
	c := testCID(t)

	w1 := want.NewWaiter()
	r.Want(c, "peerA", w1)
	r.Found(c, blockmodel.DataBlock{ID: c})
	<-w1.Chan()

	w2 := want.NewWaiter()
	created := r.Want(c, "peerB", w2)
	require.True(t, created)
}

func TestPeerWants(t *testing.T) {
	r := want.New()
	cA := testCID(t)

	w := want.NewWaiter()
	r.Want(cA, "peerA", w)

	got := r.PeerWants("peerA")
	require.Len(t, got, 1)
	require.True(t, got[0].Equals(cA))

	require.Empty(t, r.PeerWants("peerB"))
}
