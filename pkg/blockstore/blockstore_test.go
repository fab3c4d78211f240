package blockstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksync-project/blocksync/pkg/blockstore"
	"github.com/blocksync-project/blocksync/pkg/cidutil"
	"github.com/blocksync-project/blocksync/pkg/corerrors"
)

func newStore(t *testing.T) *blockstore.Store {
	t.Helper()
	s, err := blockstore.New(blockstore.Options{Dir: filepath.Join(t.TempDir(), "blocks")})
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	data := []byte("hello\n")
	c, err := cidutil.NewCIDForContent(cidutil.CodecRaw, cidutil.AlgoSHA2_256, data)
	require.NoError(t, err)

	require.NoError(t, s.Put(c, data))

	got, err := s.Get(c)
	require.NoError(t, err)
	require.Equal(t, data, got)

	exists, err := s.Exists(c)
	require.NoError(t, err)
	require.True(t, exists)

	length, ok, err := s.Length(c)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(len(data)), length)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newStore(t)
	c, err := cidutil.NewCIDForContent(cidutil.CodecRaw, cidutil.AlgoSHA2_256, []byte("nope"))
	require.NoError(t, err)

	_, err = s.Get(c)
	require.ErrorIs(t, err, corerrors.ErrNotFound)

	_, ok, err := s.TryGet(c)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutTooLarge(t *testing.T) {
	s, err := blockstore.New(blockstore.Options{Dir: t.TempDir(), MaxBlockSize: 4})
	require.NoError(t, err)

	data := []byte("way too big")
	c, err := cidutil.NewCIDForContent(cidutil.CodecRaw, cidutil.AlgoSHA2_256, data)
	require.NoError(t, err)

	err = s.Put(c, data)
	require.ErrorIs(t, err, corerrors.ErrBlockTooLarge)

	exists, err := s.Exists(c)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestIdentityBlockNeverTouchesDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := blockstore.New(blockstore.Options{Dir: dir, AllowInlineCid: true, InlineCidLimit: 32})
	require.NoError(t, err)

	small := []byte("tiny")
	c, ok, err := cidutil.InlineIfSmall(cidutil.CodecRaw, small, 32, true)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Put(c, small))

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Empty(t, entries)

	got, err := s.Get(c)
	require.NoError(t, err)
	require.Equal(t, small, got)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newStore(t)
	data := []byte("gone soon")
	c, err := cidutil.NewCIDForContent(cidutil.CodecRaw, cidutil.AlgoSHA2_256, data)
	require.NoError(t, err)

	require.NoError(t, s.Put(c, data))
	require.NoError(t, s.Remove(c))
	require.NoError(t, s.Remove(c))

	_, err = s.Get(c)
	require.ErrorIs(t, err, corerrors.ErrNotFound)
}

func TestNamesEnumeratesPutBlocks(t *testing.T) {
	s := newStore(t)
	data := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	want := map[string]bool{}
	for _, d := range data {
		c, err := cidutil.NewCIDForContent(cidutil.CodecRaw, cidutil.AlgoSHA2_256, d)
		require.NoError(t, err)
		require.NoError(t, s.Put(c, d))
		want[string(c.Hash())] = true
	}

	ch, err := s.Names()
	require.NoError(t, err)
	got := map[string]bool{}
	for c := range ch {
		got[string(c.Hash())] = true
	}
	require.Equal(t, want, got)
}
