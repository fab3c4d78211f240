package reader_test

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/blocksync-project/blocksync/pkg/blockstore"
	"github.com/blocksync-project/blocksync/pkg/chunker"
	"github.com/blocksync-project/blocksync/pkg/reader"
)

// storeGetter adapts blockstore.Store to reader.BlockGetter.
type storeGetter struct{ s *blockstore.Store }

func (g storeGetter) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	return g.s.Get(c)
}

func newStore(t *testing.T) *blockstore.Store {
	t.Helper()
	s, err := blockstore.New(blockstore.Options{Dir: filepath.Join(t.TempDir(), "blocks")})
	require.NoError(t, err)
	return s
}

func TestRoundTripSmallFile(t *testing.T) {
	store := newStore(t)
	b := chunker.New(store, nil)

	want := []byte("hello\n")
	root, size, err := b.Add(context.Background(), bytes.NewReader(want), chunker.Options{})
	require.NoError(t, err)
	require.EqualValues(t, 6, size)

	r, err := reader.New(context.Background(), root, storeGetter{store})
	require.NoError(t, err)
	require.EqualValues(t, 6, r.Length())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRoundTripVariousChunkSizes(t *testing.T) {
	for _, chunkSize := range []int64{1, 7, 256, 65536} {
		chunkSize := chunkSize
		t.Run("", func(t *testing.T) {
			store := newStore(t)
			b := chunker.New(store, nil)

			want := make([]byte, 5000)
			rand.New(rand.NewSource(chunkSize)).Read(want)

			root, _, err := b.Add(context.Background(), bytes.NewReader(want), chunker.Options{ChunkSize: chunkSize})
			require.NoError(t, err)

			r, err := reader.New(context.Background(), root, storeGetter{store})
			require.NoError(t, err)

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestRoundTripLargeFileSeek(t *testing.T) {
	store := newStore(t)
	b := chunker.New(store, nil)

	want := make([]byte, 1048577)
	rand.New(rand.NewSource(7)).Read(want)

	root, size, err := b.Add(context.Background(), bytes.NewReader(want), chunker.Options{ChunkSize: 4096})
	require.NoError(t, err)
	require.EqualValues(t, len(want), size)

	r, err := reader.New(context.Background(), root, storeGetter{store})
	require.NoError(t, err)

	pos, err := r.Seek(1048570, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 1048570, pos)

	got := make([]byte, 7)
	n, err := io.ReadFull(r, got)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, want[1048570:], got)
}

func TestWriteAndSetLengthUnsupported(t *testing.T) {
	store := newStore(t)
	b := chunker.New(store, nil)

	root, _, err := b.Add(context.Background(), bytes.NewReader([]byte("x")), chunker.Options{})
	require.NoError(t, err)

	r, err := reader.New(context.Background(), root, storeGetter{store})
	require.NoError(t, err)

	_, err = r.Write([]byte("y"))
	require.Error(t, err)

	require.Error(t, r.SetLength(10))
}
