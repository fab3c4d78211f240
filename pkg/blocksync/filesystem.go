package blocksync

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/chunker"
	"github.com/blocksync-project/blocksync/pkg/dagnode"
	"github.com/blocksync-project/blocksync/pkg/reader"
)

// FileSystem is the facade's file/directory handle (spec §6
// "FileSystem.AddStream/AddDirectory/AddFile/ListFile/ReadFile").
type FileSystem struct{ e *Engine }

// FileSystem returns the file/directory handle.
func (e *Engine) FileSystem() FileSystem { return FileSystem{e: e} }

// DirEntry is one entry of a directory node (spec §3 DagLink). Size is
// the size recorded in the entry's link: AddDirectory stores it as
// given and ListFile returns it as stored. Block.Stat on CID reports
// only the stored length of that one block, which for a multi-block
// file is not the size of the whole DAG.
type DirEntry struct {
	Name string
	CID  cid.Cid
	Size uint64
}

// AddStream chunks r into a balanced Merkle DAG and returns its root
// CID and logical length (spec §4.E). opts.Wrap, if set, wraps the
// finished root under name in a directory node (spec §4.E step 3,
// §8's "Directory wrap" scenario).
func (fs FileSystem) AddStream(ctx context.Context, r io.Reader, name string, opts chunker.Options) (root cid.Cid, size uint64, err error) {
	opts.WrapName = name
	return fs.e.builder.Add(ctx, r, opts)
}

// AddFile is AddStream specialized for content already fully in
// memory.
func (fs FileSystem) AddFile(ctx context.Context, data []byte, name string, opts chunker.Options) (cid.Cid, uint64, error) {
	return fs.AddStream(ctx, byteReader(data), name, opts)
}

// AddDirectory wraps a set of already-built children under a single
// directory node, one link per entry, in the order supplied (spec
// §4.C "readers MUST preserve that order").
func (fs FileSystem) AddDirectory(entries []DirEntry) (cid.Cid, error) {
	if len(entries) == 0 {
		return cid.Undef, errors.New("blocksync: AddDirectory requires at least one entry")
	}

	node, err := dagnode.NewDirectory(entries[0].Name, dagnode.FileSystemNode{
		ID:   entries[0].CID,
		Size: entries[0].Size,
	})
	if err != nil {
		return cid.Undef, err
	}
	for _, entry := range entries[1:] {
		if err := node.AddRawLink(entry.Name, &ipld.Link{Cid: entry.CID, Size: entry.Size}); err != nil {
			return cid.Undef, errors.Wrap(err, "blocksync: add directory entry")
		}
	}

	if err := fs.e.store.PutDAGNode(node.Cid(), node.RawData()); err != nil {
		return cid.Undef, err
	}
	return node.Cid(), nil
}

// ListFile enumerates a directory node's entries.
func (fs FileSystem) ListFile(ctx context.Context, root cid.Cid) ([]DirEntry, error) {
	data, err := Block{e: fs.e}.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	node, err := dagnode.DecodeProtoNode(root, data)
	if err != nil {
		return nil, errors.Wrap(err, "blocksync: decode directory node")
	}

	entries := make([]DirEntry, 0, len(node.Links()))
	for _, link := range node.Links() {
		entries = append(entries, DirEntry{Name: link.Name, CID: link.Cid, Size: link.Size})
	}
	return entries, nil
}

// ReadFile opens a seekable, byte-accurate reader over the file DAG
// rooted at root (spec §4.F, Component F). opts is typically empty;
// reader.WithKeyChain enables the optional per-leaf decryption path
// for callers that have one configured.
func (fs FileSystem) ReadFile(ctx context.Context, root cid.Cid, opts ...reader.Option) (*reader.Reader, error) {
	return reader.New(ctx, root, blockGetter{e: fs.e}, opts...)
}

type byteReaderImpl struct {
	data []byte
	pos  int
}

func byteReader(data []byte) io.Reader { return &byteReaderImpl{data: data} }

func (r *byteReaderImpl) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
