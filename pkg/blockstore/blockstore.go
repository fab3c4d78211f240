// Package blockstore persists content-addressed blocks under a
// directory, one file per block, with atomic writes and a single
// process-wide reader/writer lock (spec §4.A).
package blockstore

import (
	"encoding/base32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/cidutil"
	"github.com/blocksync-project/blocksync/pkg/corerrors"
)

var log = logging.Logger("blockstore")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

const (
	// DefaultMaxBlockSize bounds ordinary user-facing Put calls.
	DefaultMaxBlockSize = 1 << 20 // 1 MiB
	// DefaultMaxDAGBlockSize bounds builder-constructed DAG nodes,
	// which legitimately run larger than a single leaf.
	DefaultMaxDAGBlockSize = 4 << 20 // 4 MiB
	// DefaultInlineCidLimit is the largest payload eligible for
	// identity-hash inlining.
	DefaultInlineCidLimit = 32
)

// Options configures a Store.
type Options struct {
	// Dir is the directory blocks live under. Created if absent.
	Dir string
	// MaxBlockSize caps Put payloads. Zero selects DefaultMaxBlockSize.
	MaxBlockSize int
	// MaxDAGBlockSize caps PutDAGNode payloads. Zero selects
	// DefaultMaxDAGBlockSize. Must be at least MaxBlockSize.
	MaxDAGBlockSize int
	// InlineCidLimit is recorded on the Store but not consulted by it.
	// Identity-hash CIDs skip disk whatever their size.
	InlineCidLimit int
	// AllowInlineCid is recorded on the Store but not consulted by it.
	// Identity-hash CIDs skip disk whether or not it is set.
	AllowInlineCid bool
}

func (o Options) withDefaults() Options {
	if o.MaxBlockSize <= 0 {
		o.MaxBlockSize = DefaultMaxBlockSize
	}
	if o.MaxDAGBlockSize <= 0 {
		o.MaxDAGBlockSize = DefaultMaxDAGBlockSize
	}
	if o.InlineCidLimit <= 0 {
		o.InlineCidLimit = DefaultInlineCidLimit
	}
	return o
}

// Store is a content-addressed, hash-keyed persistent map with atomic
// single-writer/multi-reader semantics.
type Store struct {
	opts Options
	mu   sync.RWMutex

	// OnPut, if set, runs after every successful Put (including the
	// virtual/identity short-circuits). The facade wires this to the
	// bitswap engine's Found so a local write wakes waiters the same
	// way an inbound network block would (spec §3's lifecycle
	// invariant: a CID is never simultaneously in the want registry
	// and the store).
	OnPut func(c cid.Cid, data []byte)
}

// New opens (creating if necessary) a Store rooted at opts.Dir.
func New(opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if opts.Dir == "" {
		return nil, errors.New("blockstore: Dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	return &Store{opts: opts}, nil
}

func (s *Store) pathFor(c cid.Cid) string {
	name := b32.EncodeToString(c.Hash())
	return filepath.Join(s.opts.Dir, strings.ToLower(name))
}

// Put atomically persists block, replacing any existing file with the
// same key. Virtual and identity-hash blocks are accepted silently
// without touching disk (spec §4.A "virtual blocks"). data is checked
// against MaxBlockSize, the bound for ordinary user-facing blocks.
func (s *Store) Put(c cid.Cid, data []byte) error {
	return s.put(c, data, s.opts.MaxBlockSize)
}

// PutDAGNode persists a builder-constructed leaf or interior DAG node,
// checking data against MaxDAGBlockSize rather than the smaller
// MaxBlockSize: interior nodes accumulate one link per child and
// legitimately run larger than a single leaf (spec §4.A, §4.E).
func (s *Store) PutDAGNode(c cid.Cid, data []byte) error {
	return s.put(c, data, s.opts.MaxDAGBlockSize)
}

func (s *Store) put(c cid.Cid, data []byte, limit int) error {
	if isVirtual(c) || cidutil.IsIdentity(c) {
		s.notifyPut(c, data)
		return nil
	}
	if len(data) > limit {
		return errors.Wrapf(corerrors.ErrBlockTooLarge, "block %s is %d bytes, max %d", c, len(data), limit)
	}

	s.mu.Lock()
	final := s.pathFor(c)
	tmp, err := os.CreateTemp(s.opts.Dir, ".put-*")
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.mu.Unlock()
		return errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.mu.Unlock()
		return errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.mu.Unlock()
		return errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		s.mu.Unlock()
		return errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	s.mu.Unlock()

	s.notifyPut(c, data)
	return nil
}

func (s *Store) notifyPut(c cid.Cid, data []byte) {
	if s.OnPut != nil {
		s.OnPut(c, data)
	}
}

// TryGet returns the block's bytes, or (nil, false, nil) on a clean
// miss.
func (s *Store) TryGet(c cid.Cid) ([]byte, bool, error) {
	if data, ok, err := virtualBytes(c); ok || err != nil {
		return data, ok, err
	}
	if cidutil.IsIdentity(c) {
		digest, err := cidutil.IdentityDigest(c)
		if err != nil {
			return nil, false, err
		}
		return digest, true, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(c))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	return data, true, nil
}

// Get returns the block's bytes or corerrors.ErrNotFound.
func (s *Store) Get(c cid.Cid) ([]byte, error) {
	data, ok, err := s.TryGet(c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, corerrors.NewNotFound(c)
	}
	return data, nil
}

// Exists reports whether c is present (including virtual/identity
// CIDs, which are always present).
func (s *Store) Exists(c cid.Cid) (bool, error) {
	if isVirtual(c) || cidutil.IsIdentity(c) {
		return true, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(s.pathFor(c)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	return true, nil
}

// Length returns the stored byte length of c, or ok=false on a miss.
func (s *Store) Length(c cid.Cid) (length uint64, ok bool, err error) {
	if data, present, verr := virtualBytes(c); present || verr != nil {
		return uint64(len(data)), present, verr
	}
	if cidutil.IsIdentity(c) {
		digest, derr := cidutil.IdentityDigest(c)
		if derr != nil {
			return 0, false, derr
		}
		return uint64(len(digest)), true, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, statErr := os.Stat(s.pathFor(c))
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(corerrors.ErrIoError, statErr.Error())
	}
	return uint64(info.Size()), true, nil
}

// Remove deletes the block for c. Removing a virtual or identity block,
// or one that is already absent, is a no-op.
func (s *Store) Remove(c cid.Cid) error {
	if isVirtual(c) || cidutil.IsIdentity(c) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(c)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(corerrors.ErrIoError, err.Error())
	}
	return nil
}

// Names lazily enumerates every CID persisted on disk. Virtual and
// identity-hash blocks, never having been written, are not yielded.
func (s *Store) Names() (<-chan cid.Cid, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.opts.Dir)
	s.mu.RUnlock()
	if err != nil {
		return nil, errors.Wrap(corerrors.ErrIoError, err.Error())
	}

	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".put-") {
				continue
			}
			raw, err := b32.DecodeString(strings.ToUpper(entry.Name()))
			if err != nil {
				log.Warnf("blockstore: skipping unreadable file name %q: %s", entry.Name(), err)
				continue
			}
			c := cid.NewCidV1(cid.Raw, raw)
			// The stored key is a multihash, not a full CID; NewCidV1
			// here is a carrier so callers get a cid.Cid back, but the
			// canonical identity is the multihash bytes themselves.
			out <- c
		}
	}()
	return out, nil
}

// Has reports whether the underlying directory contains a readable
// file for c without validating its digest. It is the same check as
// Exists.
func (s *Store) Has(c cid.Cid) (bool, error) {
	return s.Exists(c)
}

func (s *Store) blockFor(c cid.Cid) (blocks.Block, error) {
	data, err := s.Get(c)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

// Block returns a go-block-format Block for c, verifying nothing
// beyond what Get already guarantees.
func (s *Store) Block(c cid.Cid) (blocks.Block, error) {
	return s.blockFor(c)
}

var _ io.Closer = (*Store)(nil)

// Close is a no-op; the Store holds no descriptors between calls.
func (s *Store) Close() error { return nil }
