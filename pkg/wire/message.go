// Package wire implements the two framed request/response protocol
// versions bitswap peers speak on the wire (spec §4.I, Component I).
// Both variants carry the same abstract message — a want-list plus a
// payload of blocks — encoded as length-prefixed protocol-buffer
// records; they differ only in how a want-list entry's block key and
// a payload block are represented on the wire (spec §4.I).
//
// Framing uses go-msgio's varint-prefixed reader/writer; field
// encoding is done by hand against protowire, matching the spec's
// choice not to vendor a .proto schema for a two-message protocol.
package wire

import (
	"context"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/blocksync-project/blocksync/pkg/bitswap"
	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/corerrors"
	"github.com/blocksync-project/blocksync/pkg/want"
)

// Protocol IDs per spec §4.I / §6.
const (
	ProtocolV10 protocol.ID = "/ipfs/bitswap/1.0.0"
	ProtocolV11 protocol.ID = "/ipfs/bitswap/1.1.0"
)

// Field numbers for the abstract Message{wantlist, payload} schema.
const (
	fieldWantlist = 1
	fieldPayload  = 2

	fieldWantlistFull    = 1
	fieldWantlistEntries = 2

	fieldEntryBlockKey = 1
	fieldEntryPriority = 2
	fieldEntryCancel   = 3
)

// Exchange is the slice of the bitswap engine the wire protocols
// drive: register interest, cancel it, and record inbound blocks.
// Defined here (not imported from pkg/bitswap as a concrete type) so
// any object satisfying it — in practice always *bitswap.Engine —
// can sit behind it.
type Exchange interface {
	WantAsync(ctx context.Context, c cid.Cid, requester blockmodel.PeerID) *want.Waiter
	Unwant(c cid.Cid)
	OnBlockReceivedAsync(ctx context.Context, peer blockmodel.PeerID, data []byte, contentType, hashAlgo string) (cid.Cid, error)
	OnBlockSentAsync(peer blockmodel.PeerID, block blockmodel.DataBlock)
}

// BlockSource is the slice of the block store GetBlockForRemote needs.
type BlockSource interface {
	TryGet(c cid.Cid) ([]byte, bool, error)
}

// appendWantlistMessage serializes {wantlist:{full, entries}} as field
// 1 of the outer Message, using keyFor to render each entry's CID into
// its protocol-specific block_key bytes.
func appendWantlistMessage(b []byte, full bool, entries []bitswap.WantEntry, keyFor func(cid.Cid) []byte) []byte {
	var wl []byte
	if full {
		wl = protowire.AppendTag(wl, fieldWantlistFull, protowire.VarintType)
		wl = protowire.AppendVarint(wl, 1)
	}
	for _, e := range entries {
		var entryBytes []byte
		entryBytes = protowire.AppendTag(entryBytes, fieldEntryBlockKey, protowire.BytesType)
		entryBytes = protowire.AppendBytes(entryBytes, keyFor(e.CID))
		entryBytes = protowire.AppendTag(entryBytes, fieldEntryPriority, protowire.VarintType)
		entryBytes = protowire.AppendVarint(entryBytes, uint64(e.Priority))
		if e.Cancel {
			entryBytes = protowire.AppendTag(entryBytes, fieldEntryCancel, protowire.VarintType)
			entryBytes = protowire.AppendVarint(entryBytes, 1)
		}
		wl = protowire.AppendTag(wl, fieldWantlistEntries, protowire.BytesType)
		wl = protowire.AppendBytes(wl, entryBytes)
	}
	b = protowire.AppendTag(b, fieldWantlist, protowire.BytesType)
	b = protowire.AppendBytes(b, wl)
	return b
}

// appendPayloadField appends one payload block (already rendered to
// its protocol-specific bytes by the caller) as field 2 of the outer
// Message.
func appendPayloadField(b []byte, rendered []byte) []byte {
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, rendered)
	return b
}

// decodedMessage is the protocol-agnostic result of parsing the outer
// Message framing; block_key and payload bytes are still in their
// protocol-specific encoding and must be resolved by the caller.
type decodedMessage struct {
	full       bool
	entryKeys  [][]byte
	priorities []int32
	cancels    []bool
	payloads   [][]byte
}

func decodeMessage(b []byte) (decodedMessage, error) {
	var msg decodedMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return msg, errors.Wrap(corerrors.ErrProtocolError, "malformed field tag")
		}
		b = b[n:]

		switch num {
		case fieldWantlist:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return msg, errors.Wrap(corerrors.ErrProtocolError, "malformed wantlist field")
			}
			b = b[n:]
			if err := decodeWantlist(v, &msg); err != nil {
				return msg, err
			}
		case fieldPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return msg, errors.Wrap(corerrors.ErrProtocolError, "malformed payload field")
			}
			b = b[n:]
			msg.payloads = append(msg.payloads, append([]byte(nil), v...))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return msg, errors.Wrap(corerrors.ErrProtocolError, "malformed unknown field")
			}
			b = b[n:]
		}
	}
	return msg, nil
}

func decodeWantlist(b []byte, msg *decodedMessage) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(corerrors.ErrProtocolError, "malformed wantlist tag")
		}
		b = b[n:]

		switch num {
		case fieldWantlistFull:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(corerrors.ErrProtocolError, "malformed wantlist.full")
			}
			b = b[n:]
			msg.full = v != 0
		case fieldWantlistEntries:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(corerrors.ErrProtocolError, "malformed wantlist.entries")
			}
			b = b[n:]
			key, priority, cancel, err := decodeEntry(v)
			if err != nil {
				return err
			}
			msg.entryKeys = append(msg.entryKeys, key)
			msg.priorities = append(msg.priorities, priority)
			msg.cancels = append(msg.cancels, cancel)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrap(corerrors.ErrProtocolError, "malformed wantlist unknown field")
			}
			b = b[n:]
		}
	}
	return nil
}

func decodeEntry(b []byte) (blockKey []byte, priority int32, cancel bool, err error) {
	priority = 1
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, 0, false, errors.Wrap(corerrors.ErrProtocolError, "malformed entry tag")
		}
		b = b[n:]

		switch num {
		case fieldEntryBlockKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, 0, false, errors.Wrap(corerrors.ErrProtocolError, "malformed entry.block_key")
			}
			b = b[n:]
			blockKey = append([]byte(nil), v...)
		case fieldEntryPriority:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, 0, false, errors.Wrap(corerrors.ErrProtocolError, "malformed entry.priority")
			}
			b = b[n:]
			priority = int32(v)
		case fieldEntryCancel:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, 0, false, errors.Wrap(corerrors.ErrProtocolError, "malformed entry.cancel")
			}
			b = b[n:]
			cancel = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, 0, false, errors.Wrap(corerrors.ErrProtocolError, "malformed entry unknown field")
			}
			b = b[n:]
		}
	}
	return blockKey, priority, cancel, nil
}

// cidFromMultihashBytes rebuilds a CIDv0 from a v1.0 block_key, which
// carries raw multihash bytes rather than a full CID (spec §4.I "v1.0
// block_key = multihash_bytes").
func cidFromMultihashBytes(raw []byte) (cid.Cid, error) {
	digest, err := mh.Cast(raw)
	if err != nil {
		return cid.Undef, errors.Wrap(corerrors.ErrProtocolError, err.Error())
	}
	return cid.NewCidV0(digest), nil
}
