package wire

import (
	"context"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	varint "github.com/multiformats/go-varint"
	msgio "github.com/libp2p/go-msgio"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/bitswap"
	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/cidutil"
	"github.com/blocksync-project/blocksync/pkg/corerrors"
	"github.com/blocksync-project/blocksync/pkg/netiface"
)

// CodecV11 speaks /ipfs/bitswap/1.1.0: block keys are full CID bytes
// and payload blocks carry an explicit (version|codec|algo|hash_len)
// prefix ahead of the data so the receiver learns content_type and
// multihash algorithm without guessing (spec §4.I).
type CodecV11 struct {
	Exchange Exchange
	Store    BlockSource
}

var _ bitswap.ProtocolCodec = (*CodecV11)(nil)

func (c *CodecV11) ProtocolID() protocol.ID { return ProtocolV11 }

func (c *CodecV11) SendWantList(ctx context.Context, s netiface.Stream, full bool, entries []bitswap.WantEntry) error {
	var b []byte
	b = appendWantlistMessage(b, full, entries, func(c cid.Cid) []byte { return c.Bytes() })
	return writeFramed(s, b)
}

func (c *CodecV11) SendBlock(ctx context.Context, s netiface.Stream, block blockmodel.DataBlock) error {
	prefixed, err := encodeV11Block(block)
	if err != nil {
		return err
	}
	var b []byte
	b = appendPayloadField(b, prefixed)
	return writeFramed(s, b)
}

// HandleStream implements spec §4.I's receive loop for v1.1: messages
// are processed until the stream closes.
func (c *CodecV11) HandleStream(ctx context.Context, s netiface.Stream, conn netiface.PeerConnection) error {
	if err := conn.IdentityEstablished(ctx); err != nil {
		return errors.Wrap(corerrors.ErrProtocolError, err.Error())
	}

	reader := msgio.NewVarintReader(s)
	defer reader.Close()

	for {
		raw, err := reader.ReadMsg()
		if err != nil {
			return err
		}
		msg, err := decodeMessage(raw)
		reader.ReleaseMsg(raw)
		if err != nil {
			return err
		}
		if err := processMessage(ctx, c, c.Exchange, c.Store, s, conn.RemotePeer(), msg, decodeV11Block); err != nil {
			log.Debugf("wire: v1.1 message handling error: %s", err)
		}
	}
}

func encodeV11Block(block blockmodel.DataBlock) ([]byte, error) {
	decoded, err := mh.Decode(block.ID.Hash())
	if err != nil {
		return nil, errors.Wrap(corerrors.ErrProtocolError, err.Error())
	}

	var prefix []byte
	prefix = append(prefix, varint.ToUvarint(uint64(block.ID.Version()))...)
	prefix = append(prefix, varint.ToUvarint(uint64(block.ID.Type()))...)
	prefix = append(prefix, varint.ToUvarint(uint64(decoded.Code))...)
	prefix = append(prefix, varint.ToUvarint(uint64(decoded.Length))...)
	return append(prefix, block.Bytes...), nil
}

func decodeV11Block(raw []byte) (data []byte, contentType, algo string, err error) {
	version, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, "", "", errors.Wrap(corerrors.ErrProtocolError, "bad version prefix")
	}
	raw = raw[n:]

	codecCode, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, "", "", errors.Wrap(corerrors.ErrProtocolError, "bad codec prefix")
	}
	raw = raw[n:]

	algoCode, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, "", "", errors.Wrap(corerrors.ErrProtocolError, "bad algo prefix")
	}
	raw = raw[n:]

	_, n, err = varint.FromUvarint(raw) // hash_len, implied by algoCode in practice
	if err != nil {
		return nil, "", "", errors.Wrap(corerrors.ErrProtocolError, "bad hash_len prefix")
	}
	raw = raw[n:]

	_ = version
	contentType = contentTypeName(codecCode)
	algo = hashAlgoName(algoCode)
	return raw, contentType, algo, nil
}

func contentTypeName(code uint64) string {
	switch code {
	case cid.DagProtobuf:
		return cidutil.CodecDagProtobuf
	default:
		return cidutil.CodecRaw
	}
}

func hashAlgoName(code uint64) string {
	switch code {
	case mh.IDENTITY:
		return cidutil.AlgoIdentity
	default:
		return cidutil.AlgoSHA2_256
	}
}

func v11EntryCID(key []byte) (cid.Cid, error) {
	_, c, err := cid.CidFromBytes(key)
	if err != nil {
		return cid.Undef, errors.Wrap(corerrors.ErrProtocolError, err.Error())
	}
	return c, nil
}
