package wire

import (
	"context"

	"github.com/ipfs/go-cid"
	msgio "github.com/libp2p/go-msgio"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/bitswap"
	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/cidutil"
	"github.com/blocksync-project/blocksync/pkg/corerrors"
	"github.com/blocksync-project/blocksync/pkg/netiface"
)

// CodecV10 speaks /ipfs/bitswap/1.0.0: block keys are bare multihash
// bytes and payload blocks are flat, undifferentiated bytes that the
// receiver must rehash against the default dag-pb/sha2-256 profile to
// recover a CID (spec §4.I).
type CodecV10 struct {
	Exchange Exchange
	Store    BlockSource
}

var _ bitswap.ProtocolCodec = (*CodecV10)(nil)

func (c *CodecV10) ProtocolID() protocol.ID { return ProtocolV10 }

func (c *CodecV10) SendWantList(ctx context.Context, s netiface.Stream, full bool, entries []bitswap.WantEntry) error {
	var b []byte
	b = appendWantlistMessage(b, full, entries, func(c cid.Cid) []byte { return c.Hash() })
	return writeFramed(s, b)
}

func (c *CodecV10) SendBlock(ctx context.Context, s netiface.Stream, block blockmodel.DataBlock) error {
	var b []byte
	b = appendPayloadField(b, block.Bytes)
	return writeFramed(s, b)
}

// HandleStream implements spec §4.I's receive loop for v1.0: at most
// one message is processed before the stream is considered done.
func (c *CodecV10) HandleStream(ctx context.Context, s netiface.Stream, conn netiface.PeerConnection) error {
	if err := conn.IdentityEstablished(ctx); err != nil {
		return errors.Wrap(corerrors.ErrProtocolError, err.Error())
	}

	reader := msgio.NewVarintReader(s)
	defer reader.Close()

	raw, err := reader.ReadMsg()
	if err != nil {
		return err
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		return err
	}
	reader.ReleaseMsg(raw)

	return processMessage(ctx, c, c.Exchange, c.Store, s, conn.RemotePeer(), msg, decodeV10Block)
}

func decodeV10Block(raw []byte) (data []byte, contentType, algo string, err error) {
	return raw, cidutil.CodecDagProtobuf, cidutil.AlgoSHA2_256, nil
}

func v10EntryCID(key []byte) (cid.Cid, error) { return cidFromMultihashBytes(key) }
