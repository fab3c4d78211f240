package wire

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log"
	msgio "github.com/libp2p/go-msgio"

	"github.com/blocksync-project/blocksync/pkg/bitswap"
	"github.com/blocksync-project/blocksync/pkg/blockmodel"
	"github.com/blocksync-project/blocksync/pkg/netiface"
)

var log = logging.Logger("wire")

// blockDecoder turns one protocol-specific payload element into block
// bytes plus the content type and hash algorithm needed to recompute
// its CID (the v1.0/v1.1 difference described in spec §4.I).
type blockDecoder func(raw []byte) (data []byte, contentType, algo string, err error)

// entryCIDDecoder resolves a protocol-specific block_key into a CID
// (v1.0: bare multihash; v1.1: full CID bytes).
type entryCIDDecoder func(key []byte) (cid.Cid, error)

func writeFramed(s netiface.Stream, b []byte) error {
	writer := msgio.NewVarintWriter(s)
	return writer.WriteMsg(b)
}

// processMessage runs spec §4.I's per-message receive steps 2 and 3
// against an already-decoded message: want-list entries dispatch to
// Unwant or a background GetBlockForRemote, and payload blocks are
// handed to OnBlockReceivedAsync.
func processMessage(
	ctx context.Context,
	sender bitswap.ProtocolCodec,
	exch Exchange,
	store BlockSource,
	s netiface.Stream,
	peer blockmodel.PeerID,
	msg decodedMessage,
	decodeBlock blockDecoder,
) error {
	decodeKey := entryCIDDecoderFor(sender)

	for i, key := range msg.entryKeys {
		c, err := decodeKey(key)
		if err != nil {
			log.Debugf("wire: dropping malformed want entry from %s: %s", peer, err)
			continue
		}
		if msg.cancels[i] {
			exch.Unwant(c)
			continue
		}
		go getBlockForRemote(ctx, exch, store, sender, s, c, peer)
	}

	for _, raw := range msg.payloads {
		data, contentType, algo, err := decodeBlock(raw)
		if err != nil {
			log.Debugf("wire: dropping malformed payload block from %s: %s", peer, err)
			continue
		}
		if _, err := exch.OnBlockReceivedAsync(ctx, peer, data, contentType, algo); err != nil {
			log.Debugf("wire: rejecting block from %s: %s", peer, err)
		}
	}

	return nil
}

func entryCIDDecoderFor(sender bitswap.ProtocolCodec) entryCIDDecoder {
	if sender.ProtocolID() == ProtocolV10 {
		return v10EntryCID
	}
	return v11EntryCID
}

// getBlockForRemote implements spec §4.I: serve from the local store
// if present, otherwise pull the block from the network first via
// WantAsync, then forward it. Errors are logged, never surfaced — no
// response means no delivery.
func getBlockForRemote(ctx context.Context, exch Exchange, store BlockSource, sender bitswap.ProtocolCodec, s netiface.Stream, c cid.Cid, peer blockmodel.PeerID) {
	data, ok, err := store.TryGet(c)
	if err != nil {
		log.Debugf("wire: GetBlockForRemote store lookup for %s failed: %s", c, err)
		return
	}
	if !ok {
		// WantAsync's own ctx-watcher goroutine owns cancellation: bound
		// this wait with a timeout so a remote that never shows up
		// doesn't hold the waiter (and that goroutine) forever, then let
		// CancelWaiter do the releasing instead of racing a bare timer
		// against an uncancellable ctx here.
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		waiter := exch.WantAsync(waitCtx, c, peer)
		res := <-waiter.Chan()
		cancel()
		if res.Cancelled {
			return
		}
		data = res.Block.Bytes
	}

	block := blockmodel.DataBlock{ID: c, Size: uint64(len(data)), Bytes: data}
	if err := sender.SendBlock(ctx, s, block); err != nil {
		log.Debugf("wire: GetBlockForRemote send to %s failed: %s", peer, err)
		return
	}
	exch.OnBlockSentAsync(peer, block)
}
