// Package blockmodel holds the small, widely shared data types from
// spec §3 that don't belong to any single component: the DataBlock
// that crosses the store/exchange boundary, and the PeerID type the
// exchange engine and wire protocols key everything by.
package blockmodel

import (
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID identifies a remote peer. It is libp2p's own peer.ID: the
// core only ever needs identity comparison and string form out of it,
// never the rest of libp2p (spec §6 — Swarm/Router are external
// collaborators).
type PeerID = peer.ID

// DataBlock is the CID-keyed unit the store persists and the exchange
// engine moves across the wire (spec §3).
type DataBlock struct {
	ID    cid.Cid
	Size  uint64
	Bytes []byte
}
