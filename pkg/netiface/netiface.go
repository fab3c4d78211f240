// Package netiface declares the external collaborators the core
// consumes but never implements: peer discovery, DHT-style provider
// lookup, and transport-level stream multiplexing (spec §1 "Explicitly
// out of scope", §6 "Consumed contracts"). Nothing in this module
// constructs a value satisfying these interfaces; production
// deployments wire in their own libp2p-backed implementations.
package netiface

import (
	"context"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/blocksync-project/blocksync/pkg/blockmodel"
)

// Router is the provider-lookup collaborator: find peers advertising
// a CID, and advertise CIDs this node has. The core never performs
// DHT traversal itself — it only calls through this interface (spec
// §1, §6).
type Router interface {
	// FindProviders streams up to limit providers of c to onProvider,
	// stopping early if ctx is cancelled.
	FindProviders(ctx context.Context, c cid.Cid, limit int, onProvider func(blockmodel.PeerID)) error
	// Provide announces that this node has c. advertise controls
	// whether the announcement is pushed immediately or merely
	// recorded for the next periodic reprovide sweep.
	Provide(ctx context.Context, c cid.Cid, advertise bool) error
}

// Stream is the opaque bidirectional byte channel a Swarm hands back
// from Dial, already secured and multiplexed by the transport layer
// (out of scope for the core — spec §1).
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	// Protocol names which protocol ID the stream negotiated.
	Protocol() protocol.ID
	// Conn identifies the connection this stream was opened over, so
	// a protocol handler can await the peer identity handshake before
	// trusting anything read off the stream (spec §4.H "Connection-
	// established trigger", §4.I "Await peer identity handshake").
	Conn() PeerConnection
}

// PeerConnection represents one established connection to a remote
// peer, including the async identity handshake the engine must await
// before trusting RemotePeer (spec §4.H "Connection-established
// trigger", §6).
type PeerConnection interface {
	RemotePeer() blockmodel.PeerID
	// IdentityEstablished resolves once the peer's identity has been
	// verified by the transport's secure channel handshake.
	IdentityEstablished(ctx context.Context) error
}

// ConnectionHandler is invoked once per newly established connection.
type ConnectionHandler func(PeerConnection)

// Swarm is the peer-connection and protocol-multiplexing abstraction
// the bitswap engine dials out on and registers its wire protocols
// with (spec §6).
type Swarm interface {
	// Dial opens a stream to peer speaking protocol.
	Dial(ctx context.Context, peer blockmodel.PeerID, proto protocol.ID) (Stream, error)
	// KnownPeers enumerates every peer with a live connection.
	KnownPeers() []blockmodel.PeerID
	// AddProtocol registers a stream handler for proto; RemoveProtocol
	// undoes it.
	AddProtocol(proto protocol.ID, handler func(Stream)) error
	RemoveProtocol(proto protocol.ID) error
	// OnConnectionEstablished subscribes handler to every future
	// connection event, returning an unsubscribe function.
	OnConnectionEstablished(handler ConnectionHandler) (unsubscribe func())
	// RegisterPeer records a peer as known without necessarily dialing
	// it immediately.
	RegisterPeer(peer blockmodel.PeerID)
}

// KeyChain is consumed only by the chunked reader's optional
// decryption path (spec §4.F "key chain").
type KeyChain interface {
	FindKeyByName(name string) (KeyInfo, error)
	GetPrivateKeyAsync(ctx context.Context, info KeyInfo) ([]byte, error)
}

// KeyInfo identifies a key within a KeyChain without exposing its
// material.
type KeyInfo struct {
	Name string
}
