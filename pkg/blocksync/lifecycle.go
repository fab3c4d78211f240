package blocksync

import (
	"context"

	"github.com/pkg/errors"

	"github.com/blocksync-project/blocksync/pkg/corerrors"
	"github.com/blocksync-project/blocksync/pkg/netiface"
)

// ErrAlreadyStarted is returned by Start on a running facade (spec
// §4.J: "a second Start on a running facade returns AlreadyStarted").
var ErrAlreadyStarted = errors.New("blocksync: engine already started")

// Start registers both wire protocols with swarm, subscribes the
// bitswap engine to connection-established events, and wires router
// in for the chunker's pin/advertise path. It follows the teacher's
// documented two-step swarm/router tie-in (spec §9): swarm is wired
// to the protocol table first, router is attached to the bitswap
// engine and the builder second.
func (e *Engine) Start(ctx context.Context, swarm netiface.Swarm, router netiface.Router) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.swarm = swarm
	e.router = router
	e.mu.Unlock()

	if swarm != nil {
		if err := swarm.AddProtocol(e.v11.ProtocolID(), e.handleStreamV11); err != nil {
			return errors.Wrap(corerrors.ErrIoError, err.Error())
		}
		if err := swarm.AddProtocol(e.v10.ProtocolID(), e.handleStreamV10); err != nil {
			return errors.Wrap(corerrors.ErrIoError, err.Error())
		}
	}

	if err := e.bitswap.Start(ctx, swarm, router); err != nil {
		return err
	}
	e.builder.SetStarted(true)

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	return nil
}

// Stop unregisters both wire protocols, stops the bitswap engine
// (which unsubscribes from connection events and cancels every
// outstanding want), and marks the builder stopped. Always safe.
func (e *Engine) Stop() {
	e.mu.Lock()
	swarm := e.swarm
	started := e.started
	e.started = false
	e.mu.Unlock()
	if !started {
		return
	}

	if swarm != nil {
		if err := swarm.RemoveProtocol(e.v11.ProtocolID()); err != nil {
			log.Warnf("blocksync: unregister v1.1 protocol: %s", err)
		}
		if err := swarm.RemoveProtocol(e.v10.ProtocolID()); err != nil {
			log.Warnf("blocksync: unregister v1.0 protocol: %s", err)
		}
	}

	e.bitswap.Stop()
	e.builder.SetStarted(false)
}

// Router returns the Router handle given to Start, or nil if Start
// has never been called.
func (e *Engine) Router() netiface.Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.router
}

// Swarm returns the Swarm handle given to Start, or nil if Start has
// never been called.
func (e *Engine) Swarm() netiface.Swarm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swarm
}

// handleStreamV11 adapts the Swarm's raw per-stream handler shape
// into CodecV11.HandleStream, which additionally needs the
// originating PeerConnection (recovered via Stream.Conn) to await the
// identity handshake before trusting anything read off the stream.
func (e *Engine) handleStreamV11(s netiface.Stream) {
	if err := e.v11.HandleStream(context.Background(), s, s.Conn()); err != nil {
		log.Debugf("blocksync: v1.1 stream ended: %s", err)
	}
}

func (e *Engine) handleStreamV10(s netiface.Stream) {
	if err := e.v10.HandleStream(context.Background(), s, s.Conn()); err != nil {
		log.Debugf("blocksync: v1.0 stream ended: %s", err)
	}
}
