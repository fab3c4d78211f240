// Package corerrors declares the error kinds shared across the block
// store, DAG builder, chunked reader, and bitswap engine.
package corerrors

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Sentinel error kinds. Callers branch on these with errors.Is/errors.As;
// call sites attach context with github.com/pkg/errors.Wrapf.
var (
	ErrNotFound      = fmt.Errorf("blocksync: not found")
	ErrBlockTooLarge = fmt.Errorf("blocksync: block too large")
	ErrCorruptBlock  = fmt.Errorf("blocksync: corrupt block")
	ErrUnsupported   = fmt.Errorf("blocksync: unsupported")
	ErrProtocolError = fmt.Errorf("blocksync: protocol error")
	ErrCancelled     = fmt.Errorf("blocksync: cancelled")
	ErrIoError       = fmt.Errorf("blocksync: io error")
	ErrRouterError   = fmt.Errorf("blocksync: router error")
)

// NotFoundError carries the missing CID alongside ErrNotFound so callers
// can report it without re-parsing a formatted string.
type NotFoundError struct {
	CID cid.Cid
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("blocksync: block not found: %s", e.CID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound builds a NotFoundError for the given CID.
func NewNotFound(c cid.Cid) error {
	return &NotFoundError{CID: c}
}

// UnsupportedError names the feature that was rejected.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("blocksync: unsupported: %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// NewUnsupported builds an UnsupportedError for the given feature name.
func NewUnsupported(feature string) error {
	return &UnsupportedError{Feature: feature}
}

// ProtocolErr carries the malformed-frame reason alongside ErrProtocolError.
type ProtocolErr struct {
	Reason string
}

func (e *ProtocolErr) Error() string {
	return fmt.Sprintf("blocksync: protocol error: %s", e.Reason)
}

func (e *ProtocolErr) Unwrap() error {
	return ErrProtocolError
}

// NewProtocolError builds a ProtocolErr with the given reason.
func NewProtocolError(reason string) error {
	return &ProtocolErr{Reason: reason}
}
