// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Categories
// =============================================================================

// Category sentinels. Every error leaving an internal package wraps exactly
// one of these so callers can branch with errors.Is without string matching.
var (
	// ErrProtocol: a peer violated its wire contract (malformed AudioSocket
	// frame, unparseable realtime event, ARI error payload).
	ErrProtocol = errors.New("protocol error")

	// ErrTransport: an underlying connection failed (TCP reset, websocket
	// close, HTTP transport failure).
	ErrTransport = errors.New("transport error")

	// ErrTimeout: a peer went silent past its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrContract: an internal invariant was broken. Always a local bug,
	// never a peer problem.
	ErrContract = errors.New("contract violation")

	// ErrConfig: invalid or missing configuration discovered after boot.
	ErrConfig = errors.New("configuration error")

	// ErrPersistence: the call record store rejected an operation.
	ErrPersistence = errors.New("persistence error")
)

// Concrete conditions callers branch on.
var (
	ErrCallNotFound       = errors.New("call not found")
	ErrInvalidDestination = errors.New("invalid destination number")
	ErrChannelConflict    = errors.New("channel already attached to another call")
	ErrTerminated         = errors.New("connection terminated by peer")
	ErrIdentifyTimeout    = fmt.Errorf("%w: no identify frame received", ErrTimeout)
)

// Protocolf wraps a peer contract violation with context.
func Protocolf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Transportf wraps a connection failure with context.
func Transportf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

// Timeoutf wraps a deadline expiry with context.
func Timeoutf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// Contractf flags a broken internal invariant.
func Contractf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...))
}

// Persistencef wraps a store failure with context.
func Persistencef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPersistence, fmt.Sprintf(format, args...))
}
