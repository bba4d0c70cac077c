// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_orchestrator

import (
	"context"

	"github.com/google/uuid"

	internal_realtime "github.com/voxbridgeai/api/dialer-api/internal/realtime"
)

// The orchestrator talks to its collaborators through narrow ports so a
// call's lifecycle can be driven in tests by scripted fakes. No
// component reaches into another's internals; audio moves over
// channels, lifecycle over events.

// MediaSession is one identified AudioSocket connection.
type MediaSession interface {
	ID() uuid.UUID
	Ingress() <-chan []byte
	Write(ctx context.Context, frame []byte) error
	Interrupt() int
	CloseEgress()
	Run(ctx context.Context) error
	Close() error
}

// MediaServer hands out sessions keyed by the call UUID carried in the
// AudioSocket identify. The cancel func must be called when the call
// ends, whether or not a session was delivered.
type MediaServer interface {
	Expect(id uuid.UUID) (<-chan MediaSession, func())
}

// RealtimeSession is one websocket conversation with the realtime model.
type RealtimeSession interface {
	Events() <-chan internal_realtime.ServerEvent
	UpdateSession(cfg internal_realtime.SessionConfig) error
	AppendAudio(payload []byte) error
	Run(ctx context.Context) error
	Close() error
}

// RealtimeDialer opens the model session once the call is bridged.
type RealtimeDialer func(ctx context.Context) (RealtimeSession, error)
