// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import "time"

// =============================================================================
// Call Status Timeline
// =============================================================================

// StatusKind is one entry class in a call's append-only status history.
type StatusKind string

const (
	StatusCreated         StatusKind = "CREATED"
	StatusStasisStart     StatusKind = "STASIS_START"
	StatusDialAnswered    StatusKind = "DIAL_ANSWERED"
	StatusBridged         StatusKind = "BRIDGED"
	StatusUserSpeaking    StatusKind = "USER_SPEAKING"
	StatusAgentSpeaking   StatusKind = "AGENT_SPEAKING"
	StatusBargedIn        StatusKind = "BARGED_IN"
	StatusHangupRequested StatusKind = "HANGUP_REQUESTED"
	StatusEnded           StatusKind = "ENDED"
	StatusFailed          StatusKind = "FAILED"
)

// Terminal reports whether no further status may follow this one.
func (k StatusKind) Terminal() bool {
	return k == StatusEnded || k == StatusFailed
}

// Status is a single timeline entry. Detail is free-form operator-facing
// context (an ARI cause code, an error string, a transcript note).
type Status struct {
	Kind   StatusKind
	Detail string
	At     time.Time
}

func NewStatus(kind StatusKind, detail string) Status {
	return Status{Kind: kind, Detail: detail, At: time.Now().UTC()}
}

// =============================================================================
// Call Lifecycle States
// =============================================================================

// CallState is the orchestrator's coarse lifecycle position. Unlike the
// status timeline, the state is a single mutable value with a fixed
// forward-only transition graph (FAILED is reachable from anywhere).
type CallState int32

const (
	StateInit CallState = iota
	StateCreating
	StateWaitingStasis
	StateDialing
	StateAnswered
	StateBridged
	StateHangup
	StateEnded
	StateFailed
)

var stateNames = map[CallState]string{
	StateInit:          "INIT",
	StateCreating:      "CREATING",
	StateWaitingStasis: "WAITING_STASIS",
	StateDialing:       "DIALING",
	StateAnswered:      "ANSWERED",
	StateBridged:       "BRIDGED",
	StateHangup:        "HANGUP",
	StateEnded:         "ENDED",
	StateFailed:        "FAILED",
}

func (s CallState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CanAdvanceTo reports whether the transition s -> next is legal.
// Forward moves only, except that FAILED is reachable from every
// non-terminal state and HANGUP may be requested from any live state.
func (s CallState) CanAdvanceTo(next CallState) bool {
	if s == StateEnded || s == StateFailed {
		return false
	}
	if next == StateFailed {
		return true
	}
	if next == StateHangup {
		return s != StateHangup
	}
	return next == s+1
}
