// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_asterisk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// ARI Events
// =============================================================================

// Event is one decoded message from the ARI event stream. Concrete types
// carry only the fields this service reads; everything else stays in the
// raw payload of Other.
type Event interface {
	EventType() string
}

// ChannelRef is the channel snapshot embedded in most events.
type ChannelRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	State string `json:"state,omitempty"`
}

// BridgeRef is the bridge snapshot embedded in bridge membership events.
type BridgeRef struct {
	ID         string   `json:"id"`
	BridgeType string   `json:"bridge_type,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

// StasisStart: a channel entered the stasis application and is now under
// this service's control.
type StasisStart struct {
	Channel ChannelRef `json:"channel"`
	Args    []string   `json:"args,omitempty"`
}

// StasisEnd: a channel left the stasis application.
type StasisEnd struct {
	Channel ChannelRef `json:"channel"`
}

// DialEvent reports dial progress; DialStatus ANSWER with the client
// channel as peer is what advances a call.
type DialEvent struct {
	Caller     *ChannelRef `json:"caller,omitempty"`
	Peer       ChannelRef  `json:"peer"`
	DialStatus string      `json:"dialstatus"`
}

// ChannelVarset carries a channel variable assignment; Asterisk reports
// RTP QoS through these at hangup.
type ChannelVarset struct {
	Variable string      `json:"variable"`
	Value    string      `json:"value"`
	Channel  *ChannelRef `json:"channel,omitempty"`
}

// ChannelHangupRequest: the far end (or dialplan) asked to hang up.
type ChannelHangupRequest struct {
	Channel ChannelRef `json:"channel"`
	Cause   int        `json:"cause,omitempty"`
	Soft    bool       `json:"soft,omitempty"`
}

// ChannelDestroyed: the channel is gone.
type ChannelDestroyed struct {
	Channel  ChannelRef `json:"channel"`
	Cause    int        `json:"cause,omitempty"`
	CauseTxt string     `json:"cause_txt,omitempty"`
}

// ChannelStateChange tracks Up/Ringing/Down transitions.
type ChannelStateChange struct {
	Channel ChannelRef `json:"channel"`
}

// ChannelEnteredBridge / ChannelLeftBridge track bridge membership.
type ChannelEnteredBridge struct {
	Bridge  BridgeRef  `json:"bridge"`
	Channel ChannelRef `json:"channel"`
}

type ChannelLeftBridge struct {
	Bridge  BridgeRef  `json:"bridge"`
	Channel ChannelRef `json:"channel"`
}

// ChannelDialplan reports dialplan application changes; logged only.
type ChannelDialplan struct {
	Channel         ChannelRef `json:"channel"`
	DialplanApp     string     `json:"dialplan_app,omitempty"`
	DialplanAppData string     `json:"dialplan_app_data,omitempty"`
}

// Other is any event type this service does not act on.
type Other struct {
	Type string
	Raw  json.RawMessage
}

func (e *StasisStart) EventType() string          { return "StasisStart" }
func (e *StasisEnd) EventType() string            { return "StasisEnd" }
func (e *DialEvent) EventType() string            { return "Dial" }
func (e *ChannelVarset) EventType() string        { return "ChannelVarset" }
func (e *ChannelHangupRequest) EventType() string { return "ChannelHangupRequest" }
func (e *ChannelDestroyed) EventType() string     { return "ChannelDestroyed" }
func (e *ChannelStateChange) EventType() string   { return "ChannelStateChange" }
func (e *ChannelEnteredBridge) EventType() string { return "ChannelEnteredBridge" }
func (e *ChannelLeftBridge) EventType() string    { return "ChannelLeftBridge" }
func (e *ChannelDialplan) EventType() string      { return "ChannelDialplan" }
func (e *Other) EventType() string                { return e.Type }

// DecodeEvent maps one raw ARI message to its tagged variant. Unknown
// types come back as Other, never as an error: the event stream carries
// far more than this service consumes.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, internal_type.Protocolf("asterisk: undecodable event: %v", err)
	}
	if envelope.Type == "" {
		return nil, internal_type.Protocolf("asterisk: event without type")
	}

	var ev Event
	switch envelope.Type {
	case "StasisStart":
		ev = &StasisStart{}
	case "StasisEnd":
		ev = &StasisEnd{}
	case "Dial":
		ev = &DialEvent{}
	case "ChannelVarset":
		ev = &ChannelVarset{}
	case "ChannelHangupRequest":
		ev = &ChannelHangupRequest{}
	case "ChannelDestroyed":
		ev = &ChannelDestroyed{}
	case "ChannelStateChange":
		ev = &ChannelStateChange{}
	case "ChannelEnteredBridge":
		ev = &ChannelEnteredBridge{}
	case "ChannelLeftBridge":
		ev = &ChannelLeftBridge{}
	case "ChannelDialplan":
		ev = &ChannelDialplan{}
	default:
		return &Other{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, internal_type.Protocolf("asterisk: decode %s: %v", envelope.Type, err)
	}
	return ev, nil
}

// =============================================================================
// Event Listener
// =============================================================================

// Listener is one websocket subscription to the stasis application's
// event stream. One listener per call; a dropped subscription is fatal
// to the call, reconnect is deliberately not attempted because missed
// events would leave the state machine blind.
type Listener struct {
	logger commons.Logger
	conn   *websocket.Conn
	events chan Event
}

type ListenerOption func(*listenerConfig)

type listenerConfig struct {
	handshakeTimeout time.Duration
	eventBuffer      int
}

// WithListenerHandshakeTimeout bounds the websocket dial.
func WithListenerHandshakeTimeout(d time.Duration) ListenerOption {
	return func(c *listenerConfig) { c.handshakeTimeout = d }
}

// DialEvents subscribes to the ARI event stream at wsURL (credentials
// ride in the api_key query parameter, the form Asterisk documents for
// websocket clients).
func DialEvents(ctx context.Context, wsURL string, logger commons.Logger, opts ...ListenerOption) (*Listener, error) {
	cfg := listenerConfig{handshakeTimeout: 30 * time.Second, eventBuffer: 32}
	for _, opt := range opts {
		opt(&cfg)
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, internal_type.Transportf("asterisk: dial events %s: %v", wsURL, err)
	}
	return &Listener{
		logger: logger,
		conn:   conn,
		events: make(chan Event, cfg.eventBuffer),
	}, nil
}

// Events delivers decoded events in arrival order. Closed when Run exits.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Run pumps the subscription until the peer closes or ctx is cancelled.
// Undecodable events are dropped with a warning; a broken subscription
// is a transport error the orchestrator treats as fatal.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.events)
	defer l.conn.Close()

	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debugw("asterisk: event stream closed by peer")
				return nil
			}
			return internal_type.Transportf("asterisk: event stream: %v", err)
		}

		ev, err := DecodeEvent(message)
		if err != nil {
			l.logger.Warnw("asterisk: dropping event", "error", err.Error())
			continue
		}
		select {
		case l.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the subscription down.
func (l *Listener) Close() error {
	return l.conn.Close()
}
