// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Realtime Session
// =============================================================================

// Session owns one websocket to the realtime model for the duration of a
// call. Ingress audio goes out through AppendAudio; everything the model
// sends back surfaces, decoded, on Events. One Session per call, never
// reused.
type Session struct {
	logger commons.Logger
	conn   *websocket.Conn

	receiveTimeout time.Duration
	events         chan ServerEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
}

type SessionOption func(*dialConfig)

type dialConfig struct {
	handshakeTimeout time.Duration
	receiveTimeout   time.Duration
	eventBuffer      int
	header           http.Header
}

// WithReceiveTimeout bounds the silence the receive loop tolerates
// between inbound events before failing the session.
func WithReceiveTimeout(d time.Duration) SessionOption {
	return func(c *dialConfig) { c.receiveTimeout = d }
}

// WithHandshakeTimeout bounds the websocket dial.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(c *dialConfig) { c.handshakeTimeout = d }
}

// WithHeader adds an HTTP header to the dial request.
func WithHeader(key, value string) SessionOption {
	return func(c *dialConfig) { c.header.Set(key, value) }
}

// Dial connects and authenticates against the realtime endpoint. The
// caller still must send a session configuration via UpdateSession
// before streaming audio.
func Dial(ctx context.Context, url, apiKey string, logger commons.Logger, opts ...SessionOption) (*Session, error) {
	cfg := dialConfig{
		handshakeTimeout: 30 * time.Second,
		receiveTimeout:   60 * time.Second,
		eventBuffer:      16,
		header:           http.Header{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.header.Set("Authorization", "Bearer "+apiKey)
	cfg.header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, internal_type.Transportf("realtime: dial %s: %v", url, err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)

	return &Session{
		logger:         logger,
		conn:           conn,
		receiveTimeout: cfg.receiveTimeout,
		events:         make(chan ServerEvent, cfg.eventBuffer),
	}, nil
}

// Events delivers decoded inbound events in arrival order. Closed when
// the receive loop exits.
func (s *Session) Events() <-chan ServerEvent {
	return s.events
}

// UpdateSession pushes the session configuration. Sent once, right
// after dial, before any audio.
func (s *Session) UpdateSession(cfg SessionConfig) error {
	return s.send(sessionUpdateEvent{Type: eventSessionUpdate, Session: cfg})
}

// AppendAudio streams one ingress payload to the model. Frames are sent
// as they arrive, never batched, to keep turn-detection latency low.
func (s *Session) AppendAudio(payload []byte) error {
	return s.send(audioAppendEvent{
		Type:  eventAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(payload),
	})
}

func (s *Session) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return internal_type.Contractf("realtime: marshal: %v", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return internal_type.Transportf("realtime: write: %v", err)
	}
	return nil
}

// Run pumps inbound events until the peer closes, an event stays absent
// past the receive timeout, or ctx is cancelled. Always closes the
// events channel and the connection on the way out.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)
	defer s.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.receiveTimeout)); err != nil {
			return internal_type.Transportf("realtime: set deadline: %v", err)
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("realtime: connection closed by peer")
				return nil
			}
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return internal_type.Timeoutf("realtime: no event within %s", s.receiveTimeout)
			}
			return internal_type.Transportf("realtime: read: %v", err)
		}

		var ev ServerEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.logger.Warnw("realtime: dropping unparseable event", "error", err.Error())
			continue
		}
		if ev.Type == "" {
			s.logger.Warnw("realtime: dropping event without type")
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close sends a best-effort close frame and tears the connection down.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		werr := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		if werr != nil {
			s.logger.Debugf("realtime: close frame: %v", werr)
		}
		err = s.conn.Close()
	})
	return err
}

// Describe renders an inbound error event for logs and status records.
func (e *ServerError) Describe() string {
	if e == nil {
		return "unknown realtime error"
	}
	return fmt.Sprintf("%s/%s: %s", e.Type, e.Code, e.Message)
}
