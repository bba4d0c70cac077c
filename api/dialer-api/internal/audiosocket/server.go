// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audiosocket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// TCP Server
// =============================================================================

// Server accepts AudioSocket connections from Asterisk external media
// channels. Every connection must open with an IDENTIFY packet whose
// UUID was pre-registered through Expect; anything else is closed
// without relaying a single media byte.
type Server struct {
	logger commons.Logger
	addr   string

	identifyTimeout time.Duration
	cfg             sessionConfig

	mu      sync.Mutex
	pending map[uuid.UUID]chan *Session
	ln      net.Listener
}

type ServerOption func(*Server)

// WithIdentifyTimeout bounds how long an accepted connection may stay
// silent before sending IDENTIFY.
func WithIdentifyTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.identifyTimeout = d }
}

// WithReadLimit sets the TCP read buffer size in bytes.
func WithReadLimit(n int) ServerOption {
	return func(s *Server) { s.cfg.readLimit = n }
}

// WithDrainChunkSize sets the byte budget per barge-in drain pass.
func WithDrainChunkSize(n int) ServerOption {
	return func(s *Server) { s.cfg.drainChunk = n }
}

// WithEgressQueueCap bounds the per-session egress queue; a small cap
// backpressures the producer during slow telephony writes.
func WithEgressQueueCap(n int) ServerOption {
	return func(s *Server) { s.cfg.egressCap = n }
}

// WithPacingRate sets the wire byte rate the egress writer paces to,
// e.g. 8000 for A-law at 8 kHz, 16000 for 16-bit linear at 8 kHz.
func WithPacingRate(bytesPerSecond int) ServerOption {
	return func(s *Server) { s.cfg.bytesPerSecond = bytesPerSecond }
}

func NewServer(addr string, logger commons.Logger, opts ...ServerOption) *Server {
	s := &Server{
		logger:          logger,
		addr:            addr,
		identifyTimeout: 5 * time.Second,
		cfg: sessionConfig{
			egressCap:      16,
			readLimit:      1024,
			drainChunk:     1024,
			bytesPerSecond: 8000,
		},
		pending: make(map[uuid.UUID]chan *Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expect registers interest in a connection identifying as id. The
// returned channel holds at most one session; the caller owns any
// delivered session (run it or close it). cancel deregisters and must
// be called when the call ends, whichever way it ends.
func (s *Server) Expect(id uuid.UUID) (<-chan *Session, func()) {
	ch := make(chan *Session, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if s.pending[id] == ch {
			delete(s.pending, id)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Server) claim(id uuid.UUID) (chan *Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return ch, ok
}

// Listen binds the TCP listener without accepting. Useful when the
// bound address must be known before Serve starts (tests bind :0).
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return internal_type.Transportf("audiosocket: listen %s: %v", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr reports the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}
	s.logger.Infow("audiosocket: listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return internal_type.Transportf("audiosocket: accept: %v", err)
		}
		go s.handshake(conn)
	}
}

// handshake reads the opening IDENTIFY within the deadline, matches it
// against a registered expectation, and hands the session over. Media
// bytes that arrived in the same TCP segment as the identify are kept
// as session backlog so no frame is lost or reordered.
func (s *Server) handshake(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	_ = conn.SetReadDeadline(time.Now().Add(s.identifyTimeout))

	parser := NewParser()
	buf := make([]byte, s.cfg.readLimit)
	var pkts []Packet
	for len(pkts) == 0 {
		n, err := conn.Read(buf)
		if n > 0 {
			pkts = parser.Feed(buf[:n])
		}
		if err != nil && len(pkts) == 0 {
			s.logger.Warnw("audiosocket: no identify before deadline, closing",
				"remote", remote, "error", err.Error())
			conn.Close()
			return
		}
	}

	first := pkts[0]
	if first.Type != TypeIdentify {
		s.logger.Warnw("audiosocket: first packet is not identify, closing",
			"remote", remote, "type", first.Type.String())
		conn.Close()
		return
	}
	id, err := ParseIdentify(first.Payload)
	if err != nil {
		s.logger.Warnw("audiosocket: bad identify payload, closing",
			"remote", remote, "error", err.Error())
		conn.Close()
		return
	}

	waiter, ok := s.claim(id)
	if !ok {
		s.logger.Warnw("audiosocket: identify does not match any expected call, closing",
			"remote", remote, "uuid", id.String())
		conn.Close()
		return
	}

	_ = conn.SetReadDeadline(time.Time{})
	sess := newSession(conn, id, parser, pkts[1:], s.cfg, s.logger)
	waiter <- sess
	s.logger.Infow("audiosocket: connection identified",
		"remote", remote, "uuid", id.String())
}
