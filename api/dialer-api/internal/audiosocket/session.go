// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audiosocket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Media Session
// =============================================================================

type sessionConfig struct {
	egressCap      int
	readLimit      int
	drainChunk     int
	bytesPerSecond int
}

type egressItem struct {
	gen     uint64
	payload []byte
}

// Session is one identified AudioSocket connection. Inbound media frames
// surface on Ingress; outbound frames go through Write and are serialized
// by a paced writer so Asterisk receives audio at wire rate, not as a
// burst. Interrupt discards everything queued but not yet written.
type Session struct {
	conn   net.Conn
	logger commons.Logger
	id     uuid.UUID

	parser  *Parser
	backlog []Packet

	ingress chan []byte
	egress  chan egressItem
	gen     atomic.Uint64

	cfg sessionConfig

	egressOnce sync.Once
	closeOnce  sync.Once
}

func newSession(conn net.Conn, id uuid.UUID, parser *Parser, backlog []Packet, cfg sessionConfig, logger commons.Logger) *Session {
	return &Session{
		conn:    conn,
		logger:  logger,
		id:      id,
		parser:  parser,
		backlog: backlog,
		ingress: make(chan []byte, cfg.egressCap),
		egress:  make(chan egressItem, cfg.egressCap),
		cfg:     cfg,
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Ingress delivers raw media payloads in wire order. The channel closes
// when the peer terminates or the connection drops.
func (s *Session) Ingress() <-chan []byte {
	return s.ingress
}

// Write enqueues one egress frame, blocking when the paced writer is
// behind; that backpressure is what keeps the model from outrunning the
// 8 kHz wire.
func (s *Session) Write(ctx context.Context, frame []byte) error {
	it := egressItem{gen: s.gen.Load(), payload: frame}
	select {
	case s.egress <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt discards all queued egress audio and invalidates frames
// already stamped, so nothing enqueued before the interrupt reaches the
// wire after it. Returns the number of frames dropped.
func (s *Session) Interrupt() int {
	s.gen.Add(1)
	frames := 0
	for {
		drained := 0
		for drained < s.cfg.drainChunk {
			select {
			case it := <-s.egress:
				frames++
				drained += len(it.payload)
			default:
				return frames
			}
		}
	}
}

// CloseEgress signals the paced writer that no more frames will come.
// Callers must not Write after this.
func (s *Session) CloseEgress() {
	s.egressOnce.Do(func() { close(s.egress) })
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// Run drives the read and write loops until the peer terminates, the
// connection fails, or ctx is cancelled. Always closes the connection
// on the way out.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error {
		// Unblocks conn.Read when the group winds down.
		<-gctx.Done()
		s.Close()
		return nil
	})
	err := g.Wait()
	s.Close()
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	defer close(s.ingress)
	for _, pkt := range s.backlog {
		if err := s.dispatch(ctx, pkt); err != nil {
			return err
		}
	}
	s.backlog = nil

	buf := make([]byte, s.cfg.readLimit)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, pkt := range s.parser.Feed(buf[:n]) {
				if derr := s.dispatch(ctx, pkt); derr != nil {
					return derr
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return internal_type.Transportf("audiosocket: connection closed by peer")
			}
			return internal_type.Transportf("audiosocket: read: %v", err)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, pkt Packet) error {
	switch pkt.Type {
	case TypeAudio:
		select {
		case s.ingress <- pkt.Payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case TypeTerminate:
		s.logger.Debugw("audiosocket: terminate from peer", "uuid", s.id.String())
		return internal_type.ErrTerminated
	case TypeError:
		return internal_type.Protocolf("audiosocket: peer error %q", string(pkt.Payload))
	case TypeIdentify:
		s.logger.Warnw("audiosocket: duplicate identify, discarding", "uuid", s.id.String())
		return nil
	default:
		s.logger.Warnw("audiosocket: unknown packet type, discarding",
			"type", pkt.Type.String(), "bytes", len(pkt.Payload))
		return nil
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	var next time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-s.egress:
			if !ok {
				return nil
			}
			if it.gen < s.gen.Load() {
				continue
			}
			pkt, err := EncodeAudio(it.payload)
			if err != nil {
				return err
			}
			if _, err := s.conn.Write(pkt); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return internal_type.Transportf("audiosocket: write: %v", err)
			}
			// Pace against a monotonic schedule so TCP jitter does not
			// accumulate into drift. An idle gap resets the schedule.
			d := time.Duration(len(it.payload)) * time.Second / time.Duration(s.cfg.bytesPerSecond)
			now := time.Now()
			if next.Before(now) {
				next = now
			}
			next = next.Add(d)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Until(next)):
			}
		}
	}
}
