// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	internal_audio "github.com/voxbridgeai/api/dialer-api/internal/audio"
	internal_realtime "github.com/voxbridgeai/api/dialer-api/internal/realtime"
	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Audio Pipeline
// =============================================================================

type pipelineConfig struct {
	// wireFormat is the AudioSocket payload encoding on both directions.
	wireFormat internal_audio.Format
	// realtimeAlaw: the model consumes g711_alaw natively, so ingress
	// frames pass through untouched instead of being decoded and
	// upsampled.
	realtimeAlaw   bool
	telephonyRate  int
	realtimeRate   int
	frameDuration  time.Duration
	interruptPause time.Duration
}

type noteKind int

const (
	noteStatus noteKind = iota
	noteUtterance
)

// pipelineNote is a fire-and-forget observation surfaced to the
// orchestrator: a status timeline entry or a finalized transcript line.
type pipelineNote struct {
	kind   noteKind
	status internal_type.StatusKind
	detail string
	role   string
	text   string
	at     time.Time
}

// pipeline glues one media session to one realtime session: ingress
// telephony audio up to the model, egress model audio down to the wire,
// with barge-in preemption in between. All egress state (pending PCM,
// transcript buffers, barge counter) belongs to the single egress
// goroutine; the only cross-task resource is the session's bounded
// egress queue.
type pipeline struct {
	logger commons.Logger
	media  MediaSession
	rt     RealtimeSession
	cfg    pipelineConfig

	up   *internal_audio.Resampler
	down *internal_audio.Resampler

	notes chan pipelineNote

	// Egress-goroutine state.
	pendingPCM     []byte
	agentText      strings.Builder
	userText       strings.Builder
	responseActive bool
	barges         int
	resumeAt       time.Time
}

func newPipeline(media MediaSession, rt RealtimeSession, cfg pipelineConfig, logger commons.Logger) (*pipeline, error) {
	p := &pipeline{
		logger: logger,
		media:  media,
		rt:     rt,
		cfg:    cfg,
		notes:  make(chan pipelineNote, 32),
	}
	var err error
	if !cfg.realtimeAlaw {
		if p.up, err = internal_audio.NewResampler(cfg.telephonyRate, cfg.realtimeRate); err != nil {
			return nil, err
		}
	}
	if p.down, err = internal_audio.NewResampler(cfg.realtimeRate, cfg.telephonyRate); err != nil {
		return nil, err
	}
	return p, nil
}

// Notes delivers pipeline observations; entries are dropped rather than
// ever blocking audio.
func (p *pipeline) Notes() <-chan pipelineNote {
	return p.notes
}

// run drives both directions until either peer ends the stream or ctx
// is cancelled.
func (p *pipeline) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.media.Run(gctx) })
	g.Go(func() error { return p.rt.Run(gctx) })
	g.Go(func() error { return p.ingressLoop(gctx) })
	g.Go(func() error { return p.egressLoop(gctx) })
	return g.Wait()
}

func (p *pipeline) note(n pipelineNote) {
	select {
	case p.notes <- n:
	default:
		p.logger.Debugw("pipeline: note dropped, consumer behind")
	}
}

func (p *pipeline) noteStatus(kind internal_type.StatusKind, detail string) {
	p.note(pipelineNote{kind: noteStatus, status: kind, detail: detail, at: time.Now().UTC()})
}

// =============================================================================
// Ingress: telephony -> model
// =============================================================================

// ingressLoop forwards each media frame the moment it arrives; frames
// are never coalesced because turn detection latency rides on them.
func (p *pipeline) ingressLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-p.media.Ingress():
			if !ok {
				return nil
			}
			out := payload
			if !p.cfg.realtimeAlaw {
				lin := internal_audio.ToLinear(payload, p.cfg.wireFormat)
				if p.up != nil {
					lin = p.up.ResampleBytes(lin)
				}
				out = lin
			}
			if err := p.rt.AppendAudio(out); err != nil {
				return err
			}
		}
	}
}

// =============================================================================
// Egress: model -> telephony
// =============================================================================

// egressLoop consumes model events. Audio deltas accumulate into one
// block per flush: whatever deltas are already queued get resampled
// together, which keeps filter boundaries rare without waiting on
// future audio.
func (p *pipeline) egressLoop(ctx context.Context) error {
	defer p.media.CloseEgress()
	defer p.flushTranscripts()

	events := p.rt.Events()
	for {
		var closed bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				closed = true
				break
			}
			if err := p.handleEvent(ev); err != nil {
				return err
			}
		}

		// Fold in everything already queued before resampling.
		for !closed {
			var done bool
			select {
			case ev, ok := <-events:
				if !ok {
					closed = true
					break
				}
				if err := p.handleEvent(ev); err != nil {
					return err
				}
			default:
				done = true
			}
			if done {
				break
			}
		}

		// An abandoned flush can leave freshly-arrived audio pending;
		// keep flushing until the queue really is drained.
		for len(p.pendingPCM) > 0 && !closed {
			if err := p.flushPending(ctx, events, &closed); err != nil {
				return err
			}
		}
		if closed {
			// The model hung up mid-call; the orchestrator decides what
			// that means for the telephony leg.
			return internal_type.Transportf("realtime: event stream ended")
		}
	}
}

func (p *pipeline) handleEvent(ev internal_realtime.ServerEvent) error {
	switch ev.Type {
	case internal_realtime.EventAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			p.logger.Warnw("pipeline: dropping undecodable audio delta", "error", err.Error())
			return nil
		}
		if !p.responseActive {
			p.responseActive = true
			p.noteStatus(internal_type.StatusAgentSpeaking, "")
		}
		p.pendingPCM = append(p.pendingPCM, pcm...)

	case internal_realtime.EventSpeechStarted:
		p.bargeIn()

	case internal_realtime.EventSpeechStopped:
		p.logger.Debugw("pipeline: user speech stopped")

	case internal_realtime.EventTranscriptDelta:
		p.agentText.WriteString(ev.Delta)

	case internal_realtime.EventTranscriptDone:
		text := ev.Transcript
		if text == "" {
			text = p.agentText.String()
		}
		p.agentText.Reset()
		if text != "" {
			p.note(pipelineNote{kind: noteUtterance, role: "agent", text: text, at: time.Now().UTC()})
		}

	case internal_realtime.EventInputTranscriptDelta:
		p.userText.WriteString(ev.Delta)

	case internal_realtime.EventInputTranscriptDone:
		text := ev.Transcript
		if text == "" {
			text = p.userText.String()
		}
		p.userText.Reset()
		if text != "" {
			p.note(pipelineNote{kind: noteUtterance, role: "user", text: text, at: time.Now().UTC()})
		}

	case internal_realtime.EventResponseDone:
		p.responseActive = false

	case internal_realtime.EventError:
		return fmt.Errorf("realtime: server error: %s", ev.Error.Describe())

	default:
		p.logger.Debugw("pipeline: ignoring event", "type", ev.Type)
	}
	return nil
}

// bargeIn preempts the agent: pending audio is discarded, everything
// queued toward the wire is drained and invalidated, and playback stays
// muted for a short grace so a mid-word pause does not flap.
func (p *pipeline) bargeIn() {
	p.noteStatus(internal_type.StatusUserSpeaking, "")
	dropped := len(p.pendingPCM) > 0 || p.responseActive
	p.pendingPCM = nil
	p.barges++
	frames := p.media.Interrupt()
	p.resumeAt = time.Now().Add(p.cfg.interruptPause)
	if dropped || frames > 0 {
		p.noteStatus(internal_type.StatusBargedIn, fmt.Sprintf("dropped %d queued frames", frames))
		p.logger.Debugw("pipeline: barge-in", "dropped_frames", frames)
	}
	p.responseActive = false
}

// flushPending resamples the accumulated block down to telephony rate
// and writes it frame by frame. Between frames it keeps servicing model
// events so a barge-in can abandon the remainder mid-flush instead of
// waiting out the whole block.
func (p *pipeline) flushPending(ctx context.Context, events <-chan internal_realtime.ServerEvent, closed *bool) error {
	if len(p.pendingPCM) == 0 {
		return nil
	}
	block := p.pendingPCM
	p.pendingPCM = nil

	wire := internal_audio.FromLinear(p.down.ResampleBytes(block), p.cfg.wireFormat)
	frameBytes := p.cfg.wireFormat.FrameBytes(p.cfg.telephonyRate, p.cfg.frameDuration)
	flushGen := p.barges

	if wait := time.Until(p.resumeAt); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	for off := 0; off < len(wire); off += frameBytes {
		// Service anything already queued first; a barge-in here voids
		// the rest of the block.
		for {
			var idle bool
			select {
			case ev, ok := <-events:
				if !ok {
					*closed = true
					return nil
				}
				if err := p.handleEvent(ev); err != nil {
					return err
				}
			default:
				idle = true
			}
			if idle {
				break
			}
		}
		if p.barges != flushGen {
			return nil
		}

		end := off + frameBytes
		if end > len(wire) {
			end = len(wire)
		}
		if err := p.media.Write(ctx, wire[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// flushTranscripts finalizes utterances still buffered when the stream
// ends; the closing done events never arrive on an abrupt hangup.
func (p *pipeline) flushTranscripts() {
	if text := p.agentText.String(); text != "" {
		p.note(pipelineNote{kind: noteUtterance, role: "agent", text: text, at: time.Now().UTC()})
		p.agentText.Reset()
	}
	if text := p.userText.String(); text != "" {
		p.note(pipelineNote{kind: noteUtterance, role: "user", text: text, at: time.Now().UTC()})
		p.userText.Reset()
	}
}
