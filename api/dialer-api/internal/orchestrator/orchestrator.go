// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	internal_agent "github.com/voxbridgeai/api/dialer-api/internal/agent"
	internal_asterisk "github.com/voxbridgeai/api/dialer-api/internal/asterisk"
	internal_audio "github.com/voxbridgeai/api/dialer-api/internal/audio"
	internal_callcontext "github.com/voxbridgeai/api/dialer-api/internal/callcontext"
	internal_realtime "github.com/voxbridgeai/api/dialer-api/internal/realtime"
	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Call Orchestrator
// =============================================================================

// Config carries the per-deployment knobs a call needs; everything else
// the orchestrator learns from events.
type Config struct {
	StasisApp    string
	ExternalHost string
	// SipHost is the gateway peer for outbound legs; the dial string
	// becomes SIP/<host>/<digits>.
	SipHost string

	WireFormat internal_audio.Format
	// RealtimeAlaw: send wire A-law straight to the model instead of
	// transcoding to 24 kHz linear.
	RealtimeAlaw  bool
	TelephonyRate int
	RealtimeRate  int

	FrameDuration  time.Duration
	StasisTimeout  time.Duration
	InterruptPause time.Duration
	CleanupTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FrameDuration == 0 {
		out.FrameDuration = 20 * time.Millisecond
	}
	if out.StasisTimeout == 0 {
		out.StasisTimeout = 30 * time.Second
	}
	if out.CleanupTimeout == 0 {
		out.CleanupTimeout = 10 * time.Second
	}
	if out.TelephonyRate == 0 {
		out.TelephonyRate = 8000
	}
	if out.RealtimeRate == 0 {
		out.RealtimeRate = 24000
	}
	if out.WireFormat == "" {
		out.WireFormat = internal_audio.FormatAlaw
	}
	return out
}

// ExternalMediaFormat is the Asterisk format name matching the wire
// payload encoding.
func (c *Config) ExternalMediaFormat() string {
	if c.WireFormat == internal_audio.FormatAlaw {
		return "alaw"
	}
	return "slin"
}

// Deps are the collaborator ports for one call.
type Deps struct {
	Logger   commons.Logger
	ARI      internal_asterisk.Client
	Events   <-chan internal_asterisk.Event
	Media    MediaServer
	Realtime RealtimeDialer
	Store    internal_callcontext.Store
	Registry internal_callcontext.LiveRegistry
	Profile  *internal_agent.Profile
}

// Orchestrator owns one call end to end: the ARI choreography, the
// lifecycle state machine, and the media bridge once the leg answers.
// It is the only mutator of call state; everything reaches it through
// its event mailbox.
type Orchestrator struct {
	logger commons.Logger
	cfg    Config
	deps   Deps

	callUUID uuid.UUID
	digits   string

	state           internal_type.CallState
	channelID       string
	bridgeID        string
	externalMediaID string

	// Identify can race dial progress; one session is held until the
	// leg answers.
	heldSession MediaSession
}

// New builds the orchestrator for a call whose row already exists in
// the store.
func New(callUUID uuid.UUID, digits string, cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		logger:   deps.Logger.With("call_uuid", callUUID.String()),
		cfg:      cfg.withDefaults(),
		deps:     deps,
		callUUID: callUUID,
		digits:   digits,
		state:    internal_type.StateInit,
	}
}

// State reports the current lifecycle position.
func (o *Orchestrator) State() internal_type.CallState {
	return o.state
}

// Run drives the call to a terminal state. A nil return means the call
// ended through the hangup path (peer hangup or cancellation); any
// error means it failed and was cleaned up best-effort.
func (o *Orchestrator) Run(ctx context.Context) error {
	err := o.execute(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		o.finishEnded()
		return nil
	}
	o.finishFailed(err)
	return err
}

func (o *Orchestrator) execute(ctx context.Context) error {
	o.transition(internal_type.StateCreating, internal_type.NewStatus(internal_type.StatusCreated, o.digits))

	// Register interest before Asterisk can possibly dial back.
	sessions, cancelExpect := o.deps.Media.Expect(o.callUUID)
	defer cancelExpect()

	if err := o.createResources(ctx); err != nil {
		return err
	}
	o.transition(internal_type.StateWaitingStasis, internal_type.Status{})

	stasisDeadline := time.NewTimer(o.cfg.StasisTimeout)
	defer stasisDeadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-stasisDeadline.C:
			if o.state == internal_type.StateWaitingStasis {
				return internal_type.Timeoutf("no stasis start within %s", o.cfg.StasisTimeout)
			}

		case sess, ok := <-sessions:
			if !ok {
				return internal_type.Transportf("media server closed")
			}
			if o.handleIdentified(sess) {
				return o.runBridged(ctx, sess)
			}

		case ev, ok := <-o.deps.Events:
			if !ok {
				return internal_type.Transportf("ari event stream ended")
			}
			bridged, err := o.handleSetupEvent(ctx, ev)
			if err != nil {
				return err
			}
			if bridged {
				sess := o.heldSession
				o.heldSession = nil
				return o.runBridged(ctx, sess)
			}
		}
	}
}

// =============================================================================
// Resource Choreography
// =============================================================================

func (o *Orchestrator) endpoint() string {
	if o.cfg.SipHost != "" {
		return fmt.Sprintf("SIP/%s/%s", o.cfg.SipHost, o.digits)
	}
	return "SIP/" + o.digits
}

// createResources runs the setup choreography: mixing bridge, client
// channel, external media channel, then the client joins the bridge.
// The external media leg joins only after the dial is answered.
func (o *Orchestrator) createResources(ctx context.Context) error {
	bridge, err := o.deps.ARI.CreateBridge(ctx)
	if err != nil {
		return err
	}
	o.bridgeID = bridge.ID

	channel, err := o.deps.ARI.CreateChannel(ctx, internal_asterisk.ChannelCreateParams{
		Endpoint: o.endpoint(),
		App:      o.cfg.StasisApp,
	})
	if err != nil {
		return err
	}
	o.channelID = channel.ID

	media, err := o.deps.ARI.CreateExternalMedia(ctx, internal_asterisk.ExternalMediaParams{
		App:           o.cfg.StasisApp,
		ExternalHost:  o.cfg.ExternalHost,
		Format:        o.cfg.ExternalMediaFormat(),
		Encapsulation: "audiosocket",
		Transport:     "tcp",
		Data:          o.callUUID.String(),
	})
	if err != nil {
		return err
	}
	o.externalMediaID = media.ID

	if err := o.deps.ARI.AddChannelToBridge(ctx, o.bridgeID, o.channelID); err != nil {
		return err
	}

	if err := o.deps.Store.AttachChannel(ctx, o.callUUID.String(),
		o.channelID, o.bridgeID, o.externalMediaID); err != nil {
		// Persistence never takes a call down.
		o.logger.Warnw("orchestrator: attach channel failed", "error", err.Error())
	}
	o.logger.Infow("orchestrator: resources created",
		"bridge_id", o.bridgeID, "channel_id", o.channelID, "external_media_id", o.externalMediaID)
	return nil
}

// =============================================================================
// Setup Event Handling
// =============================================================================

// handleSetupEvent advances the pre-bridge state machine. It reports
// bridged=true when the held media session can be promoted.
func (o *Orchestrator) handleSetupEvent(ctx context.Context, ev internal_asterisk.Event) (bool, error) {
	switch e := ev.(type) {
	case *internal_asterisk.StasisStart:
		if e.Channel.ID != o.channelID {
			// The external media channel enters stasis too; only the
			// client leg drives the dial.
			o.logger.Debugw("orchestrator: stasis start for non-client channel", "channel_id", e.Channel.ID)
			return false, nil
		}
		if o.state != internal_type.StateWaitingStasis {
			o.logger.Debugw("orchestrator: duplicate stasis start ignored")
			return false, nil
		}
		if err := o.deps.ARI.Dial(ctx, o.channelID); err != nil {
			return false, err
		}
		o.transition(internal_type.StateDialing, internal_type.NewStatus(internal_type.StatusStasisStart, e.Channel.ID))
		return false, nil

	case *internal_asterisk.DialEvent:
		if e.DialStatus != "ANSWER" || e.Peer.ID != o.channelID {
			o.logger.Debugw("orchestrator: dial progress ignored",
				"dialstatus", e.DialStatus, "peer", e.Peer.ID)
			return false, nil
		}
		if o.state != internal_type.StateDialing {
			return false, nil
		}
		if err := o.deps.ARI.AddChannelToBridge(ctx, o.bridgeID, o.externalMediaID); err != nil {
			return false, err
		}
		o.transition(internal_type.StateAnswered, internal_type.NewStatus(internal_type.StatusDialAnswered, ""))
		return o.heldSession != nil, nil

	case *internal_asterisk.ChannelHangupRequest:
		if e.Channel.ID == o.channelID {
			o.appendStatus(internal_type.NewStatus(internal_type.StatusHangupRequested,
				fmt.Sprintf("cause=%d", e.Cause)))
			return false, context.Canceled
		}
		return false, nil

	case *internal_asterisk.ChannelDestroyed:
		if e.Channel.ID == o.channelID {
			return false, internal_type.Transportf("client channel destroyed: %s", e.CauseTxt)
		}
		return false, nil

	case *internal_asterisk.ChannelVarset:
		o.handleVarset(e)
		return false, nil

	default:
		o.logger.Debugw("orchestrator: event ignored", "type", ev.EventType())
		return false, nil
	}
}

// handleIdentified accepts the AudioSocket session. The server already
// matched the identify UUID against our expectation; the session is
// promoted immediately when the leg has answered, held otherwise.
func (o *Orchestrator) handleIdentified(sess MediaSession) bool {
	if sess.ID() != o.callUUID {
		// Cannot happen through the server's claim path; close rather
		// than leak a byte to the wrong call.
		o.logger.Errorw("orchestrator: identify uuid mismatch", "got", sess.ID().String())
		sess.Close()
		return false
	}
	if o.state == internal_type.StateAnswered {
		return true
	}
	o.logger.Debugw("orchestrator: holding early media session", "state", o.state.String())
	o.heldSession = sess
	return false
}

func (o *Orchestrator) handleVarset(e *internal_asterisk.ChannelVarset) {
	if !internal_asterisk.IsQoSVariable(e.Variable) {
		return
	}
	if e.Variable == "RTPAUDIOQOS" {
		if report, err := internal_asterisk.ParseQoSReport(e.Value); err == nil {
			o.logger.Infow("orchestrator: rtp qos",
				"rx_count", report.RxCount, "tx_count", report.TxCount,
				"rx_jitter", report.RxJitter, "rtt", report.RTT, "lost", report.LocalLost)
			return
		}
	}
	o.logger.Infow("orchestrator: channel var", "variable", e.Variable, "value", e.Value)
}

// =============================================================================
// Bridged Phase
// =============================================================================

func (o *Orchestrator) runBridged(ctx context.Context, sess MediaSession) error {
	o.transition(internal_type.StateBridged, internal_type.NewStatus(internal_type.StatusBridged, ""))

	rt, err := o.deps.Realtime(ctx)
	if err != nil {
		sess.Close()
		return err
	}
	if err := rt.UpdateSession(o.sessionConfig()); err != nil {
		rt.Close()
		sess.Close()
		return err
	}

	pipe, err := newPipeline(sess, rt, pipelineConfig{
		wireFormat:     o.cfg.WireFormat,
		realtimeAlaw:   o.cfg.RealtimeAlaw,
		telephonyRate:  o.cfg.TelephonyRate,
		realtimeRate:   o.cfg.RealtimeRate,
		frameDuration:  o.cfg.FrameDuration,
		interruptPause: o.cfg.InterruptPause,
	}, o.logger)
	if err != nil {
		rt.Close()
		sess.Close()
		return err
	}

	pctx, pcancel := context.WithCancel(ctx)
	defer pcancel()
	result := make(chan error, 1)
	go func() { result <- pipe.run(pctx) }()

	for {
		select {
		case <-ctx.Done():
			pcancel()
			o.drainPipeline(result, pipe)
			return ctx.Err()

		case err := <-result:
			o.consumeNotes(pipe)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case note := <-pipe.Notes():
			o.applyNote(note)

		case ev, ok := <-o.deps.Events:
			if !ok {
				pcancel()
				o.drainPipeline(result, pipe)
				return internal_type.Transportf("ari event stream ended")
			}
			switch e := ev.(type) {
			case *internal_asterisk.ChannelHangupRequest:
				if e.Channel.ID == o.channelID {
					o.appendStatus(internal_type.NewStatus(internal_type.StatusHangupRequested,
						fmt.Sprintf("cause=%d", e.Cause)))
					pcancel()
					o.drainPipeline(result, pipe)
					return nil
				}
			case *internal_asterisk.ChannelVarset:
				o.handleVarset(e)
			case *internal_asterisk.ChannelDestroyed:
				if e.Channel.ID == o.channelID {
					pcancel()
					o.drainPipeline(result, pipe)
					return nil
				}
			default:
				o.logger.Debugw("orchestrator: event ignored while bridged", "type", ev.EventType())
			}
		}
	}
}

// drainPipeline waits the pipeline out while keeping its note channel
// moving, then persists whatever it reported.
func (o *Orchestrator) drainPipeline(result <-chan error, pipe *pipeline) {
	for {
		select {
		case note := <-pipe.Notes():
			o.applyNote(note)
		case err := <-result:
			if err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Debugw("orchestrator: pipeline exit", "error", err.Error())
			}
			o.consumeNotes(pipe)
			return
		}
	}
}

func (o *Orchestrator) consumeNotes(pipe *pipeline) {
	for {
		select {
		case note := <-pipe.Notes():
			o.applyNote(note)
		default:
			return
		}
	}
}

func (o *Orchestrator) applyNote(note pipelineNote) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch note.kind {
	case noteStatus:
		o.appendStatus(internal_type.Status{Kind: note.status, Detail: note.detail, At: note.at})
	case noteUtterance:
		err := o.deps.Store.AddUtterances(ctx, o.callUUID.String(), []internal_callcontext.Utterance{
			{Role: note.role, Text: note.text, At: note.at},
		})
		if err != nil {
			o.logger.Warnw("orchestrator: utterance not persisted", "error", err.Error())
		}
	}
}

func (o *Orchestrator) sessionConfig() internal_realtime.SessionConfig {
	profile := o.deps.Profile
	instructions, err := profile.Render(internal_agent.CallVars{
		ToPhone:  o.digits,
		CallUUID: o.callUUID.String(),
		Now:      time.Now(),
	})
	if err != nil {
		o.logger.Warnw("orchestrator: instructions render failed, using raw template", "error", err.Error())
		instructions = profile.Instructions
	}
	inputFormat := "pcm16"
	if o.cfg.RealtimeAlaw {
		inputFormat = "g711_alaw"
	}
	return internal_realtime.SessionConfig{
		Modalities:        []string{"audio", "text"},
		Instructions:      instructions,
		Voice:             profile.Voice,
		InputAudioFormat:  inputFormat,
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &internal_realtime.Transcription{
			Model: "whisper-1",
		},
		TurnDetection: &internal_realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         profile.VAD.Threshold,
			PrefixPaddingMs:   profile.VAD.PrefixMs,
			SilenceDurationMs: profile.VAD.SilenceMs,
			CreateResponse:    true,
			InterruptResponse: true,
		},
		Temperature: profile.Temperature,
	}
}

// =============================================================================
// Transitions and Teardown
// =============================================================================

// transition moves the state machine and mirrors the move into the
// status timeline and live registry. Persistence is fire-and-forget.
func (o *Orchestrator) transition(next internal_type.CallState, status internal_type.Status) {
	if !o.state.CanAdvanceTo(next) {
		o.logger.Errorw("orchestrator: illegal transition",
			"from", o.state.String(), "to", next.String())
		return
	}
	o.logger.Infow("orchestrator: state", "from", o.state.String(), "to", next.String())
	o.state = next

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Registry.SetState(ctx, o.callUUID.String(), next); err != nil {
		o.logger.Warnw("orchestrator: live state not mirrored", "error", err.Error())
	}
	if status.Kind != "" {
		o.appendStatus(status)
	}
}

func (o *Orchestrator) appendStatus(status internal_type.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Store.AppendStatus(ctx, o.callUUID.String(), status); err != nil {
		o.logger.Warnw("orchestrator: status not persisted",
			"kind", string(status.Kind), "error", err.Error())
	}
}

// cleanupResources releases ARI resources best-effort, in reverse
// order of creation. 404s are expected when Asterisk got there first.
func (o *Orchestrator) cleanupResources() {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CleanupTimeout)
	defer cancel()

	if o.externalMediaID != "" {
		if err := o.deps.ARI.Hangup(ctx, o.externalMediaID); err != nil {
			o.logger.Debugw("orchestrator: external media hangup", "error", err.Error())
		}
	}
	if o.channelID != "" {
		if err := o.deps.ARI.Hangup(ctx, o.channelID); err != nil {
			o.logger.Debugw("orchestrator: channel hangup", "error", err.Error())
		}
	}
	if o.bridgeID != "" {
		if err := o.deps.ARI.DeleteBridge(ctx, o.bridgeID); err != nil {
			o.logger.Debugw("orchestrator: bridge delete", "error", err.Error())
		}
	}
}

func (o *Orchestrator) finishEnded() {
	o.transition(internal_type.StateHangup, internal_type.Status{})
	o.cleanupResources()
	o.transition(internal_type.StateEnded, internal_type.NewStatus(internal_type.StatusEnded, ""))
	o.finalize(internal_type.StateEnded)
}

func (o *Orchestrator) finishFailed(cause error) {
	o.logger.Errorw("orchestrator: call failed", "error", cause.Error())
	o.transition(internal_type.StateFailed, internal_type.NewStatus(internal_type.StatusFailed, cause.Error()))
	o.cleanupResources()
	o.finalize(internal_type.StateFailed)
}

func (o *Orchestrator) finalize(state internal_type.CallState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Store.FinalizeCall(ctx, o.callUUID.String(), state, time.Now().UTC()); err != nil {
		o.logger.Warnw("orchestrator: call not finalized", "error", err.Error())
	}
	if err := o.deps.Registry.Remove(ctx, o.callUUID.String()); err != nil {
		o.logger.Warnw("orchestrator: live state not removed", "error", err.Error())
	}
	if o.heldSession != nil {
		o.heldSession.Close()
		o.heldSession = nil
	}
}
