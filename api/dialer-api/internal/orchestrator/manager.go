// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	internal_agent "github.com/voxbridgeai/api/dialer-api/internal/agent"
	internal_asterisk "github.com/voxbridgeai/api/dialer-api/internal/asterisk"
	internal_audio "github.com/voxbridgeai/api/dialer-api/internal/audio"
	internal_audiosocket "github.com/voxbridgeai/api/dialer-api/internal/audiosocket"
	internal_callcontext "github.com/voxbridgeai/api/dialer-api/internal/callcontext"
	internal_realtime "github.com/voxbridgeai/api/dialer-api/internal/realtime"
	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/config"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Call Manager
// =============================================================================

// Manager starts and supervises one orchestrator per active call.
// Concurrency between calls is just independent task sets; the manager
// only tracks them for hangup and shutdown.
type Manager struct {
	logger   commons.Logger
	cfg      *config.AppConfig
	ari      internal_asterisk.Client
	media    *internal_audiosocket.Server
	store    internal_callcontext.Store
	registry internal_callcontext.LiveRegistry
	agents   *internal_agent.Registry

	mu     sync.Mutex
	active map[string]*activeCall
	wg     sync.WaitGroup
}

type activeCall struct {
	cancel context.CancelFunc
	orch   *Orchestrator
}

func NewManager(
	cfg *config.AppConfig,
	logger commons.Logger,
	ari internal_asterisk.Client,
	media *internal_audiosocket.Server,
	store internal_callcontext.Store,
	registry internal_callcontext.LiveRegistry,
	agents *internal_agent.Registry,
) *Manager {
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		ari:      ari,
		media:    media,
		store:    store,
		registry: registry,
		agents:   agents,
		active:   make(map[string]*activeCall),
	}
}

func (m *Manager) orchestratorConfig() Config {
	wireFormat := internal_audio.FormatAlaw
	realtimeAlaw := true
	if internal_audio.Format(m.cfg.InputFormat) == internal_audio.FormatPCM16 {
		wireFormat = internal_audio.FormatPCM16
		realtimeAlaw = false
	}
	return Config{
		StasisApp:      m.cfg.StasisAppName,
		ExternalHost:   m.cfg.ExternalHost,
		SipHost:        m.cfg.SipHost,
		WireFormat:     wireFormat,
		RealtimeAlaw:   realtimeAlaw,
		TelephonyRate:  m.cfg.DefaultSampleRate,
		RealtimeRate:   m.cfg.OpenAIOutputRate,
		InterruptPause: m.cfg.InterruptPause(),
	}
}

// StartCall launches the orchestrator for an already-created call row.
// It returns as soon as the call task set is running; progress is
// observable through the status timeline.
func (m *Manager) StartCall(callUUID uuid.UUID, digits, profileName string) error {
	profile, err := m.agents.Resolve(profileName)
	if err != nil {
		return err
	}

	key := callUUID.String()
	m.mu.Lock()
	if _, exists := m.active[key]; exists {
		m.mu.Unlock()
		return internal_type.Contractf("call %s already running", key)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// One event subscription per call; losing it fails the call.
	listener, err := internal_asterisk.DialEvents(ctx, m.cfg.AriWebsocketURL(), m.logger)
	if err != nil {
		m.mu.Unlock()
		cancel()
		return err
	}
	go func() {
		if lerr := listener.Run(ctx); lerr != nil && ctx.Err() == nil {
			m.logger.Warnw("manager: event subscription ended", "call_uuid", key, "error", lerr.Error())
		}
	}()

	orch := New(callUUID, digits, m.orchestratorConfig(), Deps{
		Logger:   m.logger,
		ARI:      m.ari,
		Events:   listener.Events(),
		Media:    &audioSocketMedia{server: m.media},
		Realtime: m.realtimeDialer(),
		Store:    m.store,
		Registry: m.registry,
		Profile:  profile,
	})
	m.active[key] = &activeCall{cancel: cancel, orch: orch}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.active, key)
			m.mu.Unlock()
		}()
		if rerr := orch.Run(ctx); rerr != nil {
			m.logger.Errorw("manager: call ended with failure", "call_uuid", key, "error", rerr.Error())
		}
	}()
	return nil
}

func (m *Manager) realtimeDialer() RealtimeDialer {
	return func(ctx context.Context) (RealtimeSession, error) {
		return internal_realtime.Dial(ctx,
			m.cfg.RealtimeDialURL(),
			m.cfg.OpenAIAPIKey,
			m.logger,
			internal_realtime.WithReceiveTimeout(m.cfg.ReceiveTimeout()),
		)
	}
}

// Hangup cancels a running call; the orchestrator walks its normal
// HANGUP -> ENDED path.
func (m *Manager) Hangup(callUUID string) error {
	m.mu.Lock()
	call, ok := m.active[callUUID]
	m.mu.Unlock()
	if !ok {
		return internal_type.ErrCallNotFound
	}
	call.cancel()
	return nil
}

// IsActive reports whether the call still has a running task set.
func (m *Manager) IsActive(callUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[callUUID]
	return ok
}

// ActiveCount is the number of in-flight calls.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown cancels every active call and waits for orchestrators to
// finish their cleanup, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, call := range m.active {
		call.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return internal_type.Timeoutf("shutdown: calls still cleaning up")
	}
}

// =============================================================================
// AudioSocket Adapter
// =============================================================================

// audioSocketMedia narrows the concrete server to the MediaServer port.
type audioSocketMedia struct {
	server *internal_audiosocket.Server
}

func (a *audioSocketMedia) Expect(id uuid.UUID) (<-chan MediaSession, func()) {
	sessions, cancel := a.server.Expect(id)
	out := make(chan MediaSession, 1)
	done := make(chan struct{})
	go func() {
		select {
		case sess := <-sessions:
			out <- sess
		case <-done:
		}
	}()
	var once sync.Once
	return out, func() {
		cancel()
		once.Do(func() { close(done) })
	}
}

// PacingRate is the wire byte rate for the configured payload format,
// used to configure the AudioSocket server's egress pacing.
func PacingRate(cfg *config.AppConfig) int {
	format := internal_audio.FormatAlaw
	if internal_audio.Format(cfg.InputFormat) == internal_audio.FormatPCM16 {
		format = internal_audio.FormatPCM16
	}
	return cfg.DefaultSampleRate * format.BytesPerSample()
}
