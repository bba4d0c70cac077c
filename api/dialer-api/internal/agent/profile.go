// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/voxbridgeai/config"
)

// =============================================================================
// Agent Profiles
// =============================================================================

// VAD tunes the model-side voice activity detector for a profile.
// Threshold is sensitivity (0..1, lower trips earlier), SilenceMs is how
// long the user must stay quiet before a turn ends, PrefixMs is audio
// replayed from before the detected speech onset.
type VAD struct {
	Threshold float64
	SilenceMs int
	PrefixMs  int
}

// Profile is one conversational persona. Instructions is a pongo2
// template rendered per call with the call variables, so a single
// profile can greet by number, date, or campaign.
type Profile struct {
	Name         string
	Instructions string
	Voice        string
	Temperature  float64
	Greeting     string
	VAD          VAD

	compileOnce sync.Once
	compiled    *pongo2.Template
	compileErr  error
}

// Validate enforces the schema rules profiles are stored under.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("agent: profile requires a name")
	}
	if p.VAD.Threshold < 0 || p.VAD.Threshold > 1 {
		return fmt.Errorf("agent: profile %s: vad threshold %v out of [0,1]", p.Name, p.VAD.Threshold)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("agent: profile %s: temperature %v out of [0,2]", p.Name, p.Temperature)
	}
	if _, err := pongo2.FromString(p.Instructions); err != nil {
		return fmt.Errorf("agent: profile %s: instructions template: %w", p.Name, err)
	}
	return nil
}

// CallVars are the variables available inside instruction templates.
type CallVars struct {
	ToPhone  string
	CallUUID string
	Now      time.Time
}

// Render executes the instructions template against the call variables.
func (p *Profile) Render(vars CallVars) (string, error) {
	p.compileOnce.Do(func() {
		p.compiled, p.compileErr = pongo2.FromString(p.Instructions)
	})
	if p.compileErr != nil {
		return "", fmt.Errorf("agent: profile %s: compile instructions: %w", p.Name, p.compileErr)
	}
	out, err := p.compiled.Execute(pongo2.Context{
		"to_phone":   vars.ToPhone,
		"call_uuid":  vars.CallUUID,
		"agent_name": p.Name,
		"date":       vars.Now.Format("Monday, January 2, 2006"),
		"time":       vars.Now.Format("15:04"),
	})
	if err != nil {
		return "", fmt.Errorf("agent: profile %s: render instructions: %w", p.Name, err)
	}
	return out, nil
}

const defaultInstructions = `You are a friendly phone agent on a live call with {{ to_phone }}. ` +
	`Today is {{ date }}. Keep answers short and conversational; this is ` +
	`a voice call, not a chat. If the caller interrupts, stop and listen.`

// =============================================================================
// Registry
// =============================================================================

// Registry resolves agent profiles by name. The default profile is
// assembled from service configuration; more can be registered at boot.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	fallback *Profile
}

// NewRegistry builds the registry with the config-derived default profile.
func NewRegistry(cfg *config.AppConfig) (*Registry, error) {
	instructions := cfg.AgentInstructions
	if instructions == "" {
		instructions = defaultInstructions
	}
	fallback := &Profile{
		Name:         "default",
		Instructions: instructions,
		Voice:        cfg.Voice,
		Temperature:  cfg.Temperature,
		Greeting:     cfg.AgentGreeting,
		VAD: VAD{
			Threshold: cfg.VadThreshold,
			SilenceMs: cfg.VadSilenceMs,
			PrefixMs:  cfg.VadPrefixMs,
		},
	}
	if err := fallback.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		profiles: map[string]*Profile{fallback.Name: fallback},
		fallback: fallback,
	}, nil
}

// Register adds or replaces a named profile.
func (r *Registry) Register(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.profiles[p.Name] = p
	r.mu.Unlock()
	return nil
}

// Resolve returns the named profile, or the default when name is empty.
func (r *Registry) Resolve(name string) (*Profile, error) {
	if name == "" {
		return r.fallback, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("agent: unknown profile %q", name)
}

// Names lists registered profiles, for the control-plane listing.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}
