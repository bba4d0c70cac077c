// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dialer_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_agent "github.com/voxbridgeai/api/dialer-api/internal/agent"
	internal_asterisk "github.com/voxbridgeai/api/dialer-api/internal/asterisk"
	internal_callcontext "github.com/voxbridgeai/api/dialer-api/internal/callcontext"
	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/config"
	"github.com/voxbridgeai/pkg/commons"
)

// ==== fakes ====

type fakeStore struct {
	calls       map[string]*internal_callcontext.Call
	createErr   error
	lastCreated internal_callcontext.CallCreate
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: map[string]*internal_callcontext.Call{}}
}

func (f *fakeStore) CreateCall(ctx context.Context, create internal_callcontext.CallCreate) (*internal_callcontext.Call, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.lastCreated = create
	call := &internal_callcontext.Call{
		UUID:  create.UUID,
		State: internal_type.StateInit.String(),
		Phone: &internal_callcontext.Phone{Digits: create.Digits},
	}
	f.calls[create.UUID] = call
	return call, nil
}

func (f *fakeStore) GetCallByUUID(ctx context.Context, callUUID string) (*internal_callcontext.Call, error) {
	if call, ok := f.calls[callUUID]; ok {
		return call, nil
	}
	return nil, internal_type.ErrCallNotFound
}

func (f *fakeStore) GetCallByChannel(ctx context.Context, channelID string) (*internal_callcontext.Call, error) {
	return nil, internal_type.ErrCallNotFound
}

func (f *fakeStore) GetCallsByPhone(ctx context.Context, digits string) ([]internal_callcontext.Call, error) {
	var out []internal_callcontext.Call
	for _, call := range f.calls {
		if call.Phone != nil && call.Phone.Digits == digits {
			out = append(out, *call)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendStatus(ctx context.Context, callUUID string, status internal_type.Status) error {
	return nil
}

func (f *fakeStore) AddUtterances(ctx context.Context, callUUID string, utterances []internal_callcontext.Utterance) error {
	return nil
}

func (f *fakeStore) AttachChannel(ctx context.Context, callUUID, channelID, bridgeID, externalMediaID string) error {
	return nil
}

func (f *fakeStore) FinalizeCall(ctx context.Context, callUUID string, state internal_type.CallState, endedAt time.Time) error {
	return nil
}

type fakeManager struct {
	started  []string
	startErr error
	active   map[string]bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{active: map[string]bool{}}
}

func (f *fakeManager) StartCall(callUUID uuid.UUID, digits, profileName string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, digits)
	f.active[callUUID.String()] = true
	return nil
}

func (f *fakeManager) Hangup(callUUID string) error {
	if !f.active[callUUID] {
		return internal_type.ErrCallNotFound
	}
	delete(f.active, callUUID)
	return nil
}

func (f *fakeManager) IsActive(callUUID string) bool {
	return f.active[callUUID]
}

type fakeLiveRegistry struct {
	states map[string]string
}

func (f *fakeLiveRegistry) SetState(ctx context.Context, callUUID string, state internal_type.CallState) error {
	return nil
}

func (f *fakeLiveRegistry) GetState(ctx context.Context, callUUID string) (string, error) {
	if state, ok := f.states[callUUID]; ok {
		return state, nil
	}
	return "", internal_type.ErrCallNotFound
}

func (f *fakeLiveRegistry) Remove(ctx context.Context, callUUID string) error {
	return nil
}

// fakeARI stubs only the operations the control plane reaches for.
type fakeARI struct {
	internal_asterisk.Client
	played []string
}

func (f *fakeARI) Play(ctx context.Context, channelID, media string) (*internal_asterisk.Playback, error) {
	f.played = append(f.played, media)
	return &internal_asterisk.Playback{ID: "pb-1"}, nil
}

// ==== harness ====

type apiHarness struct {
	engine   *gin.Engine
	store    *fakeStore
	manager  *fakeManager
	registry *fakeLiveRegistry
	ari      *fakeARI
}

func newApiHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	agents, err := internal_agent.NewRegistry(&config.AppConfig{
		Voice:        "shimmer",
		Temperature:  0.6,
		VadThreshold: 0.3,
		VadSilenceMs: 500,
		VadPrefixMs:  500,
	})
	require.NoError(t, err)

	h := &apiHarness{
		store:    newFakeStore(),
		manager:  newFakeManager(),
		registry: &fakeLiveRegistry{states: map[string]string{}},
		ari:      &fakeARI{},
	}
	api := NewCallApi(&config.AppConfig{}, commons.NewNopLogger(),
		h.store, h.registry, h.manager, agents, h.ari)

	h.engine = gin.New()
	v1 := h.engine.Group("v1")
	v1.POST("/calls", api.PlaceCall)
	v1.GET("/calls", api.ListCalls)
	v1.GET("/calls/:uuid", api.GetCall)
	v1.DELETE("/calls/:uuid", api.HangupCall)
	v1.POST("/calls/:uuid/play", api.PlayMedia)
	v1.GET("/agents", api.ListAgents)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ==== place call ====

func TestPlaceCall_CreatesRowAndStartsOrchestrator(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "+7 (911) 777-22-00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "79117772200", body["phone"], "number must be normalized to bare digits")
	assert.Equal(t, "INIT", body["state"])
	assert.NotEmpty(t, body["uuid"])

	assert.Equal(t, []string{"79117772200"}, h.manager.started)
	assert.Equal(t, "79117772200", h.store.lastCreated.Digits)
	assert.Equal(t, body["uuid"], h.store.lastCreated.UUID)
}

func TestPlaceCall_RejectsInvalidDestination(t *testing.T) {
	h := newApiHarness(t)

	for _, phone := range []string{"", "12345", "89117772200", "7911777220a", "7911"} {
		rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": phone})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "phone %q must be rejected", phone)
	}
	assert.Empty(t, h.manager.started)
	assert.Empty(t, h.store.calls, "no row may be created for a rejected number")
}

func TestPlaceCall_RejectsUnknownAgent(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200", "agent": "nonexistent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.store.calls)
}

// ==== call status ====

func TestGetCall_LiveStateOverridesStored(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200"})
	require.Equal(t, http.StatusCreated, rec.Code)
	callUUID := decodeBody(t, rec)["uuid"].(string)

	h.registry.states[callUUID] = "BRIDGED"
	rec = h.do(t, http.MethodGet, "/v1/calls/"+callUUID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "BRIDGED", body["state"])
	assert.Equal(t, true, body["active"])
}

func TestGetCall_NotFound(t *testing.T) {
	h := newApiHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/calls/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCalls_RequiresPhone(t *testing.T) {
	h := newApiHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/calls", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCalls_ByPhone(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/calls?phone=%2B79117772200", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["calls"], 1)
}

// ==== hangup ====

func TestHangupCall_ActiveCallAccepted(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200"})
	require.Equal(t, http.StatusCreated, rec.Code)
	callUUID := decodeBody(t, rec)["uuid"].(string)

	rec = h.do(t, http.MethodDelete, "/v1/calls/"+callUUID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, h.manager.IsActive(callUUID))
}

func TestHangupCall_FinishedCallConflicts(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200"})
	require.Equal(t, http.StatusCreated, rec.Code)
	callUUID := decodeBody(t, rec)["uuid"].(string)
	delete(h.manager.active, callUUID)

	rec = h.do(t, http.MethodDelete, "/v1/calls/"+callUUID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHangupCall_UnknownCallNotFound(t *testing.T) {
	h := newApiHarness(t)
	rec := h.do(t, http.MethodDelete, "/v1/calls/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ==== play ====

func TestPlayMedia_OnActiveCall(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200"})
	require.Equal(t, http.StatusCreated, rec.Code)
	callUUID := decodeBody(t, rec)["uuid"].(string)
	h.store.calls[callUUID].ChannelID = "chan-1"

	rec = h.do(t, http.MethodPost, "/v1/calls/"+callUUID+"/play", gin.H{"media": "sound:hello-world"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"sound:hello-world"}, h.ari.played)
}

func TestPlayMedia_InactiveCallConflicts(t *testing.T) {
	h := newApiHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/calls", gin.H{"phone": "79117772200"})
	require.Equal(t, http.StatusCreated, rec.Code)
	callUUID := decodeBody(t, rec)["uuid"].(string)
	h.store.calls[callUUID].ChannelID = "chan-1"
	delete(h.manager.active, callUUID)

	rec = h.do(t, http.MethodPost, "/v1/calls/"+callUUID+"/play", gin.H{"media": "sound:hello-world"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, h.ari.played)
}

// ==== agents ====

func TestListAgents_ReturnsDefault(t *testing.T) {
	h := newApiHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["agents"], "default")
}
