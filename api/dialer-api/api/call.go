// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dialer_api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	internal_agent "github.com/voxbridgeai/api/dialer-api/internal/agent"
	internal_asterisk "github.com/voxbridgeai/api/dialer-api/internal/asterisk"
	internal_callcontext "github.com/voxbridgeai/api/dialer-api/internal/callcontext"
	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/config"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/utils"
)

// =============================================================================
// Call Control API
// =============================================================================

// CallManager is the slice of the orchestrator manager the HTTP layer
// drives: start, hang up, liveness.
type CallManager interface {
	StartCall(callUUID uuid.UUID, digits, profileName string) error
	Hangup(callUUID string) error
	IsActive(callUUID string) bool
}

type callApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	store    internal_callcontext.Store
	registry internal_callcontext.LiveRegistry
	manager  CallManager
	agents   *internal_agent.Registry
	ari      internal_asterisk.Client
}

// NewCallApi builds the control-plane handlers for outbound calls.
func NewCallApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	store internal_callcontext.Store,
	registry internal_callcontext.LiveRegistry,
	manager CallManager,
	agents *internal_agent.Registry,
	ari internal_asterisk.Client,
) *callApi {
	return &callApi{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		manager:  manager,
		agents:   agents,
		ari:      ari,
	}
}

type placeCallRequest struct {
	Phone string `json:"phone" binding:"required"`
	Agent string `json:"agent"`
}

type playRequest struct {
	Media string `json:"media" binding:"required"`
}

// PlaceCall creates the call record and starts the orchestrator. The
// response returns immediately; everything after dialing is observable
// through the status timeline.
func (a *callApi) PlaceCall(ctx *gin.Context) {
	var req placeCallRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	digits := utils.NormalizePhone(req.Phone)
	if !utils.ValidDestination(digits) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": internal_type.ErrInvalidDestination.Error()})
		return
	}
	if _, err := a.agents.Resolve(req.Agent); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	callUUID := uuid.New()
	call, err := a.store.CreateCall(ctx.Request.Context(), internal_callcontext.CallCreate{
		UUID:   callUUID.String(),
		Digits: digits,
	})
	if err != nil {
		a.logger.Errorw("api: create call", "error", err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not create call"})
		return
	}

	if err := a.manager.StartCall(callUUID, digits, req.Agent); err != nil {
		a.logger.Errorw("api: start call", "call_uuid", callUUID.String(), "error", err.Error())
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "uuid": callUUID.String()})
		return
	}

	a.logger.Infow("api: call placed", "call_uuid", callUUID.String(), "phone", digits)
	ctx.JSON(http.StatusCreated, gin.H{
		"uuid":  call.UUID,
		"phone": digits,
		"state": call.State,
	})
}

// GetCall returns the call with its status timeline and dialog. The live
// registry state, when present, overrides the possibly-stale stored one.
func (a *callApi) GetCall(ctx *gin.Context) {
	callUUID := ctx.Param("uuid")
	call, err := a.store.GetCallByUUID(ctx.Request.Context(), callUUID)
	if err != nil {
		if errors.Is(err, internal_type.ErrCallNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		a.logger.Errorw("api: get call", "call_uuid", callUUID, "error", err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load call"})
		return
	}

	state := call.State
	if live, lerr := a.registry.GetState(ctx.Request.Context(), callUUID); lerr == nil {
		state = live
	}
	ctx.JSON(http.StatusOK, gin.H{
		"call":   call,
		"state":  state,
		"active": a.manager.IsActive(callUUID),
	})
}

// ListCalls returns calls placed to a phone number, newest first.
func (a *callApi) ListCalls(ctx *gin.Context) {
	digits := utils.NormalizePhone(ctx.Query("phone"))
	if digits == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "phone query parameter required"})
		return
	}
	calls, err := a.store.GetCallsByPhone(ctx.Request.Context(), digits)
	if err != nil {
		a.logger.Errorw("api: list calls", "phone", digits, "error", err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not list calls"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"calls": calls})
}

// HangupCall asks the orchestrator to end the call; teardown is
// asynchronous and lands in the status timeline.
func (a *callApi) HangupCall(ctx *gin.Context) {
	callUUID := ctx.Param("uuid")
	if err := a.manager.Hangup(callUUID); err != nil {
		if !errors.Is(err, internal_type.ErrCallNotFound) {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// Not running: distinguish a finished call from an unknown one.
		if _, serr := a.store.GetCallByUUID(ctx.Request.Context(), callUUID); serr != nil {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		ctx.JSON(http.StatusConflict, gin.H{"error": "call already ended"})
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"uuid": callUUID, "state": internal_type.StateHangup.String()})
}

// PlayMedia plays an Asterisk media URI (sound:, recording:, tone:) on
// the call's client channel.
func (a *callApi) PlayMedia(ctx *gin.Context) {
	callUUID := ctx.Param("uuid")
	var req playRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	call, err := a.store.GetCallByUUID(ctx.Request.Context(), callUUID)
	if err != nil {
		if errors.Is(err, internal_type.ErrCallNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load call"})
		return
	}
	if call.ChannelID == "" || !a.manager.IsActive(callUUID) {
		ctx.JSON(http.StatusConflict, gin.H{"error": "call is not active"})
		return
	}

	playback, err := a.ari.Play(ctx.Request.Context(), call.ChannelID, req.Media)
	if err != nil {
		a.logger.Errorw("api: play media", "call_uuid", callUUID, "error", err.Error())
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"playback_id": playback.ID})
}

// ListAgents returns the names of registered agent profiles.
func (a *callApi) ListAgents(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"agents": a.agents.Names()})
}
