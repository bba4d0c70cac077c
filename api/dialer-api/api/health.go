// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dialer_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/voxbridgeai/config"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Health API
// =============================================================================

type healthApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	db     *gorm.DB
}

func NewHealthApi(cfg *config.AppConfig, logger commons.Logger, db *gorm.DB) *healthApi {
	return &healthApi{cfg: cfg, logger: logger, db: db}
}

// Healthz reports process liveness.
func (a *healthApi) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": a.cfg.Name,
		"version": a.cfg.Version,
	})
}

// Readiness reports whether the service can take traffic: the database
// must answer a ping.
func (a *healthApi) Readiness(ctx *gin.Context) {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx.Request.Context())
	}
	if err != nil {
		a.logger.Warnw("api: readiness failed", "error", err.Error())
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
