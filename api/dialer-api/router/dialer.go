// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package dialer_routers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dialerApi "github.com/voxbridgeai/api/dialer-api/api"
	internal_agent "github.com/voxbridgeai/api/dialer-api/internal/agent"
	internal_asterisk "github.com/voxbridgeai/api/dialer-api/internal/asterisk"
	internal_callcontext "github.com/voxbridgeai/api/dialer-api/internal/callcontext"
	"github.com/voxbridgeai/config"
	"github.com/voxbridgeai/pkg/commons"
)

// NewEngine builds the control-plane gin engine with the shared
// middleware stack.
func NewEngine(cfg *config.AppConfig, logger commons.Logger) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	return engine
}

// CallApiRoutes mounts the outbound call control plane.
func CallApiRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	store internal_callcontext.Store,
	registry internal_callcontext.LiveRegistry,
	manager dialerApi.CallManager,
	agents *internal_agent.Registry,
	ari internal_asterisk.Client,
) {
	logger.Info("Call control routes added to engine.")
	apiv1 := engine.Group("v1")
	callApi := dialerApi.NewCallApi(cfg, logger, store, registry, manager, agents, ari)
	{
		apiv1.POST("/calls", callApi.PlaceCall)
		apiv1.GET("/calls", callApi.ListCalls)
		apiv1.GET("/calls/:uuid", callApi.GetCall)
		apiv1.DELETE("/calls/:uuid", callApi.HangupCall)
		apiv1.POST("/calls/:uuid/play", callApi.PlayMedia)
		apiv1.GET("/agents", callApi.ListAgents)
	}
}

// HealthCheckRoutes mounts liveness and readiness probes.
func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, db *gorm.DB) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	probes := engine.Group("")
	healthApi := dialerApi.NewHealthApi(cfg, logger, db)
	{
		probes.GET("/healthz", healthApi.Healthz)
		probes.GET("/readiness", healthApi.Readiness)
	}
}

// requestLogger logs one structured line per request.
func requestLogger(logger commons.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Infow("http request",
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"status", ctx.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
