// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	internal_agent "github.com/voxbridgeai/api/dialer-api/internal/agent"
	internal_asterisk "github.com/voxbridgeai/api/dialer-api/internal/asterisk"
	internal_audiosocket "github.com/voxbridgeai/api/dialer-api/internal/audiosocket"
	internal_callcontext "github.com/voxbridgeai/api/dialer-api/internal/callcontext"
	internal_orchestrator "github.com/voxbridgeai/api/dialer-api/internal/orchestrator"
	dialerRouters "github.com/voxbridgeai/api/dialer-api/router"
	"github.com/voxbridgeai/config"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/connectors"
)

const shutdownGrace = 15 * time.Second

func main() {
	v, err := config.InitConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.WithLevel(cfg.LogLevel),
		commons.WithFile(cfg.LogFile),
		commons.WithDevelopment(cfg.IsDevelopment()),
	)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("dialer: fatal", "error", err.Error())
		logger.Sync()
		log.Fatal(err)
	}
}

func run(cfg *config.AppConfig, logger commons.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence.
	db, err := connectors.NewPostgresConnector(cfg.PostgresConfig, logger)
	if err != nil {
		return err
	}
	if err := internal_callcontext.Migrate(db); err != nil {
		return err
	}
	store := internal_callcontext.NewStore(db, logger)

	redisClient, err := connectors.NewRedisConnector(cfg.RedisConfig, logger)
	if err != nil {
		return err
	}
	registry := internal_callcontext.NewLiveRegistry(redisClient, logger)

	// Agents and telephony clients.
	agents, err := internal_agent.NewRegistry(cfg)
	if err != nil {
		return err
	}
	ari := internal_asterisk.NewClient(
		cfg.AriBaseURL(), cfg.AriUser, cfg.AriPass, cfg.AriRequestTimeout(), logger)

	// Media listener.
	media := internal_audiosocket.NewServer(cfg.AudioSocketAddr(), logger,
		internal_audiosocket.WithReadLimit(cfg.ReaderBytesLimit),
		internal_audiosocket.WithDrainChunkSize(cfg.DrainChunkSize),
		internal_audiosocket.WithPacingRate(internal_orchestrator.PacingRate(cfg)),
	)
	if err := media.Listen(); err != nil {
		return err
	}
	logger.Infow("dialer: audiosocket listening", "addr", cfg.AudioSocketAddr())

	manager := internal_orchestrator.NewManager(cfg, logger, ari, media, store, registry, agents)

	// Control plane.
	engine := dialerRouters.NewEngine(cfg, logger)
	dialerRouters.CallApiRoutes(cfg, engine, logger, store, registry, manager, agents, ari)
	dialerRouters.HealthCheckRoutes(cfg, engine, logger, db)
	httpServer := &http.Server{Addr: cfg.HTTPAddr(), Handler: engine}

	errs := make(chan error, 2)
	go func() {
		if serr := media.Serve(ctx); serr != nil && ctx.Err() == nil {
			errs <- serr
		}
	}()
	go func() {
		logger.Infow("dialer: http listening", "addr", cfg.HTTPAddr())
		if serr := httpServer.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errs <- serr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infow("dialer: shutdown signal received")
	case err := <-errs:
		logger.Errorw("dialer: server failed", "error", err.Error())
		stop()
	}

	// Stop taking new work, then give active calls time to walk their
	// hangup path before the process exits.
	grace, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(grace); err != nil {
		logger.Warnw("dialer: http shutdown", "error", err.Error())
	}
	if err := manager.Shutdown(grace); err != nil {
		logger.Warnw("dialer: call shutdown", "error", err.Error())
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warnw("dialer: redis close", "error", err.Error())
		}
	}
	logger.Infow("dialer: stopped")
	return nil
}
