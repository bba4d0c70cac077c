// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/configs"
)

// NewRedisConnector dials the optional live-call registry backend.
// Returns (nil, nil) when the feature is disabled by configuration so
// callers can treat the client as a plain optional dependency.
func NewRedisConnector(cfg configs.RedisConfig, logger commons.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		logger.Debugw("redis disabled, live registry will not be available")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connectors: ping redis %s: %w", cfg.Addr(), err)
	}

	logger.Infow("connected to redis", "addr", cfg.Addr(), "db", cfg.DB)
	return client, nil
}
