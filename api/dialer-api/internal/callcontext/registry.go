// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Live Call Registry
// =============================================================================

// LiveRegistry mirrors the in-flight state of active calls so the API
// can answer status queries without touching the orchestrator or the
// database. It is a cache, not a source of truth: every entry carries a
// TTL and a missing entry just falls back to the stored state.
type LiveRegistry interface {
	// SetState records the current state for a call, refreshing the TTL.
	SetState(ctx context.Context, callUUID string, state internal_type.CallState) error

	// GetState reads the live state; ErrCallNotFound when absent or expired.
	GetState(ctx context.Context, callUUID string) (string, error)

	// Remove drops the entry once the call is finalized.
	Remove(ctx context.Context, callUUID string) error
}

const liveStateTTL = time.Hour

type redisRegistry struct {
	client *redis.Client
	logger commons.Logger
}

// NewLiveRegistry builds the redis-backed registry. A nil client (redis
// not configured) yields an inert registry so callers never branch.
func NewLiveRegistry(client *redis.Client, logger commons.Logger) LiveRegistry {
	if client == nil {
		return nopRegistry{}
	}
	return &redisRegistry{client: client, logger: logger}
}

func stateKey(callUUID string) string {
	return "call:" + callUUID + ":state"
}

func (r *redisRegistry) SetState(ctx context.Context, callUUID string, state internal_type.CallState) error {
	err := r.client.Set(ctx, stateKey(callUUID), state.String(), liveStateTTL).Err()
	if err != nil {
		return internal_type.Persistencef("live registry set %s: %v", callUUID, err)
	}
	return nil
}

func (r *redisRegistry) GetState(ctx context.Context, callUUID string) (string, error) {
	state, err := r.client.Get(ctx, stateKey(callUUID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", internal_type.ErrCallNotFound
		}
		return "", internal_type.Persistencef("live registry get %s: %v", callUUID, err)
	}
	return state, nil
}

func (r *redisRegistry) Remove(ctx context.Context, callUUID string) error {
	if err := r.client.Del(ctx, stateKey(callUUID)).Err(); err != nil {
		return internal_type.Persistencef("live registry remove %s: %v", callUUID, err)
	}
	return nil
}

// nopRegistry is the registry used when redis is not configured.
type nopRegistry struct{}

func (nopRegistry) SetState(context.Context, string, internal_type.CallState) error {
	return nil
}

func (nopRegistry) GetState(context.Context, string) (string, error) {
	return "", internal_type.ErrCallNotFound
}

func (nopRegistry) Remove(context.Context, string) error {
	return nil
}
