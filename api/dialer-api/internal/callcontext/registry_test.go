// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

func TestLiveRegistry_SetAndGetState(t *testing.T) {
	client, mock := redismock.NewClientMock()
	registry := NewLiveRegistry(client, commons.NewNopLogger())

	mock.ExpectSet("call:"+testUUID+":state", "BRIDGED", liveStateTTL).SetVal("OK")
	require.NoError(t, registry.SetState(context.Background(), testUUID, internal_type.StateBridged))

	mock.ExpectGet("call:" + testUUID + ":state").SetVal("BRIDGED")
	state, err := registry.GetState(context.Background(), testUUID)
	require.NoError(t, err)
	assert.Equal(t, "BRIDGED", state)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveRegistry_MissingEntryIsNotFound(t *testing.T) {
	client, mock := redismock.NewClientMock()
	registry := NewLiveRegistry(client, commons.NewNopLogger())

	mock.ExpectGet("call:" + testUUID + ":state").RedisNil()
	_, err := registry.GetState(context.Background(), testUUID)
	assert.ErrorIs(t, err, internal_type.ErrCallNotFound)
}

func TestLiveRegistry_Remove(t *testing.T) {
	client, mock := redismock.NewClientMock()
	registry := NewLiveRegistry(client, commons.NewNopLogger())

	mock.ExpectDel("call:" + testUUID + ":state").SetVal(1)
	require.NoError(t, registry.Remove(context.Background(), testUUID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveRegistry_NilClientIsInert(t *testing.T) {
	registry := NewLiveRegistry(nil, commons.NewNopLogger())

	require.NoError(t, registry.SetState(context.Background(), testUUID, internal_type.StateBridged))
	_, err := registry.GetState(context.Background(), testUUID)
	assert.ErrorIs(t, err, internal_type.ErrCallNotFound)
	assert.NoError(t, registry.Remove(context.Background(), testUUID))
}
