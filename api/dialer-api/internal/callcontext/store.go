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

	"gorm.io/gorm"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// =============================================================================
// Call Store
// =============================================================================

// Store is the persistence surface consumed by the control plane and
// the orchestrator. The call row is created exactly once, by the HTTP
// layer, before any media work starts; the orchestrator only attaches
// resource ids and appends history. Rows are never deleted during a
// call: status queries must keep working after hangup.
type Store interface {
	// CreateCall inserts the call row, creating the phone row on first
	// contact with that number.
	CreateCall(ctx context.Context, create CallCreate) (*Call, error)

	// GetCallByUUID loads a call with its phone, status timeline, and
	// dialog, regardless of lifecycle state.
	GetCallByUUID(ctx context.Context, callUUID string) (*Call, error)

	// GetCallByChannel resolves a call from its ARI client channel id.
	GetCallByChannel(ctx context.Context, channelID string) (*Call, error)

	// GetCallsByPhone lists calls to a number, newest first.
	GetCallsByPhone(ctx context.Context, digits string) ([]Call, error)

	// AppendStatus adds one timeline entry. Append-only.
	AppendStatus(ctx context.Context, callUUID string, status internal_type.Status) error

	// AddUtterances appends finalized transcript lines to the dialog.
	AddUtterances(ctx context.Context, callUUID string, utterances []Utterance) error

	// AttachChannel records the ARI resource ids. Set-once: attaching a
	// different channel to a call that already has one is a conflict.
	AttachChannel(ctx context.Context, callUUID, channelID, bridgeID, externalMediaID string) error

	// FinalizeCall stamps the terminal state and end time.
	FinalizeCall(ctx context.Context, callUUID string, state internal_type.CallState, endedAt time.Time) error
}

type gormStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewStore builds the Postgres-backed call store.
func NewStore(db *gorm.DB, logger commons.Logger) Store {
	return &gormStore{db: db, logger: logger}
}

func (s *gormStore) CreateCall(ctx context.Context, create CallCreate) (*Call, error) {
	var call *Call
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		phone := Phone{Digits: create.Digits}
		if err := tx.Where(Phone{Digits: create.Digits}).FirstOrCreate(&phone).Error; err != nil {
			return err
		}
		call = &Call{
			UUID:    create.UUID,
			PhoneID: phone.ID,
			Phone:   &phone,
			State:   internal_type.StateInit.String(),
		}
		return tx.Omit("Phone").Create(call).Error
	})
	if err != nil {
		return nil, internal_type.Persistencef("create call %s: %v", create.UUID, err)
	}
	s.logger.Infof("callcontext: created call uuid=%s phone=%s", call.UUID, create.Digits)
	return call, nil
}

func (s *gormStore) GetCallByUUID(ctx context.Context, callUUID string) (*Call, error) {
	var call Call
	err := s.db.WithContext(ctx).
		Preload("Phone").
		Preload("Statuses", func(db *gorm.DB) *gorm.DB { return db.Order("at ASC") }).
		Preload("Dialog", func(db *gorm.DB) *gorm.DB { return db.Order("at ASC") }).
		Where("uuid = ?", callUUID).
		First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal_type.ErrCallNotFound
		}
		return nil, internal_type.Persistencef("get call %s: %v", callUUID, err)
	}
	return &call, nil
}

func (s *gormStore) GetCallByChannel(ctx context.Context, channelID string) (*Call, error) {
	var call Call
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal_type.ErrCallNotFound
		}
		return nil, internal_type.Persistencef("get call by channel %s: %v", channelID, err)
	}
	return &call, nil
}

func (s *gormStore) GetCallsByPhone(ctx context.Context, digits string) ([]Call, error) {
	var calls []Call
	err := s.db.WithContext(ctx).
		Joins("JOIN phones ON phones.id = calls.phone_id").
		Where("phones.digits = ?", digits).
		Order("calls.created_at DESC").
		Find(&calls).Error
	if err != nil {
		return nil, internal_type.Persistencef("get calls by phone %s: %v", digits, err)
	}
	return calls, nil
}

func (s *gormStore) AppendStatus(ctx context.Context, callUUID string, status internal_type.Status) error {
	callID, err := s.resolveCallID(ctx, callUUID)
	if err != nil {
		return err
	}
	entry := CallStatus{
		CallID: callID,
		Kind:   string(status.Kind),
		Detail: status.Detail,
		At:     status.At,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return internal_type.Persistencef("append status %s to %s: %v", status.Kind, callUUID, err)
	}
	return nil
}

func (s *gormStore) AddUtterances(ctx context.Context, callUUID string, utterances []Utterance) error {
	if len(utterances) == 0 {
		return nil
	}
	callID, err := s.resolveCallID(ctx, callUUID)
	if err != nil {
		return err
	}
	for i := range utterances {
		utterances[i].CallID = callID
	}
	if err := s.db.WithContext(ctx).Create(&utterances).Error; err != nil {
		return internal_type.Persistencef("add %d utterances to %s: %v", len(utterances), callUUID, err)
	}
	return nil
}

func (s *gormStore) AttachChannel(ctx context.Context, callUUID, channelID, bridgeID, externalMediaID string) error {
	// Set-once: the guarded update only lands while the ids are empty.
	result := s.db.WithContext(ctx).Model(&Call{}).
		Where("uuid = ? AND channel_id = ''", callUUID).
		Updates(map[string]interface{}{
			"channel_id":        channelID,
			"bridge_id":         bridgeID,
			"external_media_id": externalMediaID,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return internal_type.Persistencef("attach channel to %s: %v", callUUID, result.Error)
	}
	if result.RowsAffected == 0 {
		return internal_type.ErrChannelConflict
	}
	return nil
}

func (s *gormStore) FinalizeCall(ctx context.Context, callUUID string, state internal_type.CallState, endedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Call{}).
		Where("uuid = ?", callUUID).
		Updates(map[string]interface{}{
			"state":      state.String(),
			"ended_at":   endedAt,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return internal_type.Persistencef("finalize call %s: %v", callUUID, result.Error)
	}
	if result.RowsAffected == 0 {
		return internal_type.ErrCallNotFound
	}
	return nil
}

func (s *gormStore) resolveCallID(ctx context.Context, callUUID string) (uint64, error) {
	var call Call
	err := s.db.WithContext(ctx).
		Select("id").
		Where("uuid = ?", callUUID).
		First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, internal_type.ErrCallNotFound
		}
		return 0, internal_type.Persistencef("resolve call %s: %v", callUUID, err)
	}
	return call.ID, nil
}
