// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"time"

	"gorm.io/gorm"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
)

// =============================================================================
// Persistent Entities
// =============================================================================

// Phone is a normalized destination number. Rows are shared across
// calls so call history per number is one query.
type Phone struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Digits    string    `json:"digits" gorm:"column:digits;type:varchar(20);not null;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt" gorm:"type:timestamp;not null"`
}

func (Phone) TableName() string {
	return "phones"
}

// Call is the persistent record of one outbound call. The UUID is the
// correlation key carried through ARI external media into the
// AudioSocket identify; ChannelID/BridgeID/ExternalMediaID are attached
// once the orchestrator learns them and are never cleared afterwards.
type Call struct {
	ID              uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UUID            string     `json:"uuid" gorm:"column:uuid;type:varchar(36);not null;uniqueIndex"`
	ChannelID       string     `json:"channelId" gorm:"column:channel_id;type:varchar(200);not null;default:'';index"`
	BridgeID        string     `json:"bridgeId" gorm:"column:bridge_id;type:varchar(200);not null;default:''"`
	ExternalMediaID string     `json:"externalMediaId" gorm:"column:external_media_id;type:varchar(200);not null;default:''"`
	PhoneID         uint64     `json:"phoneId" gorm:"column:phone_id;type:bigint;not null;index"`
	State           string     `json:"state" gorm:"column:state;type:varchar(20);not null;default:INIT"`
	CreatedAt       time.Time  `json:"createdAt" gorm:"type:timestamp;not null"`
	UpdatedAt       time.Time  `json:"updatedAt" gorm:"type:timestamp"`
	EndedAt         *time.Time `json:"endedAt,omitempty" gorm:"column:ended_at;type:timestamp"`

	Phone    *Phone       `json:"phone,omitempty" gorm:"foreignKey:PhoneID"`
	Statuses []CallStatus `json:"statuses,omitempty" gorm:"foreignKey:CallID"`
	Dialog   []Utterance  `json:"dialog,omitempty" gorm:"foreignKey:CallID"`
}

func (Call) TableName() string {
	return "calls"
}

// CallStatus is one append-only timeline entry. Rows are never updated
// or deleted; the ordered set is the call's observable history.
type CallStatus struct {
	ID     uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CallID uint64    `json:"callId" gorm:"column:call_id;type:bigint;not null;index"`
	Kind   string    `json:"kind" gorm:"column:kind;type:varchar(30);not null"`
	Detail string    `json:"detail,omitempty" gorm:"column:detail;type:text;not null;default:''"`
	At     time.Time `json:"at" gorm:"column:at;type:timestamp;not null"`
}

func (CallStatus) TableName() string {
	return "call_statuses"
}

// Utterance roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Utterance is one finalized transcript line of the call dialog.
type Utterance struct {
	ID     uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CallID uint64    `json:"callId" gorm:"column:call_id;type:bigint;not null;index"`
	Role   string    `json:"role" gorm:"column:role;type:varchar(10);not null"`
	Text   string    `json:"text" gorm:"column:text;type:text;not null"`
	At     time.Time `json:"at" gorm:"column:at;type:timestamp;not null"`
}

func (Utterance) TableName() string {
	return "utterances"
}

// CallCreate is the request shape for a new call row.
type CallCreate struct {
	UUID   string
	Digits string
}

// Migrate creates or updates the schema. Run once at boot.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Phone{}, &Call{}, &CallStatus{}, &Utterance{})
}

// Ended reports whether the call reached a terminal state.
func (c *Call) Ended() bool {
	state := c.State
	return state == internal_type.StateEnded.String() || state == internal_type.StateFailed.String()
}
