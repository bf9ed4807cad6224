// Package domain contains the referral lifecycle types. The referral row is
// the spine of the settlement pipeline: earnings hang off it and the
// processed-event ledger guards its inputs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ReferralStatus string

const (
	StatusPending   ReferralStatus = "PENDING"
	StatusSignedUp  ReferralStatus = "SIGNED_UP"
	StatusConverted ReferralStatus = "CONVERTED"
)

// CanTransition reports whether moving to the target status is legal.
// Transitions are monotonic; CONVERTED is terminal.
func (s ReferralStatus) CanTransition(to ReferralStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusSignedUp || to == StatusConverted
	case StatusSignedUp:
		return to == StatusConverted
	default:
		return false
	}
}

type Referral struct {
	ID                   snowflake.ID   `gorm:"primaryKey" json:"id"`
	ReferralLinkID       snowflake.ID   `gorm:"column:referral_link_id;not null;index" json:"referral_link_id"`
	ExternalReferredID   *string        `gorm:"column:external_referred_id;type:text" json:"external_referred_id,omitempty"`
	Status               ReferralStatus `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	EarningsEmittedCount int            `gorm:"column:earnings_emitted_count;not null;default:0" json:"earnings_emitted_count"`
	SignedUpAt           *time.Time     `gorm:"column:signed_up_at" json:"signed_up_at,omitempty"`
	ConvertedAt          *time.Time     `gorm:"column:converted_at" json:"converted_at,omitempty"`
	CreatedAt            time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Referral) TableName() string { return "referrals" }

// ProcessedEvent is the idempotency ledger. Existence of a row for an
// idempotency key is the sole gate against reprocessing a delivery.
type ProcessedEvent struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	IdempotencyKey string         `gorm:"column:idempotency_key;type:text;not null;uniqueIndex" json:"idempotency_key"`
	EventType      string         `gorm:"column:event_type;type:text;not null" json:"event_type"`
	ReferralID     *snowflake.ID  `gorm:"column:referral_id" json:"referral_id,omitempty"`
	Payload        datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	AppliedAt      time.Time      `gorm:"column:applied_at;not null" json:"applied_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
