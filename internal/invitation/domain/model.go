package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvitationStatus string

const (
	StatusPending  InvitationStatus = "PENDING"
	StatusAccepted InvitationStatus = "ACCEPTED"
	StatusExpired  InvitationStatus = "EXPIRED"
)

// Invitation gates participant registration. Tokens are single use and
// expire after the configured window.
type Invitation struct {
	ID         snowflake.ID     `gorm:"primaryKey" json:"id"`
	Email      string           `gorm:"type:text;not null" json:"email"`
	Token      string           `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Status     InvitationStatus `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	InvitedBy  *snowflake.ID    `gorm:"column:invited_by" json:"invited_by,omitempty"`
	ExpiresAt  time.Time        `gorm:"column:expires_at;not null" json:"expires_at"`
	AcceptedAt *time.Time       `gorm:"column:accepted_at" json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Invitation) TableName() string { return "invitations" }
