package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type LinkStatus string

const (
	StatusActive   LinkStatus = "ACTIVE"
	StatusInactive LinkStatus = "INACTIVE"
)

// ReferralLink carries a participant's unique attribution code. The code is
// immutable once issued; counters only ever increase.
type ReferralLink struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerUserID     snowflake.ID `gorm:"column:owner_user_id;not null;uniqueIndex" json:"owner_user_id"`
	Code            string       `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Status          LinkStatus   `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	ClickCount      int64        `gorm:"column:click_count;not null;default:0" json:"click_count"`
	ConversionCount int64        `gorm:"column:conversion_count;not null;default:0" json:"conversion_count"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (ReferralLink) TableName() string { return "referral_links" }
