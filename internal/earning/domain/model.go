package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EarningStatus string

const (
	StatusScheduled       EarningStatus = "SCHEDULED"
	StatusPendingApproval EarningStatus = "PENDING_APPROVAL"
	StatusPaid            EarningStatus = "PAID"
	StatusFailed          EarningStatus = "FAILED"
)

// Earning is one reward cycle owed to a referrer for a converted referral.
// Exactly one earning exists per (referral_id, cycle_index); payment_id is
// assigned once by the batcher and never cleared.
type Earning struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	ReferralID  snowflake.ID  `gorm:"column:referral_id;not null;uniqueIndex:uidx_earnings_referral_cycle" json:"referral_id"`
	PayeeUserID snowflake.ID  `gorm:"column:payee_user_id;not null;index" json:"payee_user_id"`
	PaymentID   *snowflake.ID `gorm:"column:payment_id;index" json:"payment_id,omitempty"`
	CycleIndex  int           `gorm:"column:cycle_index;not null;uniqueIndex:uidx_earnings_referral_cycle" json:"cycle_index"`
	AmountCents int64         `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string        `gorm:"type:text;not null;default:'KES'" json:"currency"`
	Status      EarningStatus `gorm:"type:text;not null;default:'SCHEDULED'" json:"status"`
	DueDate     time.Time     `gorm:"column:due_date;not null" json:"due_date"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Earning) TableName() string { return "earnings" }
