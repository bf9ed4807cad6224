package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	StatusPendingDisbursement PaymentStatus = "PENDING_DISBURSEMENT"
	StatusProcessing          PaymentStatus = "PROCESSING"
	StatusSuccess             PaymentStatus = "SUCCESS"
	StatusFailed              PaymentStatus = "FAILED"
)

func (s PaymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Payment is one payee's batched payout. TotalAmountCents is a snapshot
// taken when the batch is cut and never recomputed afterwards.
type Payment struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	BatchID            string        `gorm:"type:text;not null;index" json:"batch_id"`
	PayeeUserID        snowflake.ID  `gorm:"not null;index" json:"payee_user_id"`
	TotalAmountCents   int64         `gorm:"not null" json:"total_amount_cents"`
	Currency           string        `gorm:"type:text;not null;default:'KES'" json:"currency"`
	Status             PaymentStatus `gorm:"type:text;not null;default:'PENDING_DISBURSEMENT';index" json:"status"`
	IdempotencyToken   string        `gorm:"type:text;not null;uniqueIndex" json:"-"`
	MpesaTransactionID *string       `gorm:"type:text;uniqueIndex" json:"mpesa_transaction_id,omitempty"`
	FailureReason      *string       `gorm:"type:text" json:"failure_reason,omitempty"`
	Attempts           int           `gorm:"not null;default:0" json:"attempts"`
	ApprovedBy         *snowflake.ID `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time    `json:"approved_at,omitempty"`
	FirstAttemptedAt   *time.Time    `json:"first_attempted_at,omitempty"`
	ProcessedAt        *time.Time    `json:"processed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
