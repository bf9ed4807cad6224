package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	"gorm.io/gorm"
)

// PayeeContact carries the payout destination resolved from the users
// table at disbursement time.
type PayeeContact struct {
	UserID      snowflake.ID `json:"user_id"`
	Email       string       `json:"email"`
	PhoneNumber string       `json:"phone_number"`
}

type Repository interface {
	// LockDueEarnings claims unbatched SCHEDULED earnings due on or before
	// the cutoff. Claimed rows are locked for the transaction so two
	// batchers never fold the same earning.
	LockDueEarnings(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*earningdomain.Earning, error)
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	// AttachEarnings pins earnings to a payment and moves them to
	// PENDING_APPROVAL, guarded on payment_id still being unset.
	AttachEarnings(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, earningIDs []snowflake.ID) (int64, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, status PaymentStatus, batchID string, afterID snowflake.ID, limit int) ([]*Payment, error)

	// MarkApproved records the approver once; it reports false when the
	// payment was already approved or is past approval.
	MarkApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, adminID snowflake.ID, at time.Time) (bool, error)

	// ClaimApprovedForDisbursement locks approved PENDING_DISBURSEMENT
	// payments and flips them to PROCESSING, stamping the attempt.
	ClaimApprovedForDisbursement(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]*Payment, error)
	// LockProcessing claims PROCESSING payments for reconciliation.
	LockProcessing(ctx context.Context, db *gorm.DB, limit int) ([]*Payment, error)

	// SettleSuccess and SettleFailure apply the terminal state with a
	// conditional update from PROCESSING; a false return means another
	// worker already settled the payment.
	SettleSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, at time.Time) (bool, error)
	SettleFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error)
	// CascadeEarnings moves all earnings pinned to the payment into the
	// given status.
	CascadeEarnings(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, status earningdomain.EarningStatus) error
	IncrementAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	PayeeContact(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*PayeeContact, error)
}
