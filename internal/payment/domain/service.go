package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/pkg/db/pagination"
)

var (
	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrAlreadyApproved  = errors.New("payment_already_approved")
	ErrNotApprovable    = errors.New("payment_not_approvable")
	ErrPaymentImmutable = errors.New("payment_immutable")
)

// BatchResult summarizes one batching run.
type BatchResult struct {
	BatchID          string `json:"batch_id,omitempty"`
	PaymentsCreated  int    `json:"payments_created"`
	EarningsAttached int    `json:"earnings_attached"`
}

type ListFilter struct {
	Status  PaymentStatus
	BatchID string
	pagination.Pagination
}

type ListResult struct {
	Payments []*Payment           `json:"payments"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// CreateBatches folds all due SCHEDULED earnings into one payment per
	// payee, snapshotting the total. Earnings move to PENDING_APPROVAL and
	// are pinned to their payment in the same transaction.
	CreateBatches(ctx context.Context) (*BatchResult, error)
	// Approve records the admin sign-off that releases a payment for
	// disbursement. A payment is approved at most once.
	Approve(ctx context.Context, paymentID snowflake.ID, adminID snowflake.ID) (*Payment, error)
	// ProcessApproved claims approved payments, submits them to the payout
	// gateway and settles definitive outcomes. Ambiguous outcomes stay
	// PROCESSING for the reconciler.
	ProcessApproved(ctx context.Context) (int, error)
	// ReconcileProcessing re-queries the gateway for payments stuck in
	// PROCESSING and settles them, failing those whose retry window has
	// elapsed.
	ReconcileProcessing(ctx context.Context) (int, error)
	FindByID(ctx context.Context, id snowflake.ID) (*Payment, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
}
