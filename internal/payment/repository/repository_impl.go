package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	"github.com/jijenga/referral/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) LockDueEarnings(ctx context.Context, db *gorm.DB, dueBefore time.Time, limit int) ([]*earningdomain.Earning, error) {
	var items []*earningdomain.Earning
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT id, referral_id, payee_user_id, payment_id, cycle_index,
			amount_cents, currency, status, due_date, created_at, updated_at
		 FROM earnings
		 WHERE status = 'SCHEDULED' AND payment_id IS NULL AND due_date <= ?
		 ORDER BY payee_user_id, id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		dueBefore,
		limit,
	).Scan(&items).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourcePaymentsForBatch, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, batch_id, payee_user_id, total_amount_cents, currency, status,
			idempotency_token, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		payment.ID,
		payment.BatchID,
		payment.PayeeUserID,
		payment.TotalAmountCents,
		payment.Currency,
		payment.Status,
		payment.IdempotencyToken,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) AttachEarnings(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, earningIDs []snowflake.ID) (int64, error) {
	if len(earningIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE earnings
		 SET payment_id = ?, status = 'PENDING_APPROVAL', updated_at = CURRENT_TIMESTAMP
		 WHERE id IN ? AND payment_id IS NULL AND status = 'SCHEDULED'`,
		paymentID,
		earningIDs,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.PaymentStatus, batchID string, afterID snowflake.ID, limit int) ([]*domain.Payment, error) {
	query := db.WithContext(ctx).Model(&domain.Payment{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if batchID != "" {
		query = query.Where("batch_id = ?", batchID)
	}
	if afterID != 0 {
		query = query.Where("id < ?", afterID)
	}

	var items []*domain.Payment
	if err := query.Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, adminID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET approved_by = ?, approved_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'PENDING_DISBURSEMENT' AND approved_at IS NULL`,
		adminID,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimApprovedForDisbursement(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]*domain.Payment, error) {
	var items []*domain.Payment
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payments
		 WHERE status = 'PENDING_DISBURSEMENT' AND approved_at IS NOT NULL
		 ORDER BY approved_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		limit,
	).Scan(&items).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourcePaymentsApproved, time.Since(lockStart))
	if err != nil {
		return nil, err
	}

	claimed := make([]*domain.Payment, 0, len(items))
	for _, payment := range items {
		res := db.WithContext(ctx).Exec(
			`UPDATE payments
			 SET status = 'PROCESSING',
				 attempts = attempts + 1,
				 first_attempted_at = COALESCE(first_attempted_at, ?),
				 updated_at = ?
			 WHERE id = ? AND status = 'PENDING_DISBURSEMENT'`,
			at,
			at,
			payment.ID,
		)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		payment.Status = domain.StatusProcessing
		payment.Attempts++
		if payment.FirstAttemptedAt == nil {
			attemptedAt := at
			payment.FirstAttemptedAt = &attemptedAt
		}
		claimed = append(claimed, payment)
	}
	return claimed, nil
}

func (r *repo) LockProcessing(ctx context.Context, db *gorm.DB, limit int) ([]*domain.Payment, error) {
	var items []*domain.Payment
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payments
		 WHERE status = 'PROCESSING'
		 ORDER BY first_attempted_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		limit,
	).Scan(&items).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourcePaymentsProcessing, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SettleSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'SUCCESS', mpesa_transaction_id = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'PROCESSING'`,
		transactionID,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SettleFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = 'FAILED', failure_reason = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'PROCESSING'`,
		reason,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CascadeEarnings(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, status earningdomain.EarningStatus) error {
	return db.WithContext(ctx).Exec(
		`UPDATE earnings
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE payment_id = ? AND status = 'PENDING_APPROVAL'`,
		status,
		paymentID,
	).Error
}

func (r *repo) IncrementAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		id,
	).Error
}

func (r *repo) PayeeContact(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.PayeeContact, error) {
	var item domain.PayeeContact
	err := db.WithContext(ctx).Raw(
		`SELECT id AS user_id, email, phone_number FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.UserID == 0 {
		return nil, nil
	}
	return &item, nil
}

var _ domain.Repository = (*repo)(nil)
