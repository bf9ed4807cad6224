package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/earning/domain"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, earning *domain.Earning) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO earnings (
			id, referral_id, payee_user_id, payment_id, cycle_index,
			amount_cents, currency, status, due_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		earning.ID,
		earning.ReferralID,
		earning.PayeeUserID,
		earning.PaymentID,
		earning.CycleIndex,
		earning.AmountCents,
		earning.Currency,
		earning.Status,
		earning.DueDate,
		earning.CreatedAt,
		earning.UpdatedAt,
	).Error
}

func (r *repo) FetchAdvanceCandidates(ctx context.Context, db *gorm.DB, matureBefore time.Time, maxCycles, limit int) ([]domain.AdvanceCandidate, error) {
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()
	var candidates []domain.AdvanceCandidate
	err := db.WithContext(ctx).Raw(
		`SELECT r.id AS referral_id,
			r.earnings_emitted_count AS emitted_count,
			e.payee_user_id AS payee_user_id,
			e.due_date AS last_due_date,
			e.amount_cents AS amount_cents,
			e.currency AS currency
		 FROM referrals r
		 JOIN earnings e
			ON e.referral_id = r.id
			AND e.cycle_index = r.earnings_emitted_count - 1
		 WHERE r.status = ?
			AND r.earnings_emitted_count > 0
			AND r.earnings_emitted_count < ?
			AND e.due_date <= ?
		 ORDER BY r.id
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		"CONVERTED",
		maxCycles,
		matureBefore,
		limit,
	).Scan(&candidates).Error
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceEarningsDue, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *repo) IncrementEmittedCount(ctx context.Context, db *gorm.DB, referralID snowflake.ID, expected, maxCycles int) (bool, error) {
	if expected >= maxCycles {
		return false, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET earnings_emitted_count = earnings_emitted_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND earnings_emitted_count = ?`,
		referralID,
		expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByReferral(ctx context.Context, db *gorm.DB, referralID snowflake.ID) ([]domain.Earning, error) {
	var earnings []domain.Earning
	err := db.WithContext(ctx).Raw(
		`SELECT id, referral_id, payee_user_id, payment_id, cycle_index,
			amount_cents, currency, status, due_date, created_at, updated_at
		 FROM earnings
		 WHERE referral_id = ?
		 ORDER BY cycle_index`,
		referralID,
	).Scan(&earnings).Error
	if err != nil {
		return nil, err
	}
	return earnings, nil
}

func (r *repo) OwnerOfLink(ctx context.Context, db *gorm.DB, linkID snowflake.ID) (snowflake.ID, error) {
	var ownerID snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT owner_user_id FROM referral_links WHERE id = ?`,
		linkID,
	).Scan(&ownerID).Error
	if err != nil {
		return 0, err
	}
	if ownerID == 0 {
		return 0, errors.New("referral_link_not_found")
	}
	return ownerID, nil
}
