package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/referral/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertProcessedEvent(ctx context.Context, db *gorm.DB, event *domain.ProcessedEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO processed_events (
			id, idempotency_key, event_type, referral_id, payload, applied_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		event.ID,
		event.IdempotencyKey,
		event.EventType,
		event.ReferralID,
		event.Payload,
		event.AppliedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetProcessedEventReferral(ctx context.Context, db *gorm.DB, id snowflake.ID, referralID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_events SET referral_id = ? WHERE id = ?`,
		referralID,
		id,
	).Error
}

func (r *repo) InsertReferral(ctx context.Context, db *gorm.DB, referral *domain.Referral) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO referrals (
			id, referral_link_id, external_referred_id, status,
			earnings_emitted_count, signed_up_at, converted_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		referral.ID,
		referral.ReferralLinkID,
		referral.ExternalReferredID,
		referral.Status,
		referral.EarningsEmittedCount,
		referral.SignedUpAt,
		referral.ConvertedAt,
		referral.CreatedAt,
		referral.UpdatedAt,
	).Error
}

func (r *repo) FindReferralByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Referral, error) {
	var item domain.Referral
	err := db.WithContext(ctx).Raw(
		`SELECT id, referral_link_id, external_referred_id, status,
			earnings_emitted_count, signed_up_at, converted_at,
			created_at, updated_at
		 FROM referrals
		 WHERE id = ?
		 LIMIT 1`,
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

func (r *repo) FindReferralByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Referral, error) {
	var item domain.Referral
	err := db.WithContext(ctx).Raw(
		`SELECT id, referral_link_id, external_referred_id, status,
			earnings_emitted_count, signed_up_at, converted_at,
			created_at, updated_at
		 FROM referrals
		 WHERE external_referred_id = ?
		 LIMIT 1`,
		externalID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPlaceholderForUpdate(ctx context.Context, db *gorm.DB, linkID snowflake.ID) (*domain.Referral, error) {
	var item domain.Referral
	err := db.WithContext(ctx).Raw(
		`SELECT id, referral_link_id, external_referred_id, status,
			earnings_emitted_count, signed_up_at, converted_at,
			created_at, updated_at
		 FROM referrals
		 WHERE referral_link_id = ? AND status = ? AND external_referred_id IS NULL
		 ORDER BY id
		 LIMIT 1
		 FOR UPDATE`,
		linkID,
		domain.StatusPending,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkSignedUp(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET external_referred_id = ?, status = ?, signed_up_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		externalID,
		domain.StatusSignedUp,
		at,
		at,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkConverted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET status = ?, converted_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusConverted,
		at,
		at,
		id,
		domain.StatusPending,
		domain.StatusSignedUp,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) EnsurePlaceholder(ctx context.Context, db *gorm.DB, referral *domain.Referral) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO referrals (
			id, referral_link_id, external_referred_id, status,
			earnings_emitted_count, created_at, updated_at
		)
		SELECT ?, ?, NULL, ?, 0, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM referrals
			WHERE referral_link_id = ? AND status = ? AND external_referred_id IS NULL
		)`,
		referral.ID,
		referral.ReferralLinkID,
		domain.StatusPending,
		referral.CreatedAt,
		referral.UpdatedAt,
		referral.ReferralLinkID,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
