package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/referrallink/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, link *domain.ReferralLink) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO referral_links (
			id, owner_user_id, code, status, click_count, conversion_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID,
		link.OwnerUserID,
		link.Code,
		link.Status,
		link.ClickCount,
		link.ConversionCount,
		link.CreatedAt,
		link.UpdatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.ReferralLink, error) {
	var item domain.ReferralLink
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_user_id, code, status, click_count, conversion_count,
			created_at, updated_at
		 FROM referral_links
		 WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByOwner(ctx context.Context, db *gorm.DB, ownerUserID snowflake.ID) (*domain.ReferralLink, error) {
	var item domain.ReferralLink
	err := db.WithContext(ctx).Raw(
		`SELECT id, owner_user_id, code, status, click_count, conversion_count,
			created_at, updated_at
		 FROM referral_links
		 WHERE owner_user_id = ?
		 LIMIT 1`,
		ownerUserID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) IncrementClicks(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referral_links
		 SET click_count = click_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE code = ? AND status = ?`,
		code,
		domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementConversions(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE referral_links
		 SET conversion_count = conversion_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		id,
	).Error
}
