package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrAllocationExhausted = errors.New("allocation_exhausted")
	ErrLinkNotFound        = errors.New("referral_link_not_found")
	ErrLinkInactive        = errors.New("referral_link_inactive")
	ErrLinkExists          = errors.New("referral_link_exists")
)

type Service interface {
	// Allocate issues a collision-free code and inserts the link in one
	// statement; the unique constraint is the source of truth.
	Allocate(ctx context.Context, ownerUserID snowflake.ID) (*ReferralLink, error)
	FindByCode(ctx context.Context, code string) (*ReferralLink, error)
	FindByOwner(ctx context.Context, ownerUserID snowflake.ID) (*ReferralLink, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, link *ReferralLink) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*ReferralLink, error)
	FindByOwner(ctx context.Context, db *gorm.DB, ownerUserID snowflake.ID) (*ReferralLink, error)
	// IncrementClicks bumps click_count for an ACTIVE link and reports
	// whether a row changed.
	IncrementClicks(ctx context.Context, db *gorm.DB, code string) (bool, error)
	IncrementConversions(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
