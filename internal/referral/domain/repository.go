package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertProcessedEvent reserves the idempotency key and reports whether
	// this delivery is the first one.
	InsertProcessedEvent(ctx context.Context, db *gorm.DB, event *ProcessedEvent) (bool, error)
	SetProcessedEventReferral(ctx context.Context, db *gorm.DB, id snowflake.ID, referralID snowflake.ID) error

	InsertReferral(ctx context.Context, db *gorm.DB, referral *Referral) error
	FindReferralByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Referral, error)
	FindReferralByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Referral, error)
	// FindPlaceholderForUpdate locks the link's unclaimed PENDING referral,
	// if one exists.
	FindPlaceholderForUpdate(ctx context.Context, db *gorm.DB, linkID snowflake.ID) (*Referral, error)
	// MarkSignedUp claims a PENDING referral; the status guard makes the
	// claim safe under concurrent deliveries.
	MarkSignedUp(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, at time.Time) (bool, error)
	MarkConverted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// EnsurePlaceholder inserts the link's first PENDING referral unless one
	// already exists.
	EnsurePlaceholder(ctx context.Context, db *gorm.DB, referral *Referral) (bool, error)
}
