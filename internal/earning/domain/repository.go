package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AdvanceCandidate is a converted referral whose latest emitted cycle has
// matured, joined with that cycle's earning.
type AdvanceCandidate struct {
	ReferralID   snowflake.ID
	PayeeUserID  snowflake.ID
	EmittedCount int
	LastDueDate  time.Time
	AmountCents  int64
	Currency     string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, earning *Earning) error
	// FetchAdvanceCandidates claims referrals ready for their next cycle.
	// matureBefore is now minus the cycle interval: a referral qualifies
	// when its last emitted cycle's due date is at or before it.
	FetchAdvanceCandidates(ctx context.Context, db *gorm.DB, matureBefore time.Time, maxCycles, limit int) ([]AdvanceCandidate, error)
	// IncrementEmittedCount advances the counter only if it still holds the
	// expected value, so overlapping sweeps cannot emit the same cycle.
	IncrementEmittedCount(ctx context.Context, db *gorm.DB, referralID snowflake.ID, expected, maxCycles int) (bool, error)
	FindByReferral(ctx context.Context, db *gorm.DB, referralID snowflake.ID) ([]Earning, error)
	OwnerOfLink(ctx context.Context, db *gorm.DB, linkID snowflake.ID) (snowflake.ID, error)
}
