package domain

import (
	"context"
	"errors"

	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	"gorm.io/gorm"
)

var (
	ErrReferralNotConverted = errors.New("referral_not_converted")
	ErrCycleAlreadyEmitted  = errors.New("cycle_already_emitted")
)

type Scheduler interface {
	// OnConversion creates the cycle-0 earning inside the caller's
	// transaction so conversion and first earning commit atomically.
	OnConversion(ctx context.Context, tx *gorm.DB, referral *referraldomain.Referral) error
	// AdvanceDueCycles emits the next earning for every converted referral
	// whose previous cycle has matured. Safe to run from concurrent
	// workers; returns how many earnings were emitted.
	AdvanceDueCycles(ctx context.Context) (int, error)
}
