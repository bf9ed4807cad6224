package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	"github.com/jijenga/referral/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const advanceBatchSize = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       earningdomain.Repository
	Program    *config.ProgramConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       earningdomain.Repository
	program    *config.ProgramConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("earning.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		program:    p.Program,
		obsMetrics: p.ObsMetrics,
	}
}

// OnConversion emits the cycle-0 earning. The counter guard plus the
// (referral_id, cycle_index) unique constraint make a second invocation for
// the same referral a no-op.
func (s *Service) OnConversion(ctx context.Context, tx *gorm.DB, referral *referraldomain.Referral) error {
	if tx == nil {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.emitCycleZero(ctx, tx, referral)
		})
	}
	return s.emitCycleZero(ctx, tx, referral)
}

func (s *Service) emitCycleZero(ctx context.Context, tx *gorm.DB, referral *referraldomain.Referral) error {
	program := s.program.Get()

	ok, err := s.repo.IncrementEmittedCount(ctx, tx, referral.ID, 0, program.MaxCycles)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	payeeID, err := s.repo.OwnerOfLink(ctx, tx, referral.ReferralLinkID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	earning := earningdomain.Earning{
		ID:          s.genID.Generate(),
		ReferralID:  referral.ID,
		PayeeUserID: payeeID,
		CycleIndex:  0,
		AmountCents: program.EarningAmountCents,
		Currency:    program.Currency,
		Status:      earningdomain.StatusScheduled,
		DueDate:     now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inserted, err := s.insertBackstopped(ctx, tx, &earning)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEarningAccrued(ctx, "conversion")
	}
	return nil
}

// insertBackstopped inserts under a savepoint so a (referral_id,
// cycle_index) collision can be rolled back without aborting the enclosing
// transaction on postgres. Returns false when the cycle already exists.
func (s *Service) insertBackstopped(ctx context.Context, tx *gorm.DB, earning *earningdomain.Earning) (bool, error) {
	const savepoint = "earning_insert"
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return false, err
	}
	if err := s.repo.Insert(ctx, tx, earning); err != nil {
		if db.IsDuplicateKeyErr(err) {
			if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
				return false, rbErr
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AdvanceDueCycles sweeps converted referrals and emits the next cycle for
// each one whose previous cycle has matured. The claim query, the counter
// guard, and the unique constraint together make overlapping sweeps emit
// each cycle exactly once.
func (s *Service) AdvanceDueCycles(ctx context.Context) (int, error) {
	program := s.program.Get()
	emitted := 0

	for {
		batch := 0
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			matureBefore := s.clock.Now().Add(-program.CycleInterval())
			candidates, err := s.repo.FetchAdvanceCandidates(ctx, tx, matureBefore, program.MaxCycles, advanceBatchSize)
			if err != nil {
				return err
			}

			for _, candidate := range candidates {
				ok, err := s.repo.IncrementEmittedCount(ctx, tx, candidate.ReferralID, candidate.EmittedCount, program.MaxCycles)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}

				now := s.clock.Now()
				earning := earningdomain.Earning{
					ID:          s.genID.Generate(),
					ReferralID:  candidate.ReferralID,
					PayeeUserID: candidate.PayeeUserID,
					CycleIndex:  candidate.EmittedCount,
					AmountCents: program.EarningAmountCents,
					Currency:    program.Currency,
					Status:      earningdomain.StatusScheduled,
					DueDate:     candidate.LastDueDate.Add(program.CycleInterval()),
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				inserted, err := s.insertBackstopped(ctx, tx, &earning)
				if err != nil {
					return err
				}
				if !inserted {
					continue
				}
				batch++

				if s.obsMetrics != nil {
					s.obsMetrics.RecordEarningAccrued(ctx, "cycle_sweep")
				}
			}
			return nil
		})
		if err != nil {
			return emitted, err
		}

		emitted += batch
		if batch == 0 {
			return emitted, nil
		}
	}
}

func (s *Service) FindByReferral(ctx context.Context, referralID snowflake.ID) ([]earningdomain.Earning, error) {
	return s.repo.FindByReferral(ctx, s.db, referralID)
}

var _ earningdomain.Scheduler = (*Service)(nil)
