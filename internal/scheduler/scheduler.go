package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	paymentdomain "github.com/jijenga/referral/internal/payment/domain"
	"github.com/jijenga/referral/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler configuration is invalid")

const (
	JobAdvanceCycles       = "advance_cycles"
	JobBatchDue            = "batch_due"
	JobDisburseApproved    = "disburse_approved"
	JobReconcileProcessing = "reconcile_processing"
	JobExpireInvitations   = "expire_invitations"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	EarningSvc    earningdomain.Scheduler
	PaymentSvc    paymentdomain.Service
	InvitationSvc invitationdomain.Service
	Limiter       *ratelimit.EventIntakeLimiter `optional:"true"`
	Config        Config                        `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	earningSvc    earningdomain.Scheduler
	paymentSvc    paymentdomain.Service
	invitationSvc invitationdomain.Service
	limiter       *ratelimit.EventIntakeLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.EarningSvc == nil || p.PaymentSvc == nil || p.InvitationSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           cfg,
		genID:         p.GenID,
		clock:         p.Clock,
		earningSvc:    p.EarningSvc,
		paymentSvc:    p.PaymentSvc,
		invitationSvc: p.InvitationSvc,
		limiter:       p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Jobs are fenced across instances; a held lock means another
	// scheduler is already running this sweep.
	lockToken, acquired, lockErr := s.tryLock(ctx, name)
	if lockErr != nil {
		s.log.Warn("job lock unavailable, running unfenced",
			zap.String("job", name),
			zap.Error(lockErr),
		)
	} else if !acquired {
		s.log.Debug("job held elsewhere, skipping", zap.String("job", name))
		return nil
	}
	defer s.releaseLock(context.WithoutCancel(ctx), name, lockToken)

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	processed, err := fn(ctx)
	run.AddProcessed(processed)
	if processed > 0 {
		schedMetrics.AddBatchProcessed(name, name, processed)
	}
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobAdvanceCycles, func(ctx context.Context) error {
			return s.runJob(ctx, JobAdvanceCycles, s.cfg.JobTimeout, s.AdvanceCyclesJob)
		}},
		{JobBatchDue, func(ctx context.Context) error {
			return s.runJob(ctx, JobBatchDue, s.cfg.JobTimeout, s.BatchDueJob)
		}},
		{JobDisburseApproved, func(ctx context.Context) error {
			return s.runJob(ctx, JobDisburseApproved, s.cfg.JobTimeout, s.DisburseApprovedJob)
		}},
		{JobReconcileProcessing, func(ctx context.Context) error {
			return s.runJob(ctx, JobReconcileProcessing, s.cfg.JobTimeout, s.ReconcileProcessingJob)
		}},
		{JobExpireInvitations, func(ctx context.Context) error {
			return s.runJob(ctx, JobExpireInvitations, s.cfg.JobTimeout, s.ExpireInvitationsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// AdvanceCyclesJob emits the next earning for converted referrals whose
// previous cycle has matured.
func (s *Scheduler) AdvanceCyclesJob(ctx context.Context) (int, error) {
	return s.earningSvc.AdvanceDueCycles(ctx)
}

// BatchDueJob folds due earnings into per-payee payments awaiting
// approval.
func (s *Scheduler) BatchDueJob(ctx context.Context) (int, error) {
	result, err := s.paymentSvc.CreateBatches(ctx)
	if err != nil {
		return 0, err
	}
	return result.PaymentsCreated, nil
}

// DisburseApprovedJob submits approved payments to the payout gateway.
func (s *Scheduler) DisburseApprovedJob(ctx context.Context) (int, error) {
	return s.paymentSvc.ProcessApproved(ctx)
}

// ReconcileProcessingJob settles payments stuck in PROCESSING.
func (s *Scheduler) ReconcileProcessingJob(ctx context.Context) (int, error) {
	return s.paymentSvc.ReconcileProcessing(ctx)
}

// ExpireInvitationsJob sweeps overdue pending invitations.
func (s *Scheduler) ExpireInvitationsJob(ctx context.Context) (int, error) {
	expired, err := s.invitationSvc.ExpireStale(ctx)
	return int(expired), err
}

func (s *Scheduler) tryLock(ctx context.Context, job string) (string, bool, error) {
	if s.limiter == nil {
		return "", true, nil
	}
	return s.limiter.TryLockJob(ctx, job)
}

func (s *Scheduler) releaseLock(ctx context.Context, job string, token string) {
	if s.limiter == nil || token == "" {
		return
	}
	if err := s.limiter.ReleaseJob(ctx, job, token); err != nil {
		s.log.Debug("job lock release failed",
			zap.String("job", job),
			zap.Error(err),
		)
	}
}
