package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	"github.com/jijenga/referral/internal/payment/domain"
	"github.com/jijenga/referral/internal/providers/email"
	"github.com/jijenga/referral/internal/providers/mpesa"
	"github.com/jijenga/referral/pkg/db/pagination"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	batchEarningsLimit    = 500
	disburseClaimLimit    = 50
	reconcileClaimLimit   = 50
	// A payment left PROCESSING longer than this with no settled gateway
	// outcome is failed rather than retried forever.
	reconcileRetryWindow = 72 * time.Hour
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Gateway    mpesa.Gateway
	Email      email.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateway    mpesa.Gateway
	email      email.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		email:      p.Email,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateBatches(ctx context.Context) (*domain.BatchResult, error) {
	result := &domain.BatchResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		earnings, err := s.repo.LockDueEarnings(ctx, tx, now, batchEarningsLimit)
		if err != nil {
			return err
		}
		if len(earnings) == 0 {
			return nil
		}

		batchID := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
		result.BatchID = batchID

		byPayee := make(map[snowflake.ID][]*earningdomain.Earning)
		order := make([]snowflake.ID, 0)
		for _, earning := range earnings {
			if _, seen := byPayee[earning.PayeeUserID]; !seen {
				order = append(order, earning.PayeeUserID)
			}
			byPayee[earning.PayeeUserID] = append(byPayee[earning.PayeeUserID], earning)
		}

		for _, payeeID := range order {
			group := byPayee[payeeID]
			var total int64
			ids := make([]snowflake.ID, 0, len(group))
			for _, earning := range group {
				total += earning.AmountCents
				ids = append(ids, earning.ID)
			}

			payment := domain.Payment{
				ID:               s.genID.Generate(),
				BatchID:          batchID,
				PayeeUserID:      payeeID,
				TotalAmountCents: total,
				Currency:         group[0].Currency,
				Status:           domain.StatusPendingDisbursement,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			payment.IdempotencyToken = disbursementToken(payment.ID)
			if err := s.repo.Insert(ctx, tx, &payment); err != nil {
				return err
			}

			attached, err := s.repo.AttachEarnings(ctx, tx, payment.ID, ids)
			if err != nil {
				return err
			}
			if attached != int64(len(ids)) {
				// A claimed earning changed under us; the lock should make
				// this impossible, so give up the whole batch.
				return domain.ErrPaymentImmutable
			}

			result.PaymentsCreated++
			result.EarningsAttached += int(attached)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.PaymentsCreated > 0 {
		s.log.Info("payment batch created",
			zap.String("batch_id", result.BatchID),
			zap.Int("payments", result.PaymentsCreated),
			zap.Int("earnings", result.EarningsAttached),
		)
	}
	return result, nil
}

func (s *Service) Approve(ctx context.Context, paymentID snowflake.ID, adminID snowflake.ID) (*domain.Payment, error) {
	var approved *domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.ApprovedAt != nil {
			return domain.ErrAlreadyApproved
		}
		if payment.Status != domain.StatusPendingDisbursement {
			return domain.ErrNotApprovable
		}

		now := s.clock.Now()
		ok, err := s.repo.MarkApproved(ctx, tx, paymentID, adminID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyApproved
		}
		payment.ApprovedBy = &adminID
		payment.ApprovedAt = &now
		approved = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment approved",
		zap.Int64("payment_id", int64(paymentID)),
		zap.Int64("approved_by", int64(adminID)),
	)
	return approved, nil
}

func (s *Service) ProcessApproved(ctx context.Context) (int, error) {
	var claimed []*domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = s.repo.ClaimApprovedForDisbursement(ctx, tx, s.clock.Now(), disburseClaimLimit)
		return err
	})
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, payment := range claimed {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if s.disburse(ctx, payment) {
			settled++
		}
	}
	return settled, nil
}

// disburse submits one PROCESSING payment to the gateway and settles any
// definitive outcome. The gateway call runs outside a database
// transaction: the idempotency token makes a resend after a crash safe.
func (s *Service) disburse(ctx context.Context, payment *domain.Payment) bool {
	contact, err := s.repo.PayeeContact(ctx, s.db, payment.PayeeUserID)
	if err != nil || contact == nil {
		s.log.Error("payee contact lookup failed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Error(err),
		)
		return false
	}

	result, err := s.gateway.Disburse(ctx, mpesa.DisburseRequest{
		IdempotencyToken: payment.IdempotencyToken,
		PhoneNumber:      contact.PhoneNumber,
		AmountCents:      payment.TotalAmountCents,
		Currency:         payment.Currency,
		Remarks:          "Referral reward " + payment.BatchID,
	})
	if err != nil {
		s.log.Warn("disbursement submit failed, leaving payment processing",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Error(err),
		)
		return false
	}
	return s.settle(ctx, payment, contact, result)
}

func (s *Service) ReconcileProcessing(ctx context.Context) (int, error) {
	var stuck []*domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stuck, err = s.repo.LockProcessing(ctx, tx, reconcileClaimLimit)
		return err
	})
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, payment := range stuck {
		if err := ctx.Err(); err != nil {
			return settled, err
		}

		result, err := s.gateway.QueryStatus(ctx, payment.IdempotencyToken)
		switch {
		case err == mpesa.ErrUnknownToken:
			// The original submit never reached the gateway, so resending
			// the same token cannot double-pay.
			if err := s.repo.IncrementAttempts(ctx, s.db, payment.ID); err != nil {
				s.log.Error("attempt counter update failed",
					zap.Int64("payment_id", int64(payment.ID)),
					zap.Error(err),
				)
				continue
			}
			if s.disburse(ctx, payment) {
				settled++
			}
			continue
		case err != nil:
			s.log.Warn("gateway status query failed",
				zap.Int64("payment_id", int64(payment.ID)),
				zap.Error(err),
			)
			continue
		}

		contact, cerr := s.repo.PayeeContact(ctx, s.db, payment.PayeeUserID)
		if cerr != nil {
			s.log.Error("payee contact lookup failed",
				zap.Int64("payment_id", int64(payment.ID)),
				zap.Error(cerr),
			)
			continue
		}
		if s.settle(ctx, payment, contact, result) {
			settled++
		}
	}
	return settled, nil
}

// settle applies a gateway verdict. Returns true when the payment reached
// a terminal state in this call.
func (s *Service) settle(ctx context.Context, payment *domain.Payment, contact *domain.PayeeContact, result mpesa.DisburseResult) bool {
	now := s.clock.Now()

	switch result.Outcome {
	case mpesa.OutcomeSuccess:
		var won bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := s.repo.SettleSuccess(ctx, tx, payment.ID, result.TransactionID, now)
			if err != nil {
				return err
			}
			won = ok
			if !ok {
				return nil
			}
			return s.repo.CascadeEarnings(ctx, tx, payment.ID, earningdomain.StatusPaid)
		})
		if err != nil {
			s.log.Error("payment settlement failed",
				zap.Int64("payment_id", int64(payment.ID)),
				zap.Error(err),
			)
			return false
		}
		if !won {
			return false
		}
		s.recordOutcome(ctx, string(domain.StatusSuccess))
		s.log.Info("payment disbursed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.String("mpesa_transaction_id", result.TransactionID),
		)
		s.sendPayoutEmail(ctx, payment, contact, result.TransactionID)
		return true

	case mpesa.OutcomeFailed:
		return s.fail(ctx, payment, result.FailureReason, now)

	default:
		// Still pending at the gateway. Time out payments whose retry
		// window has elapsed so earnings do not hang forever.
		if payment.FirstAttemptedAt != nil && now.Sub(*payment.FirstAttemptedAt) > reconcileRetryWindow {
			return s.fail(ctx, payment, "disbursement unresolved after retry window", now)
		}
		return false
	}
}

func (s *Service) fail(ctx context.Context, payment *domain.Payment, reason string, now time.Time) bool {
	if reason == "" {
		reason = "disbursement rejected"
	}
	var won bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.SettleFailure(ctx, tx, payment.ID, reason, now)
		if err != nil {
			return err
		}
		won = ok
		if !ok {
			return nil
		}
		return s.repo.CascadeEarnings(ctx, tx, payment.ID, earningdomain.StatusFailed)
	})
	if err != nil {
		s.log.Error("payment failure settlement failed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Error(err),
		)
		return false
	}
	if !won {
		return false
	}
	s.recordOutcome(ctx, string(domain.StatusFailed))
	s.log.Warn("payment failed",
		zap.Int64("payment_id", int64(payment.ID)),
		zap.String("reason", reason),
	)
	return true
}

func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) (*domain.ListResult, error) {
	limit := filter.PageSize
	if limit <= 0 {
		limit = 20
	}

	var afterID snowflake.ID
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeCursor(filter.PageToken)
		if err != nil {
			return nil, err
		}
		parsed, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, err
		}
		afterID = snowflake.ID(parsed)
	}

	payments, err := s.repo.List(ctx, s.db, filter.Status, filter.BatchID, afterID, limit+1)
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(payments, limit, func(p *domain.Payment) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: strconv.FormatInt(int64(p.ID), 10)})
		return token
	})
	if len(payments) > limit {
		payments = payments[:limit]
	}
	return &domain.ListResult{Payments: payments, PageInfo: pageInfo}, nil
}

func (s *Service) recordOutcome(ctx context.Context, status string) {
	obsmetrics.Scheduler().IncPaymentOutcome(status)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDisbursement(ctx, status)
	}
}

func (s *Service) sendPayoutEmail(ctx context.Context, payment *domain.Payment, contact *domain.PayeeContact, transactionID string) {
	if contact == nil || contact.Email == "" {
		return
	}
	data := map[string]any{
		"Amount":        fmt.Sprintf("%s %d.%02d", payment.Currency, payment.TotalAmountCents/100, payment.TotalAmountCents%100),
		"TransactionID": transactionID,
		"PhoneNumber":   contact.PhoneNumber,
	}
	if err := s.email.SendTemplate(ctx, []string{contact.Email}, "payout_completed", data); err != nil {
		s.log.Warn("payout email failed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Error(err),
		)
	}
}

// disbursementToken derives the gateway idempotency token from the
// payment ID, so a re-submission after a crash carries the same token.
func disbursementToken(id snowflake.ID) string {
	return "payout-" + strconv.FormatInt(int64(id), 10)
}

var _ domain.Service = (*Service)(nil)
