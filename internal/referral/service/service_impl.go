package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	obsmetrics "github.com/jijenga/referral/internal/observability/metrics"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	"github.com/jijenga/referral/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       referraldomain.Repository
	LinkRepo   linkdomain.Repository
	Earnings   earningdomain.Scheduler
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       referraldomain.Repository
	linkRepo   linkdomain.Repository
	earnings   earningdomain.Scheduler
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("referral.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		linkRepo:   p.LinkRepo,
		earnings:   p.Earnings,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest absorbs one external delivery. The ProcessedEvent insert and the
// state transition share a transaction: a crash before commit leaves no
// partial effect, so a redelivery after a crash is indistinguishable from a
// first delivery.
func (s *Service) Ingest(ctx context.Context, req referraldomain.IngestRequest) (referraldomain.IngestOutcome, error) {
	if err := validateIngest(&req); err != nil {
		return "", err
	}

	outcome := referraldomain.OutcomeApplied
	var transitionFrom, transitionTo referraldomain.ReferralStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := referraldomain.ProcessedEvent{
			ID:             s.genID.Generate(),
			IdempotencyKey: req.IdempotencyKey,
			EventType:      string(req.Kind),
			Payload:        datatypes.JSON(req.Payload),
			AppliedAt:      s.clock.Now(),
		}
		inserted, err := s.repo.InsertProcessedEvent(ctx, tx, &event)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = referraldomain.OutcomeDuplicate
			return nil
		}

		var referral *referraldomain.Referral
		switch req.Kind {
		case referraldomain.EventSignup:
			referral, transitionFrom, err = s.applySignup(ctx, tx, req)
		case referraldomain.EventConversion:
			referral, transitionFrom, err = s.applyConversion(ctx, tx, req)
		}
		if err != nil {
			return err
		}
		transitionTo = referral.Status

		return s.repo.SetProcessedEventReferral(ctx, tx, event.ID, referral.ID)
	})
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordEventIntake(ctx, string(req.Kind), "rejected")
		}
		return "", err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventIntake(ctx, string(req.Kind), strings.ToLower(string(outcome)))
		if outcome == referraldomain.OutcomeApplied {
			s.obsMetrics.RecordReferralTransition(ctx, string(transitionFrom), string(transitionTo))
		}
	}
	return outcome, nil
}

func (s *Service) applySignup(ctx context.Context, tx *gorm.DB, req referraldomain.IngestRequest) (*referraldomain.Referral, referraldomain.ReferralStatus, error) {
	link, err := s.resolveActiveLink(ctx, tx, req.ReferralCode)
	if err != nil {
		return nil, "", err
	}

	now := s.clock.Now()

	if existing, err := s.repo.FindReferralByExternalID(ctx, tx, req.ExternalReferredID); err != nil {
		return nil, "", err
	} else if existing != nil {
		if !existing.Status.CanTransition(referraldomain.StatusSignedUp) {
			return nil, "", referraldomain.ErrInvalidTransition
		}
		ok, err := s.repo.MarkSignedUp(ctx, tx, existing.ID, req.ExternalReferredID, now)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", referraldomain.ErrInvalidTransition
		}
		existing.Status = referraldomain.StatusSignedUp
		existing.SignedUpAt = &now
		return existing, referraldomain.StatusPending, nil
	}

	// Claim the link's unclaimed first-click referral if one exists.
	if placeholder, err := s.repo.FindPlaceholderForUpdate(ctx, tx, link.ID); err != nil {
		return nil, "", err
	} else if placeholder != nil {
		ok, err := s.repo.MarkSignedUp(ctx, tx, placeholder.ID, req.ExternalReferredID, now)
		if err != nil {
			return nil, "", err
		}
		if ok {
			placeholder.Status = referraldomain.StatusSignedUp
			placeholder.ExternalReferredID = &req.ExternalReferredID
			placeholder.SignedUpAt = &now
			return placeholder, referraldomain.StatusPending, nil
		}
		// Lost the claim race; fall through to a fresh row.
	}

	externalID := req.ExternalReferredID
	referral := referraldomain.Referral{
		ID:                 s.genID.Generate(),
		ReferralLinkID:     link.ID,
		ExternalReferredID: &externalID,
		Status:             referraldomain.StatusSignedUp,
		SignedUpAt:         &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.InsertReferral(ctx, tx, &referral); err != nil {
		return nil, "", err
	}
	return &referral, referraldomain.StatusPending, nil
}

func (s *Service) applyConversion(ctx context.Context, tx *gorm.DB, req referraldomain.IngestRequest) (*referraldomain.Referral, referraldomain.ReferralStatus, error) {
	referral, err := s.repo.FindReferralByExternalID(ctx, tx, req.ExternalReferredID)
	if err != nil {
		return nil, "", err
	}
	if referral == nil {
		return nil, "", referraldomain.ErrReferralNotFound
	}

	if req.ReferralCode != "" {
		link, err := s.resolveActiveLink(ctx, tx, req.ReferralCode)
		if err != nil {
			return nil, "", err
		}
		if link.ID != referral.ReferralLinkID {
			return nil, "", referraldomain.ErrReferralNotFound
		}
	}

	from := referral.Status
	if !from.CanTransition(referraldomain.StatusConverted) {
		// A replayed conversion under a fresh idempotency key must not
		// double-credit; only the recorded key is treated as duplicate.
		return nil, "", referraldomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	ok, err := s.repo.MarkConverted(ctx, tx, referral.ID, now)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", referraldomain.ErrInvalidTransition
	}
	referral.Status = referraldomain.StatusConverted
	referral.ConvertedAt = &now

	if err := s.linkRepo.IncrementConversions(ctx, tx, referral.ReferralLinkID); err != nil {
		return nil, "", err
	}

	// Conversion and the first earning are atomic: both commit or neither.
	if err := s.earnings.OnConversion(ctx, tx, referral); err != nil {
		return nil, "", err
	}

	return referral, from, nil
}

// Click tracks a visit. The first click materializes the link's PENDING
// referral; later clicks only bump the counter.
func (s *Service) Click(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return linkdomain.ErrLinkNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.linkRepo.IncrementClicks(ctx, tx, code)
		if err != nil {
			return err
		}
		if !ok {
			link, err := s.linkRepo.FindByCode(ctx, tx, code)
			if err != nil {
				return err
			}
			if link == nil {
				return linkdomain.ErrLinkNotFound
			}
			return linkdomain.ErrLinkInactive
		}

		link, err := s.linkRepo.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		placeholder := referraldomain.Referral{
			ID:             s.genID.Generate(),
			ReferralLinkID: link.ID,
			Status:         referraldomain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := s.repo.EnsurePlaceholder(ctx, tx, &placeholder); err != nil {
			// The partial unique index is the backstop for racing clicks.
			if db.IsDuplicateKeyErr(err) {
				return nil
			}
			return err
		}
		return nil
	})
}

func (s *Service) FindByID(ctx context.Context, id int64) (*referraldomain.Referral, error) {
	referral, err := s.repo.FindReferralByID(ctx, s.db, snowflake.ID(id))
	if err != nil {
		return nil, err
	}
	if referral == nil {
		return nil, referraldomain.ErrReferralNotFound
	}
	return referral, nil
}

func (s *Service) resolveActiveLink(ctx context.Context, tx *gorm.DB, code string) (*linkdomain.ReferralLink, error) {
	link, err := s.linkRepo.FindByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if link == nil || link.Status != linkdomain.StatusActive {
		return nil, linkdomain.ErrLinkNotFound
	}
	return link, nil
}

func validateIngest(req *referraldomain.IngestRequest) error {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.ExternalReferredID = strings.TrimSpace(req.ExternalReferredID)
	req.ReferralCode = strings.ToUpper(strings.TrimSpace(req.ReferralCode))

	if req.IdempotencyKey == "" || req.ExternalReferredID == "" {
		return referraldomain.ErrInvalidEvent
	}
	switch req.Kind {
	case referraldomain.EventSignup:
		if req.ReferralCode == "" {
			return referraldomain.ErrInvalidEvent
		}
	case referraldomain.EventConversion:
	default:
		return referraldomain.ErrInvalidEvent
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return referraldomain.ErrInvalidEvent
	}
	return nil
}

var _ referraldomain.Service = (*Service)(nil)
