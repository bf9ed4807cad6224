package service

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	"github.com/jijenga/referral/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// codeAlphabet omits visually ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength          = 8
	maxAllocateAttempts = 5
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  linkdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  linkdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("referrallink.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Allocate(ctx context.Context, ownerUserID snowflake.ID) (*linkdomain.ReferralLink, error) {
	if existing, err := s.repo.FindByOwner(ctx, s.db, ownerUserID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, linkdomain.ErrLinkExists
	}

	now := s.clock.Now()
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}

		link := linkdomain.ReferralLink{
			ID:          s.genID.Generate(),
			OwnerUserID: ownerUserID,
			Code:        code,
			Status:      linkdomain.StatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = s.repo.Insert(ctx, s.db, &link)
		if err == nil {
			return &link, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}

		// The owner unique constraint also lands here when two requests
		// race; surface that as an existing link rather than retrying.
		if existing, findErr := s.repo.FindByOwner(ctx, s.db, ownerUserID); findErr == nil && existing != nil {
			return nil, linkdomain.ErrLinkExists
		}

		s.log.Debug("code collision, retrying",
			zap.String("code", code),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, linkdomain.ErrAllocationExhausted
}

func (s *Service) FindByCode(ctx context.Context, code string) (*linkdomain.ReferralLink, error) {
	link, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, linkdomain.ErrLinkNotFound
	}
	return link, nil
}

func (s *Service) FindByOwner(ctx context.Context, ownerUserID snowflake.ID) (*linkdomain.ReferralLink, error) {
	link, err := s.repo.FindByOwner(ctx, s.db, ownerUserID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, linkdomain.ErrLinkNotFound
	}
	return link, nil
}

func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

var _ linkdomain.Service = (*Service)(nil)
