package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	"github.com/jijenga/referral/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const invitationTTL = 7 * 24 * time.Hour

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Email  email.Provider
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.Config
	email email.Provider
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invitation.service"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Config,
		email: p.Email,
	}
}

func (s *Service) Invite(ctx context.Context, req invitationdomain.InviteRequest) (*invitationdomain.Invitation, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return nil, invitationdomain.ErrInvalidEmail
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	inv := invitationdomain.Invitation{
		ID:        s.genID.Generate(),
		Email:     emailAddr,
		Token:     token,
		Status:    invitationdomain.StatusPending,
		InvitedBy: req.InvitedBy,
		ExpiresAt: now.Add(invitationTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, err
	}

	s.sendInviteEmail(ctx, &inv)

	return &inv, nil
}

func (s *Service) FindByToken(ctx context.Context, token string) (*invitationdomain.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invitationdomain.ErrInvitationNotFound
	}

	var inv invitationdomain.Invitation
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invitationdomain.ErrInvitationNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// Accept flips the invitation PENDING -> ACCEPTED with a guarded update so a
// token can only ever be consumed once, even under concurrent registration.
func (s *Service) Accept(ctx context.Context, tx *gorm.DB, token string) (*invitationdomain.Invitation, error) {
	if tx == nil {
		tx = s.db
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invitationdomain.ErrInvitationNotFound
	}

	now := s.clock.Now()
	res := tx.WithContext(ctx).Exec(
		`UPDATE invitations
		 SET status = ?, accepted_at = ?, updated_at = ?
		 WHERE token = ? AND status = ? AND expires_at > ?`,
		invitationdomain.StatusAccepted,
		now,
		now,
		token,
		invitationdomain.StatusPending,
		now,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		inv, err := s.findByTokenTx(ctx, tx, token)
		if err != nil {
			return nil, err
		}
		switch inv.Status {
		case invitationdomain.StatusAccepted:
			return nil, invitationdomain.ErrInvitationAccepted
		default:
			return nil, invitationdomain.ErrInvitationExpired
		}
	}

	return s.findByTokenTx(ctx, tx, token)
}

func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE invitations
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND expires_at <= ?`,
		invitationdomain.StatusExpired,
		now,
		invitationdomain.StatusPending,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *Service) findByTokenTx(ctx context.Context, tx *gorm.DB, token string) (*invitationdomain.Invitation, error) {
	var inv invitationdomain.Invitation
	err := tx.WithContext(ctx).Where("token = ?", token).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invitationdomain.ErrInvitationNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Service) sendInviteEmail(ctx context.Context, inv *invitationdomain.Invitation) {
	inviteURL := strings.TrimRight(s.cfg.ReferralBaseURL, "/") + "/register?token=" + inv.Token
	err := s.email.SendTemplate(ctx, []string{inv.Email}, "invitation", map[string]interface{}{
		"invite_url": inviteURL,
		"expires_at": inv.ExpiresAt.Format(time.RFC1123),
	})
	if err != nil {
		// Delivery failures must not lose the invitation row.
		s.log.Warn("failed to send invitation email",
			zap.Int64("invitation_id", int64(inv.ID)),
			zap.Error(err),
		)
	}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ invitationdomain.Service = (*Service)(nil)
