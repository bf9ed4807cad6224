package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jijenga/referral/internal/auth/domain"
	"github.com/jijenga/referral/internal/auth/password"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	userdomain "github.com/jijenga/referral/internal/user/domain"
	"github.com/jijenga/referral/pkg/db"
	"github.com/jijenga/referral/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLen = 8

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Users       repository.Repository[userdomain.User]
	Admins      repository.Repository[userdomain.AdminUser]
	Invitations invitationdomain.Service
	Links       linkdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	jwtSecret   []byte
	tokenTTL    time.Duration
	users       repository.Repository[userdomain.User]
	admins      repository.Repository[userdomain.AdminUser]
	invitations invitationdomain.Service
	links       linkdomain.Service
}

func NewService(p Params) *Service {
	ttl := time.Duration(p.Config.AuthTokenTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("auth.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		jwtSecret:   []byte(p.Config.AuthJWTSecret),
		tokenTTL:    ttl,
		users:       p.Users,
		admins:      p.Admins,
		invitations: p.Invitations,
		links:       p.Links,
	}
}

type tokenClaims struct {
	Kind string `json:"kind"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) RegisterParticipant(ctx context.Context, req domain.RegisterRequest) (*domain.RegisterResult, error) {
	req.InviteToken = strings.TrimSpace(req.InviteToken)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.InviteToken == "" || req.PhoneNumber == "" {
		return nil, domain.ErrInvalidCredentials
	}
	if len(req.Password) < minPasswordLen {
		return nil, domain.ErrWeakPassword
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := userdomain.User{
		ID:           s.genID.Generate(),
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		CreatedAt:    s.clock.Now(),
		UpdatedAt:    s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invitation, err := s.invitations.Accept(ctx, tx, req.InviteToken)
		if err != nil {
			return err
		}
		user.Email = strings.ToLower(invitation.Email)
		if err := s.users.WithTrx(tx).Create(ctx, &user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrUserExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The link allocator retries on code collisions, which poisons an
	// enclosing transaction on conflict, so it runs after the commit. A
	// participant without a link gets one lazily on first link fetch.
	link, err := s.links.Allocate(ctx, user.ID)
	if err != nil && !errors.Is(err, linkdomain.ErrLinkExists) {
		s.log.Error("referral link allocation failed after registration",
			zap.Int64("user_id", int64(user.ID)),
			zap.Error(err),
		)
		link = nil
	}

	return &domain.RegisterResult{User: &user, Link: link}, nil
}

func (s *Service) LoginParticipant(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.users.FindOne(ctx, &userdomain.User{Email: email})
	if err != nil {
		return nil, err
	}
	if user == nil || !password.Verify(req.Password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issue(domain.Principal{
		ID:    user.ID,
		Email: user.Email,
		Kind:  domain.KindParticipant,
	})
}

func (s *Service) LoginAdmin(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	admin, err := s.admins.FindOne(ctx, &userdomain.AdminUser{Email: email})
	if err != nil {
		return nil, err
	}
	if admin == nil || !password.Verify(req.Password, admin.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.issue(domain.Principal{
		ID:    admin.ID,
		Email: admin.Email,
		Kind:  domain.KindAdmin,
		Role:  string(admin.Role),
	})
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, domain.ErrInvalidToken
	}

	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	id, err := snowflake.ParseString(claims.Subject)
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidToken
	}

	kind := domain.PrincipalKind(claims.Kind)
	switch kind {
	case domain.KindParticipant, domain.KindAdmin:
	default:
		return nil, domain.ErrInvalidToken
	}

	principal := domain.Principal{ID: id, Kind: kind, Role: claims.Role}

	// Admin roles can change between issue and use; re-read them.
	if kind == domain.KindAdmin {
		admin, err := s.admins.FindOne(ctx, &userdomain.AdminUser{ID: id})
		if err != nil {
			return nil, err
		}
		if admin == nil {
			return nil, domain.ErrInvalidToken
		}
		principal.Email = admin.Email
		principal.Role = string(admin.Role)
	}
	return &principal, nil
}

func (s *Service) issue(principal domain.Principal) (*domain.LoginResult, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.tokenTTL)

	claims := tokenClaims{
		Kind: string(principal.Kind),
		Role: principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResult{
		Token:     signed,
		ExpiresAt: expiresAt,
		Principal: principal,
	}, nil
}

var _ domain.Service = (*Service)(nil)
