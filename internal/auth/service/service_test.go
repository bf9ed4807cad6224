package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/auth/domain"
	"github.com/jijenga/referral/internal/auth/password"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	invitationservice "github.com/jijenga/referral/internal/invitation/service"
	"github.com/jijenga/referral/internal/providers/email"
	linkrepo "github.com/jijenga/referral/internal/referrallink/repository"
	linkservice "github.com/jijenga/referral/internal/referrallink/service"
	"github.com/jijenga/referral/internal/testutil"
	userdomain "github.com/jijenga/referral/internal/user/domain"
	"github.com/jijenga/referral/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	node        *snowflake.Node
	svc         *Service
	invitations invitationdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb := testutil.OpenDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	cfg := config.Config{
		ReferralBaseURL: "http://localhost:8080",
		AuthJWTSecret:   "test-secret",
		AuthTokenTTLMin: 60,
	}

	invitationSvc := invitationservice.NewService(invitationservice.Params{
		DB:     gdb,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Config: cfg,
		Email:  &email.NoOpProvider{},
	})

	linkSvc := linkservice.NewService(linkservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  linkrepo.Provide(),
	})

	svc := NewService(Params{
		DB:          gdb,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Config:      cfg,
		Users:       repository.ProvideStore[userdomain.User](gdb),
		Admins:      repository.ProvideStore[userdomain.AdminUser](gdb),
		Invitations: invitationSvc,
		Links:       linkSvc,
	})

	return &fixture{db: gdb, clock: fakeClock, node: node, svc: svc, invitations: invitationSvc}
}

func (f *fixture) invite(t *testing.T, addr string) *invitationdomain.Invitation {
	t.Helper()
	inv, err := f.invitations.Invite(context.Background(), invitationdomain.InviteRequest{Email: addr})
	require.NoError(t, err)
	return inv
}

func (f *fixture) register(t *testing.T, token, phone string) *domain.RegisterResult {
	t.Helper()
	result, err := f.svc.RegisterParticipant(context.Background(), domain.RegisterRequest{
		InviteToken: token,
		PhoneNumber: phone,
		FullName:    "Wanjiku Test",
		Password:    "correct-horse",
	})
	require.NoError(t, err)
	return result
}

func TestRegisterParticipant(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t, "Wanjiku@Example.com")

	result := f.register(t, inv.Token, "+254700000001")
	assert.Equal(t, "wanjiku@example.com", result.User.Email)
	require.NotNil(t, result.Link, "registration allocates the referral link")
	assert.Equal(t, result.User.ID, result.Link.OwnerUserID)
	assert.Len(t, result.Link.Code, 8)

	// The invitation is consumed.
	_, err := f.svc.RegisterParticipant(context.Background(), domain.RegisterRequest{
		InviteToken: inv.Token,
		PhoneNumber: "+254700000002",
		Password:    "correct-horse",
	})
	assert.ErrorIs(t, err, invitationdomain.ErrInvitationAccepted)
}

func TestRegisterWeakPassword(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t, "a@example.com")

	_, err := f.svc.RegisterParticipant(context.Background(), domain.RegisterRequest{
		InviteToken: inv.Token,
		PhoneNumber: "+254700000001",
		Password:    "short",
	})
	assert.ErrorIs(t, err, domain.ErrWeakPassword)
}

func TestRegisterExpiredInvitation(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t, "a@example.com")

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.svc.RegisterParticipant(context.Background(), domain.RegisterRequest{
		InviteToken: inv.Token,
		PhoneNumber: "+254700000001",
		Password:    "correct-horse",
	})
	assert.ErrorIs(t, err, invitationdomain.ErrInvitationExpired)
}

func TestRegisterDuplicatePhoneRollsBackInvitation(t *testing.T) {
	f := newFixture(t)
	first := f.invite(t, "a@example.com")
	f.register(t, first.Token, "+254700000001")

	second := f.invite(t, "b@example.com")
	_, err := f.svc.RegisterParticipant(context.Background(), domain.RegisterRequest{
		InviteToken: second.Token,
		PhoneNumber: "+254700000001",
		Password:    "correct-horse",
	})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	// The rejected registration must not burn the invitation.
	inv, err := f.invitations.FindByToken(context.Background(), second.Token)
	require.NoError(t, err)
	assert.Equal(t, invitationdomain.StatusPending, inv.Status)
}

func TestLoginAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t, "a@example.com")
	registered := f.register(t, inv.Token, "+254700000001")

	login, err := f.svc.LoginParticipant(context.Background(), domain.LoginRequest{
		Email:    "A@Example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)

	principal, err := f.svc.Authenticate(context.Background(), login.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, principal.ID)
	assert.Equal(t, domain.KindParticipant, principal.Kind)

	_, err = f.svc.LoginParticipant(context.Background(), domain.LoginRequest{
		Email:    "a@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t, "a@example.com")
	f.register(t, inv.Token, "+254700000001")

	login, err := f.svc.LoginParticipant(context.Background(), domain.LoginRequest{
		Email:    "a@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Authenticate(context.Background(), login.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAuthenticateGarbageToken(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := f.svc.Authenticate(context.Background(), raw)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	}
}

func TestLoginAdminCarriesRole(t *testing.T) {
	f := newFixture(t)

	hash, err := password.Hash("finance-pass")
	require.NoError(t, err)
	adminID := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO admin_users (id, email, password_hash, role) VALUES (?, 'fin@example.com', ?, 'FINANCE')`,
		adminID, hash,
	).Error)

	login, err := f.svc.LoginAdmin(context.Background(), domain.LoginRequest{
		Email:    "fin@example.com",
		Password: "finance-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, string(userdomain.RoleFinance), login.Principal.Role)

	principal, err := f.svc.Authenticate(context.Background(), login.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.KindAdmin, principal.Kind)
	assert.Equal(t, string(userdomain.RoleFinance), principal.Role)
	assert.Equal(t, "admin:"+adminID.String(), principal.Actor())
}
