package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	"github.com/jijenga/referral/internal/invitation/domain"
	"github.com/jijenga/referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturingEmail struct {
	to   [][]string
	data []map[string]interface{}
}

func (c *capturingEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	c.to = append(c.to, to)
	return nil
}

func (c *capturingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	c.to = append(c.to, to)
	if m, ok := data.(map[string]interface{}); ok {
		c.data = append(c.data, m)
	}
	return nil
}

func newFixture(t *testing.T) (*Service, *clock.FakeClock, *capturingEmail) {
	t.Helper()

	gdb := testutil.OpenDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	mail := &capturingEmail{}
	svc := NewService(Params{
		DB:     gdb,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Config: config.Config{ReferralBaseURL: "http://localhost:8080"},
		Email:  mail,
	})
	return svc, fakeClock, mail
}

func TestInvite(t *testing.T) {
	svc, fakeClock, mail := newFixture(t)

	inv, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "  Njeri@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "njeri@example.com", inv.Email)
	assert.Equal(t, domain.StatusPending, inv.Status)
	assert.NotEmpty(t, inv.Token)
	assert.Equal(t, fakeClock.Now().Add(7*24*time.Hour), inv.ExpiresAt)

	require.Len(t, mail.to, 1)
	assert.Equal(t, []string{"njeri@example.com"}, mail.to[0])
	require.Len(t, mail.data, 1)
	assert.Contains(t, mail.data[0]["invite_url"], "/register?token="+inv.Token)
}

func TestInviteRejectsBadEmail(t *testing.T) {
	svc, _, mail := newFixture(t)

	for _, addr := range []string{"", "   ", "no-at-sign"} {
		_, err := svc.Invite(context.Background(), domain.InviteRequest{Email: addr})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail, "email %q", addr)
	}
	assert.Empty(t, mail.to)
}

func TestFindByToken(t *testing.T) {
	svc, _, _ := newFixture(t)
	inv, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "a@example.com"})
	require.NoError(t, err)

	found, err := svc.FindByToken(context.Background(), inv.Token)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, found.ID)

	_, err = svc.FindByToken(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, domain.ErrInvitationNotFound)

	_, err = svc.FindByToken(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
}

func TestAcceptIsSingleUse(t *testing.T) {
	svc, fakeClock, _ := newFixture(t)
	inv, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "a@example.com"})
	require.NoError(t, err)

	accepted, err := svc.Accept(context.Background(), nil, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)
	assert.WithinDuration(t, fakeClock.Now(), *accepted.AcceptedAt, time.Second)

	_, err = svc.Accept(context.Background(), nil, inv.Token)
	assert.ErrorIs(t, err, domain.ErrInvitationAccepted)
}

func TestAcceptExpiredToken(t *testing.T) {
	svc, fakeClock, _ := newFixture(t)
	inv, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "a@example.com"})
	require.NoError(t, err)

	fakeClock.Advance(7*24*time.Hour + time.Minute)
	_, err = svc.Accept(context.Background(), nil, inv.Token)
	assert.ErrorIs(t, err, domain.ErrInvitationExpired)

	_, err = svc.Accept(context.Background(), nil, "no-such-token")
	assert.ErrorIs(t, err, domain.ErrInvitationNotFound)
}

func TestExpireStale(t *testing.T) {
	svc, fakeClock, _ := newFixture(t)

	stale, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "old@example.com"})
	require.NoError(t, err)
	used, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "used@example.com"})
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), nil, used.Token)
	require.NoError(t, err)

	fakeClock.Advance(6 * 24 * time.Hour)
	fresh, err := svc.Invite(context.Background(), domain.InviteRequest{Email: "new@example.com"})
	require.NoError(t, err)

	fakeClock.Advance(2 * 24 * time.Hour)
	n, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the stale pending invitation expires")

	got, err := svc.FindByToken(context.Background(), stale.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	got, err = svc.FindByToken(context.Background(), fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}
