package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	paymentdomain "github.com/jijenga/referral/internal/payment/domain"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	"github.com/jijenga/referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubEarnings struct {
	advanced int
	calls    int
	err      error
}

func (s *stubEarnings) OnConversion(ctx context.Context, tx *gorm.DB, referral *referraldomain.Referral) error {
	return nil
}

func (s *stubEarnings) AdvanceDueCycles(ctx context.Context) (int, error) {
	s.calls++
	return s.advanced, s.err
}

type stubPayments struct {
	batchCalls     int
	disburseCalls  int
	reconcileCalls int
	disburseErr    error
}

func (s *stubPayments) CreateBatches(ctx context.Context) (*paymentdomain.BatchResult, error) {
	s.batchCalls++
	return &paymentdomain.BatchResult{PaymentsCreated: 2, EarningsAttached: 5}, nil
}

func (s *stubPayments) Approve(ctx context.Context, paymentID, adminID snowflake.ID) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrPaymentNotFound
}

func (s *stubPayments) ProcessApproved(ctx context.Context) (int, error) {
	s.disburseCalls++
	return 1, s.disburseErr
}

func (s *stubPayments) ReconcileProcessing(ctx context.Context) (int, error) {
	s.reconcileCalls++
	return 0, nil
}

func (s *stubPayments) FindByID(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrPaymentNotFound
}

func (s *stubPayments) List(ctx context.Context, filter paymentdomain.ListFilter) (*paymentdomain.ListResult, error) {
	return &paymentdomain.ListResult{}, nil
}

type stubInvitations struct {
	expireCalls int
}

func (s *stubInvitations) Invite(ctx context.Context, req invitationdomain.InviteRequest) (*invitationdomain.Invitation, error) {
	return nil, invitationdomain.ErrInvalidEmail
}

func (s *stubInvitations) FindByToken(ctx context.Context, token string) (*invitationdomain.Invitation, error) {
	return nil, invitationdomain.ErrInvitationNotFound
}

func (s *stubInvitations) Accept(ctx context.Context, tx *gorm.DB, token string) (*invitationdomain.Invitation, error) {
	return nil, invitationdomain.ErrInvitationNotFound
}

func (s *stubInvitations) ExpireStale(ctx context.Context) (int64, error) {
	s.expireCalls++
	return 3, nil
}

type fixture struct {
	sched       *Scheduler
	earnings    *stubEarnings
	payments    *stubPayments
	invitations *stubInvitations
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	f := &fixture{
		earnings:    &stubEarnings{},
		payments:    &stubPayments{},
		invitations: &stubInvitations{},
	}
	f.sched, err = New(Params{
		DB:            testutil.OpenDB(t),
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)),
		EarningSvc:    f.earnings,
		PaymentSvc:    f.payments,
		InvitationSvc: f.invitations,
		Config:        cfg,
	})
	require.NoError(t, err)
	return f
}

func TestNewRejectsMissingDeps(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsAllJobs(t *testing.T) {
	f := newFixture(t, Config{})
	f.earnings.advanced = 4

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.earnings.calls)
	assert.Equal(t, 1, f.payments.batchCalls)
	assert.Equal(t, 1, f.payments.disburseCalls)
	assert.Equal(t, 1, f.payments.reconcileCalls)
	assert.Equal(t, 1, f.invitations.expireCalls)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobAdvanceCycles, JobExpireInvitations}})

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.earnings.calls)
	assert.Equal(t, 1, f.invitations.expireCalls)
	assert.Zero(t, f.payments.batchCalls)
	assert.Zero(t, f.payments.disburseCalls)
	assert.Zero(t, f.payments.reconcileCalls)
}

func TestRunOnceCollectsJobErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.payments.disburseErr = errors.New("gateway down")

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobDisburseApproved)

	// A failing job must not starve the jobs after it.
	assert.Equal(t, 1, f.payments.reconcileCalls)
	assert.Equal(t, 1, f.invitations.expireCalls)
}

func TestRunOnceSwallowsTimeouts(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobAdvanceCycles}})
	f.earnings.err = context.DeadlineExceeded

	assert.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.earnings.calls)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)

	custom := Config{RunInterval: 5 * time.Second, JobTimeout: time.Second}.withDefaults()
	assert.Equal(t, 5*time.Second, custom.RunInterval)
	assert.Equal(t, time.Second, custom.JobTimeout)
}
