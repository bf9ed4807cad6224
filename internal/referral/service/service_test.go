package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	"github.com/jijenga/referral/internal/config"
	earningrepo "github.com/jijenga/referral/internal/earning/repository"
	earningservice "github.com/jijenga/referral/internal/earning/service"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	referralrepo "github.com/jijenga/referral/internal/referral/repository"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	linkrepo "github.com/jijenga/referral/internal/referrallink/repository"
	"github.com/jijenga/referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   *Service
	link  linkdomain.ReferralLink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb := testutil.OpenDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	earningSvc := earningservice.NewService(earningservice.Params{
		DB:      gdb,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fakeClock,
		Repo:    earningrepo.Provide(),
		Program: config.NewStaticProgramConfigHolder(config.DefaultProgramConfig()),
	})

	svc := NewService(Params{
		DB:       gdb,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Repo:     referralrepo.Provide(),
		LinkRepo: linkrepo.Provide(),
		Earnings: earningSvc,
	})

	f := &fixture{db: gdb, clock: fakeClock, svc: svc}

	ownerID := node.Generate()
	require.NoError(t, gdb.Exec(
		`INSERT INTO users (id, email, phone_number, password_hash) VALUES (?, ?, ?, ?)`,
		ownerID, "owner@example.com", "+254700000001", "x",
	).Error)

	f.link = linkdomain.ReferralLink{
		ID:          node.Generate(),
		OwnerUserID: ownerID,
		Code:        "WXYZ2345",
		Status:      linkdomain.StatusActive,
		CreatedAt:   fakeClock.Now(),
		UpdatedAt:   fakeClock.Now(),
	}
	require.NoError(t, linkrepo.Provide().Insert(context.Background(), gdb, &f.link))

	return f
}

func (f *fixture) signup(t *testing.T, key, externalID string) referraldomain.IngestOutcome {
	t.Helper()
	outcome, err := f.svc.Ingest(context.Background(), referraldomain.IngestRequest{
		Kind:               referraldomain.EventSignup,
		ReferralCode:       f.link.Code,
		ExternalReferredID: externalID,
		IdempotencyKey:     key,
	})
	require.NoError(t, err)
	return outcome
}

func TestIngestSignup(t *testing.T) {
	f := newFixture(t)

	outcome := f.signup(t, "evt-1", "ext-100")
	assert.Equal(t, referraldomain.OutcomeApplied, outcome)

	var referral referraldomain.Referral
	require.NoError(t, f.db.Where("external_referred_id = ?", "ext-100").First(&referral).Error)
	assert.Equal(t, referraldomain.StatusSignedUp, referral.Status)
	assert.Equal(t, f.link.ID, referral.ReferralLinkID)
	require.NotNil(t, referral.SignedUpAt)

	var eventCount int64
	require.NoError(t, f.db.Table("processed_events").Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestIngestRedeliveryIsDuplicate(t *testing.T) {
	f := newFixture(t)

	f.signup(t, "evt-1", "ext-100")
	outcome := f.signup(t, "evt-1", "ext-100")
	assert.Equal(t, referraldomain.OutcomeDuplicate, outcome)

	var referralCount int64
	require.NoError(t, f.db.Table("referrals").Count(&referralCount).Error)
	assert.Equal(t, int64(1), referralCount)
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []referraldomain.IngestRequest{
		{Kind: referraldomain.EventSignup, ReferralCode: f.link.Code, ExternalReferredID: "ext-1"},
		{Kind: referraldomain.EventSignup, ReferralCode: f.link.Code, IdempotencyKey: "k"},
		{Kind: referraldomain.EventSignup, ExternalReferredID: "ext-1", IdempotencyKey: "k"},
		{Kind: "PURCHASE", ReferralCode: f.link.Code, ExternalReferredID: "ext-1", IdempotencyKey: "k"},
		{Kind: referraldomain.EventSignup, ReferralCode: f.link.Code, ExternalReferredID: "ext-1", IdempotencyKey: "k", Payload: []byte("{broken")},
	}
	for _, req := range cases {
		_, err := f.svc.Ingest(ctx, req)
		assert.ErrorIs(t, err, referraldomain.ErrInvalidEvent)
	}
}

func TestIngestSignupUnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), referraldomain.IngestRequest{
		Kind:               referraldomain.EventSignup,
		ReferralCode:       "NOSUCHCO",
		ExternalReferredID: "ext-1",
		IdempotencyKey:     "evt-1",
	})
	assert.ErrorIs(t, err, linkdomain.ErrLinkNotFound)

	// The rejected delivery must not occupy its idempotency key.
	var eventCount int64
	require.NoError(t, f.db.Table("processed_events").Count(&eventCount).Error)
	assert.Equal(t, int64(0), eventCount)
}

func TestClickCreatesSinglePlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Click(ctx, f.link.Code))
	require.NoError(t, f.svc.Click(ctx, f.link.Code))

	var link linkdomain.ReferralLink
	require.NoError(t, f.db.Where("id = ?", f.link.ID).First(&link).Error)
	assert.Equal(t, int64(2), link.ClickCount)

	var placeholders int64
	require.NoError(t, f.db.Table("referrals").
		Where("status = ? AND external_referred_id IS NULL", referraldomain.StatusPending).
		Count(&placeholders).Error)
	assert.Equal(t, int64(1), placeholders)
}

func TestClickErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Click(ctx, "NOSUCHCO"), linkdomain.ErrLinkNotFound)

	require.NoError(t, f.db.Exec(
		`UPDATE referral_links SET status = ? WHERE id = ?`,
		linkdomain.StatusInactive, f.link.ID,
	).Error)
	assert.ErrorIs(t, f.svc.Click(ctx, f.link.Code), linkdomain.ErrLinkInactive)
}

func TestSignupClaimsClickPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Click(ctx, f.link.Code))
	f.signup(t, "evt-1", "ext-100")

	var referralCount int64
	require.NoError(t, f.db.Table("referrals").Count(&referralCount).Error)
	assert.Equal(t, int64(1), referralCount)

	var referral referraldomain.Referral
	require.NoError(t, f.db.First(&referral).Error)
	assert.Equal(t, referraldomain.StatusSignedUp, referral.Status)
	require.NotNil(t, referral.ExternalReferredID)
	assert.Equal(t, "ext-100", *referral.ExternalReferredID)
}

func TestConversionEmitsFirstEarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.signup(t, "evt-1", "ext-100")
	f.clock.Advance(48 * time.Hour)

	outcome, err := f.svc.Ingest(ctx, referraldomain.IngestRequest{
		Kind:               referraldomain.EventConversion,
		ExternalReferredID: "ext-100",
		IdempotencyKey:     "evt-2",
	})
	require.NoError(t, err)
	assert.Equal(t, referraldomain.OutcomeApplied, outcome)

	var referral referraldomain.Referral
	require.NoError(t, f.db.Where("external_referred_id = ?", "ext-100").First(&referral).Error)
	assert.Equal(t, referraldomain.StatusConverted, referral.Status)
	assert.Equal(t, 1, referral.EarningsEmittedCount)

	var earningCount int64
	require.NoError(t, f.db.Table("earnings").
		Where("referral_id = ? AND cycle_index = 0 AND status = ?", referral.ID, "SCHEDULED").
		Count(&earningCount).Error)
	assert.Equal(t, int64(1), earningCount)

	var link linkdomain.ReferralLink
	require.NoError(t, f.db.Where("id = ?", f.link.ID).First(&link).Error)
	assert.Equal(t, int64(1), link.ConversionCount)
}

func TestConversionReplayUnderFreshKeyRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.signup(t, "evt-1", "ext-100")
	_, err := f.svc.Ingest(ctx, referraldomain.IngestRequest{
		Kind:               referraldomain.EventConversion,
		ExternalReferredID: "ext-100",
		IdempotencyKey:     "evt-2",
	})
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, referraldomain.IngestRequest{
		Kind:               referraldomain.EventConversion,
		ExternalReferredID: "ext-100",
		IdempotencyKey:     "evt-3",
	})
	assert.ErrorIs(t, err, referraldomain.ErrInvalidTransition)

	// The rejected key must not be burned: the whole transaction rolled
	// back, so a later legitimate delivery under evt-3 is still possible.
	var burned int64
	require.NoError(t, f.db.Table("processed_events").
		Where("idempotency_key = ?", "evt-3").
		Count(&burned).Error)
	assert.Equal(t, int64(0), burned)

	var earningCount int64
	require.NoError(t, f.db.Table("earnings").Count(&earningCount).Error)
	assert.Equal(t, int64(1), earningCount)
}

func TestConversionUnknownExternalID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ingest(context.Background(), referraldomain.IngestRequest{
		Kind:               referraldomain.EventConversion,
		ExternalReferredID: "ext-missing",
		IdempotencyKey:     "evt-1",
	})
	assert.ErrorIs(t, err, referraldomain.ErrReferralNotFound)
}

func TestConversionCodeMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.signup(t, "evt-1", "ext-100")

	otherOwner := f.svc.genID.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO users (id, email, phone_number, password_hash) VALUES (?, ?, ?, ?)`,
		otherOwner, "other@example.com", "+254700000002", "x",
	).Error)
	other := linkdomain.ReferralLink{
		ID:          f.svc.genID.Generate(),
		OwnerUserID: otherOwner,
		Code:        "OTHER234",
		Status:      linkdomain.StatusActive,
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, linkrepo.Provide().Insert(ctx, f.db, &other))

	_, err := f.svc.Ingest(ctx, referraldomain.IngestRequest{
		Kind:               referraldomain.EventConversion,
		ReferralCode:       other.Code,
		ExternalReferredID: "ext-100",
		IdempotencyKey:     "evt-2",
	})
	assert.ErrorIs(t, err, referraldomain.ErrReferralNotFound)
}
