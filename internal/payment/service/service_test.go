package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jijenga/referral/internal/clock"
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	"github.com/jijenga/referral/internal/payment/domain"
	"github.com/jijenga/referral/internal/payment/repository"
	"github.com/jijenga/referral/internal/providers/email"
	"github.com/jijenga/referral/internal/providers/mpesa"
	"github.com/jijenga/referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	node    *snowflake.Node
	gateway *mpesa.FakeGateway
	svc     *Service
	adminID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb := testutil.OpenDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	gateway := mpesa.NewFakeGateway()

	svc := NewService(Params{
		DB:      gdb,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fakeClock,
		Repo:    repository.Provide(),
		Gateway: gateway,
		Email:   &email.NoOpProvider{},
	})

	f := &fixture{db: gdb, clock: fakeClock, node: node, gateway: gateway, svc: svc}

	f.adminID = node.Generate()
	require.NoError(t, gdb.Exec(
		`INSERT INTO admin_users (id, email, password_hash, role) VALUES (?, 'fin@example.com', 'x', 'FINANCE')`,
		f.adminID,
	).Error)

	return f
}

// seedPayee inserts a user plus n due SCHEDULED earnings and returns the
// user id.
func (f *fixture) seedPayee(t *testing.T, email, phone string, n int) snowflake.ID {
	t.Helper()

	userID := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO users (id, email, phone_number, password_hash) VALUES (?, ?, ?, ?)`,
		userID, email, phone, "x",
	).Error)

	linkID := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO referral_links (id, owner_user_id, code, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'ACTIVE', ?, ?)`,
		linkID, userID, email[:4]+"2345", f.clock.Now(), f.clock.Now(),
	).Error)

	referralID := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO referrals (id, referral_link_id, external_referred_id, status,
			earnings_emitted_count, created_at, updated_at)
		 VALUES (?, ?, ?, 'CONVERTED', ?, ?, ?)`,
		referralID, linkID, "ext-"+email, n, f.clock.Now(), f.clock.Now(),
	).Error)

	due := f.clock.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		require.NoError(t, f.db.Exec(
			`INSERT INTO earnings (id, referral_id, payee_user_id, cycle_index,
				amount_cents, currency, status, due_date, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 5000, 'KES', 'SCHEDULED', ?, ?, ?)`,
			f.node.Generate(), referralID, userID, i, due, f.clock.Now(), f.clock.Now(),
		).Error)
	}
	return userID
}

func (f *fixture) payment(t *testing.T, payeeID snowflake.ID) *domain.Payment {
	t.Helper()
	var item domain.Payment
	require.NoError(t, f.db.Where("payee_user_id = ?", payeeID).First(&item).Error)
	return &item
}

func (f *fixture) batchAndApprove(t *testing.T, payeeID snowflake.ID) *domain.Payment {
	t.Helper()
	_, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)
	payment := f.payment(t, payeeID)
	approved, err := f.svc.Approve(context.Background(), payment.ID, f.adminID)
	require.NoError(t, err)
	return approved
}

func TestCreateBatchesGroupsPerPayee(t *testing.T) {
	f := newFixture(t)

	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 3)
	bob := f.seedPayee(t, "bobb@example.com", "+254700000002", 2)

	result, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.PaymentsCreated)
	assert.Equal(t, 5, result.EarningsAttached)
	assert.NotEmpty(t, result.BatchID)

	alicePayment := f.payment(t, alice)
	assert.Equal(t, int64(15000), alicePayment.TotalAmountCents)
	assert.Equal(t, domain.StatusPendingDisbursement, alicePayment.Status)
	assert.Equal(t, result.BatchID, alicePayment.BatchID)

	bobPayment := f.payment(t, bob)
	assert.Equal(t, int64(10000), bobPayment.TotalAmountCents)

	var attached int64
	require.NoError(t, f.db.Table("earnings").
		Where("payment_id = ? AND status = ?", alicePayment.ID, earningdomain.StatusPendingApproval).
		Count(&attached).Error)
	assert.Equal(t, int64(3), attached)
}

func TestCreateBatchesSecondRunIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.seedPayee(t, "alice@example.com", "+254700000001", 2)

	_, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)

	result, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.PaymentsCreated)
	assert.Equal(t, "", result.BatchID)
}

func TestCreateBatchesSkipsUndueEarnings(t *testing.T) {
	f := newFixture(t)
	referralOwner := f.seedPayee(t, "alice@example.com", "+254700000001", 1)

	// An earning due in the future stays out of the batch.
	require.NoError(t, f.db.Exec(
		`INSERT INTO earnings (id, referral_id, payee_user_id, cycle_index,
			amount_cents, currency, status, due_date, created_at, updated_at)
		 SELECT ?, referral_id, payee_user_id, 5, 5000, 'KES', 'SCHEDULED', ?, ?, ?
		 FROM earnings LIMIT 1`,
		f.node.Generate(), f.clock.Now().Add(24*time.Hour), f.clock.Now(), f.clock.Now(),
	).Error)

	result, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.EarningsAttached)

	payment := f.payment(t, referralOwner)
	assert.Equal(t, int64(5000), payment.TotalAmountCents)
}

func TestApproveGuards(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)

	_, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)
	payment := f.payment(t, alice)

	approved, err := f.svc.Approve(context.Background(), payment.ID, f.adminID)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, f.adminID, *approved.ApprovedBy)

	_, err = f.svc.Approve(context.Background(), payment.ID, f.adminID)
	assert.ErrorIs(t, err, domain.ErrAlreadyApproved)

	_, err = f.svc.Approve(context.Background(), f.node.Generate(), f.adminID)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestProcessApprovedSuccess(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 2)
	f.batchAndApprove(t, alice)

	settled, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	require.NotNil(t, payment.MpesaTransactionID)
	assert.Equal(t, 1, payment.Attempts)
	require.NotNil(t, payment.ProcessedAt)

	var paid int64
	require.NoError(t, f.db.Table("earnings").
		Where("payment_id = ? AND status = ?", payment.ID, earningdomain.StatusPaid).
		Count(&paid).Error)
	assert.Equal(t, int64(2), paid)

	require.Len(t, f.gateway.Requests, 1)
	assert.Equal(t, int64(10000), f.gateway.Requests[0].AmountCents)
	assert.Equal(t, "+254700000001", f.gateway.Requests[0].PhoneNumber)
}

func TestProcessApprovedSkipsUnapproved(t *testing.T) {
	f := newFixture(t)
	f.seedPayee(t, "alice@example.com", "+254700000001", 1)

	_, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)

	settled, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Empty(t, f.gateway.Requests)
}

func TestProcessApprovedFailureCascades(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)
	approved := f.batchAndApprove(t, alice)

	f.gateway.Script(approved.IdempotencyToken, mpesa.DisburseResult{
		Outcome:       mpesa.OutcomeFailed,
		FailureReason: "The balance is insufficient",
	})

	settled, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "The balance is insufficient", *payment.FailureReason)

	var failed int64
	require.NoError(t, f.db.Table("earnings").
		Where("payment_id = ? AND status = ?", payment.ID, earningdomain.StatusFailed).
		Count(&failed).Error)
	assert.Equal(t, int64(1), failed)
}

func TestPendingOutcomeStaysProcessing(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)
	approved := f.batchAndApprove(t, alice)

	f.gateway.Script(approved.IdempotencyToken, mpesa.DisburseResult{Outcome: mpesa.OutcomePending})

	settled, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusProcessing, payment.Status)
}

func TestReconcileSettlesPending(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)
	approved := f.batchAndApprove(t, alice)

	f.gateway.Script(approved.IdempotencyToken,
		mpesa.DisburseResult{Outcome: mpesa.OutcomePending},
		mpesa.DisburseResult{Outcome: mpesa.OutcomeSuccess, TransactionID: "QK12345XYZ"},
	)

	_, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)

	settled, err := f.svc.ReconcileProcessing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	require.NotNil(t, payment.MpesaTransactionID)
	assert.Equal(t, "QK12345XYZ", *payment.MpesaTransactionID)
}

func TestReconcileResendsUnknownToken(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)
	approved := f.batchAndApprove(t, alice)

	// Submit dies on the wire: the gateway never saw the token, so the
	// reconciler resends with the same token.
	f.gateway.Script(approved.IdempotencyToken, mpesa.DisburseResult{Outcome: mpesa.OutcomePending})

	_, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)

	settled, err := f.svc.ReconcileProcessing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	assert.Equal(t, 2, payment.Attempts)

	// Both submits carried the same idempotency token.
	require.Len(t, f.gateway.Requests, 2)
	assert.Equal(t, f.gateway.Requests[0].IdempotencyToken, f.gateway.Requests[1].IdempotencyToken)
}

func TestReconcileFailsAfterRetryWindow(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)
	approved := f.batchAndApprove(t, alice)

	f.gateway.Script(approved.IdempotencyToken,
		mpesa.DisburseResult{Outcome: mpesa.OutcomePending},
		mpesa.DisburseResult{Outcome: mpesa.OutcomePending},
	)

	_, err := f.svc.ProcessApproved(context.Background())
	require.NoError(t, err)

	f.clock.Advance(reconcileRetryWindow + time.Hour)
	settled, err := f.svc.ReconcileProcessing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "disbursement unresolved after retry window", *payment.FailureReason)
}

func TestNoDoublePayOnRepeatedRuns(t *testing.T) {
	f := newFixture(t)
	alice := f.seedPayee(t, "alice@example.com", "+254700000001", 1)
	f.batchAndApprove(t, alice)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.ProcessApproved(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	// Only the first run reaches the gateway; later runs find nothing in
	// PENDING_DISBURSEMENT.
	assert.Len(t, f.gateway.Requests, 1)

	payment := f.payment(t, alice)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	assert.Equal(t, 1, payment.Attempts)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		payee := f.seedPayee(t,
			string(rune('a'+i))+"user@example.com",
			"+25470000010"+string(rune('0'+i)), 1)
		_ = payee
	}
	_, err := f.svc.CreateBatches(context.Background())
	require.NoError(t, err)

	first, err := f.svc.List(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, first.Payments, 5)
	assert.False(t, first.PageInfo.HasMore)

	filter := domain.ListFilter{}
	filter.PageSize = 2
	page, err := f.svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, page.Payments, 2)
	assert.True(t, page.PageInfo.HasMore)

	filter.PageToken = page.PageInfo.NextPageToken
	next, err := f.svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, next.Payments, 2)
	assert.Less(t, int64(next.Payments[0].ID), int64(page.Payments[1].ID))
}
