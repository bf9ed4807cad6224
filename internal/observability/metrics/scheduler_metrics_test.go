package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jijenga/referral/internal/authorization"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestSchedulerMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newSchedulerMetrics(reg, Config{ServiceName: "referral", Environment: "test"})

	m.IncJobRun("earning_accrual")
	m.IncJobRun("earning_accrual")
	m.ObserveJobDuration("earning_accrual", 250*time.Millisecond)
	m.AddBatchProcessed("earning_accrual", LockResourceEarningsDue, 7)
	m.AddBatchProcessed("earning_accrual", LockResourceEarningsDue, 0)
	m.IncPaymentOutcome("SUCCESS")
	m.ObserveDBLockWait(LockResourceEarningsDue, 5*time.Millisecond)

	runs := gatherFamily(t, reg, "referral_scheduler_job_runs_total")
	require.NotNil(t, runs)
	require.Len(t, runs.GetMetric(), 1)
	assert.Equal(t, float64(2), runs.GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, "earning_accrual", labelValue(runs.GetMetric()[0], "job"))
	assert.Equal(t, "referral", labelValue(runs.GetMetric()[0], "service"))
	assert.Equal(t, "test", labelValue(runs.GetMetric()[0], "env"))

	processed := gatherFamily(t, reg, "referral_scheduler_batch_processed_total")
	require.NotNil(t, processed)
	require.Len(t, processed.GetMetric(), 1)
	assert.Equal(t, float64(7), processed.GetMetric()[0].GetCounter().GetValue(), "zero-count batches are not recorded")

	duration := gatherFamily(t, reg, "referral_scheduler_job_duration_seconds")
	require.NotNil(t, duration)
	assert.Equal(t, uint64(1), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	outcomes := gatherFamily(t, reg, "referral_payment_outcomes_total")
	require.NotNil(t, outcomes)
	assert.Equal(t, "SUCCESS", labelValue(outcomes.GetMetric()[0], "status"))

	lockWait := gatherFamily(t, reg, "referral_scheduler_db_lock_wait_seconds")
	require.NotNil(t, lockWait)
	assert.Equal(t, LockResourceEarningsDue, labelValue(lockWait.GetMetric()[0], "resource"))
}

func TestSchedulerMetricsNilReceiver(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("earning_accrual")
	m.IncJobError("earning_accrual", errors.New("boom"))
	m.ObserveRunLoopLag(-time.Second)
}

func TestClassifySchedulerJobReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, SchedulerJobReasonUnknown},
		{context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{authorization.ErrForbidden, SchedulerJobReasonForbidden},
		{&pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{&pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{&pgconn.PgError{Code: "23505"}, SchedulerJobReasonUniqueViolation},
		{gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{errors.New("business rule"), SchedulerJobReasonUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySchedulerJobReason(tt.err))
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerErrorTypeDeadlineExceeded, ClassifySchedulerErrorType(context.Canceled))
	assert.Equal(t, SchedulerErrorTypeAuthorization, ClassifySchedulerErrorType(authorization.ErrForbidden))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, SchedulerErrorTypeBusinessRule, ClassifySchedulerErrorType(errors.New("cycle cap reached")))
	assert.False(t, IsSchedulerErrorRetryable(errors.New("cycle cap reached")))
	assert.True(t, IsSchedulerErrorRetryable(&pgconn.PgError{Code: "55P03"}))
}
