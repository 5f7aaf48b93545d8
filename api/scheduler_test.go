package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tranminhhien3124027717/agile-moe/education"
)

func TestScheduler_RunNowRecordsRun(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "batch-topup")
	s := NewScheduler(ts.h.Engine, "", "")
	ctx := context.Background()

	// WHEN: Running the top-up job by hand
	run, err := s.RunNow(ctx, JobTopUps)

	// THEN: The due batch was executed and the run recorded
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, run.Status)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 0, run.Failed)
	require.NotNil(t, run.CompletedAt)

	runs, err := s.Runs(ctx, JobTopUps)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, JobCompleted, runs[0].Status)

	scheduled, err := ts.h.store().Schedules.GetByField(ctx, "status", string(education.ScheduleScheduled))
	require.NoError(t, err)
	assert.Empty(t, scheduled)

	// AND: A second run finds nothing due
	run, err = s.RunNow(ctx, JobTopUps)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)

	all, err := s.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestScheduler_OverdueSweep(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "payment-split")
	ctx := context.Background()

	// GIVEN: Dave's next charge is left past its due date
	dave := ts.accountByNRIC(t, "S9001234A")
	charge := unpaidCharge(t, ts, dave.ID)
	require.NoError(t, ts.h.store().Charges.Update(ctx, charge.ID, map[string]any{"dueDate": "2025-06-01"}))

	// WHEN: The sweep runs
	run, err := NewScheduler(ts.h.Engine, "", "").RunNow(ctx, JobOverdue)

	// THEN: The charge is overdue
	require.NoError(t, err)
	assert.Equal(t, 1, run.Processed)
	got, err := ts.h.store().Charges.GetByID(ctx, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, education.ChargeOverdue, got.Status)
}

func TestScheduler_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	s := NewScheduler(ts.h.Engine, "", "")

	_, err := s.RunNow(context.Background(), "payroll")

	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_StartRejectsBadCron(t *testing.T) {
	ts := newTestServer(t)
	s := NewScheduler(ts.h.Engine, "not a cron expression", "")

	assert.Error(t, s.Start())
}

func TestRunJobEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "batch-topup")

	// GIVEN: No scheduler configured
	rec := ts.do(t, http.MethodPost, "/api/admin/jobs/top-ups/run", nil, adminHeaders)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// WHEN: A scheduler is attached
	ts.h.Jobs = NewScheduler(ts.h.Engine, "", "")
	rec = ts.do(t, http.MethodPost, "/api/admin/jobs/top-ups/run", nil, adminHeaders)

	// THEN: The job runs and its record is listed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[JobRun](t, rec).Processed)

	rec = ts.do(t, http.MethodGet, "/api/admin/jobs/runs?job=top-ups", nil, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobRun](t, rec), 1)

	rec = ts.do(t, http.MethodPost, "/api/admin/jobs/payroll/run", nil, adminHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
