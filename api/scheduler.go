/*
scheduler.go - Background jobs for top-ups and overdue charges

PURPOSE:
  Runs the two periodic jobs of the program on cron schedules:
    top-ups        executes every scheduled top-up whose date and time
                   have come (education.Engine.RunDue)
    overdue-sweep  marks past-due charges overdue (education.Engine.SweepOverdue)

DESIGN:
  - robfig/cron with panic recovery and skip-if-still-running, so a slow
    run is never overlapped by the next tick
  - Every run is recorded in the job_runs collection with
    running/completed/failed status, for audit and the admin UI
  - Concurrent execution of one schedule across instances is prevented by
    the engine's lock, not by the scheduler

USAGE:
  s := NewScheduler(engine, "* * * * *", "0 1 * * *")
  s.Start()
  // ... later
  <-s.Stop().Done()

SEE ALSO:
  - education/topup.go: RunDue
  - education/enrollment.go: SweepOverdue
  - handlers.go: RunJob, ListJobRuns endpoints (manual runs)
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// Job names.
const (
	JobTopUps  = "top-ups"
	JobOverdue = "overdue-sweep"
)

// JobRunsCollection holds one document per job run.
const JobRunsCollection = "job_runs"

// Job run statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// jobTimeout bounds one run started by cron.
const jobTimeout = 5 * time.Minute

// ErrUnknownJob is returned by RunNow for a name that is not a job.
var ErrUnknownJob = errors.New("unknown job")

// JobRun records one execution of a background job.
type JobRun struct {
	ID          string     `json:"id"`
	Job         string     `json:"job"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Scheduler runs the background jobs.
type Scheduler struct {
	Engine      *education.Engine
	TopUpCron   string
	OverdueCron string

	runs   *generic.Collection[JobRun]
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler. Empty specs disable that job.
func NewScheduler(engine *education.Engine, topUpCron, overdueCron string) *Scheduler {
	logger := log.With().Str("component", "scheduler").Logger()
	cronLogger := cron.PrintfLogger(&logger)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		Engine:      engine,
		TopUpCron:   topUpCron,
		OverdueCron: overdueCron,
		runs:        generic.NewCollection[JobRun](engine.Store().Raw(), JobRunsCollection).WithClock(engine.Now),
		cron:        c,
		logger:      logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	for job, expr := range map[string]string{JobTopUps: s.TopUpCron, JobOverdue: s.OverdueCron} {
		if expr == "" {
			s.logger.Info().Str("job", job).Msg("job disabled")
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(expr, func() { s.runScheduled(job) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", job, expr, err)
		}
		s.logger.Info().Str("job", job).Str("schedule", expr).Msg("job scheduled")
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop stops the cron scheduler. The returned context is done once
// running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return s.cron.Stop()
}

func (s *Scheduler) runScheduled(job string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	// RunNow has already logged and recorded the failure.
	_, _ = s.RunNow(ctx, job)
}

// RunNow runs a job immediately and records the run. The run is returned
// even when the job fails.
func (s *Scheduler) RunNow(ctx context.Context, job string) (JobRun, error) {
	var fn func(context.Context) (int, int, error)
	switch job {
	case JobTopUps:
		fn = s.runTopUps
	case JobOverdue:
		fn = s.sweepOverdue
	default:
		return JobRun{}, fmt.Errorf("%q: %w", job, ErrUnknownJob)
	}

	run, err := s.runs.Create(ctx, JobRun{
		Job:       job,
		Status:    JobRunning,
		StartedAt: s.Engine.Now().UTC(),
	})
	if err != nil {
		return JobRun{}, fmt.Errorf("failed to save run record: %w", err)
	}

	processed, failed, jobErr := fn(ctx)

	completed := s.Engine.Now().UTC()
	run.Processed = processed
	run.Failed = failed
	run.CompletedAt = &completed
	run.Status = JobCompleted
	if jobErr != nil {
		run.Status = JobFailed
		run.Error = jobErr.Error()
	}

	if err := s.runs.Update(ctx, run.ID, generic.Patch{
		"status":      run.Status,
		"processed":   run.Processed,
		"failed":      run.Failed,
		"completedAt": run.CompletedAt,
		"error":       run.Error,
	}); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to update run record")
	}

	event := s.logger.Info()
	if jobErr != nil {
		event = s.logger.Error().Err(jobErr)
	}
	if jobErr != nil || processed > 0 || failed > 0 {
		event.
			Str("job", job).
			Str("run_id", run.ID).
			Int("processed", processed).
			Int("failed", failed).
			Dur("duration", completed.Sub(run.StartedAt)).
			Msg("job finished")
	}
	return run, jobErr
}

// Runs returns recorded runs, newest first. An empty job returns all.
func (s *Scheduler) Runs(ctx context.Context, job string) ([]JobRun, error) {
	if job == "" {
		return s.runs.GetAll(ctx)
	}
	return s.runs.GetByField(ctx, "job", job)
}

func (s *Scheduler) runTopUps(ctx context.Context) (int, int, error) {
	results, err := s.Engine.RunDue(ctx)
	processed := 0
	for _, res := range results {
		if res.Status == education.ScheduleCompleted {
			processed++
		}
	}
	return processed, len(results) - processed, err
}

func (s *Scheduler) sweepOverdue(ctx context.Context) (int, int, error) {
	changed, err := s.Engine.SweepOverdue(ctx)
	return len(changed), 0, err
}
