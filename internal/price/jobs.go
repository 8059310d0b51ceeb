package price

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/fundo/internal/domain"
)

// JobState is the lifecycle stage of a backfill job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobStatus is the externally visible state of a backfill job.
type JobStatus struct {
	ID         uuid.UUID       `json:"id"`
	State      JobState        `json:"state"`
	Request    BackfillRequest `json:"request"`
	Report     BackfillReport  `json:"report"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

type job struct {
	status JobStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner executes one backfill.
type Runner interface {
	Run(ctx context.Context, req BackfillRequest) (BackfillReport, error)
}

// Jobs runs backfills on a single background worker. At most one job runs
// at a time; a cancel takes effect at the next batch boundary.
type Jobs struct {
	runner Runner
	base   context.Context

	mu      sync.Mutex
	jobs    map[uuid.UUID]*job
	current *job
	wg      sync.WaitGroup
}

// NewJobs creates the job runner. Jobs inherit values but not cancellation
// from base; Shutdown cancels them.
func NewJobs(base context.Context, runner Runner) *Jobs {
	return &Jobs{
		runner: runner,
		base:   context.WithoutCancel(base),
		jobs:   make(map[uuid.UUID]*job),
	}
}

// Start launches a backfill in the background and returns its id.
// It fails with domain.ErrConflict while another job is running.
func (j *Jobs) Start(req BackfillRequest) (uuid.UUID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.current != nil {
		return uuid.Nil, fmt.Errorf("%w: backfill %s is still running", domain.ErrConflict, j.current.status.ID)
	}

	ctx, cancel := context.WithCancel(j.base)
	jb := &job{
		status: JobStatus{ID: uuid.New(), State: JobRunning, Request: req, StartedAt: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.jobs[jb.status.ID] = jb
	j.current = jb

	j.wg.Add(1)
	go j.run(ctx, jb)

	slog.Info("Backfill job: started", "id", jb.status.ID, "assets", len(req.Assets),
		"start", req.Start.Format(domain.DateLayout), "end", req.End.Format(domain.DateLayout))
	return jb.status.ID, nil
}

func (j *Jobs) run(ctx context.Context, jb *job) {
	defer j.wg.Done()
	defer close(jb.done)

	var report BackfillReport
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("backfill panic: %v", r)
				slog.Error("Backfill job: recovered from panic", "id", jb.status.ID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		report, err = j.runner.Run(ctx, jb.status.Request)
	}()
	jb.cancel()

	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	jb.status.Report = report
	jb.status.FinishedAt = &now
	switch {
	case err != nil:
		jb.status.State = JobFailed
		jb.status.Error = err.Error()
		slog.Error("Backfill job: failed", "id", jb.status.ID, "error", err)
	case report.Cancelled:
		jb.status.State = JobCancelled
		slog.Info("Backfill job: cancelled", "id", jb.status.ID, "fetched", report.Fetched)
	default:
		jb.status.State = JobDone
		slog.Info("Backfill job: done", "id", jb.status.ID, "fetched", report.Fetched)
	}
	if j.current == jb {
		j.current = nil
	}
}

// Cancel requests cancellation of a running job.
func (j *Jobs) Cancel(id uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	jb, ok := j.jobs[id]
	if !ok {
		return fmt.Errorf("backfill %s: %w", id, domain.ErrNotFound)
	}
	jb.cancel()
	return nil
}

// Status returns a copy of the job's status.
func (j *Jobs) Status(id uuid.UUID) (JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	jb, ok := j.jobs[id]
	if !ok {
		return JobStatus{}, fmt.Errorf("backfill %s: %w", id, domain.ErrNotFound)
	}
	return jb.status, nil
}

// Wait blocks until the job has finished or ctx is done.
func (j *Jobs) Wait(ctx context.Context, id uuid.UUID) (JobStatus, error) {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return JobStatus{}, fmt.Errorf("backfill %s: %w", id, domain.ErrNotFound)
	}
	select {
	case <-jb.done:
		return j.Status(id)
	case <-ctx.Done():
		return JobStatus{}, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for the worker to exit.
func (j *Jobs) Shutdown() {
	j.mu.Lock()
	for _, jb := range j.jobs {
		jb.cancel()
	}
	j.mu.Unlock()
	j.wg.Wait()
}
