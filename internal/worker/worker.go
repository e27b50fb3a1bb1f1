package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/formwell/internal/metrics"
	"github.com/DukeRupert/formwell/internal/repository"
)

// Worker polls the jobs table and runs registered handlers.
//
// Jobs are claimed with SELECT ... FOR UPDATE SKIP LOCKED, so any number of
// server processes can run workers against the same database.
type Worker struct {
	db       *sql.DB
	queries  *repository.Queries
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Worker. Register handlers, then call Start.
func New(db *sql.DB, queries *repository.Queries, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	return &Worker{
		db:       db,
		queries:  queries,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger.With("component", "worker"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds a handler. A second handler for the same type replaces the first.
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
}

// Start requeues stale jobs and launches the polling goroutines. They run
// until Stop is called or ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	count, err := w.queries.RecoverStaleJobs(ctx, w.config.StaleJobThreshold.Seconds())
	if err != nil {
		w.logger.Error("Failed to recover stale jobs", "error", err)
	} else if count > 0 {
		w.logger.Warn("Recovered stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}

	for i := 1; i <= w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, w.logger.With("worker_id", i))
	}

	w.logger.Info("Worker started", "concurrency", w.config.Concurrency, "job_types", len(w.handlers))
}

// Stop signals the polling goroutines and waits up to ShutdownTimeout for
// running jobs. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some jobs may still be running")
	}
}

func (w *Worker) loop(ctx context.Context, logger *slog.Logger) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain the queue before sleeping again.
			for {
				err := w.processNext(ctx, logger)
				if errors.Is(err, sql.ErrNoRows) {
					break
				}
				if err != nil {
					logger.Error("Failed to process job", "error", err)
					break
				}
			}
		}
	}
}

// processNext claims and runs one job. It returns sql.ErrNoRows when the
// queue is empty.
func (w *Worker) processNext(ctx context.Context, logger *slog.Logger) error {
	job, err := w.claim(ctx)
	if err != nil {
		return err
	}

	logger = logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts+1)
	logger.Debug("Processing job")

	start := time.Now()
	runErr := w.run(ctx, job)
	return w.settle(ctx, job, runErr, time.Since(start), logger)
}

// claim locks the next due job and marks it running.
func (w *Worker) claim(ctx context.Context) (repository.Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Job{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := w.queries.WithTx(tx)

	job, err := qtx.DequeueJob(ctx)
	if err != nil {
		return repository.Job{}, err
	}
	if err := qtx.UpdateJobStarted(ctx, job.ID); err != nil {
		return repository.Job{}, fmt.Errorf("mark job started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return repository.Job{}, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// run executes the handler for job under JobTimeout. A panicking handler
// fails the job permanently instead of killing the goroutine.
func (w *Worker) run(ctx context.Context, job repository.Job) (err error) {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return Permanentf("no handler registered for job type %q", job.JobType)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	defer func() {
		if v := recover(); v != nil {
			err = Permanentf("handler panicked: %v", v)
		}
	}()

	return handler.Handle(jobCtx, job.Payload)
}

// settle records the outcome of a run. Failed jobs are retried with
// exponential backoff until MaxAttempts, unless the error is permanent.
func (w *Worker) settle(ctx context.Context, job repository.Job, runErr error, elapsed time.Duration, logger *slog.Logger) error {
	// Bookkeeping must land even when shutdown canceled ctx mid-job.
	ctx = context.WithoutCancel(ctx)

	if runErr == nil {
		metrics.JobCompleted(job.JobType, elapsed)
		logger.Info("Job completed", "duration", elapsed)
		if err := w.queries.UpdateJobCompleted(ctx, job.ID); err != nil {
			return fmt.Errorf("mark job completed: %w", err)
		}
		return nil
	}

	permanent := IsPermanent(runErr)
	// attempts was incremented when the job was claimed
	exhausted := job.Attempts+1 >= job.MaxAttempts
	switch {
	case permanent || exhausted:
		metrics.JobFailed(job.JobType)
		logger.Error("Job failed", "error", runErr, "permanent", permanent)
	default:
		metrics.JobRetried(job.JobType)
		logger.Warn("Job failed, will retry", "error", runErr)
	}

	err := w.queries.UpdateJobFailed(ctx, repository.UpdateJobFailedParams{
		ID:           job.ID,
		Permanent:    permanent,
		ErrorMessage: sql.NullString{String: runErr.Error(), Valid: true},
	})
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}
