// Package worker drives the job queue: pools of workers lease jobs of one
// type, keep their leases alive while a handler runs, and settle the outcome
// back into the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge-agent/internal/jobs"
)

// Handler processes jobs of a single type. Handle must be safe to run again
// from the top; a job whose worker died mid-run is leased to another worker
// once the lease expires.
type Handler interface {
	Type() jobs.Type

	// Handle runs the job and returns its result payload. The report
	// callback publishes progress and extends the lease.
	Handle(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) (result any, err error)

	// HandleFinalFailure runs once, after the job's last attempt has
	// failed and it will not be retried.
	HandleFinalFailure(ctx context.Context, job *jobs.Job)
}

// Pool runs a fixed number of workers against one job type.
type Pool struct {
	store   *jobs.Store
	handler Handler
	logger  *slog.Logger

	workers       int
	pollInterval  time.Duration
	leaseDuration time.Duration
}

func NewPool(store *jobs.Store, handler Handler, workers int, pollInterval, leaseDuration time.Duration, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if leaseDuration <= 0 {
		leaseDuration = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		store:         store,
		handler:       handler,
		logger:        logger,
		workers:       workers,
		pollInterval:  pollInterval,
		leaseDuration: leaseDuration,
	}
}

// Start runs the pool until ctx is cancelled. It blocks; callers run it in a
// goroutine. Jobs already in flight finish their current handler call before
// Start returns.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("%s-%d-%s", p.handler.Type(), i, uuid.NewString()[:8])
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	wg.Wait()
	p.logger.Info("worker pool stopped", "type", p.handler.Type())
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	logger := p.logger.With("worker_id", workerID, "type", p.handler.Type())
	logger.Info("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before going back to sleep on the ticker.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := p.store.Lease(ctx, p.handler.Type(), workerID, p.leaseDuration)
			if err != nil {
				logger.Error("lease failed", "error", err)
				break
			}
			if job == nil {
				break
			}
			p.process(ctx, logger, workerID, job)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, workerID string, job *jobs.Job) {
	logger = logger.With("job_id", job.ID, "attempt", job.Attempt)
	logger.Info("job leased")

	// Progress flows two ways: the handler reports milestones, and a
	// background heartbeat re-extends the lease between them so a long
	// ffmpeg run does not lose the job.
	var lastProgress atomic.Int64
	lastProgress.Store(int64(job.Progress))

	report := func(progress int) {
		lastProgress.Store(int64(progress))
		if err := p.store.Heartbeat(ctx, job.ID, workerID, progress, p.leaseDuration); err != nil {
			logger.Warn("heartbeat rejected", "progress", progress, "error", err)
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		interval := p.leaseDuration / 3
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				progress := int(lastProgress.Load())
				if err := p.store.Heartbeat(hbCtx, job.ID, workerID, progress, p.leaseDuration); err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Warn("heartbeat rejected", "error", err)
					}
					return
				}
			}
		}
	}()

	result, handleErr := p.handler.Handle(ctx, job, report)
	stopHeartbeat()
	hbDone.Wait()

	// Settle against the store even when shutdown cancelled the handler;
	// an unsettled job waits out its full lease before anyone retries it.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if handleErr == nil {
		if err := p.store.Complete(settleCtx, job.ID, workerID, result); err != nil {
			logger.Warn("completion rejected", "error", err)
			return
		}
		logger.Info("job completed")
		return
	}

	retryable := jobs.Retryable(handleErr)
	status, err := p.store.Fail(settleCtx, job.ID, workerID, handleErr, retryable)
	if err != nil {
		logger.Warn("failure not recorded", "error", err, "job_error", handleErr)
		return
	}
	logger.Error("job attempt failed", "error", handleErr, "retryable", retryable, "status", status)

	if status == jobs.StatusFailed {
		p.handler.HandleFinalFailure(settleCtx, job)
	}
}
