package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/config"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/logger"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
)

// ErrQueueFull is returned by Enqueue when the pending-job queue is at
// capacity.
var ErrQueueFull = errors.New("sync worker queue is full")

// Runner executes sync jobs on a bounded worker pool, off the
// request-handling path. Jobs on different scopes run in parallel up to the
// pool size; the job store's admission check already serialized same-scope
// jobs, so workers never touch the same job row.
type Runner struct {
	jobs     *repository.JobRepository
	registry *provider.Registry
	log      *logger.Logger

	queue           chan string
	workers         int
	chunkSize       int
	maxErrorRate    float64
	validateTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner sized by the sync configuration.
func NewRunner(jobs *repository.JobRepository, registry *provider.Registry, log *logger.Logger, cfg *config.SyncConfig) *Runner {
	return &Runner{
		jobs:            jobs,
		registry:        registry,
		log:             log,
		queue:           make(chan string, cfg.QueueSize),
		workers:         cfg.Workers,
		chunkSize:       cfg.ChunkSize,
		maxErrorRate:    cfg.MaxErrorRate,
		validateTimeout: cfg.ValidateTimeout,
	}
}

// Start spawns the worker pool.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func(workerID int) {
			defer r.wg.Done()
			r.worker(ctx, workerID)
		}(i)
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to reach a
// terminal state.
func (r *Runner) Shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Enqueue hands a pending job to the pool. It never blocks the caller.
func (r *Runner) Enqueue(jobID string) error {
	select {
	case r.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) worker(ctx context.Context, workerID int) {
	r.log.WithField("worker", workerID).Debug("sync worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-r.queue:
			// A claimed job runs to a terminal state even during shutdown;
			// only the pickup of new work is cancellable.
			r.Run(context.Background(), jobID)
		}
	}
}

// Run drives one job from pending to a terminal state. Every failure path
// lands in the job store; a provider defect can never crash the pool.
func (r *Runner) Run(ctx context.Context, jobID string) {
	ctx = logger.SetJobID(ctx, jobID)

	job, err := r.jobs.ClaimProcessing(ctx, jobID)
	if err != nil {
		// Another worker got there first, or the job is already terminal.
		logger.CtxWarn(ctx, "Job not claimable: %v", err)
		return
	}

	ctx = logger.SetScope(ctx, job.Scope().String())
	progress := job.Progress

	defer func() {
		if rec := recover(); rec != nil {
			logger.CtxError(ctx, "Panic while running sync job: %v", rec)
			r.fail(ctx, jobID, progress, domain.StatusDetail{
				Code:    domain.CodeInternal,
				Message: fmt.Sprintf("internal error: %v", rec),
			})
		}
	}()

	prov, err := r.registry.Resolve(job)
	if err != nil {
		r.fail(ctx, jobID, progress, domain.StatusDetail{
			Code:    domain.CodeBadConfig,
			Message: err.Error(),
		})
		return
	}

	logger.CtxInfo(ctx, "Starting sync job: domain=%s, source=%s, target=%s, period=%d",
		job.Domain, job.SourceKind, job.TargetKind, job.Period)

	// Phase 1: validate. Already done pre-admission, but the source may have
	// disappeared between creation and execution.
	vctx, cancel := context.WithTimeout(logger.SetPhase(ctx, "validate"), r.validateTimeout)
	err = prov.ValidateConnection(vctx)
	cancel()
	if err != nil {
		r.fail(ctx, jobID, progress, domain.StatusDetail{
			Code:    domain.CodeUpstream,
			Message: "connection check failed: " + err.Error(),
		})
		return
	}

	// Phase 2: fetch. Counters commit only once the phase finishes, so a
	// poller sees fetched/transformed/loaded move strictly in that order.
	fctx := logger.SetPhase(ctx, "fetch")
	raw, err := r.fetchAll(fctx, prov)
	if err != nil {
		r.fail(ctx, jobID, progress, domain.StatusDetail{
			Code:    domain.CodeUpstream,
			Message: "fetch failed: " + err.Error(),
		})
		return
	}
	progress.Fetched = len(raw)
	if err := r.jobs.SaveProgress(ctx, jobID, progress); err != nil {
		logger.CtxError(ctx, "Failed to persist fetch progress: %v", err)
	}

	// Phase 3: transform. Record-level failures are skipped and recorded,
	// capped by the configured error rate.
	tctx := logger.SetPhase(ctx, "transform")
	normalized := make([]domain.Record, 0, len(raw))
	for i, rec := range raw {
		n, err := prov.Transform(tctx, rec)
		if err != nil {
			progress.Errors = append(progress.Errors, domain.RecordError{
				Index:  i,
				Key:    rec.Key,
				Reason: err.Error(),
			})
			continue
		}
		normalized = append(normalized, n)
	}
	progress.Transformed = len(normalized)

	if progress.Fetched > 0 {
		rate := float64(len(progress.Errors)) / float64(progress.Fetched)
		if rate > r.maxErrorRate {
			if err := r.jobs.SaveProgress(ctx, jobID, progress); err != nil {
				logger.CtxError(ctx, "Failed to persist transform progress: %v", err)
			}
			r.fail(ctx, jobID, progress, domain.StatusDetail{
				Code: domain.CodeTooManyBad,
				Message: fmt.Sprintf("record error rate %.2f exceeds limit %.2f (%d of %d records rejected)",
					rate, r.maxErrorRate, len(progress.Errors), progress.Fetched),
			})
			return
		}
	}
	if err := r.jobs.SaveProgress(ctx, jobID, progress); err != nil {
		logger.CtxError(ctx, "Failed to persist transform progress: %v", err)
	}

	// Phase 4: load, in bounded chunks committed independently. A mid-stream
	// failure keeps the already-loaded chunks; retry is safe because load is
	// idempotent on the natural key.
	lctx := logger.SetPhase(ctx, "load")
	for start := 0; start < len(normalized); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(normalized) {
			end = len(normalized)
		}

		n, err := prov.Load(lctx, normalized[start:end])
		progress.Loaded += n
		if err != nil {
			r.fail(ctx, jobID, progress, domain.StatusDetail{
				Code:    domain.CodeInternal,
				Message: "load failed: " + err.Error(),
			})
			return
		}
		if err := r.jobs.SaveProgress(ctx, jobID, progress); err != nil {
			logger.CtxError(ctx, "Failed to persist load progress: %v", err)
		}
	}

	if err := r.jobs.Complete(ctx, jobID, progress); err != nil {
		logger.CtxError(ctx, "Failed to mark job completed: %v", err)
		return
	}

	logger.CtxInfo(ctx, "Sync job completed: fetched=%d, transformed=%d, loaded=%d, errors=%d",
		progress.Fetched, progress.Transformed, progress.Loaded, len(progress.Errors))
}

// fetchAll drains the provider's cursor sequence.
func (r *Runner) fetchAll(ctx context.Context, prov provider.Provider) ([]domain.Record, error) {
	var all []domain.Record
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, err := prov.Fetch(ctx, cursor, r.chunkSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (r *Runner) fail(ctx context.Context, jobID string, p domain.Progress, detail domain.StatusDetail) {
	logger.CtxWarn(ctx, "Sync job failed: code=%d, message=%s", detail.Code, detail.Message)
	if err := r.jobs.Fail(ctx, jobID, p, detail); err != nil {
		logger.CtxError(ctx, "Failed to mark job failed: %v", err)
	}
}
