package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/config"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/logger"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
)

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("sync job not found")

	// ErrNotRetryable is returned when retrying a job that is not failed.
	ErrNotRetryable = errors.New("only failed jobs can be retried")

	// ErrValidateTimeout is returned when the source connection check does
	// not answer within the configured deadline.
	ErrValidateTimeout = errors.New("source connection check timed out")
)

// CreateRequest is the input for a new sync job. Config is stored verbatim
// on the job and never mutated afterwards.
type CreateRequest struct {
	UnitID     string
	Domain     domain.Domain
	Source     domain.SourceKind
	Target     domain.TargetKind
	CategoryID string
	Period     int
	CreatedBy  string
	Config     domain.JSONMap
}

// SyncService is the boundary in front of the pipeline: it validates the
// source, admits the job against the scope lock, inserts the pending row and
// hands it to the runner. It never performs pipeline work inline.
type SyncService struct {
	jobs            *repository.JobRepository
	registry        *provider.Registry
	runner          *Runner
	log             *logger.Logger
	validateTimeout time.Duration
}

// NewSyncService creates a new SyncService.
func NewSyncService(jobs *repository.JobRepository, registry *provider.Registry, runner *Runner, log *logger.Logger, cfg *config.SyncConfig) *SyncService {
	return &SyncService{
		jobs:            jobs,
		registry:        registry,
		runner:          runner,
		log:             log,
		validateTimeout: cfg.ValidateTimeout,
	}
}

// Create validates, admits and schedules a new sync job.
//
// Error mapping for the caller: provider.ErrNotRegistered and
// provider.ErrBadConfig mean the request is rejected before any job row
// exists; provider.ErrConnection likewise (pre-admission validation);
// ErrValidateTimeout when the check ran out of time; repository.ErrScopeBusy
// when another job holds the scope; ErrQueueFull when the pool cannot take
// more work.
func (s *SyncService) Create(ctx context.Context, req *CreateRequest) (*domain.SyncJob, error) {
	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		UnitID:     req.UnitID,
		TargetKind: req.Target,
		CategoryID: req.CategoryID,
		Domain:     req.Domain,
		SourceKind: req.Source,
		Period:     req.Period,
		Detail:     domain.StatusDetail{Code: domain.CodeInProgress, Message: "queued"},
		Progress:   domain.Progress{Errors: []domain.RecordError{}},
		Config:     req.Config,
		CreatedBy:  req.CreatedBy,
	}
	return s.admit(ctx, job)
}

// Retry creates a brand-new job with the failed job's config and scope. The
// original row is never touched; history stays intact.
func (s *SyncService) Retry(ctx context.Context, jobID, createdBy string) (*domain.SyncJob, error) {
	orig, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if orig.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotRetryable, jobID, orig.Status)
	}

	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		UnitID:     orig.UnitID,
		TargetKind: orig.TargetKind,
		CategoryID: orig.CategoryID,
		Domain:     orig.Domain,
		SourceKind: orig.SourceKind,
		Period:     orig.Period,
		Detail:     domain.StatusDetail{Code: domain.CodeInProgress, Message: "queued"},
		Progress:   domain.Progress{Errors: []domain.RecordError{}},
		Config:     orig.Config,
		RetryOf:    orig.ID,
		CreatedBy:  createdBy,
	}
	return s.admit(ctx, job)
}

// admit runs the shared pre-admission validation, the atomic scope check and
// the handoff to the worker pool.
func (s *SyncService) admit(ctx context.Context, job *domain.SyncJob) (*domain.SyncJob, error) {
	// Resolving first means registration errors never cost a job row.
	prov, err := s.registry.Resolve(job)
	if err != nil {
		return nil, err
	}

	// Pre-admission connection check with a hard deadline, so a known-bad
	// source is rejected without wasting a job row.
	vctx, cancel := context.WithTimeout(ctx, s.validateTimeout)
	err = prov.ValidateConnection(vctx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || vctx.Err() == context.DeadlineExceeded {
			return nil, ErrValidateTimeout
		}
		return nil, err
	}

	if err := s.jobs.CreateIfScopeIdle(ctx, job); err != nil {
		return nil, err
	}

	if err := s.runner.Enqueue(job.ID); err != nil {
		// The row exists but nobody will run it; fail it so the scope is
		// not wedged until a human notices.
		failErr := s.jobs.Fail(context.WithoutCancel(ctx), job.ID, job.Progress, domain.StatusDetail{
			Code:    domain.CodeQueueFull,
			Message: "sync worker queue is full, try again later",
		})
		if failErr != nil {
			logger.CtxError(ctx, "Failed to fail unqueueable job %s: %v", job.ID, failErr)
		}
		return nil, err
	}

	logger.CtxInfo(ctx, "Sync job admitted: job_id=%s, scope=%s, source=%s",
		job.ID, job.Scope().String(), job.SourceKind)
	return job, nil
}

// Status returns the full job descriptor for polling.
func (s *SyncService) Status(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// History lists a unit's most recent jobs, newest first. The "last sync
// status" of a scope is simply the head of this list; there is no second
// source of truth to drift.
func (s *SyncService) History(ctx context.Context, unitID string, source domain.SourceKind, limit int) ([]domain.SyncJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.ListByUnit(ctx, unitID, source, limit)
}
