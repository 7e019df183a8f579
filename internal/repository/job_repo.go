package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"gorm.io/gorm"
)

var (
	// ErrScopeBusy is returned when a scope already has a non-terminal job.
	ErrScopeBusy = errors.New("scope already has an active sync job")

	// ErrNotClaimable is returned when a job cannot move to the requested
	// state, typically because it already left the expected one.
	ErrNotClaimable = errors.New("job is not in a claimable state")
)

// JobRepository is the durable store for sync jobs. It is the single source
// of truth for polling and the only cross-worker synchronization point: the
// active-scope uniqueness column makes admission atomic.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateIfScopeIdle inserts the job as pending if and only if no other
// non-terminal job shares its scope. The check and insert run in one
// transaction; the unique index on active_scope backstops the race between
// two simultaneous creations.
func (r *JobRepository) CreateIfScopeIdle(ctx context.Context, job *domain.SyncJob) error {
	scope := job.Scope().String()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.SyncJob{}).
			Where("active_scope = ?", scope).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check scope: %w", err)
		}
		if count > 0 {
			return ErrScopeBusy
		}

		job.Status = domain.JobStatusPending
		job.ActiveScope = &scope
		if err := tx.Create(job).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrScopeBusy
			}
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
	return err
}

// ClaimProcessing transitions a pending job to processing and stamps
// started_at. The guarded update means only one worker can ever claim a job.
func (r *JobRepository) ClaimProcessing(ctx context.Context, id string) (*domain.SyncJob, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusProcessing,
			"started_at": now,
			"detail":     domain.StatusDetail{Code: domain.CodeInProgress, Message: "processing"},
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotClaimable
	}
	return r.GetByID(ctx, id)
}

// SaveProgress persists the phase counters for a processing job. Terminal
// jobs are never written: the status guard makes a late write a no-op.
func (r *JobRepository) SaveProgress(ctx context.Context, id string, p domain.Progress) error {
	res := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Update("progress", p)
	if res.Error != nil {
		return fmt.Errorf("failed to save progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Complete marks the job completed, clears the active-scope hold and stamps
// completed_at. Only a non-terminal job can be completed.
func (r *JobRepository) Complete(ctx context.Context, id string, p domain.Progress) error {
	return r.finish(ctx, id, domain.JobStatusCompleted, p,
		domain.StatusDetail{Code: domain.CodeOK, Message: "sync completed"})
}

// Fail marks the job failed with the given detail, preserving whatever
// progress had accumulated. Already-loaded chunks are not rolled back.
func (r *JobRepository) Fail(ctx context.Context, id string, p domain.Progress, detail domain.StatusDetail) error {
	return r.finish(ctx, id, domain.JobStatusFailed, p, detail)
}

func (r *JobRepository) finish(ctx context.Context, id string, status domain.JobStatus, p domain.Progress, detail domain.StatusDetail) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       status,
			"detail":       detail,
			"progress":     p,
			"completed_at": now,
			"active_scope": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finish job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByUnit retrieves the most recent jobs for a reporting unit, newest
// first, optionally filtered by source kind.
func (r *JobRepository) ListByUnit(ctx context.Context, unitID string, source domain.SourceKind, limit int) ([]domain.SyncJob, error) {
	query := r.db.WithContext(ctx).Where("unit_id = ?", unitID)
	if source != "" {
		query = query.Where("source_kind = ?", source)
	}
	var jobs []domain.SyncJob
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// HasActive reports whether a non-terminal job exists for the scope.
func (r *JobRepository) HasActive(ctx context.Context, scope domain.ScopeKey) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("active_scope = ?", scope.String()).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// isUniqueViolation detects a unique-constraint error across the sqlite and
// postgres drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
