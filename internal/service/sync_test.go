package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
)

func newCreateRequest() *CreateRequest {
	return &CreateRequest{
		UnitID:    "unit-1",
		Domain:    domain.DomainTravel,
		Source:    domain.SourceCSVUpload,
		Target:    domain.TargetActivityRecords,
		Period:    2025,
		CreatedBy: "alice",
		Config:    domain.JSONMap{"object_key": "uploads/trips.csv"},
	}
}

// newSyncFixture wires a service over a fresh store with the given provider.
// The runner is not started; tests drive jobs explicitly through Run.
func newSyncFixture(t *testing.T, fake *fakeProvider) (*SyncService, *Runner, *repository.JobRepository) {
	t.Helper()
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	if fake != nil {
		registerFake(registry, fake)
	}
	cfg := defaultSyncConfig()
	runner := NewRunner(jobs, registry, newTestLogger(), cfg)
	svc := NewSyncService(jobs, registry, runner, newTestLogger(), cfg)
	return svc, runner, jobs
}

func TestCreateAdmitsJob(t *testing.T) {
	svc, _, jobs := newSyncFixture(t, &fakeProvider{records: tripRecords(2)})
	ctx := context.Background()

	job, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.CodeInProgress, job.Detail.Code)

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "uploads/trips.csv", got.Config["object_key"])
	assert.Equal(t, "alice", got.CreatedBy)
}

func TestCreateRejectsBusyScope(t *testing.T) {
	svc, _, _ := newSyncFixture(t, &fakeProvider{records: tripRecords(2)})
	ctx := context.Background()

	_, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)

	// Same unit and target while the first job is still pending.
	_, err = svc.Create(ctx, newCreateRequest())
	assert.ErrorIs(t, err, repository.ErrScopeBusy)

	// A different unit is admitted.
	other := newCreateRequest()
	other.UnitID = "unit-2"
	_, err = svc.Create(ctx, other)
	assert.NoError(t, err)
}

func TestCreateRejectsUnknownProviderWithoutJobRow(t *testing.T) {
	svc, _, jobs := newSyncFixture(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, newCreateRequest())
	assert.ErrorIs(t, err, provider.ErrNotRegistered)

	listed, err := jobs.ListByUnit(ctx, "unit-1", "", 50)
	require.NoError(t, err)
	assert.Empty(t, listed, "a rejected request must not leave a job row")
}

func TestCreateRejectsFailedValidation(t *testing.T) {
	fake := &fakeProvider{
		validateFunc: func(ctx context.Context) error {
			return fmt.Errorf("%w: missing column", provider.ErrConnection)
		},
	}
	svc, _, jobs := newSyncFixture(t, fake)
	ctx := context.Background()

	_, err := svc.Create(ctx, newCreateRequest())
	assert.ErrorIs(t, err, provider.ErrConnection)

	listed, err := jobs.ListByUnit(ctx, "unit-1", "", 50)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestCreateValidateTimeout(t *testing.T) {
	fake := &fakeProvider{
		validateFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	registerFake(registry, fake)
	cfg := defaultSyncConfig()
	cfg.ValidateTimeout = 50 * time.Millisecond
	runner := NewRunner(jobs, registry, newTestLogger(), cfg)
	svc := NewSyncService(jobs, registry, runner, newTestLogger(), cfg)

	start := time.Now()
	_, err := svc.Create(context.Background(), newCreateRequest())
	assert.ErrorIs(t, err, ErrValidateTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCreateFailsJobWhenQueueFull(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	registerFake(registry, &fakeProvider{})
	cfg := defaultSyncConfig()
	cfg.QueueSize = 1
	runner := NewRunner(jobs, registry, newTestLogger(), cfg)
	svc := NewSyncService(jobs, registry, runner, newTestLogger(), cfg)
	ctx := context.Background()

	// First job takes the only queue slot; no workers drain it.
	first, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, first.Status)

	second := newCreateRequest()
	second.UnitID = "unit-2"
	_, err = svc.Create(ctx, second)
	assert.ErrorIs(t, err, ErrQueueFull)

	// The unqueueable job is failed, not left dangling on its scope.
	listed, err := jobs.ListByUnit(ctx, "unit-2", "", 50)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, domain.JobStatusFailed, listed[0].Status)
	assert.Equal(t, domain.CodeQueueFull, listed[0].Detail.Code)

	// The scope is reusable right away.
	_, err = svc.Create(ctx, second)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStatusUnknownJob(t *testing.T) {
	svc, _, _ := newSyncFixture(t, &fakeProvider{})
	_, err := svc.Status(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRetryCreatesNewJobWithSameConfig(t *testing.T) {
	fake := &fakeProvider{
		records: tripRecords(3),
		loadFunc: func(records []domain.Record) (int, error) {
			return 0, fmt.Errorf("database write failed")
		},
	}
	svc, runner, jobs := newSyncFixture(t, fake)
	ctx := context.Background()

	orig, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)
	runner.Run(ctx, orig.ID)

	failed, err := jobs.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusFailed, failed.Status)

	// Heal the source, then retry.
	fake.loadFunc = nil
	retried, err := svc.Retry(ctx, orig.ID, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, retried.ID)
	assert.Equal(t, orig.ID, retried.RetryOf)
	assert.Equal(t, failed.Config, retried.Config, "retry reuses the original config verbatim")
	assert.Equal(t, "bob", retried.CreatedBy)

	runner.Run(ctx, retried.ID)
	done, err := jobs.GetByID(ctx, retried.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)

	// The failed original is untouched.
	failedAgain, err := jobs.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, failedAgain.Status)
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	svc, runner, _ := newSyncFixture(t, &fakeProvider{records: tripRecords(1)})
	ctx := context.Background()

	job, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)

	// Pending jobs cannot be retried.
	_, err = svc.Retry(ctx, job.ID, "bob")
	assert.ErrorIs(t, err, ErrNotRetryable)

	runner.Run(ctx, job.ID)

	// Neither can completed ones.
	_, err = svc.Retry(ctx, job.ID, "bob")
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = svc.Retry(ctx, "no-such-job", "bob")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestHistory(t *testing.T) {
	svc, runner, _ := newSyncFixture(t, &fakeProvider{records: tripRecords(1)})
	ctx := context.Background()

	first, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)
	runner.Run(ctx, first.ID)

	second, err := svc.Create(ctx, newCreateRequest())
	require.NoError(t, err)

	listed, err := svc.History(ctx, "unit-1", "", 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID, "newest first")

	listed, err = svc.History(ctx, "unit-1", domain.SourceExternalAPI, 50)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
