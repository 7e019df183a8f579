package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/config"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/logger"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
)

// fakeProvider is a scriptable provider for pipeline tests.
type fakeProvider struct {
	validateFunc  func(ctx context.Context) error
	records       []domain.Record
	transformFunc func(raw domain.Record) (domain.Record, error)
	loadFunc      func(records []domain.Record) (int, error)

	loadedChunks [][]domain.Record
}

func (f *fakeProvider) ValidateConnection(ctx context.Context) error {
	if f.validateFunc != nil {
		return f.validateFunc(ctx)
	}
	return nil
}

func (f *fakeProvider) Fetch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error) {
	return f.records, "", nil
}

func (f *fakeProvider) Transform(ctx context.Context, raw domain.Record) (domain.Record, error) {
	if f.transformFunc != nil {
		return f.transformFunc(raw)
	}
	return raw, nil
}

func (f *fakeProvider) Load(ctx context.Context, records []domain.Record) (int, error) {
	f.loadedChunks = append(f.loadedChunks, records)
	if f.loadFunc != nil {
		return f.loadFunc(records)
	}
	return len(records), nil
}

func newTestLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "text", ServiceName: "test"})
}

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	})
	require.NoError(t, err)
	return db
}

func defaultSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Workers:         1,
		QueueSize:       8,
		ChunkSize:       2,
		MaxErrorRate:    0.5,
		ValidateTimeout: time.Second,
	}
}

func registerFake(registry *provider.Registry, fake *fakeProvider) {
	registry.Register(domain.DomainTravel, domain.SourceCSVUpload, domain.TargetActivityRecords,
		func(job *domain.SyncJob) (provider.Provider, error) {
			return fake, nil
		})
}

func newPendingJob(t *testing.T, jobs *repository.JobRepository) *domain.SyncJob {
	t.Helper()
	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		UnitID:     "unit-1",
		TargetKind: domain.TargetActivityRecords,
		Domain:     domain.DomainTravel,
		SourceKind: domain.SourceCSVUpload,
		Period:     2025,
		Detail:     domain.StatusDetail{Code: domain.CodeInProgress, Message: "queued"},
		Progress:   domain.Progress{Errors: []domain.RecordError{}},
		Config:     domain.JSONMap{"object_key": "uploads/trips.csv"},
	}
	require.NoError(t, jobs.CreateIfScopeIdle(context.Background(), job))
	return job
}

func tripRecords(n int) []domain.Record {
	records := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.Record{
			Key:    fmt.Sprintf("trip-%03d", i+1),
			Fields: map[string]interface{}{"distance_km": 100.0},
		})
	}
	return records
}

func TestRunCompletesCleanBatch(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{records: tripRecords(3)}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, domain.CodeOK, got.Detail.Code)
	assert.Equal(t, 3, got.Progress.Fetched)
	assert.Equal(t, 3, got.Progress.Transformed)
	assert.Equal(t, 3, got.Progress.Loaded)
	assert.Empty(t, got.Progress.Errors)
	assert.Nil(t, got.ActiveScope, "terminal job releases its scope")

	// ChunkSize 2 splits 3 records into 2 commits.
	assert.Len(t, fake.loadedChunks, 2)
}

func TestRunSkipsBadRecordsBelowThreshold(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{
		records: tripRecords(5),
		transformFunc: func(raw domain.Record) (domain.Record, error) {
			if raw.Key == "trip-002" {
				return domain.Record{}, fmt.Errorf("invalid distance_km")
			}
			return raw, nil
		},
	}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 5, got.Progress.Fetched)
	assert.Equal(t, 4, got.Progress.Transformed)
	assert.Equal(t, 4, got.Progress.Loaded)
	require.Len(t, got.Progress.Errors, 1)
	assert.Equal(t, "trip-002", got.Progress.Errors[0].Key)
	assert.Equal(t, 1, got.Progress.Errors[0].Index)
	assert.Contains(t, got.Progress.Errors[0].Reason, "invalid distance_km")
}

func TestRunFailsWhenErrorRateExceeded(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{
		records: tripRecords(5),
		transformFunc: func(raw domain.Record) (domain.Record, error) {
			if raw.Key != "trip-001" {
				return domain.Record{}, fmt.Errorf("bad row")
			}
			return raw, nil
		},
	}
	registerFake(registry, fake)

	cfg := defaultSyncConfig()
	cfg.MaxErrorRate = 0.1
	runner := NewRunner(jobs, registry, newTestLogger(), cfg)

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.CodeTooManyBad, got.Detail.Code)
	assert.Equal(t, 5, got.Progress.Fetched)
	assert.Equal(t, 0, got.Progress.Loaded, "nothing is loaded past the threshold")
	assert.Len(t, got.Progress.Errors, 4)
	assert.Empty(t, fake.loadedChunks)
}

func TestRunFailsOnValidateError(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{
		validateFunc: func(ctx context.Context) error {
			return fmt.Errorf("%w: object missing", provider.ErrConnection)
		},
	}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.CodeUpstream, got.Detail.Code)
	assert.Nil(t, got.ActiveScope)
}

func TestRunFailsOnUnregisteredProvider(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	runner := NewRunner(jobs, provider.NewRegistry(), newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.CodeBadConfig, got.Detail.Code)
}

func TestRunKeepsPartialProgressOnLoadFailure(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	calls := 0
	fake := &fakeProvider{
		records: tripRecords(5),
		loadFunc: func(records []domain.Record) (int, error) {
			calls++
			if calls == 2 {
				return 0, fmt.Errorf("database write failed")
			}
			return len(records), nil
		},
	}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.CodeInternal, got.Detail.Code)
	assert.Equal(t, 5, got.Progress.Fetched)
	assert.Equal(t, 5, got.Progress.Transformed)
	assert.Equal(t, 2, got.Progress.Loaded, "the committed first chunk survives")
}

func TestRunRecoversFromProviderPanic(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{
		records: tripRecords(1),
		transformFunc: func(raw domain.Record) (domain.Record, error) {
			panic("provider bug")
		},
	}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.CodeInternal, got.Detail.Code)
}

func TestRunTerminalJobIsNotRerun(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{records: tripRecords(2)}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())

	job := newPendingJob(t, jobs)
	runner.Run(context.Background(), job.ID)
	chunksAfterFirst := len(fake.loadedChunks)

	// Re-running a finished job must be a no-op.
	runner.Run(context.Background(), job.ID)
	assert.Equal(t, chunksAfterFirst, len(fake.loadedChunks))
}

func TestEnqueueQueueFull(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	cfg := defaultSyncConfig()
	cfg.QueueSize = 1
	runner := NewRunner(jobs, provider.NewRegistry(), newTestLogger(), cfg)

	// No workers running, so the single slot fills up.
	require.NoError(t, runner.Enqueue("job-1"))
	assert.ErrorIs(t, runner.Enqueue("job-2"), ErrQueueFull)
}

func TestWorkerPoolRunsJobAsync(t *testing.T) {
	jobs := repository.NewJobRepository(newServiceTestDB(t))
	registry := provider.NewRegistry()
	fake := &fakeProvider{records: tripRecords(2)}
	registerFake(registry, fake)
	runner := NewRunner(jobs, registry, newTestLogger(), defaultSyncConfig())
	runner.Start()
	defer runner.Shutdown()

	job := newPendingJob(t, jobs)
	require.NoError(t, runner.Enqueue(job.ID))

	require.Eventually(t, func() bool {
		got, err := jobs.GetByID(context.Background(), job.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	got, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}
