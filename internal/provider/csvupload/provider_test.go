package csvupload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/config"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/emission"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
)

// memStore is an in-memory ObjectStorage for tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) GetURL(key string) string { return "mem://" + key }

func (m *memStore) EnsureBucket(ctx context.Context) error { return nil }

func newTestDB(t *testing.T) *gorm.DB {
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

func newTripsJob(objectKey string) *domain.SyncJob {
	return &domain.SyncJob{
		ID:         uuid.New().String(),
		UnitID:     "unit-1",
		TargetKind: domain.TargetActivityRecords,
		Domain:     domain.DomainTravel,
		SourceKind: domain.SourceCSVUpload,
		Period:     2025,
		Config:     domain.JSONMap{"object_key": objectKey},
	}
}

const tripsCSV = `trip_id,departure_date,origin,destination,cabin_class,distance_km
trip-001,2025-03-10,gva,lhr,economy,750
trip-002,2025-04-02,zrh,jfk,business,6330
trip-003,2025-05-20,gva,cdg,Y,410
`

func newTripsProvider(t *testing.T, store *memStore, db *gorm.DB, job *domain.SyncJob) provider.Provider {
	t.Helper()
	ctor := NewTrips(store, repository.NewActivityRepository(db), emission.NewFactorTable())
	p, err := ctor(job)
	require.NoError(t, err)
	return p
}

func TestTripsConstructorRequiresObjectKey(t *testing.T) {
	ctor := NewTrips(newMemStore(), repository.NewActivityRepository(newTestDB(t)), emission.NewFactorTable())

	_, err := ctor(&domain.SyncJob{Config: domain.JSONMap{}})
	assert.ErrorIs(t, err, provider.ErrBadConfig)

	_, err = ctor(newTripsJob("uploads/trips.csv"))
	assert.NoError(t, err)
}

func TestTripsValidateConnection(t *testing.T) {
	store := newMemStore()
	db := newTestDB(t)
	ctx := context.Background()

	t.Run("object missing", func(t *testing.T) {
		p := newTripsProvider(t, store, db, newTripsJob("uploads/nope.csv"))
		err := p.ValidateConnection(ctx)
		assert.ErrorIs(t, err, provider.ErrConnection)
	})

	t.Run("missing column", func(t *testing.T) {
		store.objects["uploads/bad.csv"] = []byte("trip_id,origin,destination\n")
		p := newTripsProvider(t, store, db, newTripsJob("uploads/bad.csv"))
		err := p.ValidateConnection(ctx)
		require.ErrorIs(t, err, provider.ErrConnection)
		assert.Contains(t, err.Error(), "departure_date")
	})

	t.Run("valid header", func(t *testing.T) {
		store.objects["uploads/trips.csv"] = []byte(tripsCSV)
		p := newTripsProvider(t, store, db, newTripsJob("uploads/trips.csv"))
		assert.NoError(t, p.ValidateConnection(ctx))
	})
}

func TestTripsFetchPaging(t *testing.T) {
	store := newMemStore()
	store.objects["uploads/trips.csv"] = []byte(tripsCSV)
	p := newTripsProvider(t, store, newTestDB(t), newTripsJob("uploads/trips.csv"))
	ctx := context.Background()

	page1, cursor, err := p.Fetch(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)
	assert.Equal(t, "trip-001", page1[0].Key)

	page2, cursor, err := p.Fetch(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, cursor, "last page carries no cursor")
	assert.Equal(t, "trip-003", page2[0].Key)
}

func TestTripsTransform(t *testing.T) {
	store := newMemStore()
	p := newTripsProvider(t, store, newTestDB(t), newTripsJob("uploads/trips.csv"))
	ctx := context.Background()

	t.Run("valid row", func(t *testing.T) {
		out, err := p.Transform(ctx, domain.Record{
			Key: "trip-001",
			Fields: map[string]interface{}{
				"departure_date": "2025-03-10",
				"origin":         "gva",
				"destination":    "lhr",
				"cabin_class":    "economy",
				"distance_km":    "750",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "GVA", out.Fields["origin"])
		assert.Equal(t, emission.ClassEconomy, out.Fields["cabin_class"])
		co2, ok := out.Float("co2_kg")
		require.True(t, ok)
		assert.InDelta(t, 750*0.151, co2, 0.0001)
	})

	bad := []struct {
		name   string
		record domain.Record
	}{
		{"missing key", domain.Record{Fields: map[string]interface{}{"departure_date": "2025-03-10", "distance_km": "100", "cabin_class": "economy"}}},
		{"bad date", domain.Record{Key: "t", Fields: map[string]interface{}{"departure_date": "10.03.2025", "distance_km": "100", "cabin_class": "economy"}}},
		{"zero distance", domain.Record{Key: "t", Fields: map[string]interface{}{"departure_date": "2025-03-10", "distance_km": "0", "cabin_class": "economy"}}},
		{"unknown class", domain.Record{Key: "t", Fields: map[string]interface{}{"departure_date": "2025-03-10", "distance_km": "100", "cabin_class": "deck"}}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Transform(ctx, tc.record)
			assert.Error(t, err)
		})
	}
}

func TestTripsLoadIdempotent(t *testing.T) {
	store := newMemStore()
	db := newTestDB(t)
	job := newTripsJob("uploads/trips.csv")
	p := newTripsProvider(t, store, db, job)
	ctx := context.Background()

	records := []domain.Record{
		{Key: "trip-001", Fields: map[string]interface{}{"distance_km": 750.0, "co2_kg": 113.25}},
		{Key: "trip-002", Fields: map[string]interface{}{"distance_km": 6330.0, "co2_kg": 1911.66}},
	}

	n, err := p.Load(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Loading the same chunk again must not duplicate.
	n, err = p.Load(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := repository.NewActivityRepository(db).CountByScope(ctx, job.UnitID, job.Domain, job.Period)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

const factorsCSV = `code,name,unit,kg_co2_per_unit
grid-ch,Swiss grid mix,kWh,0.012
gas,Natural gas,kWh,0.203
`

func TestFactorsProvider(t *testing.T) {
	store := newMemStore()
	store.objects["uploads/factors.csv"] = []byte(factorsCSV)
	db := newTestDB(t)
	factorRepo := repository.NewFactorRepository(db)
	ctx := context.Background()

	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		UnitID:     "unit-1",
		TargetKind: domain.TargetReferenceFactors,
		CategoryID: "electricity",
		Domain:     domain.DomainEmissionFactors,
		SourceKind: domain.SourceCSVUpload,
		Period:     2025,
		Config:     domain.JSONMap{"object_key": "uploads/factors.csv"},
	}

	t.Run("constructor requires category", func(t *testing.T) {
		noCategory := *job
		noCategory.CategoryID = ""
		_, err := NewFactors(store, factorRepo)(&noCategory)
		assert.ErrorIs(t, err, provider.ErrBadConfig)
	})

	p, err := NewFactors(store, factorRepo)(job)
	require.NoError(t, err)

	require.NoError(t, p.ValidateConnection(ctx))

	raw, cursor, err := p.Fetch(ctx, "", 100)
	require.NoError(t, err)
	assert.Empty(t, cursor)
	require.Len(t, raw, 2)

	normalized := make([]domain.Record, 0, len(raw))
	for _, r := range raw {
		n, err := p.Transform(ctx, r)
		require.NoError(t, err)
		normalized = append(normalized, n)
	}

	n, err := p.Load(ctx, normalized)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := factorRepo.CountByCategory(ctx, "electricity", 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFactorsTransformRejectsBadRows(t *testing.T) {
	store := newMemStore()
	db := newTestDB(t)
	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		CategoryID: "electricity",
		Period:     2025,
		Config:     domain.JSONMap{"object_key": "uploads/factors.csv"},
	}
	p, err := NewFactors(store, repository.NewFactorRepository(db))(job)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Transform(ctx, domain.Record{Key: "x", Fields: map[string]interface{}{"unit": "kWh", "kg_co2_per_unit": "not-a-number"}})
	assert.Error(t, err)

	_, err = p.Transform(ctx, domain.Record{Key: "x", Fields: map[string]interface{}{"unit": "kWh", "kg_co2_per_unit": "-1"}})
	assert.Error(t, err)

	_, err = p.Transform(ctx, domain.Record{Key: "x", Fields: map[string]interface{}{"kg_co2_per_unit": "0.5"}})
	assert.Error(t, err, "missing unit")
}
