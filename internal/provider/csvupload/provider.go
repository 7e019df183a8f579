// Package csvupload implements sync providers for manually uploaded CSV
// files. Uploads land in object storage first (see the uploads endpoint);
// a job's config carries the object key the provider fetches.
package csvupload

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/emission"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/storage"
)

// tripColumns are the headers a trips CSV must carry.
var tripColumns = []string{"trip_id", "departure_date", "origin", "destination", "cabin_class", "distance_km"}

// TripsProvider syncs travel activity records from an uploaded trips CSV.
type TripsProvider struct {
	store      storage.ObjectStorage
	activities *repository.ActivityRepository
	calc       emission.Calculator
	job        *domain.SyncJob
	objectKey  string

	records []domain.Record
	loaded  bool
}

// NewTrips returns the registry constructor for the trips CSV provider.
func NewTrips(store storage.ObjectStorage, activities *repository.ActivityRepository, calc emission.Calculator) provider.Constructor {
	return func(job *domain.SyncJob) (provider.Provider, error) {
		key, _ := job.Config["object_key"].(string)
		if key == "" {
			return nil, fmt.Errorf("%w: object_key missing", provider.ErrBadConfig)
		}
		return &TripsProvider{
			store:      store,
			activities: activities,
			calc:       calc,
			job:        job,
			objectKey:  key,
		}, nil
	}
}

// ValidateConnection checks the uploaded object exists and its header row
// carries the expected columns. It never reads past the header.
func (p *TripsProvider) ValidateConnection(ctx context.Context) error {
	return validateCSVHeader(ctx, p.store, p.objectKey, tripColumns)
}

// Fetch pages through the CSV rows. The file is read once on the first call;
// the cursor is the index into the parsed rows.
func (p *TripsProvider) Fetch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error) {
	if !p.loaded {
		records, err := readCSVRecords(ctx, p.store, p.objectKey, "trip_id")
		if err != nil {
			return nil, "", err
		}
		p.records = records
		p.loaded = true
	}
	return pageRecords(p.records, cursor, limit)
}

// Transform normalizes one raw trip row and enriches it with the computed
// emission. An unparseable row is dropped with an error.
func (p *TripsProvider) Transform(ctx context.Context, raw domain.Record) (domain.Record, error) {
	if raw.Key == "" {
		return domain.Record{}, fmt.Errorf("missing trip_id")
	}

	date, err := time.Parse("2006-01-02", raw.String("departure_date"))
	if err != nil {
		return domain.Record{}, fmt.Errorf("unparseable departure_date %q", raw.String("departure_date"))
	}

	distance, err := strconv.ParseFloat(strings.TrimSpace(raw.String("distance_km")), 64)
	if err != nil || distance <= 0 {
		return domain.Record{}, fmt.Errorf("invalid distance_km %q", raw.String("distance_km"))
	}

	class, err := emission.NormalizeClass(raw.String("cabin_class"))
	if err != nil {
		return domain.Record{}, err
	}

	co2, err := p.calc.TripEmission(distance, class)
	if err != nil {
		return domain.Record{}, fmt.Errorf("emission lookup: %v", err)
	}

	return domain.Record{
		Key: raw.Key,
		Fields: map[string]interface{}{
			"departure_date": date.Format("2006-01-02"),
			"origin":         strings.ToUpper(strings.TrimSpace(raw.String("origin"))),
			"destination":    strings.ToUpper(strings.TrimSpace(raw.String("destination"))),
			"cabin_class":    class,
			"distance_km":    distance,
			"co2_kg":         co2,
		},
	}, nil
}

// Load upserts a chunk of normalized trips into the activity store.
func (p *TripsProvider) Load(ctx context.Context, records []domain.Record) (int, error) {
	loaded := 0
	for _, r := range records {
		distance, _ := r.Float("distance_km")
		co2, _ := r.Float("co2_kg")
		rec := &domain.ActivityRecord{
			ID:         uuid.New().String(),
			UnitID:     p.job.UnitID,
			Domain:     p.job.Domain,
			Period:     p.job.Period,
			NaturalKey: r.Key,
			Quantity:   distance,
			Unit:       "km",
			CO2Kg:      co2,
			Attributes: domain.JSONMap(r.Fields),
		}
		if err := p.activities.Upsert(ctx, rec); err != nil {
			return loaded, fmt.Errorf("failed to upsert trip %s: %w", r.Key, err)
		}
		loaded++
	}
	return loaded, nil
}

// validateCSVHeader downloads only enough of the object to parse the header
// row and verifies the required columns are present.
func validateCSVHeader(ctx context.Context, store storage.ObjectStorage, key string, required []string) error {
	exists, err := store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConnection, err)
	}
	if !exists {
		return fmt.Errorf("%w: object %s not found", provider.ErrConnection, key)
	}

	body, err := store.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConnection, err)
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: unreadable CSV header: %v", provider.ErrConnection, err)
	}

	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, col := range required {
		if !have[col] {
			return fmt.Errorf("%w: missing column %q", provider.ErrConnection, col)
		}
	}
	return nil
}

// readCSVRecords reads the whole object into header-mapped raw records.
// keyColumn names the column used as each record's natural key.
func readCSVRecords(ctx context.Context, store storage.ObjectStorage, key, keyColumn string) ([]domain.Record, error) {
	body, err := store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []domain.Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}

		fields := make(map[string]interface{}, len(header))
		for i, h := range header {
			if i < len(row) {
				fields[h] = row[i]
			}
		}
		rec := domain.Record{Fields: fields}
		if k, ok := fields[keyColumn].(string); ok {
			rec.Key = strings.TrimSpace(k)
		}
		records = append(records, rec)
	}
	return records, nil
}

// pageRecords slices an in-memory record list by index cursor, the same
// contract a remote source exposes.
func pageRecords(records []domain.Record, cursor string, limit int) ([]domain.Record, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
	}
	if start >= len(records) {
		return []domain.Record{}, "", nil
	}

	end := start + limit
	if end > len(records) {
		end = len(records)
	}

	next := ""
	if end < len(records) {
		next = strconv.Itoa(end)
	}
	return records[start:end], next, nil
}
