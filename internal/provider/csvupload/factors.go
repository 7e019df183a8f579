package csvupload

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/provider"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/repository"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/storage"
)

// factorColumns are the headers a reference-factor CSV must carry.
var factorColumns = []string{"code", "name", "unit", "kg_co2_per_unit"}

// FactorsProvider syncs emission reference factors from an uploaded CSV into
// the factor category named by the job's scope.
type FactorsProvider struct {
	store     storage.ObjectStorage
	factors   *repository.FactorRepository
	job       *domain.SyncJob
	objectKey string

	records []domain.Record
	loaded  bool
}

// NewFactors returns the registry constructor for the factor CSV provider.
func NewFactors(store storage.ObjectStorage, factors *repository.FactorRepository) provider.Constructor {
	return func(job *domain.SyncJob) (provider.Provider, error) {
		key, _ := job.Config["object_key"].(string)
		if key == "" {
			return nil, fmt.Errorf("%w: object_key missing", provider.ErrBadConfig)
		}
		if job.CategoryID == "" {
			return nil, fmt.Errorf("%w: factor category missing", provider.ErrBadConfig)
		}
		return &FactorsProvider{
			store:     store,
			factors:   factors,
			job:       job,
			objectKey: key,
		}, nil
	}
}

// ValidateConnection checks the uploaded object exists and its header row
// carries the expected columns.
func (p *FactorsProvider) ValidateConnection(ctx context.Context) error {
	return validateCSVHeader(ctx, p.store, p.objectKey, factorColumns)
}

// Fetch pages through the CSV rows, reading the file once on the first call.
func (p *FactorsProvider) Fetch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error) {
	if !p.loaded {
		records, err := readCSVRecords(ctx, p.store, p.objectKey, "code")
		if err != nil {
			return nil, "", err
		}
		p.records = records
		p.loaded = true
	}
	return pageRecords(p.records, cursor, limit)
}

// Transform validates one raw factor row.
func (p *FactorsProvider) Transform(ctx context.Context, raw domain.Record) (domain.Record, error) {
	if raw.Key == "" {
		return domain.Record{}, fmt.Errorf("missing code")
	}

	perUnit, err := strconv.ParseFloat(strings.TrimSpace(raw.String("kg_co2_per_unit")), 64)
	if err != nil || perUnit < 0 {
		return domain.Record{}, fmt.Errorf("invalid kg_co2_per_unit %q", raw.String("kg_co2_per_unit"))
	}

	unit := strings.TrimSpace(raw.String("unit"))
	if unit == "" {
		return domain.Record{}, fmt.Errorf("missing unit")
	}

	return domain.Record{
		Key: raw.Key,
		Fields: map[string]interface{}{
			"name":            strings.TrimSpace(raw.String("name")),
			"unit":            unit,
			"kg_co2_per_unit": perUnit,
			"source":          strings.TrimSpace(raw.String("source")),
		},
	}, nil
}

// Load upserts a chunk of factors keyed by (category, period, code).
func (p *FactorsProvider) Load(ctx context.Context, records []domain.Record) (int, error) {
	loaded := 0
	for _, r := range records {
		perUnit, _ := r.Float("kg_co2_per_unit")
		f := &domain.EmissionFactor{
			ID:           uuid.New().String(),
			CategoryID:   p.job.CategoryID,
			Period:       p.job.Period,
			Code:         r.Key,
			Name:         r.String("name"),
			Unit:         r.String("unit"),
			KgCO2PerUnit: perUnit,
			Source:       r.String("source"),
		}
		if err := p.factors.Upsert(ctx, f); err != nil {
			return loaded, fmt.Errorf("failed to upsert factor %s: %w", r.Key, err)
		}
		loaded++
	}
	return loaded, nil
}
