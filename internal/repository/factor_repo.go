package repository

import (
	"context"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FactorRepository persists emission reference factors. It is the
// persistence collaborator for reference_factors targets; Upsert is
// idempotent on (category, period, code).
type FactorRepository struct {
	db *gorm.DB
}

// NewFactorRepository creates a new FactorRepository.
func NewFactorRepository(db *gorm.DB) *FactorRepository {
	return &FactorRepository{db: db}
}

// Upsert creates or updates a factor keyed by (category, period, code).
func (r *FactorRepository) Upsert(ctx context.Context, f *domain.EmissionFactor) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "category_id"}, {Name: "period"}, {Name: "code"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"name", "unit", "kg_co2_per_unit", "source", "updated_at"}),
	}).Create(f).Error
}

// CountByCategory counts factors for a category and period.
func (r *FactorRepository) CountByCategory(ctx context.Context, categoryID string, period int) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.EmissionFactor{}).
		Where("category_id = ? AND period = ?", categoryID, period).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
