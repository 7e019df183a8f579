package repository

import (
	"context"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityRepository persists normalized activity records. It is the
// persistence collaborator for activity_records targets: Upsert is
// idempotent on the natural key, so re-running a load never duplicates.
type ActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Upsert creates or updates a record keyed by (unit, domain, period,
// natural key).
func (r *ActivityRepository) Upsert(ctx context.Context, rec *domain.ActivityRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "unit_id"}, {Name: "domain"}, {Name: "period"}, {Name: "natural_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "unit", "co2_kg", "attributes", "updated_at"}),
	}).Create(rec).Error
}

// CountByScope counts records for a unit, domain and period.
func (r *ActivityRepository) CountByScope(ctx context.Context, unitID string, d domain.Domain, period int) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ActivityRecord{}).
		Where("unit_id = ? AND domain = ? AND period = ?", unitID, d, period).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
