package domain

import "time"

// EmissionFactor is a reference factor used to convert an activity quantity
// into kg CO2-equivalent. Factors are grouped by category (e.g. air travel,
// electricity) and versioned by reporting period. Code is the natural key
// within a category and period.
type EmissionFactor struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	CategoryID  string    `gorm:"type:text;not null;uniqueIndex:idx_factor_natural" json:"category_id"`
	Period      int       `gorm:"not null;uniqueIndex:idx_factor_natural" json:"period"`
	Code        string    `gorm:"type:text;not null;uniqueIndex:idx_factor_natural" json:"code"`
	Name        string    `gorm:"type:text" json:"name"`
	Unit        string    `gorm:"type:text" json:"unit"`
	KgCO2PerUnit float64  `json:"kg_co2_per_unit"`
	Source      string    `gorm:"type:text" json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for EmissionFactor.
func (EmissionFactor) TableName() string {
	return "emission_factors"
}
