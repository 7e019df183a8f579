package domain

import "time"

// ActivityRecord is a normalized emission-generating activity (one trip, one
// purchase, ...) loaded for a reporting unit and period. The natural key
// deduplicates re-ingested records: same unit, domain, period and key means
// update, not a new row.
type ActivityRecord struct {
	ID         string    `gorm:"type:text;primaryKey" json:"id"`
	UnitID     string    `gorm:"type:text;not null;uniqueIndex:idx_activity_natural" json:"unit_id"`
	Domain     Domain    `gorm:"type:text;not null;uniqueIndex:idx_activity_natural" json:"domain"`
	Period     int       `gorm:"not null;uniqueIndex:idx_activity_natural" json:"period"`
	NaturalKey string    `gorm:"type:text;not null;uniqueIndex:idx_activity_natural" json:"natural_key"`
	Quantity   float64   `json:"quantity"`
	Unit       string    `gorm:"type:text" json:"unit"`
	CO2Kg      float64   `json:"co2_kg"`
	Attributes JSONMap   `gorm:"type:text" json:"attributes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for ActivityRecord.
func (ActivityRecord) TableName() string {
	return "activity_records"
}
