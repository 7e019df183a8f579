package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of a sync job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted,
// and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are immutable;
// the only way forward is a retry, which creates a new job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Machine-checkable outcome codes carried in StatusDetail. The classes follow
// HTTP semantics: 102 in progress, 2xx success, 4xx rejected, 5xx failure.
const (
	CodeInProgress = 102
	CodeOK         = 200
	CodeBadConfig  = 400
	CodeTooManyBad = 422
	CodeInternal   = 500
	CodeUpstream   = 502
	CodeQueueFull  = 503
)

// StatusDetail pairs an outcome code with a human-readable message. Stored as
// a JSON column on the job row.
type StatusDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Value implements the driver.Valuer interface for database serialization.
func (d StatusDetail) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (d *StatusDetail) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// RecordError describes a single record that failed transform or load. These
// are kept on the job row so per-record failures are never silently dropped.
type RecordError struct {
	Index  int    `json:"index"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// Progress holds the per-phase counters for a job. The store only ever moves
// these forward; a poller must never observe loaded > transformed > fetched.
type Progress struct {
	Fetched     int           `json:"fetched"`
	Transformed int           `json:"transformed"`
	Loaded      int           `json:"loaded"`
	Errors      []RecordError `json:"errors"`
}

// Value implements the driver.Valuer interface for database serialization.
func (p Progress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (p *Progress) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// JSONMap is a custom type for storing free-form JSON maps in the database.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	return scanJSON(value, m)
}

func scanJSON(value interface{}, target interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSON column")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, target)
}

// SyncJob represents one attempt to sync data into a scope. Rows are never
// deleted; history is the audit trail.
//
// ActiveScope mirrors the encoded scope key while the job is non-terminal and
// is cleared on the terminal transition. NULLs never collide in a unique
// index, so the database enforces at most one active job per scope.
type SyncJob struct {
	ID          string       `gorm:"type:text;primaryKey" json:"id"`
	UnitID      string       `gorm:"type:text;not null;index:idx_sync_jobs_scope" json:"unit_id"`
	TargetKind  TargetKind   `gorm:"type:text;not null;index:idx_sync_jobs_scope" json:"target_kind"`
	CategoryID  string       `gorm:"type:text" json:"category_id,omitempty"`
	Domain      Domain       `gorm:"type:text;not null" json:"domain"`
	SourceKind  SourceKind   `gorm:"type:text;not null" json:"source_kind"`
	Period      int          `gorm:"not null" json:"period"`
	Status      JobStatus    `gorm:"type:text;default:pending;index" json:"status"`
	Detail      StatusDetail `gorm:"type:text" json:"status_detail"`
	Progress    Progress     `gorm:"type:text" json:"progress"`
	Config      JSONMap      `gorm:"type:text" json:"config"`
	ActiveScope *string      `gorm:"type:text;uniqueIndex" json:"-"`
	RetryOf     string       `gorm:"type:text" json:"retry_of,omitempty"`
	CreatedBy   string       `gorm:"type:text" json:"created_by"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the database table name for SyncJob.
func (SyncJob) TableName() string {
	return "sync_jobs"
}

// Scope returns the job's scope key.
func (j *SyncJob) Scope() ScopeKey {
	return ScopeKey{UnitID: j.UnitID, Target: j.TargetKind, CategoryID: j.CategoryID}
}
