package domain

import "fmt"

// Domain identifies the reporting module a sync job feeds.
// Values include DomainTravel and DomainEmissionFactors.
type Domain string

const (
	DomainTravel          Domain = "travel"
	DomainEmissionFactors Domain = "emission_factors"
)

// SourceKind identifies which provider family pulls the data.
type SourceKind string

const (
	SourceCSVUpload   SourceKind = "csv_upload"
	SourceExternalAPI SourceKind = "external_api"
)

// TargetKind identifies what the job loads into.
type TargetKind string

const (
	TargetActivityRecords  TargetKind = "activity_records"
	TargetReferenceFactors TargetKind = "reference_factors"
)

// ScopeKey is the unit of mutual exclusion between jobs: two jobs with the
// same scope key must never be active at the same time. CategoryID is only
// set for reference_factors targets.
type ScopeKey struct {
	UnitID     string
	Target     TargetKind
	CategoryID string
}

// String renders the scope key in its canonical encoded form, which is what
// the job store's active-scope uniqueness column holds.
func (k ScopeKey) String() string {
	s := fmt.Sprintf("unit:%s|target:%s", k.UnitID, k.Target)
	if k.CategoryID != "" {
		s += "|category:" + k.CategoryID
	}
	return s
}
