package domain

// Record is the unit of data moving through a pipeline: a semi-structured
// bag of field values plus the natural key used for idempotent upserts.
// Records are opaque to the orchestrator; only the provider and the
// persistence layer interpret the fields. They are transient and never
// stored outside the job that produced them, except for the error
// descriptors retained on the job's progress.
type Record struct {
	// Key is the business-meaningful natural key. Two records with the same
	// key within one scope describe the same underlying item.
	Key string

	// Fields maps field names to values. Raw records carry the source's
	// vocabulary; transformed records carry the target schema's.
	Fields map[string]interface{}
}

// String returns the field value as a string, or "" if absent or not a string.
func (r Record) String(field string) string {
	if v, ok := r.Fields[field].(string); ok {
		return v
	}
	return ""
}

// Float returns the field value as a float64 and whether it was present.
func (r Record) Float(field string) (float64, bool) {
	switch v := r.Fields[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
