package provider

import (
	"context"
	"errors"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
)

var (
	// ErrNotRegistered is returned by Resolve for an unknown
	// (domain, source, target) triple.
	ErrNotRegistered = errors.New("no provider registered for scope descriptor")

	// ErrConnection marks a failed source reachability check.
	ErrConnection = errors.New("source connection check failed")

	// ErrBadConfig marks a job config a provider cannot work with.
	ErrBadConfig = errors.New("invalid provider config")
)

// Provider is the strategy contract every source implements for one
// (domain, source kind, target kind) combination. Providers hold no
// orchestration knowledge; the runner drives the phases in order.
type Provider interface {
	// ValidateConnection is a cheap reachability and sanity check: the file
	// exists and its header parses, or the API accepts our credentials. It
	// must never perform the full fetch. The caller bounds it with a
	// deadline on ctx.
	ValidateConnection(ctx context.Context) error

	// Fetch returns the next page of raw records and the cursor for the
	// following page, or an empty cursor when the source is exhausted. The
	// sequence is finite and non-restartable: each element is consumed once.
	Fetch(ctx context.Context, cursor string, limit int) ([]domain.Record, string, error)

	// Transform maps one raw record into the target schema's vocabulary.
	// An error drops the record (the runner records it on the job); records
	// are never fabricated. Transform must not touch persisted state.
	Transform(ctx context.Context, raw domain.Record) (domain.Record, error)

	// Load upserts a chunk of normalized records through the persistence
	// collaborator and returns how many were loaded. Load is idempotent on
	// each record's natural key: same scope and key means update, not
	// duplicate.
	Load(ctx context.Context, records []domain.Record) (int, error)
}
