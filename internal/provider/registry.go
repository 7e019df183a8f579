package provider

import (
	"fmt"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/domain"
)

// Key is the scope descriptor a provider is registered under.
type Key struct {
	Domain domain.Domain
	Source domain.SourceKind
	Target domain.TargetKind
}

// Constructor builds a fresh provider for one job. No provider state is
// shared across jobs.
type Constructor func(job *domain.SyncJob) (Provider, error)

// Registry resolves a scope descriptor to a provider constructor. It is
// populated at process start and read-only afterwards; adding a source is
// one new provider plus one Register call.
type Registry struct {
	constructors map[Key]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[Key]Constructor)}
}

// Register adds a constructor for a scope descriptor. Registering the same
// triple twice is a programming error and panics at startup.
func (r *Registry) Register(d domain.Domain, s domain.SourceKind, t domain.TargetKind, ctor Constructor) {
	key := Key{Domain: d, Source: s, Target: t}
	if _, exists := r.constructors[key]; exists {
		panic(fmt.Sprintf("provider already registered for %s/%s/%s", d, s, t))
	}
	r.constructors[key] = ctor
}

// Resolve returns a fresh provider instance for the job's scope descriptor,
// or ErrNotRegistered for an unknown triple.
func (r *Registry) Resolve(job *domain.SyncJob) (Provider, error) {
	key := Key{Domain: job.Domain, Source: job.SourceKind, Target: job.TargetKind}
	ctor, ok := r.constructors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotRegistered, key.Domain, key.Source, key.Target)
	}
	return ctor(job)
}

// Registered lists the registered scope descriptors, useful for diagnostics.
func (r *Registry) Registered() []Key {
	keys := make([]Key, 0, len(r.constructors))
	for k := range r.constructors {
		keys = append(keys, k)
	}
	return keys
}
