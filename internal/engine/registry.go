package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Registered is one backend in the fallback chain.
type Registered struct {
	Descriptor Descriptor
	Backend    Backend

	breaker *gobreaker.CircuitBreaker
}

// Registry is the ordered, read-only list of backends an Orchestrator walks.
type Registry struct {
	entries []Registered
}

// NewRegistry builds a registry in the given order. Names must be unique.
func NewRegistry(entries ...Registered) (*Registry, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Descriptor.Name == "" {
			return nil, errors.New("registry: backend without a name")
		}
		if e.Backend == nil {
			return nil, fmt.Errorf("registry: backend %q is nil", e.Descriptor.Name)
		}
		if seen[e.Descriptor.Name] {
			return nil, fmt.Errorf("registry: duplicate backend %q", e.Descriptor.Name)
		}
		seen[e.Descriptor.Name] = true
	}
	return &Registry{entries: append([]Registered(nil), entries...)}, nil
}

// Assemble orders the available backends by name according to order.
// Names in order that are not available are an error.
func Assemble(order []string, available map[string]Registered) (*Registry, error) {
	entries := make([]Registered, 0, len(order))
	for _, name := range order {
		e, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("registry: unknown backend %q", name)
		}
		e.Descriptor.Name = name
		entries = append(entries, e)
	}
	return NewRegistry(entries...)
}

// Len returns the number of backends.
func (r *Registry) Len() int { return len(r.entries) }

// Entries returns a copy of the backends in fallback order.
func (r *Registry) Entries() []Registered {
	return append([]Registered(nil), r.entries...)
}

// Descriptors lists backend metadata in fallback order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// Filter returns a registry with only the backends keep accepts, order preserved.
func (r *Registry) Filter(keep func(Descriptor) bool) *Registry {
	out := &Registry{}
	for _, e := range r.entries {
		if keep(e.Descriptor) {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// FreeOnly keeps backends that cost nothing to call.
func FreeOnly(d Descriptor) bool { return !d.Paid }

// WithBreakers returns a registry where every backend is skipped for cooldown after
// failures consecutive calls that ended with retries exhausted. Terminal failures
// reset the count. failures <= 0 returns r unchanged.
func (r *Registry) WithBreakers(failures int, cooldown time.Duration) *Registry {
	if failures <= 0 {
		return r
	}
	out := &Registry{entries: make([]Registered, len(r.entries))}
	for i, e := range r.entries {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        e.Descriptor.Name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(failures)
			},
			IsSuccessful: func(err error) bool {
				// only retry exhaustion counts against the circuit
				return !errors.Is(err, errBackendFailed)
			},
		})
		out.entries[i] = e
	}
	return out
}

// errBackendFailed marks retry exhaustion inside the breaker.
var errBackendFailed = errors.New("backend failed")
