package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Metrics tracks operational counters for one Orchestrator.
type Metrics struct {
	Calls      atomic.Int64
	CacheHits  atomic.Int64
	Misses     atomic.Int64
	Retries    atomic.Int64
	Exhausted  atomic.Int64
	Cancelled  atomic.Int64
	Invalid    atomic.Int64
	Unexpected atomic.Int64

	backends sync.Map // name → *backendCounters
}

type backendCounters struct {
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

func (m *Metrics) backend(name string) *backendCounters {
	if v, ok := m.backends.Load(name); ok {
		return v.(*backendCounters)
	}
	v, _ := m.backends.LoadOrStore(name, &backendCounters{})
	return v.(*backendCounters)
}

// Snapshot returns all counters by metric name.
func (m *Metrics) Snapshot() map[string]int64 {
	out := map[string]int64{
		"transcript_calls": m.Calls.Load(),
		"cache_hits":       m.CacheHits.Load(),
		"cache_misses":     m.Misses.Load(),
		"backend_retries":  m.Retries.Load(),
		"calls_exhausted":  m.Exhausted.Load(),
		"calls_cancelled":  m.Cancelled.Load(),
		"calls_invalid":    m.Invalid.Load(),
		"calls_unexpected": m.Unexpected.Load(),
	}
	m.backends.Range(func(k, v any) bool {
		name, c := k.(string), v.(*backendCounters)
		out["backend_attempts{"+name+"}"] = c.attempts.Load()
		out["backend_successes{"+name+"}"] = c.successes.Load()
		out["backend_failures{"+name+"}"] = c.failures.Load()
		return true
	})
	return out
}

// Format returns metrics as a simple text format for the HTTP endpoint.
func (m *Metrics) Format() string {
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, snap[k])
	}
	return sb.String()
}
