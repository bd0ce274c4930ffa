package registry

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
)

// Static is a routing table built once from configuration. Reads are served
// from an immutable snapshot held in an atomic.Value, so the many concurrent
// gateway requests never contend with the single health-check writer: the
// writer builds a fresh map and swaps it in whole.
type Static struct {
	snapshot atomic.Value // map[string]Entry
}

func NewStatic(routes map[string]string) *Static {
	table := make(map[string]Entry, len(routes))
	for name, baseURL := range routes {
		table[name] = Entry{ServiceName: name, BaseURL: baseURL, Health: HealthUnknown}
	}
	s := &Static{}
	s.snapshot.Store(table)
	return s
}

func (s *Static) table() map[string]Entry {
	return s.snapshot.Load().(map[string]Entry)
}

func (s *Static) Resolve(_ context.Context, serviceName string) (string, error) {
	entry, ok := s.table()[serviceName]
	if !ok {
		return "", errUnknownService(serviceName)
	}
	if entry.Health == HealthDown {
		return "", apperr.Unavailable(errors.Errorf("service %s is marked DOWN", serviceName), "no healthy instance")
	}
	return entry.BaseURL, nil
}

// Entries returns the current snapshot, for the health checker and the
// gateway's status surface.
func (s *Static) Entries() []Entry {
	table := s.table()
	out := make([]Entry, 0, len(table))
	for _, e := range table {
		out = append(out, e)
	}
	return out
}

// setHealth swaps in a new snapshot with serviceName transitioned to h.
// Only the health-check task calls this; entries are never removed.
func (s *Static) setHealth(serviceName string, h Health) {
	old := s.table()
	entry, ok := old[serviceName]
	if !ok || entry.Health == h {
		return
	}
	next := make(map[string]Entry, len(old))
	for name, e := range old {
		next[name] = e
	}
	entry.Health = h
	next[serviceName] = entry
	s.snapshot.Store(next)
}
