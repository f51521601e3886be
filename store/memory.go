package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/workflow"
)

// MemoryStore keeps reports in process memory. At most MaxRuns reports are
// kept; the least recently saved one is evicted first.
type MemoryStore struct {
	maxRuns int
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	reports map[string]*memoryEntry
	seq     uint64
}

type memoryEntry struct {
	report *workflow.Report
	seq    uint64
}

// NewMemoryStore creates a memory store.
func NewMemoryStore(cfg config.StoreConfig) *MemoryStore {
	return &MemoryStore{
		maxRuns: cfg.MaxRuns,
		ttl:     cfg.TTL,
		now:     time.Now,
		reports: make(map[string]*memoryEntry),
	}
}

func (s *MemoryStore) Save(_ context.Context, rep *workflow.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.reports[rep.ID] = &memoryEntry{report: rep, seq: s.seq}
	s.evictLocked()
	return nil
}

func (s *MemoryStore) evictLocked() {
	now := s.now()
	for id, e := range s.reports {
		if expired(e.report, s.ttl, now) {
			delete(s.reports, id)
		}
	}
	if s.maxRuns <= 0 || len(s.reports) <= s.maxRuns {
		return
	}
	entries := make([]*memoryEntry, 0, len(s.reports))
	for _, e := range s.reports {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for _, e := range entries[:len(entries)-s.maxRuns] {
		delete(s.reports, e.report.ID)
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*workflow.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.reports[id]
	if !ok || expired(e.report, s.ttl, s.now()) {
		return nil, notFound(id)
	}
	return e.report, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*workflow.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]*workflow.Report, 0, len(s.reports))
	for _, e := range s.reports {
		if !expired(e.report, s.ttl, now) {
			out = append(out, e.report)
		}
	}
	sortNewest(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored reports, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func sortNewest(reps []*workflow.Report) {
	sort.Slice(reps, func(i, j int) bool {
		if reps[i].StartedAt.Equal(reps[j].StartedAt) {
			return reps[i].ID < reps[j].ID
		}
		return reps[i].StartedAt.After(reps[j].StartedAt)
	})
}
