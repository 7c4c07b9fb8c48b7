package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps run reports in process memory. Used when no
// database is configured or reachable.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]RunReport
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[uuid.UUID]RunReport)}
}

func (m *MemoryRepository) SaveRun(_ context.Context, report *RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[report.ID] = *report
	return nil
}

func (m *MemoryRepository) GetRun(_ context.Context, id uuid.UUID) (*RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &report, nil
}

func (m *MemoryRepository) ListRuns(_ context.Context, limit int) ([]RunReport, error) {
	m.mu.RLock()
	results := make([]RunReport, 0, len(m.runs))
	for _, r := range m.runs {
		results = append(results, r)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].EndedAt.After(results[j].EndedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryRepository) Close() {}
