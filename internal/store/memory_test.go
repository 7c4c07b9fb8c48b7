package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-road/internal/sim"
)

func report(endedAt time.Time, completed int) *RunReport {
	return NewRunReport(endedAt.Add(-time.Minute), endedAt, 42, sim.Stats{Tick: 3600, Completed: completed})
}

func TestMemorySaveAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	r := report(time.Now(), 12)
	require.NoError(t, repo.SaveRun(ctx, r))

	got, err := repo.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3600), got.Ticks)
	assert.Equal(t, int64(42), got.Seed)
	assert.Equal(t, 12, got.Stats.Completed)
}

func TestMemoryGetMissing(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	old := report(base, 1)
	mid := report(base.Add(time.Hour), 2)
	recent := report(base.Add(2*time.Hour), 3)
	for _, r := range []*RunReport{mid, old, recent} {
		require.NoError(t, repo.SaveRun(ctx, r))
	}

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, recent.ID, runs[0].ID)
	assert.Equal(t, old.ID, runs[2].ID)

	runs, err = repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, mid.ID, runs[1].ID)
}

func TestMemorySaveCopiesReport(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	r := report(time.Now(), 5)
	require.NoError(t, repo.SaveRun(ctx, r))
	r.Stats.Completed = 99

	got, err := repo.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stats.Completed)
}
