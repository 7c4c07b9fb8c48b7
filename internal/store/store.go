// Package store keeps end-of-run reports of simulation runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"smart-road/internal/sim"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("store: run not found")

// RunReport is the persisted summary of one simulation run.
type RunReport struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Ticks     uint64    `json:"ticks"`
	Seed      int64     `json:"seed"`
	Stats     sim.Stats `json:"stats"`
}

// NewRunReport builds a report with a fresh id.
func NewRunReport(startedAt, endedAt time.Time, seed int64, stats sim.Stats) *RunReport {
	return &RunReport{
		ID:        uuid.New(),
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Ticks:     stats.Tick,
		Seed:      seed,
		Stats:     stats,
	}
}

// Repository stores run reports. Output only: nothing read back is used to
// restore a simulation.
type Repository interface {
	SaveRun(ctx context.Context, report *RunReport) error
	GetRun(ctx context.Context, id uuid.UUID) (*RunReport, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]RunReport, error)
	Close()
}
