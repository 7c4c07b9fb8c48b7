package sim

import (
	"fmt"
	"strings"
)

// Stats is a point-in-time copy of the statistics accumulator.
// Velocities are in pixels per tick, dwell times in ticks.
type Stats struct {
	Tick      uint64 `json:"tick"`
	TickRate  int    `json:"tickRate"`
	Spawned   int    `json:"spawned"`
	Rejected  int    `json:"rejected"`
	Completed int    `json:"completed"`
	Active    int    `json:"active"`

	MaxVelocity float64 `json:"maxVelocity"`
	MinVelocity float64 `json:"minVelocity"`
	MaxDwell    float64 `json:"maxDwell"`
	MinDwell    float64 `json:"minDwell"`
	CloseCalls  int     `json:"closeCalls"`

	Grants              int `json:"grants"`
	Yields              int `json:"yields"`
	DroppedGrants       int `json:"droppedGrants"`
	LeakedCells         int `json:"leakedCells"`
	InvariantViolations int `json:"invariantViolations"`

	VelocityObserved bool `json:"velocityObserved"`
	DwellObserved    bool `json:"dwellObserved"`
}

func (s Stats) perSecond(perTick float64) float64 {
	return perTick * float64(s.TickRate)
}

func (s Stats) seconds(ticks float64) float64 {
	if s.TickRate <= 0 {
		return 0
	}
	return ticks / float64(s.TickRate)
}

// Report renders the end-of-run statistics as text.
func (s Stats) Report() string {
	var b strings.Builder
	b.WriteString("=== Simulation statistics ===\n")
	fmt.Fprintf(&b, "Vehicles passed:          %d\n", s.Completed)
	fmt.Fprintf(&b, "Vehicles spawned:         %d (rejected %d)\n", s.Spawned, s.Rejected)
	if s.VelocityObserved {
		fmt.Fprintf(&b, "Max velocity:             %.1f px/s (%.0f px/tick)\n", s.perSecond(s.MaxVelocity), s.MaxVelocity)
		fmt.Fprintf(&b, "Min velocity:             %.1f px/s (%.0f px/tick)\n", s.perSecond(s.MinVelocity), s.MinVelocity)
	} else {
		b.WriteString("Max velocity:             n/a\n")
		b.WriteString("Min velocity:             n/a\n")
	}
	if s.DwellObserved {
		fmt.Fprintf(&b, "Max time in intersection: %.2f s\n", s.seconds(s.MaxDwell))
		fmt.Fprintf(&b, "Min time in intersection: %.2f s\n", s.seconds(s.MinDwell))
	} else {
		b.WriteString("Max time in intersection: n/a\n")
		b.WriteString("Min time in intersection: n/a\n")
	}
	fmt.Fprintf(&b, "Close calls:              %d\n", s.CloseCalls)
	return b.String()
}

// StatsAccumulator collects run-wide counters. It is owned by the engine and
// only mutated from the tick.
type StatsAccumulator struct {
	stats Stats
}

// NewStatsAccumulator creates an empty accumulator.
func NewStatsAccumulator(tickRate int) *StatsAccumulator {
	return &StatsAccumulator{stats: Stats{TickRate: tickRate}}
}

func (a *StatsAccumulator) RecordSpawn() { a.stats.Spawned++ }
func (a *StatsAccumulator) RecordRejection() { a.stats.Rejected++ }
func (a *StatsAccumulator) RecordCloseCall() { a.stats.CloseCalls++ }
func (a *StatsAccumulator) RecordGrant() { a.stats.Grants++ }
func (a *StatsAccumulator) RecordYield() { a.stats.Yields++ }
func (a *StatsAccumulator) RecordDroppedGrant() { a.stats.DroppedGrants++ }
func (a *StatsAccumulator) RecordViolation() { a.stats.InvariantViolations++ }
func (a *StatsAccumulator) RecordLeak(cells int) { a.stats.LeakedCells += cells }
func (a *StatsAccumulator) RecordCompletion() { a.stats.Completed++ }
func (a *StatsAccumulator) SetActive(active int) { a.stats.Active = active }
func (a *StatsAccumulator) SetTick(tick uint64) { a.stats.Tick = tick }

// RecordVelocity samples the displacement of a vehicle inside the zone.
func (a *StatsAccumulator) RecordVelocity(perTick float64) {
	s := &a.stats
	if !s.VelocityObserved {
		s.MaxVelocity, s.MinVelocity = perTick, perTick
		s.VelocityObserved = true
		return
	}
	if perTick > s.MaxVelocity {
		s.MaxVelocity = perTick
	}
	if perTick < s.MinVelocity {
		s.MinVelocity = perTick
	}
}

// RecordDwell records the ticks one vehicle spent in the zone.
func (a *StatsAccumulator) RecordDwell(ticks float64) {
	s := &a.stats
	if !s.DwellObserved {
		s.MaxDwell, s.MinDwell = ticks, ticks
		s.DwellObserved = true
		return
	}
	if ticks > s.MaxDwell {
		s.MaxDwell = ticks
	}
	if ticks < s.MinDwell {
		s.MinDwell = ticks
	}
}

// Snapshot returns a copy of the current statistics.
func (a *StatsAccumulator) Snapshot() Stats {
	return a.stats
}
