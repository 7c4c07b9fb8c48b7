package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsAccumulator(t *testing.T) {
	acc := NewStatsAccumulator(60)
	acc.RecordVelocity(5)
	acc.RecordVelocity(7)
	acc.RecordVelocity(3)
	acc.RecordDwell(60)
	acc.RecordDwell(120)
	acc.RecordSpawn()
	acc.RecordSpawn()
	acc.RecordRejection()
	acc.RecordCompletion()
	acc.RecordCloseCall()
	acc.RecordLeak(3)

	s := acc.Snapshot()
	assert.Equal(t, 7.0, s.MaxVelocity)
	assert.Equal(t, 3.0, s.MinVelocity)
	assert.Equal(t, 120.0, s.MaxDwell)
	assert.Equal(t, 60.0, s.MinDwell)
	assert.Equal(t, 2, s.Spawned)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.CloseCalls)
	assert.Equal(t, 3, s.LeakedCells)
}

func TestStatsReport(t *testing.T) {
	acc := NewStatsAccumulator(60)
	assert.Contains(t, acc.Snapshot().Report(), "Max velocity:             n/a")

	acc.RecordVelocity(7)
	acc.RecordDwell(90)
	acc.RecordCompletion()
	acc.RecordCloseCall()

	report := acc.Snapshot().Report()
	assert.Contains(t, report, "Vehicles passed:          1")
	assert.Contains(t, report, "420.0 px/s")
	assert.Contains(t, report, "Max time in intersection: 1.50 s")
	assert.Contains(t, report, "Close calls:              1")
}
