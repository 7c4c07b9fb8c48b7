package sim

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-road/internal/config"
	"smart-road/internal/sim/reservation"
)

func newTestEngine(t *testing.T, mutate func(*config.SimConfig)) *Engine {
	t.Helper()
	cfg := config.DefaultSim()
	cfg.StrictInvariants = true
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func spawnOn(t *testing.T, e *Engine, d Direction, turn Turn) uint64 {
	t.Helper()
	id, err := e.Spawn(d, &turn)
	require.NoError(t, err)
	return id
}

// placeAt teleports a vehicle for scenario setup.
func placeAt(e *Engine, id uint64, arc float64, tier Tier) {
	v := e.vehicles[id]
	v.Arc = arc
	v.Tier = tier
	v.locate()
	v.evaluate(float64(e.tickCount))
}

// physicalOverlap reports a zone cell covered by two vehicle bodies at once.
func physicalOverlap(e *Engine) (reservation.Cell, bool) {
	owner := make(map[reservation.Cell]uint64)
	for _, v := range e.order {
		for _, span := range v.Route.Cells {
			if span.From > v.Arc || v.Rear() > span.To {
				continue
			}
			if other, taken := owner[span.Cell]; taken && other != v.ID {
				return span.Cell, true
			}
			owner[span.Cell] = v.ID
		}
	}
	return reservation.Cell{}, false
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := config.DefaultSim()
	cfg.CellSize = 0
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = config.DefaultSim()
	cfg.SpawnTier = "ludicrous"
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

// TestSingleVehicleCrossing drives one straight vehicle through an empty
// intersection.
func TestSingleVehicleCrossing(t *testing.T) {
	e := newTestEngine(t, nil)
	id := spawnOn(t, e, North, Straight)

	granted := false
	for i := 0; i < 400 && e.Stats().Completed == 0; i++ {
		report := e.Step()
		if len(report.Granted) > 0 {
			assert.Equal(t, []uint64{id}, report.Granted)
			granted = true
		}
		require.NoError(t, e.Verify())
	}
	require.True(t, granted)

	stats := e.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.CloseCalls)
	assert.Equal(t, 0, stats.LeakedCells)
	require.True(t, stats.DwellObserved)
	assert.InDelta(t, 300.0/7, stats.MaxDwell, 1)
	assert.Equal(t, 7.0, stats.MaxVelocity)
	assert.Equal(t, 0, e.GridStats().Reservations)
	assert.Empty(t, e.Vehicles())
}

// TestConflictingPairTieBreak starts two vehicles with crossing paths that
// reach their first shared cell at the same tick.
func TestConflictingPairTieBreak(t *testing.T) {
	e := newTestEngine(t, nil)
	a := spawnOn(t, e, North, Straight)
	b := spawnOn(t, e, West, Left)
	placeAt(e, a, 345, Fast)
	placeAt(e, b, 245, Fast)

	report := e.Step()
	assert.Equal(t, []uint64{a}, report.Granted)
	assert.Equal(t, []uint64{b}, report.Yielded)

	va, _ := e.Vehicle(a)
	vb, _ := e.Vehicle(b)
	assert.True(t, va.Granted)
	assert.False(t, vb.Granted)
	assert.Equal(t, Medium, vb.Tier)

	report = e.Step()
	assert.Equal(t, []uint64{b}, report.Granted)
	vb, _ = e.Vehicle(b)
	assert.True(t, vb.Granted)
	assert.Equal(t, Slow, vb.Tier)
	assert.NoError(t, e.Verify())

	for i := 0; i < 600 && len(e.Vehicles()) > 0; i++ {
		e.Step()
		_, overlap := physicalOverlap(e)
		require.False(t, overlap)
	}
	assert.Equal(t, 2, e.Stats().Completed)
}

// TestFollowerCloseCall spawns a short fast vehicle right behind another one.
func TestFollowerCloseCall(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.SimConfig) {
		cfg.VehicleLength = 10
		cfg.SpawnClearance = 0
		cfg.SpawnTier = "fast"
	})
	spawnOn(t, e, North, Straight)
	e.Step()
	e.Step()
	follower := spawnOn(t, e, North, Straight)

	report := e.Step()
	assert.Equal(t, []uint64{follower}, report.CloseCalls)
	v, ok := e.Vehicle(follower)
	require.True(t, ok)
	assert.Less(t, v.Tier, Fast)

	for i := 0; i < 10; i++ {
		assert.Empty(t, e.Step().CloseCalls)
	}
	assert.Equal(t, 1, e.Stats().CloseCalls)
}

func TestSpawnGuard(t *testing.T) {
	e := newTestEngine(t, nil)
	spawnOn(t, e, North, Straight)

	straight := Straight
	_, err := e.Spawn(North, &straight)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejectedSpawn))

	spawnOn(t, e, North, Left)
	spawnOn(t, e, South, Straight)

	stats := e.Stats()
	assert.Equal(t, 3, stats.Spawned)
	assert.Equal(t, 1, stats.Rejected)
	assert.Len(t, e.Vehicles(), 3)

	// The lane clears once the first vehicle has moved on.
	for i := 0; i < 40; i++ {
		e.Step()
	}
	spawnOn(t, e, North, Straight)
}

func TestSpawnRandomTurn(t *testing.T) {
	e := newTestEngine(t, nil)
	id, err := e.Spawn(East, nil)
	require.NoError(t, err)
	v, ok := e.Vehicle(id)
	require.True(t, ok)
	assert.Equal(t, East, v.Direction)
	assert.Contains(t, AllTurns[:], v.Turn)
}

// TestRandomTrafficIsSafe runs dense random traffic and checks that no two
// reservations or vehicle bodies ever overlap, that lanes keep moving and
// that every vehicle eventually leaves with its cells released.
func TestRandomTrafficIsSafe(t *testing.T) {
	if testing.Short() {
		t.Skip("long simulation")
	}
	e := newTestEngine(t, func(cfg *config.SimConfig) { cfg.Seed = 42 })

	lastArc := make(map[uint64]float64)
	check := func() {
		require.NoError(t, e.Verify())
		cell, overlap := physicalOverlap(e)
		require.False(t, overlap, "two vehicles on cell %s", cell)
		for _, v := range e.order {
			prev, seen := lastArc[v.ID]
			require.True(t, !seen || v.Arc >= prev, "vehicle %d moved backwards", v.ID)
			lastArc[v.ID] = v.Arc
		}
	}

	for tick := 0; tick < 1500; tick++ {
		if tick%3 == 0 {
			_, err := e.SpawnRandom()
			if err != nil {
				require.True(t, errors.Is(err, ErrRejectedSpawn))
			}
		}
		e.Step()
		check()
	}

	for i := 0; i < 5000 && len(e.order) > 0; i++ {
		e.Step()
		check()
	}

	stats := e.Stats()
	assert.Empty(t, e.Vehicles(), "every vehicle completes")
	assert.Equal(t, stats.Spawned, stats.Completed)
	assert.Greater(t, stats.Completed, 100)
	assert.Equal(t, 0, stats.LeakedCells)
	assert.Equal(t, 0, stats.InvariantViolations)
	assert.Equal(t, 0, e.GridStats().Reservations)
	assert.Equal(t, 0, e.GridStats().Holders)
}

func TestDeterministicReplay(t *testing.T) {
	run := func() ([]VehicleView, Stats) {
		e := newTestEngine(t, func(cfg *config.SimConfig) { cfg.Seed = 7 })
		for tick := 0; tick < 600; tick++ {
			if tick%4 == 0 {
				e.SpawnRandom()
			}
			e.Step()
		}
		return e.Vehicles(), e.Stats()
	}

	vehiclesA, statsA := run()
	vehiclesB, statsB := run()
	assert.Equal(t, vehiclesA, vehiclesB)
	assert.Equal(t, statsA, statsB)
}

func TestSnapshotPublishedEachTick(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := e.GetSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(0), snap.Tick)

	spawnOn(t, e, South, Left)
	for i := 0; i < 5; i++ {
		e.Step()
	}
	snap = e.GetSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, e.Tick(), snap.Tick)
	require.Len(t, snap.Vehicles, 1)
	assert.Equal(t, 1, snap.Stats.Spawned)

	// Callers own the copy.
	snap.Vehicles[0].X = -1
	assert.NotEqual(t, -1.0, e.GetSnapshot().Vehicles[0].X)
}

func TestStartStop(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.SimConfig) { cfg.TickRate = 200 })

	var ticks atomic.Int64
	e.SetOnTick(func(TickReport) { ticks.Add(1) })

	e.Start()
	assert.True(t, e.IsRunning())
	time.Sleep(100 * time.Millisecond)
	e.Stop()
	e.Stop()
	assert.False(t, e.IsRunning())
	assert.Greater(t, ticks.Load(), int64(0))
	assert.Greater(t, e.Tick(), uint64(0))

	// A stopped engine can be restarted.
	e.Start()
	time.Sleep(20 * time.Millisecond)
	e.Stop()
}

func TestFaultHandling(t *testing.T) {
	strict := newTestEngine(t, nil)
	assert.Panics(t, func() {
		strict.fault(errors.New("overlap"), &TickReport{})
	})

	lenient := newTestEngine(t, func(cfg *config.SimConfig) { cfg.StrictInvariants = false })
	report := TickReport{}
	assert.NotPanics(t, func() {
		lenient.fault(errors.New("overlap"), &report)
	})
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, lenient.Stats().InvariantViolations)
}

func TestEventLogRecordsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	e := newTestEngine(t, nil)
	require.NoError(t, e.StartEventLog(path))

	spawnOn(t, e, East, Straight)
	for i := 0; i < 400 && e.Stats().Completed == 0; i++ {
		e.Step()
	}
	e.StopEventLog()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	seen := make(map[string]int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev struct {
			Type      string `json:"type"`
			VehicleID uint64 `json:"vehicleId"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		seen[ev.Type]++
	}
	require.NoError(t, scanner.Err())

	for _, typ := range []string{"spawn", "grant", "zone_enter", "zone_exit", "complete"} {
		assert.Equal(t, 1, seen[typ], typ)
	}
	stats := e.GetEventLogStats()
	assert.Equal(t, uint64(0), stats["dropped"])
}
