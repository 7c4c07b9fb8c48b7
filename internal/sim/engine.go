package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"smart-road/internal/config"
	"smart-road/internal/sim/reservation"
)

// TickReport summarises what happened during one Step.
type TickReport struct {
	Tick       uint64        `json:"tick"`
	Active     int           `json:"active"`
	Granted    []uint64      `json:"granted,omitempty"`
	Yielded    []uint64      `json:"yielded,omitempty"`
	Dropped    []uint64      `json:"dropped,omitempty"`
	Entered    []uint64      `json:"entered,omitempty"`
	Exited     []uint64      `json:"exited,omitempty"`
	Completed  []uint64      `json:"completed,omitempty"`
	CloseCalls []uint64      `json:"closeCalls,omitempty"`
	Violations int           `json:"violations,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Engine owns the whole simulation: vehicles, the reservation grid, the
// intersection manager and the statistics. Every mutation happens under mu,
// either from Step or from Spawn.
type Engine struct {
	mu sync.RWMutex

	cfg       config.SimConfig
	tiers     TierTable
	spawnTier Tier

	grid    *reservation.Grid
	routes  *RouteTable
	manager *Manager
	safety  *SafetyMonitor
	stats   *StatsAccumulator

	vehicles map[uint64]*Vehicle
	order    []*Vehicle // active vehicles in id order
	nextID   uint64

	tickCount uint64
	rng       *rand.Rand

	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	// Snapshot system for lock-free reads by outer surfaces
	snapshotPool *SnapshotPool

	// Event sourcing for replay and debugging
	eventLog *EventLog

	onTick func(TickReport)
	logger *log.Entry
}

// NewEngine validates cfg and builds the route table and reservation grid.
func NewEngine(cfg config.SimConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spawnTier, err := ParseTier(cfg.SpawnTier)
	if err != nil {
		return nil, fmt.Errorf("config: spawn tier: %w", err)
	}

	tiers := TierTable(cfg.TierDisplacement)
	grid := reservation.NewGrid(cfg.ZoneMinX, cfg.ZoneMinY, cfg.ZoneMaxX, cfg.ZoneMaxY,
		cfg.CellSize, cfg.ReservationMargin)

	e := &Engine{
		cfg:          cfg,
		tiers:        tiers,
		spawnTier:    spawnTier,
		grid:         grid,
		routes:       NewRouteTable(cfg, grid),
		manager:      NewManager(grid, tiers),
		safety:       NewSafetyMonitor(tiers, cfg.SafetyDistance, cfg.CloseCallDistance),
		stats:        NewStatsAccumulator(cfg.TickRate),
		vehicles:     make(map[uint64]*Vehicle),
		nextID:       1,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		snapshotPool: NewSnapshotPool(64),
		eventLog:     NewEventLog(),
		logger:       log.WithField("component", "engine"),
	}
	e.produceSnapshot()
	return e, nil
}

// Start begins the tick loop at the configured rate.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))
	ticker, stop := e.ticker, e.stopChan
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				e.Step()
			case <-stop:
				return
			}
		}
	}()

	e.logger.WithField("tickRate", e.cfg.TickRate).Info("🚦 Simulation started")
}

// Stop stops the tick loop. A stopped engine can be started again.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	e.logger.WithField("tick", e.tickCount).Info("🛑 Simulation stopped")
}

// IsRunning reports whether the tick loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// SetOnTick registers a callback invoked after every Step, outside the lock.
func (e *Engine) SetOnTick(fn func(TickReport)) {
	e.mu.Lock()
	e.onTick = fn
	e.mu.Unlock()
}

// =============================================================================
// SPAWNING
// =============================================================================

// Spawn places a new vehicle at the start of the lane for direction and turn.
// A nil turn is drawn from the engine RNG. The spawn is rejected with
// ErrRejectedSpawn while the lane is occupied near its start.
func (e *Engine) Spawn(d Direction, turn *Turn) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := Turn(e.rng.Intn(len(AllTurns)))
	if turn != nil {
		t = *turn
	}
	return e.spawn(d, t)
}

// SpawnRandom spawns on a direction and turn drawn from the engine RNG.
func (e *Engine) SpawnRandom() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := AllDirections[e.rng.Intn(len(AllDirections))]
	t := AllTurns[e.rng.Intn(len(AllTurns))]
	return e.spawn(d, t)
}

func (e *Engine) spawn(d Direction, t Turn) (uint64, error) {
	route, err := e.routes.Lookup(d, t)
	if err != nil {
		return 0, err
	}

	for _, v := range e.order {
		if v.Route == route && v.Rear() < e.cfg.SpawnClearance {
			e.stats.RecordRejection()
			e.eventLog.EmitSimple(EventTypeSpawnRejected, e.tickCount, 0,
				SpawnPayload{Direction: d, Turn: t, Tier: e.spawnTier})
			e.logger.WithFields(log.Fields{
				"route":   route.Key(),
				"blocker": v.ID,
			}).Debug("spawn rejected")
			return 0, fmt.Errorf("%w: %s blocked by vehicle %d", ErrRejectedSpawn, route.Key(), v.ID)
		}
	}

	id := e.nextID
	e.nextID++
	v := newVehicle(id, route, e.spawnTier, e.tickCount,
		e.cfg.VehicleLength, e.cfg.ReleaseClearance, e.cfg.LookaheadDistance)
	e.vehicles[id] = v
	e.order = append(e.order, v)

	e.stats.RecordSpawn()
	e.stats.SetActive(len(e.order))
	e.eventLog.EmitSimple(EventTypeSpawn, e.tickCount, id,
		SpawnPayload{Direction: d, Turn: t, Tier: v.Tier})
	e.logger.WithFields(log.Fields{
		"vehicle": id,
		"route":   route.Key(),
	}).Debug("vehicle spawned")
	return id, nil
}

// =============================================================================
// TICK
// =============================================================================

// rebook is a planned replacement of a granted vehicle's reservations.
type rebook struct {
	v        *Vehicle
	proposal Proposal
	forced   bool // the current booking no longer matches the vehicle's tier
	limit    Tier
}

// Step advances the simulation by one tick.
func (e *Engine) Step() TickReport {
	report, onTick := e.lockedStep()
	if onTick != nil {
		onTick(report)
	}
	return report
}

func (e *Engine) lockedStep() (TickReport, func(TickReport)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step(), e.onTick
}

func (e *Engine) step() TickReport {
	started := time.Now()
	now := float64(e.tickCount)
	report := TickReport{Tick: e.tickCount}

	// 1. Following distance
	safety := e.safety.Evaluate(e.order)
	for _, id := range safety.CloseCallVehicles() {
		gap, _ := safety.GapOf(id)
		e.stats.RecordCloseCall()
		report.CloseCalls = append(report.CloseCalls, id)
		e.eventLog.EmitSimple(EventTypeCloseCall, e.tickCount, id,
			CloseCallPayload{Leader: gap.Leader, Gap: gap.Distance})
		e.logger.WithFields(log.Fields{
			"vehicle": id,
			"leader":  gap.Leader,
			"gap":     gap.Distance,
		}).Info("close call")
	}

	// 2. Plan against the start-of-tick grid
	var rebooks []rebook
	var requests []Proposal
	for _, v := range e.order {
		limit := safety.Limit(v.ID)
		switch {
		case v.Status == StatusApproaching:
			v.Tier = minTier(v.Tier.Higher(), limit)

		case v.Status == StatusRequesting && !v.Granted:
			if !e.laneFront(v) {
				v.Tier = minTier(v.Tier.Higher(), limit)
				continue
			}
			v.Tier = minTier(v.Tier, limit)
			requests = append(requests, v.RequestPath(e.manager, now, limit))

		case v.Granted && (v.Status != StatusExiting || len(v.pending) > 0):
			// Any tier change of a vehicle holding cells needs a new booking.
			desired := minTier(v.Tier.Higher(), limit)
			switch {
			case desired < v.Tier:
				rebooks = append(rebooks, rebook{v: v, proposal: e.manager.Resolve(v, now, desired), forced: true, limit: limit})
			case desired > v.Tier:
				if p := e.manager.Resolve(v, now, desired); p.Granted && p.Tier > v.Tier {
					rebooks = append(rebooks, rebook{v: v, proposal: p, limit: limit})
				}
			}

		case v.Status == StatusExiting:
			v.Tier = minTier(v.Tier.Higher(), limit)
		}
	}

	// 3. Re-bookings: vehicles inside the zone first, then by id
	sort.SliceStable(rebooks, func(i, j int) bool {
		iz, jz := !rebooks[i].v.OutsideZone(), !rebooks[j].v.OutsideZone()
		if iz != jz {
			return iz
		}
		return rebooks[i].v.ID < rebooks[j].v.ID
	})
	for _, rb := range rebooks {
		e.commitRebook(rb, &report)
	}

	// 4. First-time requests, arbitrated
	var granted []Proposal
	for _, p := range requests {
		if p.Granted {
			granted = append(granted, p)
			continue
		}
		v := e.vehicles[p.VehicleID]
		v.Tier = minTier(v.Tier.Higher(), safety.Limit(v.ID))
	}
	if len(granted) > 0 {
		byID := make(map[uint64]Proposal, len(granted))
		for _, p := range granted {
			byID[p.VehicleID] = p
		}
		res := e.manager.CommitContested(granted, func(id uint64) *Vehicle { return e.vehicles[id] })
		for _, id := range res.Granted {
			p := byID[id]
			e.stats.RecordGrant()
			report.Granted = append(report.Granted, id)
			e.eventLog.EmitSimple(EventTypeGrant, e.tickCount, id,
				GrantPayload{Tier: p.Tier, Cells: len(p.Bookings), Tries: p.Tries})
		}
		for _, id := range res.Yielded {
			v := e.vehicles[id]
			v.Tier = v.Tier.Lower()
			e.stats.RecordYield()
			report.Yielded = append(report.Yielded, id)
			e.eventLog.EmitSimple(EventTypeYield, e.tickCount, id, YieldPayload{Tier: v.Tier})
		}
		for _, err := range res.Errors {
			e.fault(err, &report)
		}
	}

	// 5. Ungranted vehicles brake toward their stop line
	for _, v := range e.order {
		if v.Granted || !v.OutsideZone() {
			continue
		}
		if v.Route.StopLine-v.Arc < e.tiers.BrakingDistance(v.Tier) {
			v.Tier = v.Tier.Lower()
		}
	}

	// 6. Movement
	for _, v := range e.order {
		tr := v.Advance(e.tickCount+1, e.tiers)
		if !tr.Changed() {
			continue
		}
		if tr.From < StatusInZone && v.Status >= StatusInZone {
			report.Entered = append(report.Entered, v.ID)
			e.eventLog.EmitSimple(EventTypeZoneEnter, e.tickCount, v.ID, ZonePayload{Tier: v.Tier})
		}
		if tr.From < StatusExiting && v.Status >= StatusExiting {
			dwell, _ := v.Dwell()
			e.stats.RecordDwell(dwell)
			report.Exited = append(report.Exited, v.ID)
			e.eventLog.EmitSimple(EventTypeZoneExit, e.tickCount, v.ID, ZonePayload{Tier: v.Tier, Dwell: dwell})
		}
	}

	// 7. Progressive release and completion
	kept := e.order[:0]
	for _, v := range e.order {
		v.ReleasePassedCells(e.grid)
		if v.Status != StatusCompleted {
			kept = append(kept, v)
			continue
		}
		if leaked := e.grid.ReleaseAll(v.ID); leaked > 0 {
			e.stats.RecordLeak(leaked)
			e.logger.WithFields(log.Fields{
				"vehicle": v.ID,
				"cells":   leaked,
			}).Warn("released leftover reservations on completion")
		}
		v.pending = nil
		delete(e.vehicles, v.ID)
		e.stats.RecordCompletion()
		report.Completed = append(report.Completed, v.ID)
		e.eventLog.EmitSimple(EventTypeComplete, e.tickCount, v.ID, nil)
	}
	for i := len(kept); i < len(e.order); i++ {
		e.order[i] = nil
	}
	e.order = kept

	// 8. Grid invariant
	if err := e.grid.Verify(); err != nil {
		e.fault(err, &report)
	}

	// 9. Statistics and snapshot
	for _, v := range e.order {
		if v.Status == StatusInZone {
			e.stats.RecordVelocity(e.tiers.Displacement(v.Tier))
		}
	}
	e.tickCount++
	e.stats.SetActive(len(e.order))
	e.stats.SetTick(e.tickCount)
	e.produceSnapshot()

	report.Active = len(e.order)
	report.Duration = time.Since(started)
	return report
}

// laneFront reports whether no ungranted vehicle waits ahead of v in its lane.
func (e *Engine) laneFront(v *Vehicle) bool {
	for _, o := range e.order {
		if o != v && o.Route == v.Route && o.Arc > v.Arc && !o.Granted && o.OutsideZone() {
			return false
		}
	}
	return true
}

func (e *Engine) commitRebook(rb rebook, report *TickReport) {
	v := rb.v
	var err error
	if rb.proposal.Granted {
		err = e.manager.Commit(v, rb.proposal)
	} else {
		err = fmt.Errorf("%w: no tier at or below %s fits vehicle %d", ErrPathConflict, rb.limit, v.ID)
	}
	if err == nil {
		return
	}
	if !rb.forced {
		// A failed speed-up keeps the current booking.
		return
	}

	if v.OutsideZone() {
		freed := v.dropGrant(e.grid)
		v.Tier = rb.limit
		e.stats.RecordDroppedGrant()
		report.Dropped = append(report.Dropped, v.ID)
		e.eventLog.EmitSimple(EventTypeGrantDropped, e.tickCount, v.ID, GrantPayload{Tier: v.Tier, Cells: freed})
		e.logger.WithFields(log.Fields{
			"vehicle": v.ID,
			"freed":   freed,
		}).WithError(err).Debug("grant dropped")
		return
	}

	// Inside the zone the vehicle cannot give its cells back; it slows down
	// on its existing booking.
	v.Tier = rb.limit
	e.logger.WithFields(log.Fields{
		"vehicle": v.ID,
		"tier":    v.Tier,
	}).WithError(err).Warn("could not rebook slowed vehicle inside the zone")
}

// fault handles a broken reservation invariant: loudly in strict mode, as a
// counted error otherwise.
func (e *Engine) fault(err error, report *TickReport) {
	e.stats.RecordViolation()
	report.Violations++
	e.eventLog.EmitSimple(EventTypeInvariantViolation, e.tickCount, 0, ViolationPayload{Message: err.Error()})
	if e.cfg.StrictInvariants {
		panic(err)
	}
	e.logger.WithError(err).WithField("tick", e.tickCount).Error("reservation invariant violated")
}

// produceSnapshot publishes the current state to the snapshot pool.
func (e *Engine) produceSnapshot() {
	snap := e.snapshotPool.AcquireWrite()
	snap.Tick = e.tickCount
	for _, v := range e.order {
		snap.Vehicles = append(snap.Vehicles, v.View(e.tiers))
	}
	snap.Reservations = append(snap.Reservations, e.grid.Reservations()...)
	snap.Stats = e.stats.Snapshot()
	snap.Grid = e.grid.Stats()
	e.snapshotPool.PublishWrite()
}

// =============================================================================
// QUERIES
// =============================================================================

// GetSnapshot returns a copy of the latest published state.
func (e *Engine) GetSnapshot() *Snapshot {
	return e.snapshotPool.AcquireRead()
}

// Vehicles returns the active vehicles in id order.
func (e *Engine) Vehicles() []VehicleView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]VehicleView, 0, len(e.order))
	for _, v := range e.order {
		out = append(out, v.View(e.tiers))
	}
	return out
}

// Vehicle returns one active vehicle.
func (e *Engine) Vehicle(id uint64) (VehicleView, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok := e.vehicles[id]
	if !ok {
		return VehicleView{}, false
	}
	return v.View(e.tiers), true
}

// Stats returns the current statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats.Snapshot()
}

// Tick returns the number of completed ticks.
func (e *Engine) Tick() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickCount
}

// GridStats returns reservation grid occupancy.
func (e *Engine) GridStats() reservation.GridStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid.Stats()
}

// Reservations returns every live reservation.
func (e *Engine) Reservations() []reservation.Reservation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid.Reservations()
}

// Verify checks the grid for overlapping reservations.
func (e *Engine) Verify() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.grid.Verify()
}

// Routes returns the route table. Routes are immutable after construction.
func (e *Engine) Routes() []*Route {
	return e.routes.All()
}

// Config returns the simulation configuration.
func (e *Engine) Config() config.SimConfig {
	return e.cfg
}

// StartEventLog begins event logging to the specified file
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog stops event logging and flushes pending events
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log statistics for monitoring
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}
