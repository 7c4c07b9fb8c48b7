package sim

import (
	"fmt"
	"math"

	"smart-road/internal/sim/reservation"
)

// Status is the lifecycle state of a vehicle.
type Status uint8

const (
	StatusApproaching Status = iota // in lane, before the lookahead distance
	StatusRequesting                // negotiating reservations for its path
	StatusInZone                    // front inside the intersection
	StatusExiting                   // front past the intersection, rear may still hold cells
	StatusCompleted                 // fully off the canvas
)

func (s Status) String() string {
	switch s {
	case StatusApproaching:
		return "approaching"
	case StatusRequesting:
		return "requesting_access"
	case StatusInZone:
		return "in_zone"
	case StatusExiting:
		return "exiting"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for st := StatusApproaching; st <= StatusCompleted; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("sim: unknown status %q", text)
}

// Transition is the state change taken during one Advance.
type Transition struct {
	From Status
	To   Status
}

// Changed reports whether the vehicle left its previous state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Vehicle is one agent crossing the intersection. The front bumper sits at
// Arc along its route; the body trails Length behind it.
type Vehicle struct {
	ID        uint64
	Direction Direction
	Turn      Turn
	Route     *Route

	Arc     float64
	X       float64
	Y       float64
	Heading float64
	Tier    Tier
	Status  Status
	Granted bool

	SpawnTick   uint64
	EnteredTick float64 // -1 until the front enters the zone
	ExitedTick  float64 // -1 until the front leaves the zone

	length    float64
	clearance float64 // distance behind the rear a cell stays booked
	lookahead float64

	pending   []CellSpan // booked cells not yet released, in path order
	closeCall bool       // inside a close-call episode
}

func newVehicle(id uint64, route *Route, tier Tier, tick uint64, length, clearance, lookahead float64) *Vehicle {
	v := &Vehicle{
		ID:          id,
		Direction:   route.Direction,
		Turn:        route.Turn,
		Route:       route,
		Tier:        tier,
		Status:      StatusApproaching,
		SpawnTick:   tick,
		EnteredTick: -1,
		ExitedTick:  -1,
		length:      length,
		clearance:   clearance,
		lookahead:   lookahead,
	}
	v.locate()
	v.evaluate(float64(tick))
	return v
}

// Rear returns the arc of the rear bumper.
func (v *Vehicle) Rear() float64 {
	return v.Arc - v.length
}

// Length returns the body length along the route.
func (v *Vehicle) Length() float64 {
	return v.length
}

// OutsideZone reports whether the front has not yet entered the intersection.
func (v *Vehicle) OutsideZone() bool {
	return v.Status < StatusInZone
}

// Pending returns a copy of the cells the vehicle still holds.
func (v *Vehicle) Pending() []CellSpan {
	out := make([]CellSpan, len(v.pending))
	copy(out, v.pending)
	return out
}

// Dwell returns the ticks between zone entry and zone exit.
func (v *Vehicle) Dwell() (float64, bool) {
	if v.EnteredTick < 0 || v.ExitedTick < 0 {
		return 0, false
	}
	return v.ExitedTick - v.EnteredTick, true
}

// releaseArc is the front position at which span is free again.
func (v *Vehicle) releaseArc(span CellSpan) float64 {
	return span.To + v.length + v.clearance
}

// Advance moves the vehicle by its tier displacement and evaluates state
// transitions at the given tick. An ungranted vehicle never crosses its stop
// line; reaching it forces Stopped.
func (v *Vehicle) Advance(tick uint64, tiers TierTable) Transition {
	next := v.Arc + tiers.Displacement(v.Tier)
	if !v.Granted && v.OutsideZone() && next > v.Route.StopLine {
		next = math.Max(v.Arc, v.Route.StopLine)
		v.Tier = Stopped
	}
	v.Arc = next
	v.locate()
	return v.evaluate(float64(tick))
}

func (v *Vehicle) locate() {
	v.X, v.Y, v.Heading = v.Route.PointAt(v.Arc)
}

// evaluate applies every distance-threshold transition that holds at the
// current position.
func (v *Vehicle) evaluate(tick float64) Transition {
	tr := Transition{From: v.Status}
	for {
		switch {
		case v.Status == StatusApproaching && v.Arc >= v.Route.ZoneEntry-v.lookahead:
			v.Status = StatusRequesting
		case v.Status == StatusRequesting && v.Granted && v.Arc > v.Route.ZoneEntry:
			v.Status = StatusInZone
			v.EnteredTick = tick
		case v.Status == StatusInZone && v.Arc > v.Route.ZoneExit:
			v.Status = StatusExiting
			v.ExitedTick = tick
		case v.Status == StatusExiting && v.Rear() >= v.Route.Length:
			v.Status = StatusCompleted
		default:
			tr.To = v.Status
			return tr
		}
	}
}

// RequestPath asks the manager for the fastest conflict-free tier at or below
// ceiling. The search starts at the current tier; a stopped vehicle retries
// from the ceiling. A proposal that is not granted carries Stopped as the
// suggested maximum safe tier.
func (v *Vehicle) RequestPath(m *Manager, now float64, ceiling Tier) Proposal {
	start := v.Tier
	if start == Stopped {
		start = Fast
	}
	return m.Resolve(v, now, minTier(start, ceiling))
}

// ReleasePassedCells frees every held cell whose exit boundary the vehicle
// has passed and returns how many were released.
func (v *Vehicle) ReleasePassedCells(g *reservation.Grid) int {
	released := 0
	n := 0
	for _, span := range v.pending {
		if v.Arc >= v.releaseArc(span) {
			if g.Release(v.ID, span.Cell) {
				released++
			}
			continue
		}
		v.pending[n] = span
		n++
	}
	v.pending = v.pending[:n]
	return released
}

// dropGrant withdraws every reservation of a vehicle still outside the zone.
func (v *Vehicle) dropGrant(g *reservation.Grid) int {
	freed := g.ReleaseAll(v.ID)
	v.pending = v.pending[:0]
	v.Granted = false
	return freed
}

// View returns the render-facing projection of the vehicle.
func (v *Vehicle) View(tiers TierTable) VehicleView {
	return VehicleView{
		ID:        v.ID,
		Direction: v.Direction,
		Turn:      v.Turn,
		X:         v.X,
		Y:         v.Y,
		Heading:   v.Heading,
		Arc:       v.Arc,
		Tier:      v.Tier,
		Velocity:  tiers.Displacement(v.Tier),
		Status:    v.Status,
		Granted:   v.Granted,
		HeldCells: len(v.pending),
	}
}
