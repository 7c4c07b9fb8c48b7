package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"smart-road/internal/sim/reservation"
)

// ErrPathConflict is returned by Commit when the live grid no longer admits a
// proposal. It is the normal outcome of losing a race, not a fault.
var ErrPathConflict = errors.New("sim: path conflicts with a live reservation")

// arrivalEpsilon treats projected arrivals this close as simultaneous.
const arrivalEpsilon = 1e-9

// Booking is a projected window on one cell of a path.
type Booking struct {
	Span   CellSpan
	Window reservation.Window
}

// Proposal is the answer to a path request. When Granted is false, Tier is
// the suggested maximum safe tier, which is Stopped: hold and retry.
type Proposal struct {
	VehicleID uint64
	Granted   bool
	Tier      Tier
	Bookings  []Booking
	Tries     int
	Blocker   uint64 // owner of the last conflicting reservation, 0 if none
}

// arrival returns the earliest projected entry over all bookings.
func (p Proposal) arrival() float64 {
	earliest := math.Inf(1)
	for _, b := range p.Bookings {
		earliest = math.Min(earliest, b.Window.Enter)
	}
	return earliest
}

// Manager is the intersection manager: it projects vehicle paths onto the
// reservation grid and commits conflict-free ones.
type Manager struct {
	grid  *reservation.Grid
	tiers TierTable
}

// NewManager creates a manager over grid using the given tier table.
func NewManager(grid *reservation.Grid, tiers TierTable) *Manager {
	return &Manager{grid: grid, tiers: tiers}
}

// Grid returns the managed reservation grid.
func (m *Manager) Grid() *reservation.Grid {
	return m.grid
}

// ProjectWindow computes [t_enter, t_exit) for the vehicle occupying span
// if it holds tier from now on. The window closes when the rear plus the
// release clearance has passed the far edge of the span. It reports false
// for a cell already passed, or one a stopped vehicle will never reach.
func (m *Manager) ProjectWindow(v *Vehicle, span CellSpan, tier Tier, now float64) (reservation.Window, bool) {
	release := v.releaseArc(span)
	if v.Arc >= release {
		return reservation.Window{}, false
	}

	d := m.tiers.Displacement(tier)
	if d <= 0 {
		if v.Arc >= span.From {
			return reservation.Window{Enter: now, Exit: math.Inf(1)}, true
		}
		return reservation.Window{}, false
	}

	return reservation.Window{
		Enter: now + math.Max(0, span.From-v.Arc)/d,
		Exit:  now + (release-v.Arc)/d,
	}, true
}

// ProjectPath projects every cell of the remaining path at tier.
func (m *Manager) ProjectPath(v *Vehicle, tier Tier, now float64) []Booking {
	bookings := make([]Booking, 0, len(v.Route.Cells))
	for _, span := range v.Route.Cells {
		if w, ok := m.ProjectWindow(v, span, tier, now); ok {
			bookings = append(bookings, Booking{Span: span, Window: w})
		}
	}
	return bookings
}

// firstConflict returns the first reservation of another vehicle that
// blocks any of the bookings.
func (m *Manager) firstConflict(v *Vehicle, bookings []Booking) (reservation.Reservation, bool) {
	for _, b := range bookings {
		if r, found := m.grid.FirstConflict(b.Span.Cell, b.Window, v.ID); found {
			return r, true
		}
	}
	return reservation.Reservation{}, false
}

// Resolve searches from start down to Slow for the first tier whose full
// remaining path is conflict free against the grid. The grid is only read.
// At most TierCount projections are made.
func (m *Manager) Resolve(v *Vehicle, now float64, start Tier) Proposal {
	p := Proposal{VehicleID: v.ID, Tier: Stopped}
	for tier := start; tier > Stopped && p.Tries < TierCount; tier-- {
		p.Tries++
		bookings := m.ProjectPath(v, tier, now)
		if blocker, found := m.firstConflict(v, bookings); found {
			p.Blocker = blocker.VehicleID
			continue
		}
		p.Granted = true
		p.Tier = tier
		p.Bookings = bookings
		return p
	}
	return p
}

// Commit books a granted proposal. The live grid is checked first and the
// vehicle's previous reservations are replaced only if every window is still
// free, so a failed commit leaves the vehicle untouched.
func (m *Manager) Commit(v *Vehicle, p Proposal) error {
	if !p.Granted {
		return fmt.Errorf("sim: vehicle %d: cannot commit a hold", v.ID)
	}
	if blocker, found := m.firstConflict(v, p.Bookings); found {
		return fmt.Errorf("%w: vehicle %d blocked by vehicle %d on cell %s",
			ErrPathConflict, v.ID, blocker.VehicleID, blocker.Cell)
	}

	m.grid.ReleaseAll(v.ID)
	pending := make([]CellSpan, 0, len(p.Bookings))
	for _, b := range p.Bookings {
		if err := m.grid.Book(v.ID, b.Span.Cell, b.Window); err != nil {
			v.pending = pending
			return err
		}
		pending = append(pending, b.Span)
	}

	v.pending = pending
	v.Granted = true
	v.Tier = p.Tier
	return nil
}

// contest compares two first-time proposals over the cells where their
// padded windows collide. The earlier arrival at those cells wins; equal
// arrivals go to the lower vehicle id.
func (m *Manager) contest(a, b Proposal) (conflict, aWins bool) {
	windows := make(map[reservation.Cell]reservation.Window, len(b.Bookings))
	for _, bk := range b.Bookings {
		windows[bk.Span.Cell] = bk.Window
	}

	margin := m.grid.Margin()
	arrivalA, arrivalB := math.Inf(1), math.Inf(1)
	for _, bk := range a.Bookings {
		wb, ok := windows[bk.Span.Cell]
		if !ok || !bk.Window.Pad(margin).Overlaps(wb) {
			continue
		}
		conflict = true
		arrivalA = math.Min(arrivalA, bk.Window.Enter)
		arrivalB = math.Min(arrivalB, wb.Enter)
	}
	if !conflict {
		return false, false
	}
	if math.Abs(arrivalA-arrivalB) <= arrivalEpsilon {
		return true, a.VehicleID < b.VehicleID
	}
	return true, arrivalA < arrivalB
}

// ContestResult lists the outcome of arbitrating simultaneous requests.
type ContestResult struct {
	Granted []uint64
	Yielded []uint64
	Errors  []error
}

// CommitContested arbitrates first-time proposals made in the same tick and
// commits the winners. A proposal is committed once no remaining proposal
// beats it; everyone colliding with a committed winner yields. If the
// relation has no unbeaten proposal, the earliest arrival (then lowest id)
// goes first.
func (m *Manager) CommitContested(proposals []Proposal, lookup func(uint64) *Vehicle) ContestResult {
	remaining := make([]Proposal, len(proposals))
	copy(remaining, proposals)
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].VehicleID < remaining[j].VehicleID
	})

	var res ContestResult
	for len(remaining) > 0 {
		pick := m.unbeaten(remaining)
		winner := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)

		if err := m.Commit(lookup(winner.VehicleID), winner); err != nil {
			if errors.Is(err, ErrPathConflict) {
				res.Yielded = append(res.Yielded, winner.VehicleID)
			} else {
				res.Errors = append(res.Errors, err)
			}
			continue
		}
		res.Granted = append(res.Granted, winner.VehicleID)

		n := 0
		for _, q := range remaining {
			if conflict, _ := m.contest(winner, q); conflict {
				res.Yielded = append(res.Yielded, q.VehicleID)
				continue
			}
			remaining[n] = q
			n++
		}
		remaining = remaining[:n]
	}
	return res
}

// unbeaten returns the index of the lowest-id proposal that loses to no
// other remaining proposal, falling back to the earliest arrival.
func (m *Manager) unbeaten(ps []Proposal) int {
	for i := range ps {
		beaten := false
		for j := range ps {
			if i == j {
				continue
			}
			if conflict, wins := m.contest(ps[i], ps[j]); conflict && !wins {
				beaten = true
				break
			}
		}
		if !beaten {
			return i
		}
	}

	best := 0
	for i := 1; i < len(ps); i++ {
		ai, ab := ps[i].arrival(), ps[best].arrival()
		if ai < ab-arrivalEpsilon || (math.Abs(ai-ab) <= arrivalEpsilon && ps[i].VehicleID < ps[best].VehicleID) {
			best = i
		}
	}
	return best
}
