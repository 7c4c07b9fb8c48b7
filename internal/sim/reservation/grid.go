// Package reservation provides the time-space reservation grid of the
// intersection: a fixed-size cell partition of the zone where each cell holds
// the tick windows vehicles have booked on it.
//
// Cells are stored in row-major order (cells[row*cols+col]) with a short
// reservation list per cell. The grid is owned by a single scheduler goroutine;
// it performs no locking.
package reservation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Cell identifies one square of the zone by column and row.
type Cell struct {
	IX int `json:"ix"`
	IY int `json:"iy"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.IX, c.IY)
}

// Window is the half-open tick interval [Enter, Exit).
type Window struct {
	Enter float64 `json:"enter"`
	Exit  float64 `json:"exit"`
}

// Overlaps reports whether two windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Enter < o.Exit && o.Enter < w.Exit
}

// Pad widens the window by margin ticks on both ends.
func (w Window) Pad(margin float64) Window {
	return Window{Enter: w.Enter - margin, Exit: w.Exit + margin}
}

// MarshalJSON encodes an open-ended window (a stopped vehicle's hold) with a
// null exit, since JSON has no infinity.
func (w Window) MarshalJSON() ([]byte, error) {
	var exit *float64
	if !math.IsInf(w.Exit, 1) {
		exit = &w.Exit
	}
	return json.Marshal(struct {
		Enter float64  `json:"enter"`
		Exit  *float64 `json:"exit"`
	}{w.Enter, exit})
}

// Reservation records that a vehicle expects to occupy a cell during a window.
type Reservation struct {
	VehicleID uint64 `json:"vehicleId"`
	Cell      Cell   `json:"cell"`
	Window    Window `json:"window"`
}

// Grid holds the booked windows of every zone cell.
type Grid struct {
	originX, originY float64
	cellSize         float64
	invCellSize      float64 // 1/cellSize for faster division
	cols, rows       int
	margin           float64

	cells [][]Reservation          // cells[row*cols+col]
	held  map[uint64]map[Cell]bool // vehicle id -> cells it holds

	booked   uint64
	released uint64
}

// NewGrid creates a grid covering [minX,maxX)x[minY,maxY) with square cells.
// margin is the tick padding applied to every conflict query.
func NewGrid(minX, minY, maxX, maxY, cellSize, margin float64) *Grid {
	cols := int(math.Ceil((maxX - minX) / cellSize))
	rows := int(math.Ceil((maxY - minY) / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]Reservation, cols*rows)
	for i := range cells {
		cells[i] = make([]Reservation, 0, 2)
	}

	return &Grid{
		originX:     minX,
		originY:     minY,
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		margin:      margin,
		cells:       cells,
		held:        make(map[uint64]map[Cell]bool),
	}
}

// CellAt returns the cell containing (x, y). Points outside the zone are
// not modeled and report false.
func (g *Grid) CellAt(x, y float64) (Cell, bool) {
	fx := (x - g.originX) * g.invCellSize
	fy := (y - g.originY) * g.invCellSize
	if fx < 0 || fy < 0 {
		return Cell{}, false
	}
	col, row := int(fx), int(fy)
	if col >= g.cols || row >= g.rows {
		return Cell{}, false
	}
	return Cell{IX: col, IY: row}, true
}

// Contains reports whether c lies inside the grid.
func (g *Grid) Contains(c Cell) bool {
	return c.IX >= 0 && c.IY >= 0 && c.IX < g.cols && c.IY < g.rows
}

// Bounds returns the pixel rectangle covered by c.
func (g *Grid) Bounds(c Cell) (x, y, size float64) {
	return g.originX + float64(c.IX)*g.cellSize, g.originY + float64(c.IY)*g.cellSize, g.cellSize
}

func (g *Grid) index(c Cell) int {
	return c.IY*g.cols + c.IX
}

// Margin returns the tick padding applied to conflict queries.
func (g *Grid) Margin() float64 {
	return g.margin
}

// CheckConflict reports whether any reservation on cell from a vehicle other
// than excluding overlaps window once the window is padded by the margin.
func (g *Grid) CheckConflict(cell Cell, window Window, excluding uint64) bool {
	_, found := g.FirstConflict(cell, window, excluding)
	return found
}

// FirstConflict is CheckConflict returning the reservation that blocks window.
func (g *Grid) FirstConflict(cell Cell, window Window, excluding uint64) (Reservation, bool) {
	if !g.Contains(cell) {
		return Reservation{}, false
	}
	padded := window.Pad(g.margin)
	for _, r := range g.cells[g.index(cell)] {
		if r.VehicleID == excluding {
			continue
		}
		if padded.Overlaps(r.Window) {
			return r, true
		}
	}
	return Reservation{}, false
}

// Book commits a reservation. A vehicle holds at most one window per cell;
// booking again replaces its previous window. Booking a window that
// CheckConflict would reject returns an *InvariantViolation and leaves the
// grid unchanged.
func (g *Grid) Book(vehicleID uint64, cell Cell, window Window) error {
	if !g.Contains(cell) {
		return fmt.Errorf("reservation: cell %s outside %dx%d grid", cell, g.cols, g.rows)
	}
	if existing, found := g.FirstConflict(cell, window, vehicleID); found {
		return &InvariantViolation{
			Cell:     cell,
			Existing: existing,
			Incoming: Reservation{VehicleID: vehicleID, Cell: cell, Window: window},
		}
	}

	idx := g.index(cell)
	list := g.cells[idx]
	for i := range list {
		if list[i].VehicleID == vehicleID {
			list[i].Window = window
			g.booked++
			return nil
		}
	}
	g.cells[idx] = append(list, Reservation{VehicleID: vehicleID, Cell: cell, Window: window})

	cells, ok := g.held[vehicleID]
	if !ok {
		cells = make(map[Cell]bool)
		g.held[vehicleID] = cells
	}
	cells[cell] = true
	g.booked++
	return nil
}

// Release removes the vehicle's reservation on cell. Releasing a cell the
// vehicle does not hold is a no-op and reports false.
func (g *Grid) Release(vehicleID uint64, cell Cell) bool {
	cells, ok := g.held[vehicleID]
	if !ok || !cells[cell] {
		return false
	}

	idx := g.index(cell)
	list := g.cells[idx]
	n := 0
	for _, r := range list {
		if r.VehicleID != vehicleID {
			list[n] = r
			n++
		}
	}
	g.cells[idx] = list[:n]

	delete(cells, cell)
	if len(cells) == 0 {
		delete(g.held, vehicleID)
	}
	g.released++
	return true
}

// ReleaseAll drops every reservation of the vehicle and returns how many
// cells were freed.
func (g *Grid) ReleaseAll(vehicleID uint64) int {
	cells := g.Held(vehicleID)
	for _, c := range cells {
		g.Release(vehicleID, c)
	}
	return len(cells)
}

// Held returns the cells the vehicle holds in row-major order.
func (g *Grid) Held(vehicleID uint64) []Cell {
	cells := g.held[vehicleID]
	if len(cells) == 0 {
		return nil
	}
	out := make([]Cell, 0, len(cells))
	for c := range cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IY != out[j].IY {
			return out[i].IY < out[j].IY
		}
		return out[i].IX < out[j].IX
	})
	return out
}

// HeldCount returns how many cells the vehicle holds.
func (g *Grid) HeldCount(vehicleID uint64) int {
	return len(g.held[vehicleID])
}

// WindowOf returns the vehicle's window on cell.
func (g *Grid) WindowOf(vehicleID uint64, cell Cell) (Window, bool) {
	if !g.Contains(cell) {
		return Window{}, false
	}
	for _, r := range g.cells[g.index(cell)] {
		if r.VehicleID == vehicleID {
			return r.Window, true
		}
	}
	return Window{}, false
}

// At returns the reservations booked on cell.
// The returned slice must not be modified.
func (g *Grid) At(cell Cell) []Reservation {
	if !g.Contains(cell) {
		return nil
	}
	return g.cells[g.index(cell)]
}

// Reservations returns a copy of every booking in row-major cell order.
func (g *Grid) Reservations() []Reservation {
	var out []Reservation
	for _, list := range g.cells {
		out = append(out, list...)
	}
	return out
}

// Verify scans every cell for two distinct vehicles with overlapping windows.
// The margin is not applied; only a true overlap is a violation.
func (g *Grid) Verify() error {
	for _, list := range g.cells {
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if a.VehicleID != b.VehicleID && a.Window.Overlaps(b.Window) {
					return &InvariantViolation{Cell: a.Cell, Existing: a, Incoming: b}
				}
			}
		}
	}
	return nil
}

// Stats returns grid statistics for debugging/profiling.
func (g *Grid) Stats() GridStats {
	var total, maxInCell, nonEmpty int
	for _, list := range g.cells {
		count := len(list)
		total += count
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avg := 0.0
	if nonEmpty > 0 {
		avg = float64(total) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:    len(g.cells),
		BookedCells:   nonEmpty,
		Reservations:  total,
		MaxInCell:     maxInCell,
		AvgPerBooked:  avg,
		Holders:       len(g.held),
		TotalBooked:   g.booked,
		TotalReleased: g.released,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells    int     `json:"totalCells"`
	BookedCells   int     `json:"bookedCells"`
	Reservations  int     `json:"reservations"`
	MaxInCell     int     `json:"maxInCell"`
	AvgPerBooked  float64 `json:"avgPerBooked"`
	Holders       int     `json:"holders"`
	TotalBooked   uint64  `json:"totalBooked"`
	TotalReleased uint64  `json:"totalReleased"`
}

// Dimensions returns the grid dimensions.
func (g *Grid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}
