package reservation

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGrid() *Grid {
	return NewGrid(350, 350, 650, 650, 10, 1)
}

func TestNewGridDimensions(t *testing.T) {
	g := newTestGrid()
	cols, rows, size := g.Dimensions()
	assert.Equal(t, 30, cols)
	assert.Equal(t, 30, rows)
	assert.Equal(t, 10.0, size)
	assert.Equal(t, 900, g.Stats().TotalCells)
}

func TestCellAt(t *testing.T) {
	g := newTestGrid()

	tests := []struct {
		name   string
		x, y   float64
		want   Cell
		inside bool
	}{
		{"zone origin", 350, 350, Cell{0, 0}, true},
		{"interior", 575, 497.5, Cell{22, 14}, true},
		{"last cell", 649.9, 649.9, Cell{29, 29}, true},
		{"max edge is outside", 650, 500, Cell{}, false},
		{"left of zone", 349.9, 500, Cell{}, false},
		{"above zone", 500, 100, Cell{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := g.CellAt(tt.x, tt.y)
			assert.Equal(t, tt.inside, ok)
			if tt.inside {
				assert.Equal(t, tt.want, c)
			}
		})
	}
}

func TestWindowOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{"disjoint", Window{0, 5}, Window{6, 9}, false},
		{"touching half-open", Window{0, 5}, Window{5, 9}, false},
		{"nested", Window{0, 10}, Window{2, 3}, true},
		{"partial", Window{0, 5}, Window{4, 9}, true},
		{"unbounded", Window{3, math.Inf(1)}, Window{100, 101}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestCheckConflictAppliesMargin(t *testing.T) {
	g := newTestGrid()
	cell := Cell{10, 10}
	require.NoError(t, g.Book(1, cell, Window{10, 20}))

	assert.True(t, g.CheckConflict(cell, Window{15, 25}, 2), "overlap")
	assert.True(t, g.CheckConflict(cell, Window{20.5, 30}, 2), "inside margin after")
	assert.True(t, g.CheckConflict(cell, Window{0, 9.5}, 2), "inside margin before")
	assert.False(t, g.CheckConflict(cell, Window{21, 30}, 2), "clear of margin")
	assert.False(t, g.CheckConflict(cell, Window{15, 25}, 1), "own reservation is excluded")
	assert.False(t, g.CheckConflict(Cell{11, 10}, Window{15, 25}, 2), "other cell")
	assert.False(t, g.CheckConflict(Cell{-1, 3}, Window{15, 25}, 2), "outside grid")
}

func TestBookRejectsConflictingWindow(t *testing.T) {
	g := newTestGrid()
	cell := Cell{4, 7}
	require.NoError(t, g.Book(1, cell, Window{10, 20}))

	err := g.Book(2, cell, Window{18, 30})
	require.Error(t, err)

	var violation *InvariantViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, uint64(1), violation.Existing.VehicleID)
	assert.Equal(t, uint64(2), violation.Incoming.VehicleID)
	assert.Len(t, g.At(cell), 1, "grid unchanged after a rejected booking")
}

func TestBookReplacesOwnWindow(t *testing.T) {
	g := newTestGrid()
	cell := Cell{4, 7}
	require.NoError(t, g.Book(1, cell, Window{10, 20}))
	require.NoError(t, g.Book(1, cell, Window{12, 40}))

	w, ok := g.WindowOf(1, cell)
	require.True(t, ok)
	assert.Equal(t, Window{12, 40}, w)
	assert.Len(t, g.At(cell), 1)
	assert.Equal(t, 1, g.HeldCount(1))
}

func TestBookOutsideGrid(t *testing.T) {
	g := newTestGrid()
	assert.Error(t, g.Book(1, Cell{30, 0}, Window{0, 1}))
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := newTestGrid()
	cell := Cell{1, 1}
	require.NoError(t, g.Book(1, cell, Window{0, 10}))
	require.NoError(t, g.Book(2, cell, Window{20, 30}))

	assert.True(t, g.Release(1, cell))
	assert.False(t, g.Release(1, cell), "second release is a no-op")
	assert.False(t, g.Release(3, cell), "never booked")

	require.Len(t, g.At(cell), 1)
	assert.Equal(t, uint64(2), g.At(cell)[0].VehicleID)
	assert.Equal(t, uint64(1), g.Stats().TotalReleased)
}

func TestReleaseAll(t *testing.T) {
	g := newTestGrid()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Book(7, Cell{i, 3}, Window{float64(i), float64(i + 5)}))
	}
	require.NoError(t, g.Book(8, Cell{0, 4}, Window{0, 5}))

	assert.Equal(t, []Cell{{0, 3}, {1, 3}, {2, 3}, {3, 3}, {4, 3}}, g.Held(7))
	assert.Equal(t, 5, g.ReleaseAll(7))
	assert.Equal(t, 0, g.ReleaseAll(7))
	assert.Empty(t, g.Held(7))
	assert.Equal(t, 1, g.Stats().Reservations)
	assert.Equal(t, 1, g.Stats().Holders)
}

func TestVerifyDetectsOverlap(t *testing.T) {
	g := newTestGrid()
	cell := Cell{2, 2}
	require.NoError(t, g.Book(1, cell, Window{0, 10}))
	require.NoError(t, g.Book(2, cell, Window{12, 20}))
	require.NoError(t, g.Verify())

	// Corrupt the cell directly; Book refuses to produce this state.
	g.cells[g.index(cell)][1].Window = Window{5, 20}

	err := g.Verify()
	var violation *InvariantViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, cell, violation.Cell)
	assert.Contains(t, err.Error(), "overlapping windows")
}

func TestStats(t *testing.T) {
	g := newTestGrid()
	require.NoError(t, g.Book(1, Cell{0, 0}, Window{0, 5}))
	require.NoError(t, g.Book(2, Cell{0, 0}, Window{10, 15}))
	require.NoError(t, g.Book(2, Cell{1, 0}, Window{10, 15}))

	stats := g.Stats()
	assert.Equal(t, 2, stats.BookedCells)
	assert.Equal(t, 3, stats.Reservations)
	assert.Equal(t, 2, stats.MaxInCell)
	assert.InDelta(t, 1.5, stats.AvgPerBooked, 1e-9)
	assert.Equal(t, 2, stats.Holders)
	assert.Equal(t, uint64(3), stats.TotalBooked)
}

func TestBounds(t *testing.T) {
	g := newTestGrid()
	x, y, size := g.Bounds(Cell{3, 29})
	assert.Equal(t, 380.0, x)
	assert.Equal(t, 640.0, y)
	assert.Equal(t, 10.0, size)
}

func TestWindowMarshalOpenEnded(t *testing.T) {
	data, err := json.Marshal(Window{Enter: 4, Exit: math.Inf(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"enter":4,"exit":null}`, string(data))

	data, err = json.Marshal(Window{Enter: 4, Exit: 9.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"enter":4,"exit":9.5}`, string(data))
}
