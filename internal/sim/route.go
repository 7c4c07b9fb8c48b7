package sim

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"smart-road/internal/config"
	"smart-road/internal/sim/reservation"
)

// Direction is the travel direction of a vehicle as it enters the canvas.
// North travels up the screen (decreasing y).
type Direction uint8

const (
	North Direction = iota
	South
	East
	West
)

// AllDirections lists directions in table order.
var AllDirections = [...]Direction{North, South, East, West}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return "unknown"
	}
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a direction name.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection accepts full names or their first letter.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "north", "n", "up":
		return North, nil
	case "south", "s", "down":
		return South, nil
	case "east", "e", "right":
		return East, nil
	case "west", "w", "left":
		return West, nil
	}
	return North, fmt.Errorf("sim: unknown direction %q", s)
}

// Heading in degrees, clockwise from north.
func (d Direction) Heading() float64 {
	switch d {
	case East:
		return 90
	case South:
		return 180
	case West:
		return 270
	default:
		return 0
	}
}

// vector is the unit travel vector in screen coordinates.
func (d Direction) vector() (dx, dy float64) {
	switch d {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case East:
		return 1, 0
	default:
		return -1, 0
	}
}

// right is the unit vector pointing to the driver's right.
func (d Direction) right() (dx, dy float64) {
	vx, vy := d.vector()
	return -vy, vx
}

func (d Direction) vertical() bool {
	return d == North || d == South
}

// After returns the travel direction once the turn is completed.
func (d Direction) After(t Turn) Direction {
	switch t {
	case Left:
		return [...]Direction{North: West, West: South, South: East, East: North}[d]
	case Right:
		return [...]Direction{North: East, East: South, South: West, West: North}[d]
	default:
		return d
	}
}

// Turn is the movement a vehicle makes through the intersection.
type Turn uint8

const (
	Left Turn = iota
	Straight
	Right
)

// AllTurns lists turns in table order.
var AllTurns = [...]Turn{Left, Straight, Right}

func (t Turn) String() string {
	switch t {
	case Left:
		return "left"
	case Straight:
		return "straight"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// MarshalText encodes the turn by name.
func (t Turn) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a turn name.
func (t *Turn) UnmarshalText(text []byte) error {
	parsed, err := ParseTurn(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTurn accepts full names or their first letter.
func ParseTurn(s string) (Turn, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return Left, nil
	case "straight", "s", "forward":
		return Straight, nil
	case "right", "r":
		return Right, nil
	}
	return Straight, fmt.Errorf("sim: unknown turn %q", s)
}

// Waypoint is a route vertex. Heading applies from this point onward.
type Waypoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Arc     float64 `json:"arc"`
	Heading float64 `json:"heading"`
}

// CellSpan is one cell of a reservation path with the arc interval over
// which the vehicle footprint touches it.
type CellSpan struct {
	Cell reservation.Cell `json:"cell"`
	From float64          `json:"from"`
	To   float64          `json:"to"`
}

// Route is the fixed path of one (direction, turn) pair. Arc positions are
// measured along the lane centerline from the spawn point.
type Route struct {
	Direction  Direction  `json:"direction"`
	Turn       Turn       `json:"turn"`
	LaneOffset float64    `json:"laneOffset"`
	Waypoints  []Waypoint `json:"waypoints"`
	Cells      []CellSpan `json:"cells"`
	Length     float64    `json:"length"`
	ZoneEntry  float64    `json:"zoneEntry"`
	ZoneExit   float64    `json:"zoneExit"`
	StopLine   float64    `json:"stopLine"`
}

// Key names the route, e.g. "north/left".
func (r *Route) Key() string {
	return r.Direction.String() + "/" + r.Turn.String()
}

// PointAt returns position and heading of the centerline at arc s.
// Arcs past either end extrapolate along the first or last segment.
func (r *Route) PointAt(s float64) (x, y, heading float64) {
	i := r.segment(s)
	a, b := r.Waypoints[i], r.Waypoints[i+1]
	ux, uy := unit(a, b)
	t := s - a.Arc
	return a.X + ux*t, a.Y + uy*t, a.Heading
}

func (r *Route) segment(s float64) int {
	last := len(r.Waypoints) - 2
	for i := 0; i < last; i++ {
		if s < r.Waypoints[i+1].Arc {
			return i
		}
	}
	return last
}

// directionAt returns the unit travel vector at arc s.
func (r *Route) directionAt(s float64) (ux, uy float64) {
	i := r.segment(s)
	return unit(r.Waypoints[i], r.Waypoints[i+1])
}

// CornerArc returns the arc of the turn waypoint, or -1 for straight routes.
func (r *Route) CornerArc() float64 {
	if len(r.Waypoints) < 3 {
		return -1
	}
	return r.Waypoints[1].Arc
}

func unit(a, b Waypoint) (float64, float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 0, 0
	}
	return dx / l, dy / l
}

// RouteTable holds the twelve routes of the intersection.
type RouteTable struct {
	routes [len(AllDirections)][len(AllTurns)]*Route
}

// NewRouteTable builds every route for the configured canvas, zone and
// vehicle footprint, sweeping each path through grid to derive its cells.
func NewRouteTable(cfg config.SimConfig, grid *reservation.Grid) *RouteTable {
	t := &RouteTable{}
	for _, d := range AllDirections {
		for _, turn := range AllTurns {
			t.routes[d][turn] = buildRoute(cfg, grid, d, turn)
		}
	}
	return t
}

// Lookup returns the route for a direction and turn.
func (t *RouteTable) Lookup(d Direction, turn Turn) (*Route, error) {
	if int(d) >= len(t.routes) || int(turn) >= len(t.routes[0]) {
		return nil, fmt.Errorf("%w: %v/%v", ErrUnknownRoute, d, turn)
	}
	return t.routes[d][turn], nil
}

// All returns every route in (direction, turn) order.
func (t *RouteTable) All() []*Route {
	out := make([]*Route, 0, len(AllDirections)*len(AllTurns))
	for _, d := range AllDirections {
		for _, turn := range AllTurns {
			out = append(out, t.routes[d][turn])
		}
	}
	return out
}

// laneOffset is the distance from the road center to the lane center.
// Left-turn lanes are innermost, right-turn lanes outermost.
func laneOffset(turn Turn, laneWidth float64) float64 {
	return (float64(turn) + 0.5) * laneWidth
}

func buildRoute(cfg config.SimConfig, grid *reservation.Grid, d Direction, turn Turn) *Route {
	offset := laneOffset(turn, cfg.LaneWidth())
	cx := (cfg.ZoneMinX + cfg.ZoneMaxX) / 2
	cy := (cfg.ZoneMinY + cfg.ZoneMaxY) / 2

	exitDir := d.After(turn)
	sx, sy := laneEdgePoint(cfg, d, cx, cy, offset, false)
	ex, ey := laneEdgePoint(cfg, exitDir, cx, cy, offset, true)

	route := &Route{
		Direction:  d,
		Turn:       turn,
		LaneOffset: offset,
	}
	route.Waypoints = append(route.Waypoints, Waypoint{X: sx, Y: sy, Heading: d.Heading()})

	arc := 0.0
	if turn != Straight {
		kx, ky := ex, sy
		if d.vertical() {
			kx, ky = sx, ey
		}
		arc += math.Hypot(kx-sx, ky-sy)
		route.Waypoints = append(route.Waypoints, Waypoint{X: kx, Y: ky, Arc: arc, Heading: exitDir.Heading()})
	}
	prev := route.Waypoints[len(route.Waypoints)-1]
	arc += math.Hypot(ex-prev.X, ey-prev.Y)
	route.Waypoints = append(route.Waypoints, Waypoint{X: ex, Y: ey, Arc: arc, Heading: exitDir.Heading()})
	route.Length = arc

	route.ZoneEntry, route.ZoneExit = zoneArcs(cfg, route.Waypoints)
	route.StopLine = route.ZoneEntry
	route.Cells = sweepCells(cfg, grid, route)
	return route
}

// laneEdgePoint returns where a lane meets the canvas edge: behind the zone
// for an entering lane, ahead of it for an exiting one.
func laneEdgePoint(cfg config.SimConfig, d Direction, cx, cy, offset float64, ahead bool) (float64, float64) {
	rx, ry := d.right()
	x, y := cx+rx*offset, cy+ry*offset

	vx, vy := d.vector()
	if !ahead {
		vx, vy = -vx, -vy
	}
	switch {
	case vy < 0:
		y = 0
	case vy > 0:
		y = cfg.CanvasHeight
	case vx < 0:
		x = 0
	case vx > 0:
		x = cfg.CanvasWidth
	}
	return x, y
}

// zoneArcs returns the arcs where the centerline enters and leaves the zone.
func zoneArcs(cfg config.SimConfig, wps []Waypoint) (entry, exit float64) {
	entry, exit = -1, -1
	for i := 0; i+1 < len(wps); i++ {
		a, b := wps[i], wps[i+1]
		t0, t1, ok := clipSegment(a.X, a.Y, b.X, b.Y, cfg.ZoneMinX, cfg.ZoneMinY, cfg.ZoneMaxX, cfg.ZoneMaxY)
		if !ok {
			continue
		}
		if entry < 0 {
			entry = a.Arc + t0
		}
		exit = a.Arc + t1
	}
	return entry, exit
}

// clipSegment clips segment a-b against a rectangle (Liang-Barsky) and
// returns the inside part as distances from a.
func clipSegment(ax, ay, bx, by, minX, minY, maxX, maxY float64) (float64, float64, bool) {
	dx, dy := bx-ax, by-ay
	length := math.Hypot(dx, dy)
	t0, t1 := 0.0, 1.0

	p := [4]float64{-dx, dx, -dy, dy}
	q := [4]float64{ax - minX, maxX - ax, ay - minY, maxY - ay}
	for i := range p {
		if p[i] == 0 {
			if q[i] < 0 {
				return 0, 0, false
			}
			continue
		}
		r := q[i] / p[i]
		if p[i] < 0 {
			if r > t1 {
				return 0, 0, false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return 0, 0, false
			}
			t1 = math.Min(t1, r)
		}
	}
	return t0 * length, t1 * length, true
}

// sweepCells samples the vehicle footprint (a cross-section of the vehicle
// width) along the route every quarter cell and records, per zone cell, the
// arc interval over which the cross-section touches it.
func sweepCells(cfg config.SimConfig, grid *reservation.Grid, r *Route) []CellSpan {
	step := cfg.CellSize / 4
	half := cfg.VehicleWidth / 2
	lateral := int(math.Floor(cfg.VehicleWidth / step))

	spans := make(map[reservation.Cell]*CellSpan)
	samples := int(math.Floor(r.Length / step))
	for i := 0; i <= samples; i++ {
		s := float64(i) * step
		x, y, _ := r.PointAt(s)
		ux, uy := r.directionAt(s)
		nx, ny := -uy, ux

		for j := 0; j <= lateral; j++ {
			w := -half + float64(j)*step
			if j == lateral {
				w = half
			}
			c, ok := grid.CellAt(x+nx*w, y+ny*w)
			if !ok {
				continue
			}
			if span, seen := spans[c]; seen {
				span.From = math.Min(span.From, s)
				span.To = math.Max(span.To, s)
				continue
			}
			spans[c] = &CellSpan{Cell: c, From: s, To: s}
		}
	}

	out := make([]CellSpan, 0, len(spans))
	for _, span := range spans {
		out = append(out, *span)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].Cell.IY != out[j].Cell.IY {
			return out[i].Cell.IY < out[j].Cell.IY
		}
		return out[i].Cell.IX < out[j].Cell.IX
	})
	return out
}
