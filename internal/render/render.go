// Package render draws a frame of the intersection: roads, lane markings,
// reserved cells and vehicles.
package render

import (
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"smart-road/internal/config"
	"smart-road/internal/sim"
)

var (
	grassColor    = color.RGBA{46, 74, 52, 255}
	roadColor     = color.RGBA{58, 58, 64, 255}
	zoneColor     = color.RGBA{72, 72, 80, 255}
	markingColor  = color.RGBA{230, 230, 230, 200}
	medianColor   = color.RGBA{240, 200, 40, 255}
	cellLineColor = color.RGBA{255, 255, 255, 18}
)

// tierColors indexed by sim.Tier
var tierColors = [sim.TierCount]color.RGBA{
	{220, 50, 50, 255},  // stopped
	{240, 150, 40, 255}, // slow
	{230, 220, 60, 255}, // medium
	{70, 200, 90, 255},  // fast
}

// Renderer draws snapshots onto a canvas-sized context.
type Renderer struct {
	cfg    config.SimConfig
	routes []*sim.Route
	dc     *gg.Context
}

// New creates a renderer for the configured canvas. routes are drawn as lane
// guides and may be nil.
func New(cfg config.SimConfig, routes []*sim.Route) *Renderer {
	return &Renderer{
		cfg:    cfg,
		routes: routes,
		dc:     gg.NewContext(int(cfg.CanvasWidth), int(cfg.CanvasHeight)),
	}
}

// Frame draws snap and returns the resulting image. The image is owned by the
// renderer and overwritten by the next call.
func (r *Renderer) Frame(snap *sim.Snapshot) image.Image {
	dc := r.dc
	r.drawRoads(dc)
	r.drawCellGrid(dc)
	if snap != nil {
		r.drawReservations(dc, snap)
		r.drawVehicles(dc, snap.Vehicles)
	}
	return dc.Image()
}

// WritePNG draws snap and encodes it as PNG.
func (r *Renderer) WritePNG(w io.Writer, snap *sim.Snapshot) error {
	r.Frame(snap)
	return r.dc.EncodePNG(w)
}

func (r *Renderer) drawRoads(dc *gg.Context) {
	c := r.cfg
	dc.SetColor(grassColor)
	dc.DrawRectangle(0, 0, c.CanvasWidth, c.CanvasHeight)
	dc.Fill()

	// Vertical and horizontal carriageways, as wide as the zone
	dc.SetColor(roadColor)
	dc.DrawRectangle(c.ZoneMinX, 0, c.ZoneMaxX-c.ZoneMinX, c.CanvasHeight)
	dc.Fill()
	dc.DrawRectangle(0, c.ZoneMinY, c.CanvasWidth, c.ZoneMaxY-c.ZoneMinY)
	dc.Fill()

	dc.SetColor(zoneColor)
	dc.DrawRectangle(c.ZoneMinX, c.ZoneMinY, c.ZoneMaxX-c.ZoneMinX, c.ZoneMaxY-c.ZoneMinY)
	dc.Fill()

	// Lane dividers stop at the zone edge
	lane := c.LaneWidth()
	dc.SetLineWidth(2)
	dc.SetDash(12, 10)
	dc.SetColor(markingColor)
	for i := 1; i < 6; i++ {
		if i == 3 {
			continue
		}
		x := c.ZoneMinX + float64(i)*lane
		dc.DrawLine(x, 0, x, c.ZoneMinY)
		dc.DrawLine(x, c.ZoneMaxY, x, c.CanvasHeight)
		y := c.ZoneMinY + float64(i)*lane
		dc.DrawLine(0, y, c.ZoneMinX, y)
		dc.DrawLine(c.ZoneMaxX, y, c.CanvasWidth, y)
	}
	dc.Stroke()
	dc.SetDash()

	midX := (c.ZoneMinX + c.ZoneMaxX) / 2
	midY := (c.ZoneMinY + c.ZoneMaxY) / 2
	dc.SetColor(medianColor)
	dc.DrawLine(midX, 0, midX, c.ZoneMinY)
	dc.DrawLine(midX, c.ZoneMaxY, midX, c.CanvasHeight)
	dc.DrawLine(0, midY, c.ZoneMinX, midY)
	dc.DrawLine(c.ZoneMaxX, midY, c.CanvasWidth, midY)
	dc.Stroke()

	// Route centerlines as faint guides through the zone
	dc.SetLineWidth(1)
	dc.SetColor(color.RGBA{255, 255, 255, 40})
	for _, route := range r.routes {
		for i, wp := range route.Waypoints {
			if i == 0 {
				dc.MoveTo(wp.X, wp.Y)
				continue
			}
			dc.LineTo(wp.X, wp.Y)
		}
		dc.Stroke()
	}
}

func (r *Renderer) drawCellGrid(dc *gg.Context) {
	c := r.cfg
	dc.SetColor(cellLineColor)
	dc.SetLineWidth(1)
	for x := c.ZoneMinX; x <= c.ZoneMaxX; x += c.CellSize {
		dc.DrawLine(x, c.ZoneMinY, x, c.ZoneMaxY)
	}
	for y := c.ZoneMinY; y <= c.ZoneMaxY; y += c.CellSize {
		dc.DrawLine(c.ZoneMinX, y, c.ZoneMaxX, y)
	}
	dc.Stroke()
}

// ownerColor spreads vehicle ids over the hue circle.
func ownerColor(id uint64, alpha uint8) color.RGBA {
	hue := math.Mod(float64(id)*137.508, 360)
	return hsv(hue, 0.65, 0.95, alpha)
}

func (r *Renderer) drawReservations(dc *gg.Context, snap *sim.Snapshot) {
	size := r.cfg.CellSize
	for _, res := range snap.Reservations {
		x := r.cfg.ZoneMinX + float64(res.Cell.IX)*size
		y := r.cfg.ZoneMinY + float64(res.Cell.IY)*size
		dc.SetColor(ownerColor(res.VehicleID, 90))
		dc.DrawRectangle(x, y, size, size)
		dc.Fill()
	}
}

func (r *Renderer) drawVehicles(dc *gg.Context, vehicles []sim.VehicleView) {
	length, width := r.cfg.VehicleLength, r.cfg.VehicleWidth
	for _, v := range vehicles {
		dc.Push()
		// X,Y is the front bumper; the body trails behind along the heading
		dc.Translate(v.X, v.Y)
		dc.Rotate(gg.Radians(v.Heading))

		dc.SetColor(tierColors[v.Tier])
		dc.DrawRoundedRectangle(-width/2, 0, width, length, 6)
		dc.Fill()

		// Owner stripe matches the vehicle's reserved cells
		dc.SetColor(ownerColor(v.ID, 255))
		dc.DrawRectangle(-width/2+6, length*0.35, width-12, length*0.3)
		dc.Fill()

		// Windshield marks the front
		dc.SetColor(color.RGBA{20, 20, 30, 220})
		dc.DrawRectangle(-width/2+5, 6, width-10, 8)
		dc.Fill()
		dc.Pop()
	}
}

func hsv(h, s, v float64, alpha uint8) color.RGBA {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return color.RGBA{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
		A: alpha,
	}
}
