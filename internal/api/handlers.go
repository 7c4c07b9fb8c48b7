package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"smart-road/internal/render"
	"smart-road/internal/sim"
	"smart-road/internal/sim/reservation"
	"smart-road/internal/store"
)

const (
	// DefaultRunsLimit is the page size of /api/runs
	DefaultRunsLimit = 20
	// MaxRunsLimit caps the limit query parameter
	MaxRunsLimit = 200
)

// spawnRequest is the body of POST /api/vehicles.
type spawnRequest struct {
	Direction string `json:"direction"`
	Turn      string `json:"turn,omitempty"`
}

func (h *routerHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Direction == "" {
		writeError(w, "direction is required", http.StatusBadRequest)
		return
	}

	d, err := sim.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var turn *sim.Turn
	if req.Turn != "" {
		t, err := sim.ParseTurn(req.Turn)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		turn = &t
	}

	id, err := h.engine.Spawn(d, turn)
	h.writeSpawnResult(w, id, err)
}

func (h *routerHandlers) handleSpawnRandom(w http.ResponseWriter, r *http.Request) {
	id, err := h.engine.SpawnRandom()
	h.writeSpawnResult(w, id, err)
}

func (h *routerHandlers) writeSpawnResult(w http.ResponseWriter, id uint64, err error) {
	RecordSpawnResult("api", err)
	switch {
	case errors.Is(err, sim.ErrRejectedSpawn):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, sim.ErrUnknownRoute):
		writeError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		log.WithError(err).Error("❌ Spawn failed")
		writeError(w, "spawn failed", http.StatusInternalServerError)
	default:
		writeJSONStatus(w, http.StatusCreated, map[string]uint64{"id": id})
	}
}

func (h *routerHandlers) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Vehicles())
}

func (h *routerHandlers) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "invalid vehicle id", http.StatusBadRequest)
		return
	}
	v, ok := h.engine.Vehicle(id)
	if !ok {
		writeError(w, "vehicle not found", http.StatusNotFound)
		return
	}
	writeJSON(w, v)
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Stats())
}

func (h *routerHandlers) handleGetReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(h.engine.Stats().Report()))
}

func (h *routerHandlers) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Stats        reservation.GridStats     `json:"stats"`
		Reservations []reservation.Reservation `json:"reservations"`
	}{
		Stats:        h.engine.GridStats(),
		Reservations: h.engine.Reservations(),
	})
}

func (h *routerHandlers) handleGetGridPNG(w http.ResponseWriter, r *http.Request) {
	data, err := h.frames.png()
	if err != nil {
		log.WithError(err).Error("❌ Frame render failed")
		writeError(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// routeSummary is the route table entry served by /api/routes.
type routeSummary struct {
	Key       string         `json:"key"`
	Direction sim.Direction  `json:"direction"`
	Turn      sim.Turn       `json:"turn"`
	Length    float64        `json:"length"`
	ZoneEntry float64        `json:"zoneEntry"`
	ZoneExit  float64        `json:"zoneExit"`
	StopLine  float64        `json:"stopLine"`
	Cells     int            `json:"cells"`
	Waypoints []sim.Waypoint `json:"waypoints"`
}

func (h *routerHandlers) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	routes := h.engine.Routes()
	out := make([]routeSummary, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeSummary{
			Key:       rt.Key(),
			Direction: rt.Direction,
			Turn:      rt.Turn,
			Length:    rt.Length,
			ZoneEntry: rt.ZoneEntry,
			ZoneExit:  rt.ZoneExit,
			StopLine:  rt.StopLine,
			Cells:     len(rt.Cells),
			Waypoints: rt.Waypoints,
		})
	}
	writeJSON(w, out)
}

func (h *routerHandlers) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxRunsLimit)
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		log.WithError(err).Error("❌ Listing runs failed")
		writeError(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunReport{}
	}
	writeJSON(w, runs)
}

func (h *routerHandlers) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.WithError(err).WithField("run", id).Error("❌ Loading run failed")
		writeError(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

// frameRenderer serialises PNG renders of the latest snapshot; the gg context
// behind it is not safe for concurrent use.
type frameRenderer struct {
	engine   EngineInterface
	once     sync.Once
	mu       sync.Mutex
	renderer *render.Renderer
	buf      bytes.Buffer
}

func newFrameRenderer(engine EngineInterface) *frameRenderer {
	return &frameRenderer{engine: engine}
}

func (f *frameRenderer) png() ([]byte, error) {
	f.once.Do(func() {
		f.renderer = render.New(f.engine.Config(), f.engine.Routes())
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Reset()
	if err := f.renderer.WritePNG(&f.buf, f.engine.GetSnapshot()); err != nil {
		return nil, err
	}
	return bytes.Clone(f.buf.Bytes()), nil
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
