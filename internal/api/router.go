package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"smart-road/internal/config"
	"smart-road/internal/sim"
	"smart-road/internal/sim/reservation"
	"smart-road/internal/store"
)

// EngineInterface defines the simulation methods used by the API.
// This interface enables mocking for tests without running the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// GetSnapshot returns a copy of the latest published state (nil before the first)
	GetSnapshot() *sim.Snapshot
	// Vehicles returns the active vehicles in id order
	Vehicles() []sim.VehicleView
	// Vehicle returns one active vehicle
	Vehicle(id uint64) (sim.VehicleView, bool)
	// Stats returns the run statistics so far
	Stats() sim.Stats
	// GridStats returns reservation grid occupancy
	GridStats() reservation.GridStats
	// Reservations returns every live reservation
	Reservations() []reservation.Reservation
	// Routes returns the fixed route table
	Routes() []*sim.Route
	// Config returns the simulation configuration
	Config() config.SimConfig
	// Spawn places a vehicle on a lane; a nil turn is chosen at random
	Spawn(d sim.Direction, turn *sim.Turn) (uint64, error)
	// SpawnRandom places a vehicle on a random lane
	SpawnRandom() (uint64, error)
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// Runs is the run-report repository. The /api/runs routes are only
	// mounted when it is set.
	Runs store.Repository

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, any origin is allowed.
	CORSOrigins []string

	// APIToken guards the mutating routes with a bearer token. Empty disables auth.
	APIToken string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler dependencies for the router.
type routerHandlers struct {
	engine EngineInterface
	runs   store.Repository
	frames *frameRenderer
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter starts no server workers and opens no listeners, so it is safe to
// use with httptest.NewServer. The rate limiter it creates runs its own
// cleanup goroutine; pass RouterConfig.RateLimiter to control its lifetime.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &routerHandlers{
		engine: cfg.Engine,
		runs:   cfg.Runs,
		frames: newFrameRenderer(cfg.Engine),
	}
	auth := TokenAuth(cfg.APIToken)

	r.Route("/api", func(r chi.Router) {
		// Vehicles
		r.Get("/vehicles", h.handleListVehicles)
		r.Get("/vehicles/{id}", h.handleGetVehicle)
		r.With(auth).Post("/vehicles", h.handleSpawn)
		r.With(auth).Post("/vehicles/random", h.handleSpawnRandom)

		// Statistics
		r.Get("/stats", h.handleGetStats)
		r.Get("/stats/report", h.handleGetReport)

		// Reservation grid
		r.Get("/grid", h.handleGetGrid)
		r.Get("/grid.png", h.handleGetGridPNG)
		r.Get("/routes", h.handleGetRoutes)

		// Stored runs
		if cfg.Runs != nil {
			r.Get("/runs", h.handleListRuns)
			r.Get("/runs/{id}", h.handleGetRun)
		}
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/stats", http.StatusFound)
	})

	return r
}

// requestMetrics records latency and status per route pattern.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Pattern, not the raw path, keeps label cardinality bounded
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, pattern, status, time.Since(start))
	})
}
