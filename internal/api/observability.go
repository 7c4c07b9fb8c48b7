package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"smart-road/internal/sim"
)

// Metrics with bounded cardinality (no per-vehicle labels)
var (
	// Scheduler metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent in one scheduler tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	activeVehicles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_vehicles",
		Help: "Vehicles currently on the canvas",
	})

	spawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_spawns_total",
		Help: "Spawn attempts by source and outcome",
	}, []string{"source", "result"}) // source: "api", "auto"; result: "accepted", "rejected", "error"

	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_reservation_decisions_total",
		Help: "Reservation outcomes of the contest",
	}, []string{"outcome"}) // Bounded: "grant", "yield", "dropped"

	vehicleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_vehicle_transitions_total",
		Help: "Vehicles entering, leaving and completing the intersection",
	}, []string{"transition"}) // Bounded: "entered", "exited", "completed"

	closeCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_close_calls_total",
		Help: "Close-call episodes started",
	})

	violationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_invariant_violations_total",
		Help: "Overlapping reservations detected by grid verification",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin check or auth",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "auth"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is path pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Loopback only unless AllowExternal
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// DebugHandler serves pprof, Prometheus metrics and a health check.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return handler
}

// StartDebugServer starts the internal observability server in the
// background. The returned server is nil when the debug server is disabled.
func StartDebugServer(cfg ObservabilityConfig) *http.Server {
	if !cfg.Enabled {
		log.Info("📊 Debug server disabled")
		return nil
	}

	// pprof must not be reachable from outside unless explicitly allowed
	if host, port, err := net.SplitHostPort(cfg.ListenAddr); err == nil && !cfg.AllowExternal {
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			log.WithField("addr", cfg.ListenAddr).Warn("⚠️ Debug server forced to localhost")
			cfg.ListenAddr = net.JoinHostPort("127.0.0.1", port)
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("📊 Debug server starting")
		log.Infof("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Infof("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("⚠️ Debug server error")
		}
	}()

	return srv
}

// ShutdownDebugServer stops a server returned by StartDebugServer.
func ShutdownDebugServer(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("⚠️ Debug server shutdown")
	}
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(u, user) || !constantTimeEqual(p, pass) {
			RecordConnectionRejected("auth")
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordTickReport folds one tick's outcome into the scheduler metrics.
// Registered as the engine's tick callback.
func RecordTickReport(r sim.TickReport) {
	tickDuration.Observe(r.Duration.Seconds())
	activeVehicles.Set(float64(r.Active))

	reservationsTotal.WithLabelValues("grant").Add(float64(len(r.Granted)))
	reservationsTotal.WithLabelValues("yield").Add(float64(len(r.Yielded)))
	reservationsTotal.WithLabelValues("dropped").Add(float64(len(r.Dropped)))

	vehicleTransitions.WithLabelValues("entered").Add(float64(len(r.Entered)))
	vehicleTransitions.WithLabelValues("exited").Add(float64(len(r.Exited)))
	vehicleTransitions.WithLabelValues("completed").Add(float64(len(r.Completed)))

	closeCallsTotal.Add(float64(len(r.CloseCalls)))
	violationsTotal.Add(float64(r.Violations))
}

// RecordSpawnResult counts a spawn attempt.
// source must be one of: "api", "auto"
func RecordSpawnResult(source string, err error) {
	result := "accepted"
	switch {
	case errors.Is(err, sim.ErrRejectedSpawn):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	spawnsTotal.WithLabelValues(source, result).Inc()
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
