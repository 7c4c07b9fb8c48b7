// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for simulation, server and storage settings.
//
// Every value has a default here and an optional environment override.
// Nothing is persisted between runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds every tunable of the intersection scheduler.
// Distances are in canvas pixels, times in ticks unless noted.
type SimConfig struct {
	CanvasWidth  float64
	CanvasHeight float64

	// Reservation zone bounds (the intersection box)
	ZoneMinX float64
	ZoneMinY float64
	ZoneMaxX float64
	ZoneMaxY float64
	CellSize float64

	// Displacement per tick for Stopped, Slow, Medium, Fast
	TierDisplacement [4]float64

	VehicleLength float64
	VehicleWidth  float64

	SafetyDistance    float64 // follower gap below this forces one tier down
	CloseCallDistance float64 // follower gap below this starts a close-call episode
	ReservationMargin float64 // ticks added to both ends of a conflict query
	ReleaseClearance  float64 // distance behind the rear a cell stays booked
	LookaheadDistance float64 // distance before the zone where negotiation starts
	SpawnClearance    float64 // same-lane distance that blocks a new spawn
	SpawnTier         string  // "stopped", "slow", "medium" or "fast"

	TickRate         int // ticks per second
	Seed             int64
	StrictInvariants bool // panic on an overlapping reservation
}

// DefaultSim returns the default simulation configuration.
// 1000x1000 canvas with a 300px intersection split into 10px cells.
func DefaultSim() SimConfig {
	return SimConfig{
		CanvasWidth:       1000,
		CanvasHeight:      1000,
		ZoneMinX:          350,
		ZoneMinY:          350,
		ZoneMaxX:          650,
		ZoneMaxY:          650,
		CellSize:          10,
		TierDisplacement:  [4]float64{0, 3, 5, 7},
		VehicleLength:     70,
		VehicleWidth:      40,
		SafetyDistance:    50,
		CloseCallDistance: 20,
		ReservationMargin: 2,
		ReleaseClearance:  60,
		LookaheadDistance: 120,
		SpawnClearance:    100,
		SpawnTier:         "medium",
		TickRate:          60,
		Seed:              1,
		StrictInvariants:  false,
	}
}

// SimFromEnv returns simulation configuration with environment variable overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if cs := getEnvFloat("CELL_SIZE", 0); cs > 0 {
		cfg.CellSize = cs
	}
	if v := os.Getenv("TIER_DISPLACEMENT"); v != "" {
		if tiers, err := parseTiers(v); err == nil {
			cfg.TierDisplacement = tiers
		}
	}
	if sd := getEnvFloat("SAFETY_DISTANCE", -1); sd >= 0 {
		cfg.SafetyDistance = sd
	}
	if cc := getEnvFloat("CLOSE_CALL_DISTANCE", -1); cc >= 0 {
		cfg.CloseCallDistance = cc
	}
	if m := getEnvFloat("RESERVATION_MARGIN", -1); m >= 0 {
		cfg.ReservationMargin = m
	}
	if rc := getEnvFloat("RELEASE_CLEARANCE", -1); rc >= 0 {
		cfg.ReleaseClearance = rc
	}
	if la := getEnvFloat("LOOKAHEAD_DISTANCE", 0); la > 0 {
		cfg.LookaheadDistance = la
	}
	if sc := getEnvFloat("SPAWN_CLEARANCE", -1); sc >= 0 {
		cfg.SpawnClearance = sc
	}
	if st := os.Getenv("SPAWN_TIER"); st != "" {
		cfg.SpawnTier = strings.ToLower(st)
	}
	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	if v := os.Getenv("SIM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = seed
		}
	}
	cfg.StrictInvariants = getEnvBool("STRICT_INVARIANTS", cfg.StrictInvariants)

	return cfg
}

// Validate reports configurations the scheduler cannot run with.
func (c SimConfig) Validate() error {
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("config: canvas must be positive, got %.0fx%.0f", c.CanvasWidth, c.CanvasHeight)
	}
	if c.ZoneMinX < 0 || c.ZoneMinY < 0 || c.ZoneMaxX > c.CanvasWidth || c.ZoneMaxY > c.CanvasHeight ||
		c.ZoneMinX >= c.ZoneMaxX || c.ZoneMinY >= c.ZoneMaxY {
		return fmt.Errorf("config: zone [%.0f,%.0f]x[%.0f,%.0f] does not fit the canvas",
			c.ZoneMinX, c.ZoneMaxX, c.ZoneMinY, c.ZoneMaxY)
	}
	if c.CellSize <= 0 {
		return fmt.Errorf("config: cell size must be positive, got %v", c.CellSize)
	}
	if c.TierDisplacement[0] != 0 {
		return fmt.Errorf("config: stopped tier must not move, got %v", c.TierDisplacement[0])
	}
	for i := 1; i < len(c.TierDisplacement); i++ {
		if c.TierDisplacement[i] <= c.TierDisplacement[i-1] {
			return fmt.Errorf("config: tier displacements must increase, got %v", c.TierDisplacement)
		}
	}
	if c.VehicleLength <= 0 || c.VehicleWidth <= 0 {
		return fmt.Errorf("config: vehicle dimensions must be positive")
	}
	if c.CloseCallDistance > c.SafetyDistance {
		return fmt.Errorf("config: close-call distance %.1f exceeds safety distance %.1f",
			c.CloseCallDistance, c.SafetyDistance)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("config: tick rate must be positive, got %d", c.TickRate)
	}
	return nil
}

// LaneWidth is the width of one lane; each approach carries three lanes per side.
func (c SimConfig) LaneWidth() float64 {
	return (c.ZoneMaxX - c.ZoneMinX) / 6
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	DebugPort      int
	AllowedOrigins []string
	EventLogPath   string
	// Requests per second and burst per client IP
	RateLimit float64
	RateBurst int
	// Bearer token for mutating routes; empty leaves them open
	APIToken string
	// Basic auth for the debug server; empty leaves it open
	DebugUser string
	DebugPass string
	// Random spawn cadence in ticks, 0 disables background traffic
	AutoSpawnEvery int
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		DebugPort:      6060,
		AllowedOrigins: []string{"*"},
		EventLogPath:   "",
		RateLimit:      20,
		RateBurst:      40,
		AutoSpawnEvery: 0,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if p := getEnvInt("DEBUG_PORT", -1); p >= 0 {
		cfg.DebugPort = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.EventLogPath = getEnvString("EVENT_LOG_PATH", cfg.EventLogPath)
	if rl := getEnvFloat("RATE_LIMIT", 0); rl > 0 {
		cfg.RateLimit = rl
	}
	if rb := getEnvInt("RATE_BURST", 0); rb > 0 {
		cfg.RateBurst = rb
	}
	cfg.APIToken = os.Getenv("API_TOKEN")
	cfg.DebugUser = os.Getenv("DEBUG_USER")
	cfg.DebugPass = os.Getenv("DEBUG_PASS")
	if n := getEnvInt("AUTO_SPAWN_EVERY", -1); n >= 0 {
		cfg.AutoSpawnEvery = n
	}

	return cfg
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StoreConfig holds run-report storage settings.
// An empty DatabaseURL selects the in-memory repository.
type StoreConfig struct {
	DatabaseURL    string
	ConnectTimeout time.Duration
}

// DefaultStore returns the default storage configuration.
func DefaultStore() StoreConfig {
	return StoreConfig{
		ConnectTimeout: 5 * time.Second,
	}
}

// StoreFromEnv returns storage configuration with environment variable overrides.
func StoreFromEnv() StoreConfig {
	cfg := DefaultStore()

	cfg.DatabaseURL = getEnvString("DATABASE_URL", cfg.DatabaseURL)
	if s := getEnvInt("DB_CONNECT_TIMEOUT_SEC", 0); s > 0 {
		cfg.ConnectTimeout = time.Duration(s) * time.Second
	}

	return cfg
}

// =============================================================================
// LOGGING CONFIGURATION
// =============================================================================

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
	JSON  bool
}

// LogFromEnv returns logging configuration with environment variable overrides.
func LogFromEnv() LogConfig {
	return LogConfig{
		Level: getEnvString("LOG_LEVEL", "info"),
		JSON:  getEnvBool("LOG_JSON", false),
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim    SimConfig
	Server ServerConfig
	Store  StoreConfig
	Log    LogConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Sim:    SimFromEnv(),
		Server: ServerFromEnv(),
		Store:  StoreFromEnv(),
		Log:    LogFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseTiers reads "0,3,5,7" into a displacement table.
func parseTiers(s string) ([4]float64, error) {
	var tiers [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != len(tiers) {
		return tiers, fmt.Errorf("config: expected %d tier values, got %d", len(tiers), len(parts))
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tiers, fmt.Errorf("config: tier %d: %w", i, err)
		}
		tiers[i] = f
	}
	return tiers, nil
}
