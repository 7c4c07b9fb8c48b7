package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSimIsValid(t *testing.T) {
	cfg := DefaultSim()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50.0, cfg.LaneWidth())
	assert.Equal(t, [4]float64{0, 3, 5, 7}, cfg.TierDisplacement)
}

func TestSimFromEnvOverrides(t *testing.T) {
	t.Setenv("CELL_SIZE", "20")
	t.Setenv("TIER_DISPLACEMENT", "0, 2, 4, 8")
	t.Setenv("SAFETY_DISTANCE", "80")
	t.Setenv("SPAWN_TIER", "FAST")
	t.Setenv("SIM_SEED", "42")
	t.Setenv("STRICT_INVARIANTS", "true")

	cfg := SimFromEnv()
	assert.Equal(t, 20.0, cfg.CellSize)
	assert.Equal(t, [4]float64{0, 2, 4, 8}, cfg.TierDisplacement)
	assert.Equal(t, 80.0, cfg.SafetyDistance)
	assert.Equal(t, "fast", cfg.SpawnTier)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.True(t, cfg.StrictInvariants)
}

func TestSimFromEnvIgnoresMalformedTiers(t *testing.T) {
	t.Setenv("TIER_DISPLACEMENT", "1,2")
	assert.Equal(t, DefaultSim().TierDisplacement, SimFromEnv().TierDisplacement)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SimConfig)
	}{
		{"zone outside canvas", func(c *SimConfig) { c.ZoneMaxX = 1200 }},
		{"inverted zone", func(c *SimConfig) { c.ZoneMinY = 700 }},
		{"zero cell", func(c *SimConfig) { c.CellSize = 0 }},
		{"moving stopped tier", func(c *SimConfig) { c.TierDisplacement[0] = 1 }},
		{"non increasing tiers", func(c *SimConfig) { c.TierDisplacement = [4]float64{0, 5, 5, 7} }},
		{"close call above safety", func(c *SimConfig) { c.CloseCallDistance = 60 }},
		{"zero tick rate", func(c *SimConfig) { c.TickRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSim()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadAggregatesSections(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("DATABASE_URL", "postgres://localhost/smartroad")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/smartroad", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultSim(), cfg.Sim)
}

func TestServerFromEnv(t *testing.T) {
	t.Setenv("API_TOKEN", "tok")
	t.Setenv("DEBUG_PORT", "0")
	t.Setenv("AUTO_SPAWN_EVERY", "30")
	t.Setenv("RATE_LIMIT", "bogus")

	cfg := ServerFromEnv()
	assert.Equal(t, "tok", cfg.APIToken)
	assert.Equal(t, 0, cfg.DebugPort)
	assert.Equal(t, 30, cfg.AutoSpawnEvery)
	assert.Equal(t, DefaultServer().RateLimit, cfg.RateLimit)
}
