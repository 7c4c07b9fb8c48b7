package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"smart-road/internal/api"
	"smart-road/internal/config"
	"smart-road/internal/sim"
	"smart-road/internal/store"
)

func main() {
	// Load .env file from parent directory
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		// Try current directory as fallback
		envErr = godotenv.Load(".env")
	}

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	configureLogging(appConfig.Log)
	if envErr != nil {
		log.Info("💡 No .env file found, using environment variables only")
	}

	simCfg := appConfig.Sim
	serverCfg := appConfig.Server

	log.Info("🚦 ================================")
	log.Info("🚦  SMART ROAD - INTERSECTION SCHEDULER")
	log.Info("🚦 ================================")
	log.Infof("🚦 Config: %d TPS, zone %.0fx%.0f, %.0fpx cells, tiers %v, seed %d",
		simCfg.TickRate, simCfg.ZoneMaxX-simCfg.ZoneMinX, simCfg.ZoneMaxY-simCfg.ZoneMinY,
		simCfg.CellSize, simCfg.TierDisplacement, simCfg.Seed)

	engine, err := sim.NewEngine(simCfg)
	if err != nil {
		log.WithError(err).Fatal("❌ Invalid simulation config")
	}

	if err := engine.StartEventLog(serverCfg.EventLogPath); err != nil {
		log.WithError(err).Warn("⚠️ Event log disabled")
	}

	repo := openRepository(appConfig.Store)

	debugServer := api.StartDebugServer(api.ObservabilityConfig{
		Enabled:       serverCfg.DebugPort > 0,
		ListenAddr:    fmt.Sprintf("127.0.0.1:%d", serverCfg.DebugPort),
		AllowExternal: os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true",
		BasicAuthUser: serverCfg.DebugUser,
		BasicAuthPass: serverCfg.DebugPass,
	})

	// Metrics and optional background traffic run after every tick
	autoSpawn := uint64(serverCfg.AutoSpawnEvery)
	engine.SetOnTick(func(r sim.TickReport) {
		api.RecordTickReport(r)
		if autoSpawn > 0 && r.Tick%autoSpawn == 0 {
			_, err := engine.SpawnRandom()
			api.RecordSpawnResult("auto", err)
		}
	})
	if autoSpawn > 0 {
		log.WithField("everyTicks", autoSpawn).Info("🚗 Background traffic enabled")
	}

	startedAt := time.Now()
	engine.Start()

	server := api.NewServer(engine, repo, serverCfg)
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("❌ API server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutting down...")
	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("⚠️ API server forced to shutdown")
	}
	api.ShutdownDebugServer(ctx, debugServer)
	engine.StopEventLog()

	stats := engine.Stats()
	report := store.NewRunReport(startedAt, time.Now(), simCfg.Seed, stats)
	if err := repo.SaveRun(ctx, report); err != nil {
		log.WithError(err).Error("❌ Failed to save run report")
	} else {
		log.WithField("run", report.ID).Info("💾 Run report saved")
	}
	repo.Close()

	fmt.Print(stats.Report())
	log.Info("👋 Server exited gracefully")
}

// openRepository connects to Postgres when configured and falls back to
// memory when it is unset or unreachable.
func openRepository(cfg config.StoreConfig) store.Repository {
	if cfg.DatabaseURL == "" {
		log.Info("💾 DATABASE_URL not set, keeping run reports in memory")
		return store.NewMemoryRepository()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	repo, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Warn("⚠️ Could not connect to database, keeping run reports in memory")
		return store.NewMemoryRepository()
	}
	log.Info("✅ Connected to PostgreSQL")
	return repo
}

func configureLogging(cfg config.LogConfig) {
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
