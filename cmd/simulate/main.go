// Command simulate runs the scheduler headless for a fixed number of ticks
// and prints the statistics report.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"smart-road/internal/config"
	"smart-road/internal/render"
	"smart-road/internal/sim"
)

type options struct {
	ticks      int
	spawnEvery int
	drain      int
	seed       int64
	strict     bool
	pngPath    string
	eventsPath string
}

func main() {
	_ = godotenv.Load(".env")

	appConfig := config.Load()
	simCfg := appConfig.Sim

	var opts options
	flag.IntVar(&opts.ticks, "ticks", 3600, "ticks of traffic to generate")
	flag.IntVar(&opts.spawnEvery, "spawn-every", 20, "attempt a random spawn every N ticks")
	flag.IntVar(&opts.drain, "drain", 2000, "extra ticks allowed for the canvas to empty")
	flag.Int64Var(&opts.seed, "seed", simCfg.Seed, "random seed")
	flag.BoolVar(&opts.strict, "strict", simCfg.StrictInvariants, "panic on overlapping reservations")
	flag.StringVar(&opts.pngPath, "png", "", "write the final frame to this PNG file")
	flag.StringVar(&opts.eventsPath, "events", "", "write the event log to this JSONL file")
	flag.StringVar(&appConfig.Log.Level, "log-level", "warn", "log level")
	flag.Parse()

	if level, err := log.ParseLevel(appConfig.Log.Level); err == nil {
		log.SetLevel(level)
	}

	simCfg.Seed = opts.seed
	simCfg.StrictInvariants = opts.strict

	stats, err := run(simCfg, opts)
	if err != nil {
		log.WithError(err).Error("❌ Simulation failed")
		os.Exit(1)
	}
	fmt.Print(stats.Report())
	if stats.InvariantViolations > 0 {
		os.Exit(2)
	}
}

func run(cfg config.SimConfig, opts options) (sim.Stats, error) {
	engine, err := sim.NewEngine(cfg)
	if err != nil {
		return sim.Stats{}, err
	}

	if opts.eventsPath != "" {
		if err := engine.StartEventLog(opts.eventsPath); err != nil {
			return sim.Stats{}, fmt.Errorf("event log: %w", err)
		}
		defer engine.StopEventLog()
	}

	start := time.Now()
	for tick := 0; tick < opts.ticks; tick++ {
		if opts.spawnEvery > 0 && tick%opts.spawnEvery == 0 {
			if _, err := engine.SpawnRandom(); err != nil && !errors.Is(err, sim.ErrRejectedSpawn) {
				return sim.Stats{}, err
			}
		}
		engine.Step()
	}
	for i := 0; i < opts.drain && len(engine.Vehicles()) > 0; i++ {
		engine.Step()
	}

	log.WithFields(log.Fields{
		"ticks":     engine.Tick(),
		"remaining": len(engine.Vehicles()),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("🏁 Simulation finished")

	if opts.pngPath != "" {
		if err := writeFrame(engine, opts.pngPath); err != nil {
			return sim.Stats{}, err
		}
	}
	return engine.Stats(), nil
}

func writeFrame(engine *sim.Engine, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("png: %w", err)
	}
	defer f.Close()

	if err := render.New(engine.Config(), engine.Routes()).WritePNG(f, engine.GetSnapshot()); err != nil {
		return fmt.Errorf("png: %w", err)
	}
	return f.Close()
}
