package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/controller"
	"github.com/GlitchedBaby/TrafficXia/internal/daemon"
	"github.com/GlitchedBaby/TrafficXia/internal/db"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
	"github.com/GlitchedBaby/TrafficXia/internal/registry"
	"github.com/GlitchedBaby/TrafficXia/internal/sampler"
)

const retentionWindow = 7 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "TOML config path")
	socketPath := flag.String("socket", "", "UDS path for trafficxiad")
	dbPath := flag.String("db", "", "SQLite journal path")
	sim := flag.Bool("sim", false, "run with the built-in synthetic sensors")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *sim && len(cfg.Approaches) == 0 {
		cfg.Approaches = sampler.DemoApproaches()
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	runID := uuid.NewString()
	configJSON, err := json.Marshal(configSummary(cfg))
	if err != nil {
		fatal(err)
	}
	if err := store.InsertRun(ctx, model.Run{
		RunID:      runID,
		StartedAt:  time.Now().UTC(),
		ConfigJSON: string(configJSON),
	}); err != nil {
		fatal(err)
	}

	reg, err := registry.New(cfg.Approaches, cfg.StaleAfter)
	if err != nil {
		fatal(err)
	}

	srv := daemon.NewServer(cfg, reg, store, runID)
	loop := controller.New(cfg, reg, srv, store, runID)

	if *sim {
		pump := sampler.NewPump(sampler.NewSimSource(), reg, cfg.Tick)
		pump.Start(ctx)
	}
	startRetentionLoop(ctx, store)

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start(ctx)
	}()

	var exitErr error
	select {
	case err := <-loopErr:
		cancel()
		<-srvErr
		exitErr = err
	case err := <-srvErr:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			exitErr = err
		}
		<-loopErr
	}

	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()
	if err := store.EndRun(endCtx, runID, time.Now().UTC()); err != nil && !errors.Is(err, db.ErrNotFound) {
		logErr("end run", err)
	}

	if exitErr != nil {
		if errors.Is(exitErr, model.ErrSafetyViolation) {
			fatal(fmt.Errorf("halted: %w", exitErr))
		}
		fatal(exitErr)
	}
}

func startRetentionLoop(ctx context.Context, store *db.Store) {
	run := func() {
		cutoff := time.Now().UTC().Add(-retentionWindow)
		if err := store.PurgeRetention(ctx, cutoff); err != nil {
			logErr("retention purge", err)
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// configSummary is the run journal snapshot of the effective tunables.
func configSummary(cfg config.Config) map[string]any {
	approaches := make([]map[string]string, 0, len(cfg.Approaches))
	for _, a := range cfg.Approaches {
		approaches = append(approaches, map[string]string{"name": a.Name, "sensor_ref": a.SensorRef})
	}
	return map[string]any{
		"base_green":          cfg.BaseGreen.String(),
		"extension_step":      cfg.ExtensionStep.String(),
		"max_green":           cfg.MaxGreen.String(),
		"min_green":           cfg.MinGreen.String(),
		"yellow":              cfg.Yellow.String(),
		"all_red":             cfg.AllRed.String(),
		"extension_threshold": cfg.ExtensionThreshold,
		"starvation_limit":    cfg.StarvationLimit,
		"tick":                cfg.Tick.String(),
		"stale_after":         cfg.StaleAfter.String(),
		"approaches":          approaches,
	}
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "trafficxiad: %s: %v\n", scope, err)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "trafficxiad: %v\n", err)
	os.Exit(1)
}
