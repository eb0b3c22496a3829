package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftmarket/config"
	"nftmarket/observability/logging"
	telemetry "nftmarket/observability/otel"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	scenario := flag.String("scenario", scenarioAll, "Scenario to replay: native, token, race or all")
	racers := flag.Int("racers", 8, "Number of concurrent buyers in the race scenario")
	verbose := flag.Bool("v", false, "Log emitted events")
	flag.Parse()

	if err := run(*configFile, *scenario, *racers, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "market-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, scenario string, racers int, verbose bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger, closeLog := logging.Setup("market-sim", cfg.Environment,
		logging.WithLevel(level),
		logging.WithFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups),
	)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "market-sim: close log: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	sim, err := newSimulation(cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	logger.Info("replaying scenario", "scenario", scenario, "store", cfg.ListingStore, "market", display(sim.market))
	if err := sim.run(ctx, scenario, racers); err != nil {
		logger.Error("scenario failed", "scenario", scenario, "error", err)
		return err
	}
	logger.Info("scenario passed", "scenario", scenario)
	return nil
}
