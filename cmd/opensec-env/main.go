// OpenSec environment server — hosts the incident-response simulator
// over HTTP: episode reset/step/state, the attacker policy, and the
// scoring oracle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jbarnes850/opensec-env/pkg/api"
	"github.com/jbarnes850/opensec-env/pkg/attacker"
	"github.com/jbarnes850/opensec-env/pkg/config"
	"github.com/jbarnes850/opensec-env/pkg/episode"
	"github.com/jbarnes850/opensec-env/pkg/replay"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
	"github.com/jbarnes850/opensec-env/pkg/version"
)

func main() {
	validateSeed := flag.String("validate-seed", "", "Validate a scenario seed file and exit")
	envPath := flag.String("env-file", ".env", "Path to optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	if *validateSeed != "" {
		os.Exit(runSeedValidation(*validateSeed))
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting opensec-env",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"seed_path", cfg.SeedPath,
		"attacker_backend", cfg.AttackerBackend,
		"replay_mode", cfg.ReplayMode)

	policy, err := buildPolicy(cfg)
	if err != nil {
		slog.Error("Failed to initialize attacker policy", "error", err)
		os.Exit(1)
	}

	manager := &replay.Manager{
		Mode:        cfg.ReplayMode,
		Strict:      cfg.AttackerStrict,
		Model:       policyModel(cfg),
		Temperature: cfg.AttackerTemperature,
	}
	if cfg.ReplayMode != replay.ModeOff {
		cache, err := replay.OpenCache(cfg.ReplayCachePath)
		if err != nil {
			slog.Error("Failed to open replay cache", "path", cfg.ReplayCachePath, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				slog.Error("Error closing replay cache", "error", err)
			}
		}()
		manager.Cache = cache
		slog.Info("Replay cache ready", "path", cfg.ReplayCachePath, "mode", cfg.ReplayMode)
	}

	controller := episode.NewController(episode.Options{
		SeedPath:       cfg.SeedPath,
		StoreDir:       cfg.EvidenceStoreDir,
		MaxSteps:       cfg.MaxSteps,
		MaskInjections: cfg.MaskInjections,
		Policy:         policy,
		Manager:        manager,
	})
	defer func() {
		if err := controller.Close(); err != nil {
			slog.Error("Error closing episode controller", "error", err)
		}
	}()

	httpServer := api.NewServer(controller, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

func buildPolicy(cfg config.Config) (attacker.Policy, error) {
	if cfg.AttackerBackend == config.BackendRemote {
		return attacker.NewRemotePolicy(attacker.RemoteOptions{
			Model:       cfg.AttackerModel,
			Temperature: cfg.AttackerTemperature,
			BaseURL:     cfg.AttackerBaseURL,
			APIKey:      cfg.AttackerAPIKey,
			Strict:      cfg.AttackerStrict,
		})
	}
	return attacker.MockPolicy{}, nil
}

func policyModel(cfg config.Config) string {
	if cfg.AttackerBackend == config.BackendRemote {
		return cfg.AttackerModel
	}
	return "mock"
}

func runSeedValidation(path string) int {
	seed, err := scenario.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load seed: %v\n", err)
		return 1
	}
	issues := scenario.Validate(seed)
	if len(issues) == 0 {
		fmt.Printf("seed %s: OK\n", seed.ScenarioID)
		return 0
	}
	fmt.Fprintf(os.Stderr, "seed %s: %d issue(s)\n", seed.ScenarioID, len(issues))
	for _, issue := range issues {
		fmt.Fprintf(os.Stderr, "  %s\n", issue)
	}
	return 1
}
