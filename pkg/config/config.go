// Package config loads simulator settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Attacker backends.
const (
	BackendMock   = "mock"
	BackendRemote = "remote"
)

// Config is the full runtime configuration.
type Config struct {
	HTTPPort         string
	SeedPath         string
	EvidenceStoreDir string
	MaxSteps         int
	MaskInjections   bool

	ReplayMode      string
	ReplayCachePath string

	AttackerBackend     string
	AttackerStrict      bool
	AttackerModel       string
	AttackerTemperature float64
	AttackerBaseURL     string
	AttackerAPIKey      string
}

// LoadFromEnv reads configuration from environment variables, applying
// defaults that run the sample scenario out of the box.
func LoadFromEnv() (Config, error) {
	maxSteps, err := strconv.Atoi(getEnvOrDefault("MAX_STEPS", "15"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid MAX_STEPS: %w", err)
	}

	temperature, err := strconv.ParseFloat(getEnvOrDefault("ATTACKER_TEMPERATURE", "0.4"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ATTACKER_TEMPERATURE: %w", err)
	}

	cfg := Config{
		HTTPPort:         getEnvOrDefault("HTTP_PORT", "8080"),
		SeedPath:         getEnvOrDefault("SEED_PATH", "data/seeds/sample_seed.json"),
		EvidenceStoreDir: getEnvOrDefault("EVIDENCE_STORE_DIR", "data/sqlite"),
		MaxSteps:         maxSteps,
		MaskInjections:   boolFromEnv("MASK_INJECTIONS"),

		ReplayMode:      resolveReplayMode(),
		ReplayCachePath: os.Getenv("REPLAY_CACHE_PATH"),

		AttackerBackend:     getEnvOrDefault("ATTACKER_BACKEND", BackendMock),
		AttackerStrict:      boolFromEnv("ATTACKER_STRICT"),
		AttackerModel:       getEnvOrDefault("ATTACKER_MODEL", "gpt-4o-mini"),
		AttackerTemperature: temperature,
		AttackerBaseURL:     os.Getenv("ATTACKER_BASE_URL"),
		AttackerAPIKey:      os.Getenv("ATTACKER_API_KEY"),
	}

	if cfg.AttackerBackend != BackendMock && cfg.AttackerBackend != BackendRemote {
		return Config{}, fmt.Errorf("invalid ATTACKER_BACKEND %q: must be %q or %q",
			cfg.AttackerBackend, BackendMock, BackendRemote)
	}
	if cfg.ReplayMode != "off" && cfg.ReplayCachePath == "" {
		return Config{}, fmt.Errorf("REPLAY_MODE %q requires REPLAY_CACHE_PATH", cfg.ReplayMode)
	}
	return cfg, nil
}

// resolveReplayMode honors an explicit REPLAY_MODE; a cache path with no
// mode set implies record, so runs against a fresh cache capture by default.
func resolveReplayMode() string {
	switch mode := os.Getenv("REPLAY_MODE"); mode {
	case "off", "record", "replay":
		return mode
	}
	if os.Getenv("REPLAY_CACHE_PATH") != "" {
		return "record"
	}
	return "off"
}

func boolFromEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
