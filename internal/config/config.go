// Package config loads service configuration from an optional YAML file
// with environment variables taking precedence, so container deploys can
// run file-less.
package config

import (
	"fmt"
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Port        int    `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	LogLevel    string `yaml:"logLevel"`

	Auth     Auth     `yaml:"auth"`
	Solver   Solver   `yaml:"solver"`
	Webhooks Webhooks `yaml:"webhooks"`
}

type Auth struct {
	// Mode is "dev", "hmac" or "jwks".
	Mode    string `yaml:"mode"`
	Secret  string `yaml:"secret"`
	JWKSURL string `yaml:"jwksUrl"`
}

type Solver struct {
	TimeBudgetMs    int     `yaml:"timeBudgetMs"`
	SpeedKph        float64 `yaml:"speedKph"`
	NoAssignPenalty float64 `yaml:"noAssignPenalty"`
	MaxExactPairs   int     `yaml:"maxExactPairs"`
	// OptimizeRatePerMin throttles POST /v1/optimize; 0 disables.
	OptimizeRatePerMin int `yaml:"optimizeRatePerMin"`
	OptimizeBurst      int `yaml:"optimizeBurst"`
}

type Webhooks struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
	BatchSize      int `yaml:"batchSize"`
	MaxAttempts    int `yaml:"maxAttempts"`
}

func defaults() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Auth:     Auth{Mode: "dev"},
		Solver: Solver{
			TimeBudgetMs:       2000,
			SpeedKph:           80,
			NoAssignPenalty:    1000,
			MaxExactPairs:      250_000,
			OptimizeRatePerMin: 30,
			OptimizeBurst:      5,
		},
		Webhooks: Webhooks{PollIntervalMs: 2000, BatchSize: 25, MaxAttempts: 8},
	}
}

// Load reads path (when non-empty and present) and applies environment
// overrides on top. A missing file at an explicit path is an error; an
// empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr(&cfg.DatabaseURL, "DATABASE_URL")
	envStr(&cfg.RedisURL, "REDIS_URL")
	envStr(&cfg.LogLevel, "LOG_LEVEL")
	envInt(&cfg.Port, "PORT")
	envStr(&cfg.Auth.Mode, "AUTH_MODE")
	envStr(&cfg.Auth.Secret, "AUTH_SECRET")
	envStr(&cfg.Auth.JWKSURL, "AUTH_JWKS_URL")
	envInt(&cfg.Solver.TimeBudgetMs, "SOLVER_TIME_BUDGET_MS")
	envFloat(&cfg.Solver.SpeedKph, "SOLVER_SPEED_KPH")
	envFloat(&cfg.Solver.NoAssignPenalty, "SOLVER_NO_ASSIGN_PENALTY")
	envInt(&cfg.Solver.MaxExactPairs, "SOLVER_MAX_EXACT_PAIRS")
	envInt(&cfg.Solver.OptimizeRatePerMin, "OPTIMIZE_RATE_PER_MIN")
	envInt(&cfg.Solver.OptimizeBurst, "OPTIMIZE_BURST")
	envInt(&cfg.Webhooks.PollIntervalMs, "WEBHOOK_POLL_INTERVAL_MS")
	envInt(&cfg.Webhooks.BatchSize, "WEBHOOK_BATCH_SIZE")
	envInt(&cfg.Webhooks.MaxAttempts, "WEBHOOK_MAX_ATTEMPTS")
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
