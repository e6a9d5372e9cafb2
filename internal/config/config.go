// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SolverDefaults are applied when a solve request omits parameters.
type SolverDefaults struct {
	Algorithm        string  `yaml:"algorithm"`
	Alpha            float64 `yaml:"alpha"`
	Beta             float64 `yaml:"beta"`
	TargetFraction   float64 `yaml:"targetFraction"`
	RadiusCoeff      float64 `yaml:"radiusCoeff"`
	TwoOptIterations int     `yaml:"twoOptIterations"`
}

// RateLimit bounds solve requests per second.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Config struct {
	Addr        string         `yaml:"addr"`
	DatabaseURL string         `yaml:"databaseUrl"`
	RedisURL    string         `yaml:"redisUrl"`
	RateLimit   RateLimit      `yaml:"rateLimit"`
	Solver      SolverDefaults `yaml:"solver"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr: ":8080",
		RateLimit: RateLimit{
			RPS:   2,
			Burst: 5,
		},
		Solver: SolverDefaults{
			Algorithm:        "greedy",
			Alpha:            0.5,
			Beta:             0.5,
			TargetFraction:   0.5,
			RadiusCoeff:      1.0,
			TwoOptIterations: 0,
		},
	}
}

// Load reads the YAML file at path when it exists, then applies environment
// overrides (PORT, DATABASE_URL, REDIS_URL, SOLVE_RATE_RPS, SOLVE_RATE_BURST).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SOLVE_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("SOLVE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.Burst = n
		}
	}
	return cfg, nil
}
