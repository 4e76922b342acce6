// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all server settings.
type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	DBPath         string        `env:"DB_PATH" envDefault:"games.db"`
	JWTSecret      string        `env:"JWT_SECRET,required,notEmpty"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	WaitingTTL     time.Duration `env:"WAITING_TTL" envDefault:"24h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Load reads an optional .env file and then parses the environment.
func Load(envFiles ...string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load(envFiles...)
	return Parse()
}

// Parse parses the environment into a Config without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.WaitingTTL <= 0 {
		return Config{}, fmt.Errorf("WAITING_TTL must be positive, got %s", cfg.WaitingTTL)
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}
