/*
Package config loads the settlement engine configuration.

FILE FORMAT (TOML):

	[server]
	port = 8080
	allowed_origins = ["http://localhost:5173"]
	read_timeout = "15s"
	write_timeout = "15s"
	idle_timeout = "60s"

	[database]
	path = "settlement.db"

	[balance]
	tolerance = "0.01"

	[scheduler]
	enabled = true
	interval = "1h"
	auto_fix = false

	[log]
	level = "info"

  A missing file yields Default(). Values present in the file override the
  defaults; command-line flags override both (see cmd/server).
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Balance   BalanceConfig   `toml:"balance"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	ReadTimeout    string   `toml:"read_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
	IdleTimeout    string   `toml:"idle_timeout"`
}

type DatabaseConfig struct {
	// Path is a SQLite file path or ":memory:".
	Path string `toml:"path"`
}

type BalanceConfig struct {
	// Tolerance is a decimal string so it round-trips without float error.
	Tolerance string `toml:"tolerance"`
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
	AutoFix  bool   `toml:"auto_fix"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
			ReadTimeout:    "15s",
			WriteTimeout:   "15s",
			IdleTimeout:    "60s",
		},
		Database:  DatabaseConfig{Path: "settlement.db"},
		Balance:   BalanceConfig{Tolerance: "0.01"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: "1h"},
		Log:       LogConfig{},
	}
}

// Load reads path over Default(). An empty path or a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and parses every duration and decimal field once.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name, v := range map[string]string{
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"server.idle_timeout":  c.Server.IdleTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	tol, err := decimal.NewFromString(c.Balance.Tolerance)
	if err != nil {
		return fmt.Errorf("balance.tolerance: %w", err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("balance.tolerance must not be negative, got %s", tol)
	}

	interval, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return fmt.Errorf("scheduler.interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %s", interval)
	}
	return nil
}

// Tolerance returns the parsed drift tolerance. Call after Validate.
func (c Config) Tolerance() decimal.Decimal {
	tol, err := decimal.NewFromString(c.Balance.Tolerance)
	if err != nil {
		return decimal.RequireFromString("0.01")
	}
	return tol
}

// SchedulerInterval returns the parsed scan interval. Call after Validate.
func (c Config) SchedulerInterval() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.Interval)
	return d
}

// Timeouts returns the parsed server read, write and idle timeouts.
func (c Config) Timeouts() (read, write, idle time.Duration) {
	read, _ = time.ParseDuration(c.Server.ReadTimeout)
	write, _ = time.ParseDuration(c.Server.WriteTimeout)
	idle, _ = time.ParseDuration(c.Server.IdleTimeout)
	return read, write, idle
}
