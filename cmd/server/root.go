package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:          "settlement",
	Short:        "Settlement and balance-consistency engine",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "settlement.toml", "Path to TOML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP server port (overrides config)")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads config, installs the logger and opens the store.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, *sqlite.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger := logging.Setup(cfg.Log.Level)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, logger, store, nil
}
