// Package cli implements the credd command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/credd-network/credd/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "credd",
	Short: "Credit ledger and transaction integrity engine",
	Long: `credd maintains tamper-evident, hash-chained credit ledgers with
exactly-once appends, reservation sagas, cost estimation, budget checks
and spending anomaly detection.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.toml")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configured (or default) configuration and applies
// the logging settings.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return cfg, nil
}
