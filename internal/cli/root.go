package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/warrant/internal/config"
	"github.com/ppiankov/warrant/internal/logging"
)

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.warrant/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")
}

var rootCmd = &cobra.Command{
	Use:   "warrant",
	Short: "Governance decision pipeline for AI agent actions",
	Long: "Evaluates agent requests against a policy graph, issues signed capability\n" +
		"tokens for allowed actions, and records every decision in a hash-chained,\n" +
		"signed ledger.",
	SilenceUsage: true,
}

// exitCodeError ends the process with code after the command has
// already written its output.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}

// loadConfig reads --config and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr so stdout stays
// parseable.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("invalid log settings: %w", err)
	}
	return logger, nil
}
