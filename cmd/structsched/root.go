package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/structsched"
)

var rootCmd = &cobra.Command{
	Use:   "structsched",
	Short: "Priority-propagating structured task scheduler",
	Long: `structsched runs tasks on a fixed pool of workers, always picking the most
urgent runnable task. Awaiting a task lends it the waiter's priority, and
escalating a task raises everything it owns structurally.`,
	SilenceUsage: true,
}

var (
	configFile string
	workers    int
	logLevel   string
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of workers (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (structsched.Config, error) {
	cfg := structsched.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = structsched.LoadConfig(configFile); err != nil {
			return structsched.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return structsched.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
