package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/config"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	env        = config.NewEnv()
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "governor",
		Short: "Compliance policy and remediation engine",
		Long: `Governor - Compliance Policy & Remediation Engine

Governor consumes AWS Config compliance change notifications from the
organization's member accounts, decides what each violation deserves and
acts on it: low severity violations are remediated in the member account,
medium severity violations notify the security team, high severity
violations are recorded for review. Every decision lands in the
compliance ledger exactly once.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Governor {{.Version}} - Compliance Policy & Remediation Engine
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, console)")
	flags.String("region", "", "Hub AWS region")

	_ = env.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = env.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = env.BindPFlag("region", flags.Lookup("region"))
}

// loadConfig runs before every subcommand
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := loadWith(configPath, env)
	if err != nil {
		return err
	}
	cfg = loaded
	return configureLogging(cfg.Log)
}

func loadWith(path string, v *viper.Viper) (*config.Config, error) {
	if path == "" {
		if p := os.Getenv(config.EnvPrefix + "_CONFIG"); p != "" {
			path = p
		}
	}
	return config.LoadWithOverrides(path, v)
}

// configureLogging sets the global level and, for console output, a
// human-readable writer for every logger created afterwards
func configureLogging(logCfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(logCfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logCfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(logCfg.Format, "console") {
		telemetry.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		telemetry.SetOutput(os.Stderr)
	}
	return nil
}
