package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "oppscan"
	version = "v1.0.0"
)

var configPath string

// rootCmd is the base command for the oppscan CLI
var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Multi-strategy opportunity scan orchestrator",
	Version: version,
	Long: `oppscan fans a user's scan request out across the registered strategy
evaluators, ranks the surviving candidates, and serves results over a
poll-based HTTP API backed by a shared TTL state store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, keeping info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
