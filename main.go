package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolens/audiolens/cmd/aligner"
	"github.com/audiolens/audiolens/cmd/db"
	"github.com/audiolens/audiolens/cmd/relay"
	"github.com/audiolens/audiolens/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "audiolens",
		Short: "Coordination core of the audiolens analysis pipeline",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogger(config.DefaultServiceConfigFromEnv().Logger)
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.AddCommand(
		aligner.New(),
		relay.New(),
		db.New(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger(cfg config.Logger) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}
