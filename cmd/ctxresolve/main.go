package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/ctxresolver/cmd/ctxresolve/commands"
	"github.com/openfroyo/ctxresolver/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// serve drains in-flight requests once ctx is cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if ctx.Err() != nil {
		log.Info().Msg("Interrupted, shut down")
	}
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

// setupLogging writes human-readable logs to stderr. The level comes from
// CTXRESOLVE_LOG_LEVEL, or LOG_LEVEL, until --log-level overrides it.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := os.Getenv("CTXRESOLVE_LOG_LEVEL")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
}
