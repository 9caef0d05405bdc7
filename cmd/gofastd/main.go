package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	Execute()
}

// newLogger builds a zerolog.Logger matching the requested level and
// format. "text" gets zerolog's human-readable console writer; anything
// else (including "json") gets zerolog's default structured JSON output.
func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// waitForShutdown blocks until SIGINT or SIGTERM arrives.
func waitForShutdown(log zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
}
