// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/logging/loki"
)

// Setup initializes the global logger with console output on stderr.
// Unrecognized level strings fall back to info.
func Setup(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// EnableLoki tees the global logger into a Loki push writer when a URL is
// configured. The returned stop function ships any buffered entries and
// shuts the writer down; callers should defer it.
func EnableLoki(cfg config.LogConfig) func() {
	if cfg.LokiURL == "" {
		return func() {}
	}

	w := loki.NewWriter(loki.Config{
		URL:    cfg.LokiURL,
		Labels: cfg.LokiLabels,
	})
	w.Start()

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr},
		w,
	))

	log.Info().Str("url", cfg.LokiURL).Msg("Loki log shipping enabled")
	return w.Stop
}
