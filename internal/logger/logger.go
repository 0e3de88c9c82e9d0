// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/config"
)

// Bootstrap installs a console logger so config loading can log.
func Bootstrap() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Setup replaces the global logger according to cfg. The returned closer
// flushes the rotating file, if any.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if cfg.Format != "json" {
		zerolog.TimeFieldFormat = time.RFC3339
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		// file always gets JSON
		out = zerolog.MultiLevelWriter(out, lj)
		closer = lj
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Info().Str("module", "logger").Str("level", lvl.String()).Str("file", cfg.File).Msg("logger initialized")
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
