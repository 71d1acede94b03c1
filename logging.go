package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amirphl/Susanoo/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the root logger and returns the writer shared with the HTTP access log.
// The returned closer flushes the rotating file, if any.
func newLogger(cfg config.LoggingConfig) (zerolog.Logger, io.Writer, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	output := strings.ToLower(cfg.Output)
	if output == "" || output == "stdout" || output == "both" {
		if strings.EqualFold(cfg.Format, "console") {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}
	if output == "file" || output == "both" {
		if dir := filepath.Dir(cfg.FilePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return zerolog.Logger{}, nil, nil, err
			}
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotating)
		closer = rotating
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	out := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "susanoo").Logger()
	return logger, out, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
