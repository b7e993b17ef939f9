package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/controller"
	"inferd/internal/discovery"
	"inferd/internal/httpapi"
	"inferd/internal/mq"
	"inferd/internal/rpcapi"
	"inferd/internal/shutdown"
)

// newLogger builds the root logger. format is "json" or "console".
func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "inferd").Logger(), nil
}

// installLoggers hands the root logger to every package that logs.
func installLoggers(l zerolog.Logger) {
	controller.SetLogger(l)
	rpcapi.SetLogger(l)
	httpapi.SetLogger(l)
	shutdown.SetLogger(l)
	discovery.SetLogger(l)
	mq.SetLogger(l)
}
