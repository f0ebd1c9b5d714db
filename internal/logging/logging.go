// Package logging configures the structured loggers used across astrophot.
//
// Logs always go to stderr (or a caller-supplied writer), never stdout: the
// MCP server speaks its protocol on stdout and the CLI prints results there.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// EnvLevel names the environment variable that sets the default level.
const EnvLevel = "ASTROPHOT_LOG_LEVEL"

// level is shared by every handler created through Setup so it can be
// changed at runtime.
var level = new(slog.LevelVar)

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// An empty name is info. The syslog names notice, critical, alert and
// emergency are accepted as info and error.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info", "notice":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical", "alert", "emergency":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup builds a logger writing to w at the named level and installs it as
// the slog default. format is "text" or "json".
func Setup(w io.Writer, levelName, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	SetLevel(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

// SetLevel changes the level of every logger created by Setup.
func SetLevel(lvl slog.Level) { level.Set(lvl) }

// ForService returns the default logger tagged with a service name.
func ForService(name string) *slog.Logger {
	return slog.Default().With("service", name)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
