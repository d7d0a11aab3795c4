package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"imagetool/internal/domain"
)

// ParseLevel maps infra.logLevel to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: infra.logLevel must be debug, info, warn or error, got %q", s)
}

// NewLogger builds the process logger from the infra section.
func NewLogger(infra domain.InfraConfig, w io.Writer) *slog.Logger {
	level, err := ParseLevel(infra.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if infra.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
