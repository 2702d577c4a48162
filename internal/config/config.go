package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultExecAddr    = ":8080"
	defaultControlAddr = ":9090"
	defaultDBPath      = "flowd.db"
	defaultDrainGrace  = 10 * time.Second

	envExecAddr    = "FLOWD_EXEC_ADDR"
	envControlAddr = "FLOWD_CONTROL_ADDR"
	envDBPath      = "FLOWD_DB_PATH"
	envLogLevel    = "FLOWD_LOG_LEVEL"
	envDrainGraceS = "FLOWD_DRAIN_GRACE_S"
)

// Config holds supervisor configuration loaded from environment variables.
type Config struct {
	ExecAddr    string
	ControlAddr string
	DBPath      string
	LogLevel    slog.Level
	DrainGrace  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ExecAddr:    defaultExecAddr,
		ControlAddr: defaultControlAddr,
		DBPath:      defaultDBPath,
		LogLevel:    slog.LevelInfo,
		DrainGrace:  defaultDrainGrace,
	}

	if v := os.Getenv(envExecAddr); v != "" {
		cfg.ExecAddr = v
	}
	if v := os.Getenv(envControlAddr); v != "" {
		cfg.ControlAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDrainGraceS); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.DrainGrace = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
