package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

// Config selects where and how the desk client logs.
type Config struct {
	DataDir string
	DevMode bool

	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is text or json. Empty means text.
	Format string
	// File overrides the log file path.
	File string
	// Version is attached to every record.
	Version string
}

// Init initializes the global slog logger.
// Outside dev mode, logs go to File, or dataDir/gwdesk.log by default.
// In dev mode they go to stderr unless File is set, so that stdout stays
// free for command output. Every record carries app and version attrs.
func Init(cfg Config) {
	w := io.Writer(os.Stderr)
	if path := logPath(cfg); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			slog.Error("failed to open log file, using stderr only", "file", path, "error", err)
		} else {
			w = f
		}
	}
	slog.SetDefault(slog.New(newHandler(w, cfg)))
}

func logPath(cfg Config) string {
	if cfg.File != "" {
		return cfg.File
	}
	if cfg.DevMode || cfg.DataDir == "" {
		return ""
	}
	return filepath.Join(cfg.DataDir, "gwdesk.log")
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("app", "gwdesk"),
		slog.String("version", version),
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRequestLogger creates a logger with a unique requestId for one-off operations.
func NewRequestLogger() *slog.Logger {
	return slog.With("requestId", uuid.Must(uuid.NewV7()).String())
}

// LogPanic records a recovered panic value with its stack trace.
func LogPanic(r any, msg string, args ...any) {
	args = append(args, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	slog.Error(msg, args...)
}

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
