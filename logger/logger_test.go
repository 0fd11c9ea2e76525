package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hello..."},
		{"multibyte", "안녕하세요 여러분", 5, "안녕하세요..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNewHandler_JSONWithDefaultAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Config{Level: "warn", Format: "json", Version: "1.2.0"}))

	log.Info("hidden")
	log.Warn("shown", "module", "realtime")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["app"] != "gwdesk" || rec["version"] != "1.2.0" || rec["module"] != "realtime" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewHandler_TextDefaultsVersion(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&buf, Config{})).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "app=gwdesk") || !strings.Contains(out, "version=dev") {
		t.Errorf("output = %q", out)
	}
}

func TestLogPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"default file", Config{DataDir: dir}, filepath.Join(dir, "gwdesk.log")},
		{"dev mode", Config{DataDir: dir, DevMode: true}, ""},
		{"explicit file", Config{DataDir: dir, DevMode: true, File: "/tmp/x.log"}, "/tmp/x.log"},
		{"no data dir", Config{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := logPath(tt.cfg); got != tt.want {
				t.Errorf("logPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
