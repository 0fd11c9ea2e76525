// Package config provides desk client configuration.
//
// Configuration comes from a YAML file (see Load), then environment
// overrides (see ApplyEnv). Missing files fall back to Default.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

type Config struct {
	// DataDir holds session.json, gwdesk.log and the default config file.
	DataDir string `yaml:"data_dir"`

	Backend  BackendConfig  `yaml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Log      LogConfig      `yaml:"log"`
}

type BackendConfig struct {
	// BaseURL is the REST root, e.g. https://gw.example.com.
	BaseURL string `yaml:"base_url"`
	// WSURL is the STOMP-over-WebSocket endpoint, e.g. wss://gw.example.com/ws.
	WSURL          string        `yaml:"ws_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RealtimeConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnectAttempts bounds consecutive failed dials. 0 retries forever.
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartBeat            time.Duration `yaml:"heart_beat"`

	UserTopicPrefix string `yaml:"user_topic_prefix"`
	RoomTopicPrefix string `yaml:"room_topic_prefix"`
	ChatDestination string `yaml:"chat_destination"`
}

type GatewayConfig struct {
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token"`
	DevMode bool   `yaml:"dev_mode"`
}

// LogConfig mirrors logger.Config. Empty fields use the logger defaults.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8080",
			WSURL:          "ws://localhost:8080/ws",
			RequestTimeout: DefaultRequestTimeout,
		},
		Realtime: RealtimeConfig{
			ReconnectDelay:  DefaultReconnectDelay,
			UserTopicPrefix: "/topic/notification/",
			RoomTopicPrefix: "/topic/chat/room/",
			ChatDestination: "/app/chat/message",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:9731",
		},
	}
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if err := validateURL("backend.base_url", c.Backend.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("backend.ws_url", c.Backend.WSURL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if c.Backend.RequestTimeout <= 0 {
		return errors.New("backend.request_timeout must be positive")
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return errors.New("realtime.reconnect_delay must be positive")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return errors.New("realtime.max_reconnect_attempts must not be negative")
	}
	if c.Realtime.HeartBeat < 0 {
		return errors.New("realtime.heart_beat must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported format %q", c.Log.Format)
	}
	if c.Realtime.UserTopicPrefix == "" || c.Realtime.RoomTopicPrefix == "" || c.Realtime.ChatDestination == "" {
		return errors.New("realtime topic prefixes and chat destination are required")
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported scheme %q", field, u.Scheme)
}

// Path returns the config file location inside the data directory.
func (c Config) Path() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gwdesk")
	}
	return ".gwdesk"
}
