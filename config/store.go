package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path on top of Default. A missing file is not
// an error. Environment overrides are applied after the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GWDESK_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GWDESK_DATA_DIR"); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup("GWDESK_BASE_URL"); ok && v != "" {
		c.Backend.BaseURL = v
	}
	if v, ok := lookup("GWDESK_WS_URL"); ok && v != "" {
		c.Backend.WSURL = v
	}
	if v, ok := lookup("GWDESK_GATEWAY_ADDR"); ok && v != "" {
		c.Gateway.Addr = v
	}
	if v, ok := lookup("GWDESK_GATEWAY_TOKEN"); ok && v != "" {
		c.Gateway.Token = v
	}
	if v, ok := lookup("GWDESK_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("GWDESK_LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("GWDESK_LOG_FILE"); ok && v != "" {
		c.Log.File = v
	}
	if v, ok := lookup("GWDESK_DEV"); ok && v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GWDESK_DEV: %w", err)
		}
		c.Gateway.DevMode = dev
	}
	return nil
}

// Save writes cfg as YAML to path. Atomic: temp file then rename.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	// The gateway token lives here.
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
