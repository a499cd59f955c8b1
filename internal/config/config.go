// Package config loads the relay settings file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	appDirName     = ".relay"
	defaultBaseURL = "http://127.0.0.1:8420"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Transport TransportConfig `toml:"transport"`
	Logging   LoggingConfig   `toml:"logging"`
	UI        UIConfig        `toml:"ui"`
}

type ServerConfig struct {
	BaseURL   string `toml:"base_url"`
	Token     string `toml:"token"`
	TokenPath string `toml:"token_path"`
}

type TransportConfig struct {
	// Kind selects the stream transport: "websocket" (default) or
	// "sse".
	Kind string `toml:"kind"`
	// Zero values keep the built-in reconnect policy.
	ReconnectAttempts        int `toml:"reconnect_attempts"`
	ReconnectMaxDelaySeconds int `toml:"reconnect_max_delay_seconds"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

type UIConfig struct {
	HistoryLines int `toml:"history_lines"`
}

func Default() Config {
	return Config{
		Server:    ServerConfig{BaseURL: defaultBaseURL},
		Transport: TransportConfig{Kind: "websocket"},
		Logging:   LoggingConfig{Level: "info"},
		UI:        UIConfig{HistoryLines: 200},
	}
}

// DataDir is the base directory for relay state and logs.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

func Path() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}

// Load reads the settings file at path. A missing file yields the
// defaults; a present but malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		c.Server.BaseURL = defaultBaseURL
	}
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	switch strings.ToLower(strings.TrimSpace(c.Transport.Kind)) {
	case "sse":
		c.Transport.Kind = "sse"
	default:
		c.Transport.Kind = "websocket"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.UI.HistoryLines <= 0 {
		c.UI.HistoryLines = 200
	}
}

// ResolveToken returns the auth token: an inline token wins, then the
// token file, then empty (no auth).
func (c Config) ResolveToken() string {
	if token := strings.TrimSpace(c.Server.Token); token != "" {
		return token
	}
	path := strings.TrimSpace(c.Server.TokenPath)
	if path == "" {
		dataDir, err := DataDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(dataDir, "token")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
