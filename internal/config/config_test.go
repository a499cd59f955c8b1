package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:8420" {
		t.Fatalf("base url = %q", cfg.Server.BaseURL)
	}
	if cfg.Transport.Kind != "websocket" {
		t.Fatalf("transport kind = %q", cfg.Transport.Kind)
	}
	if cfg.UI.HistoryLines != 200 {
		t.Fatalf("history lines = %d", cfg.UI.HistoryLines)
	}
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[server]
base_url = "https://agent.example.com/"

[transport]
kind = "SSE"
reconnect_attempts = 8

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.BaseURL != "https://agent.example.com" {
		t.Fatalf("base url = %q", cfg.Server.BaseURL)
	}
	if cfg.Transport.Kind != "sse" {
		t.Fatalf("transport kind = %q", cfg.Transport.Kind)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Transport.ReconnectAttempts != 8 {
		t.Fatalf("reconnect attempts = %d", cfg.Transport.ReconnectAttempts)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\nbad"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolveTokenPrefersInline(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenPath, []byte("  from-file  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Server.TokenPath = tokenPath
	if got := cfg.ResolveToken(); got != "from-file" {
		t.Fatalf("token = %q, want from-file", got)
	}
	cfg.Server.Token = "inline"
	if got := cfg.ResolveToken(); got != "inline" {
		t.Fatalf("token = %q, want inline", got)
	}
}
