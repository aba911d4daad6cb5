package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/happy-coder/happy/internal/model"
)

func TestLoadDefaultsWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != defaultServerURL {
		t.Fatalf("ServerURL = %q, want default %q", cfg.ServerURL, defaultServerURL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Dir != dir {
		t.Fatalf("Dir = %q, want %q", cfg.Dir, dir)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "server_url: wss://custom.example/ws\nlog_level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "wss://custom.example/ws" || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v, want the file's values", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "server_url: wss://from-file.example/ws\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	t.Setenv("HAPPY_SERVER_URL", "wss://from-env.example/ws")
	t.Setenv("ANTHROPIC_MODEL", "claude-opus")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "wss://from-env.example/ws" {
		t.Fatalf("ServerURL = %q, want the env override to win over the file", cfg.ServerURL)
	}
	if cfg.DefaultModel[model.FlavorClaude] != "claude-opus" {
		t.Fatalf("DefaultModel[claude] = %q, want claude-opus", cfg.DefaultModel[model.FlavorClaude])
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected Load to reject malformed YAML")
	}
}

func TestStateDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("HAPPY_HOME_DIR", "/tmp/custom-happy-home")
	dir, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if dir != "/tmp/custom-happy-home" {
		t.Fatalf("StateDir = %q, want the HAPPY_HOME_DIR override", dir)
	}
}

func TestDerivedPaths(t *testing.T) {
	c := &Config{Dir: "/state"}
	if c.LogsDir() != "/state/logs" {
		t.Fatalf("LogsDir = %q", c.LogsDir())
	}
	if c.DaemonStateFile() != "/state/daemon.json" {
		t.Fatalf("DaemonStateFile = %q", c.DaemonStateFile())
	}
	if c.CredentialsFile() != "/state/credentials" {
		t.Fatalf("CredentialsFile = %q", c.CredentialsFile())
	}
	if c.SessionsDir() != "/state/sessions" {
		t.Fatalf("SessionsDir = %q", c.SessionsDir())
	}
}
