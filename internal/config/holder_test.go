package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "evermind.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHolderReloadUpdates(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
server:
  port: "8080"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHolder(cfg, path)

	if got := h.Get().Server.Port; got != "8080" {
		t.Fatalf("expected port 8080, got %s", got)
	}

	writeConfigFile(t, dir, `
server:
  port: "9090"
logging:
  level: "debug"
`)

	if err := h.Reload(); err != nil {
		t.Fatal(err)
	}

	if got := h.Get().Server.Port; got != "9090" {
		t.Errorf("expected port 9090 after reload, got %s", got)
	}
	if got := h.Get().Logging.Level; got != "debug" {
		t.Errorf("expected log level debug after reload, got %s", got)
	}
}

func TestHolderReloadKeepsOldOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
server:
  port: "8080"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHolder(cfg, path)

	// Invalid: validation rejects zero max_conns.
	writeConfigFile(t, dir, `
postgres:
  max_conns: 0
`)

	if err := h.Reload(); err == nil {
		t.Fatal("expected reload error for invalid config, got nil")
	}

	if got := h.Get().Server.Port; got != "8080" {
		t.Errorf("expected previous config preserved, got port %s", got)
	}
	if got := h.Get().Postgres.MaxConns; got != 15 {
		t.Errorf("expected previous max_conns 15, got %d", got)
	}
}

func TestHolderReloadPicksUpEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
server:
  port: "8080"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHolder(cfg, path)

	t.Setenv("EVERMIND_LOG_LEVEL", "warn")

	if err := h.Reload(); err != nil {
		t.Fatal(err)
	}

	if got := h.Get().Logging.Level; got != "warn" {
		t.Errorf("expected log level warn from env after reload, got %s", got)
	}
}
