package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// waitReload pulls one reloaded config off ch or fails the test.
func waitReload(t *testing.T, ch <-chan *ServerConfig) *ServerConfig {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
		return nil
	}
}

func TestWatch_ReloadOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "server.yaml")

	cfg := validServerConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan *ServerConfig, 4)

	done, err := Watch(ctx, configPath, func(c *ServerConfig) {
		reloads <- c
	})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer func() {
		cancel()
		<-done
	}()

	// Rewrite with a changed allowlist
	cfg.Security.AllowedClientIDs = []string{"client-007"}
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := waitReload(t, reloads)
	if len(got.Security.AllowedClientIDs) != 1 || got.Security.AllowedClientIDs[0] != "client-007" {
		t.Fatalf("expected reloaded allowlist [client-007], got %v", got.Security.AllowedClientIDs)
	}
}

func TestWatch_InvalidReloadSkipped(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "server.yaml")

	cfg := validServerConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan *ServerConfig, 4)

	done, err := Watch(ctx, configPath, func(c *ServerConfig) {
		reloads <- c
	})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer func() {
		cancel()
		<-done
	}()

	// Break the file; the callback must not fire for it
	if err := os.WriteFile(configPath, []byte("{{{{invalid yaml"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloads:
		t.Fatalf("unexpected reload from invalid config: %+v", got)
	case <-time.After(time.Second):
	}

	// A later valid write still comes through, proving the watcher survived
	cfg.Limits.MaxConns = 9
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := waitReload(t, reloads)
	if got.Limits.MaxConns != 9 {
		t.Fatalf("expected max_conns 9 after recovery, got %d", got.Limits.MaxConns)
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "server.yaml")

	cfg := validServerConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done, err := Watch(ctx, configPath, func(c *ServerConfig) {})
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := Watch(ctx, "/nonexistent/dir/server.yaml", func(c *ServerConfig) {}); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}
