package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dev.Port != DefaultPort {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, DefaultPort)
	}
	if cfg.Render.ScriptTimeoutMs != 1000 {
		t.Errorf("ScriptTimeoutMs = %d, want 1000", cfg.Render.ScriptTimeoutMs)
	}
	if !cfg.Reload.ParallelReloadsEnabled() {
		t.Error("ParallelReloads should default to true")
	}
}

func TestLoadSparseFileFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{"name":"demo","port":4000,"reload":{"maxRetryAttempts":5,"parallelReloads":false}}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "demo" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Dev.Port != 4000 {
		t.Errorf("Dev.Port = %d, want inherited 4000", cfg.Dev.Port)
	}
	if cfg.Reload.MaxRetryAttempts != 5 {
		t.Errorf("MaxRetryAttempts = %d, want 5", cfg.Reload.MaxRetryAttempts)
	}
	if cfg.Reload.ParallelReloadsEnabled() {
		t.Error("parallelReloads=false should stick")
	}
	if cfg.Reload.ReloadTimeoutMs != 5000 {
		t.Errorf("ReloadTimeoutMs = %d, want defaulted 5000", cfg.Reload.ReloadTimeoutMs)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("want error for invalid JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := New()
	cfg.Name = "roundtrip"
	path := filepath.Join(dir, ConfigFileName)
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name != "roundtrip" {
		t.Errorf("Name = %q", loaded.Name)
	}
	if loaded.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", loaded.Dir(), dir)
	}
}
