package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, "start_date: 2024-01-01\n"))
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.DataDir != "data" || cfg.BackupDir != "backups" {
			t.Errorf("dir defaults: %+v", cfg)
		}
		if cfg.Prediction.Neighbors != defaultNeighbors {
			t.Errorf("neighbors = %d, want %d", cfg.Prediction.Neighbors, defaultNeighbors)
		}
		if got := cfg.startDate().Format(dayStamp); got != "2024-01-01" {
			t.Errorf("startDate = %v", got)
		}
	})

	t.Run("badStartDate", func(t *testing.T) {
		if _, err := loadConfig(writeConfig(t, "start_date: January 1st\n")); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("enabledAccounts", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, `
accounts:
  alice:
    access_token: tok-a
    enabled: true
    balances: true
  bob:
    access_token: tok-b
    enabled: false
  carol:
    access_token: tok-c
    enabled: true
`))
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		names := cfg.enabledAccounts()
		sort.Strings(names)
		if len(names) != 2 || names[0] != "alice" || names[1] != "carol" {
			t.Errorf("enabled = %v", names)
		}
	})

	t.Run("missingFile", func(t *testing.T) {
		if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected an error")
		}
	})
}
