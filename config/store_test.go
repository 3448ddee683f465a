// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func resetStore() {
	once = sync.Once{}
	system = nil
	apps = nil
	loadErr = nil
}

func TestSystemDefaultsWritten(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetStore()

	cfg := System()
	if cfg.GetString("", "defaultApp", "") == "" {
		t.Fatalf("expected defaultApp to be set")
	}

	path, err := systemConfigPath()
	if err != nil {
		t.Fatalf("systemConfigPath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read system config: %v", err)
	}

	var disk Config
	if err := json.Unmarshal(data, &disk); err != nil {
		t.Fatalf("unmarshal system config: %v", err)
	}
	if disk.GetString("", "defaultApp", "") != "kittycore" {
		t.Fatalf("expected defaultApp to default to kittycore, got %q", disk.GetString("", "defaultApp", ""))
	}
}

func TestSaveSystemWritesUpdates(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetStore()

	cfg := Config{
		"defaultApp": "kittycore",
	}
	SetSystem(cfg)
	if err := SaveSystem(); err != nil {
		t.Fatalf("SaveSystem: %v", err)
	}

	path, err := systemConfigPath()
	if err != nil {
		t.Fatalf("systemConfigPath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read system config: %v", err)
	}

	var disk Config
	if err := json.Unmarshal(data, &disk); err != nil {
		t.Fatalf("unmarshal system config: %v", err)
	}
	if got := disk.GetString("", "defaultApp", ""); got != "kittycore" {
		t.Fatalf("expected defaultApp to be kittycore, got %q", got)
	}
}

func TestAppDefaultsWritten(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetStore()

	cfg := App("kittycore")
	if cfg.Section("kittycore.budgets") == nil {
		t.Fatalf("expected kittycore.budgets section to be present")
	}

	path, err := appConfigPath("kittycore")
	if err != nil {
		t.Fatalf("appConfigPath: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected app config to be written: %v", err)
	}
}

func TestSaveAppWritesUpdates(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetStore()

	cfg := Config{
		"kittycore.budgets": map[string]interface{}{
			"max_images": 7,
		},
	}
	SetApp("kittycore", cfg)
	if err := SaveApp("kittycore"); err != nil {
		t.Fatalf("SaveApp: %v", err)
	}

	path, err := appConfigPath("kittycore")
	if err != nil {
		t.Fatalf("appConfigPath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read app config: %v", err)
	}

	var disk Config
	if err := json.Unmarshal(data, &disk); err != nil {
		t.Fatalf("unmarshal app config: %v", err)
	}
	section := disk.Section("kittycore.budgets")
	if section == nil {
		t.Fatalf("expected kittycore.budgets section")
	}
	if got, _ := section["max_images"].(float64); got != 7 {
		t.Fatalf("expected max_images 7, got %v", section["max_images"])
	}
}

func TestSystemMigrationFromLegacy(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", root)
	resetStore()

	cfgRoot := filepath.Join(root, "texelation")
	if err := os.MkdirAll(cfgRoot, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := writeConfig(filepath.Join(cfgRoot, "config.json"), Config{
		"defaultApp": "kittycore-legacy-name",
	}); err != nil {
		t.Fatalf("write legacy config: %v", err)
	}

	cfg := System()
	if got := cfg.GetString("", "defaultApp", ""); got != "kittycore-legacy-name" {
		t.Fatalf("expected defaultApp migration, got %q", got)
	}
}

func TestAppMigrationFromLegacyIsNoOp(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", root)
	resetStore()

	cfg := App("kittycore")
	if cfg.Section("kittycore.budgets") == nil {
		t.Fatalf("expected kittycore.budgets section from defaults")
	}
}
