// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/config_test.go
// Summary: Exercises LoadBudgets against seeded and partially-overridden config sections.

package graphics

import (
	"testing"
	"time"

	"github.com/framegrace/texelation/config"
)

func TestLoadBudgetsFallsBackToDefaultsOnNilConfig(t *testing.T) {
	got := LoadBudgets(nil)
	want := DefaultBudgets()
	if got != want {
		t.Fatalf("LoadBudgets(nil) = %+v, want %+v", got, want)
	}
}

func TestLoadBudgetsReadsOverriddenSection(t *testing.T) {
	cfg := config.Config{
		"kittycore.budgets": config.Section{
			"max_images":                 50,
			"max_placements":             100,
			"max_disk_bytes":             float64(10 << 20),
			"max_ram_bytes":              float64(20 << 20),
			"excess_tolerance_ratio":     0.1,
			"max_single_image_file_size": float64(5 << 20),
			"max_single_image_ram_size":  float64(30 << 20),
			"animation_min_delay_ms":     5,
		},
	}

	got := LoadBudgets(cfg)
	if got.MaxImages != 50 || got.MaxPlacements != 100 {
		t.Fatalf("unexpected count budgets: %+v", got)
	}
	if got.MaxDiskBytes != 10<<20 || got.MaxRAMBytes != 20<<20 {
		t.Fatalf("unexpected byte budgets: %+v", got)
	}
	if got.ExcessToleranceRatio != 0.1 {
		t.Fatalf("unexpected tolerance: %v", got.ExcessToleranceRatio)
	}
	if got.AnimationMinDelay != 5*time.Millisecond {
		t.Fatalf("unexpected animation delay: %v", got.AnimationMinDelay)
	}
}

func TestLoadBudgetsFillsUnsetKeysFromDefaults(t *testing.T) {
	def := DefaultBudgets()
	cfg := config.Config{
		"kittycore.budgets": config.Section{
			"max_images": 7,
		},
	}

	got := LoadBudgets(cfg)
	if got.MaxImages != 7 {
		t.Fatalf("expected overridden max_images=7, got %d", got.MaxImages)
	}
	if got.MaxPlacements != def.MaxPlacements {
		t.Fatalf("expected default max_placements, got %d", got.MaxPlacements)
	}
	if got.MaxRAMBytes != def.MaxRAMBytes {
		t.Fatalf("expected default max_ram_bytes, got %d", got.MaxRAMBytes)
	}
}
