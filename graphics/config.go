// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/config.go
// Summary: Loads the four cache budgets from the host's "kittycore" app config.

package graphics

import (
	"time"

	"github.com/framegrace/texelation/config"
)

// LoadBudgets reads the "kittycore.budgets" section of the given config,
// falling back to DefaultBudgets() for any key left unset. cfg is normally
// config.App("kittycore"), which seeds the section with these same
// defaults on first load via the store's load-or-seed lifecycle.
func LoadBudgets(cfg config.Config) Budgets {
	def := DefaultBudgets()
	if cfg == nil {
		return def
	}
	const section = "kittycore.budgets"
	b := Budgets{
		MaxImages:              cfg.GetInt(section, "max_images", def.MaxImages),
		MaxPlacements:          cfg.GetInt(section, "max_placements", def.MaxPlacements),
		MaxDiskBytes:           int64(cfg.GetFloat(section, "max_disk_bytes", float64(def.MaxDiskBytes))),
		MaxRAMBytes:            int64(cfg.GetFloat(section, "max_ram_bytes", float64(def.MaxRAMBytes))),
		ExcessToleranceRatio:   cfg.GetFloat(section, "excess_tolerance_ratio", def.ExcessToleranceRatio),
		MaxSingleImageFileSize: int64(cfg.GetFloat(section, "max_single_image_file_size", float64(def.MaxSingleImageFileSize))),
		MaxSingleImageRAMSize:  int64(cfg.GetFloat(section, "max_single_image_ram_size", float64(def.MaxSingleImageRAMSize))),
		AnimationMinDelay:      time.Duration(cfg.GetInt(section, "animation_min_delay_ms", int(def.AnimationMinDelay/time.Millisecond))) * time.Millisecond,
	}
	return b
}
