// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/defaults.go
// Summary: Default values for system and app configuration files.

package config

func applySystemDefaults(cfg Config) {
	if cfg == nil {
		return
	}
	cfg.RegisterDefaults("", Section{
		"defaultApp": "kittycore",
	})
}

func applyAppDefaults(app string, cfg Config) {
	if cfg == nil {
		return
	}
	switch app {
	case "kittycore":
		cfg.RegisterDefaults("kittycore.budgets", Section{
			"max_images":                 200,
			"max_placements":             400,
			"max_disk_bytes":             320 << 20,
			"max_ram_bytes":              320 << 20,
			"excess_tolerance_ratio":     0.05,
			"max_single_image_file_size": 400 << 20,
			"max_single_image_ram_size":  400 << 20 * 4,
			"animation_min_delay_ms":     1,
		})
	}
}
