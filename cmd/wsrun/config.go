// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional ambient service config read from
// <workspace_root>/wsrun.yaml. It supplies defaults that CLI flags
// always override; a missing file is not an error.
type fileConfig struct {
	Tsconfig string `yaml:"tsconfig"`
	Verbose  bool   `yaml:"verbose"`
}

// loadFileConfig reads wsrun.yaml from workspaceRoot, if present.
func loadFileConfig(workspaceRoot string) (fileConfig, error) {
	path := filepath.Join(workspaceRoot, "wsrun.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}
		return fileConfig{}, err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}
