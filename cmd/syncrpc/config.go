// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML script config accepted by the call command.
type fileConfig struct {
	Exe       string            `toml:"exe"`
	Args      []string          `toml:"args"`
	Callbacks map[string]string `toml:"callbacks"`
}

// loadConfig reads the config at path. An empty path yields an empty
// config without error.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
