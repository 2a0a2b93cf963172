// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// defaultConfigPath is resolved relative to the user home directory.
const defaultConfigPath = ".featurescope/featurescope.yaml"

// Config is the featurescope server configuration, loaded from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the listen port.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// RateLimitRPS caps requests per second. Zero disables limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"min=0"`
}

// StoreConfig configures row persistence.
type StoreConfig struct {
	// Path is the Badger database directory. Supports a leading "~".
	Path string `yaml:"path"`

	// InMemory keeps rows in process memory only. Useful for tests
	// and one-shot runs; Path is ignored when set.
	InMemory bool `yaml:"in_memory"`
}

// EngineConfig configures batch classification.
type EngineConfig struct {
	// Workers caps the classification worker pool. Zero means
	// min(NumCPU, 8).
	Workers int `yaml:"workers" validate:"min=0"`

	// CacheCapacity bounds the result cache entry count. Zero means
	// the engine default.
	CacheCapacity int `yaml:"cache_capacity" validate:"min=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// Dir enables JSON file logging when non-empty.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			RateLimitRPS: 0,
		},
		Store: StoreConfig{
			Path: "~/.featurescope/data",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads and validates the configuration file at path. An
// empty path falls back to ~/.featurescope/featurescope.yaml; a
// missing fallback file yields DefaultConfig without error, but an
// explicitly given path must exist.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = filepath.Join(home, defaultConfigPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}
