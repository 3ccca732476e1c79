// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vigil/config.yaml",
	"/etc/vigil/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "VIGIL_CONFIG_PATH"

// envPrefix is the prefix for environment variable overrides.
// VIGIL_CAPTURE_QUEUE_CAPACITY -> capture.queue_capacity
const envPrefix = "VIGIL_"

// Load resolves the configuration in three layers: struct defaults, then an
// optional YAML config file, then VIGIL_* environment variables. The result
// is validated before it is returned; invalid configuration fails startup
// with the full error list.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or empty
// string if none exists.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf paths.
// VIGIL_ALERTING_SLACK_WEBHOOK_URL -> alerting.slack.webhook_url
//
// Because section names never contain underscores but leaf keys do, the
// transform tries known section prefixes first and keeps the remainder as
// one key.
func envTransformFunc(name string) string {
	name = strings.TrimPrefix(name, envPrefix)
	name = strings.ToLower(name)

	sections := [][]string{
		{"alerting", "email"},
		{"alerting", "slack"},
		{"alerting", "webhook"},
		{"alerting", "recipients"},
		{"alerting"},
		{"logging"},
		{"capture"},
		{"detection"},
		{"fastpath"},
		{"history"},
		{"cache"},
		{"ops"},
	}

	for _, section := range sections {
		prefix := strings.Join(section, "_") + "_"
		if strings.HasPrefix(name, prefix) {
			return strings.Join(section, ".") + "." + strings.TrimPrefix(name, prefix)
		}
	}

	// Unknown prefix: not one of ours, drop it.
	return ""
}
