// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSuperUserCommand is the escalation helper used when the
// configuration selects none (or an unknown one).
const DefaultSuperUserCommand = "su"

// DefaultStubPath is where the stub helper is installed.
const DefaultStubPath = "/usr/libexec/kdesu_stub"

// Config selects the escalation helper and the stub helper path.
type Config struct {
	// SuperUserCommand is the escalation helper: su, sudo, or doas.
	SuperUserCommand string `yaml:"super_user_command"`

	// StubPath is the path of the stub helper exec'd as the target
	// user by the escalation helper.
	StubPath string `yaml:"stub_path"`

	// Command overrides resolution of the helper binary. Used by
	// tests to point at a scripted helper.
	Command string `yaml:"command"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		SuperUserCommand: DefaultSuperUserCommand,
		StubPath:         DefaultStubPath,
	}
}

// Path returns the configuration file location: $KDESU_CONFIG if set,
// else ~/.config/kdesu/config.yaml.
func Path() string {
	if p := os.Getenv("KDESU_CONFIG"); p != "" {
		return p
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "kdesu", "config.yaml")
}

// Load reads the configuration file at Path. A missing file is not an
// error; the defaults are returned. Unknown super_user_command values
// are preserved here — helper validation happens where a session is
// constructed, so that the fallback can be reported in context.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.SuperUserCommand == "" {
		cfg.SuperUserCommand = DefaultSuperUserCommand
	}
	if cfg.StubPath == "" {
		cfg.StubPath = DefaultStubPath
	}
	return cfg, nil
}

// KnownHelper reports whether name is an escalation helper this
// package knows how to drive.
func KnownHelper(name string) bool {
	switch name {
	case "su", "sudo", "doas":
		return true
	}
	return false
}
