// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile on missing file: %v", err)
	}
	if cfg.SuperUserCommand != "su" {
		t.Errorf("SuperUserCommand = %q, want su", cfg.SuperUserCommand)
	}
	if cfg.StubPath != DefaultStubPath {
		t.Errorf("StubPath = %q, want %q", cfg.StubPath, DefaultStubPath)
	}
}

func TestLoadFile_Values(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "super_user_command: sudo\nstub_path: /tmp/stub\ncommand: /tmp/fakesudo\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SuperUserCommand != "sudo" {
		t.Errorf("SuperUserCommand = %q", cfg.SuperUserCommand)
	}
	if cfg.StubPath != "/tmp/stub" {
		t.Errorf("StubPath = %q", cfg.StubPath)
	}
	if cfg.Command != "/tmp/fakesudo" {
		t.Errorf("Command = %q", cfg.Command)
	}
}

func TestLoadFile_PartialFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("command: /bin/true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SuperUserCommand != "su" {
		t.Errorf("SuperUserCommand = %q, want default su", cfg.SuperUserCommand)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n\t-"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestKnownHelper(t *testing.T) {
	for _, name := range []string{"su", "sudo", "doas"} {
		if !KnownHelper(name) {
			t.Errorf("KnownHelper(%q) = false", name)
		}
	}
	for _, name := range []string{"", "ssh", "pkexec"} {
		if KnownHelper(name) {
			t.Errorf("KnownHelper(%q) = true", name)
		}
	}
}
