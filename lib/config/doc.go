// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the kdesu configuration.
//
// Configuration is a single YAML file located by the KDESU_CONFIG
// environment variable, falling back to ~/.config/kdesu/config.yaml.
// There are no search paths or automatic discovery; a missing file
// yields the compiled-in defaults. This keeps the escalation helper
// selection deterministic and auditable.
package config
