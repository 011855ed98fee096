// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by tests: bounded
// channel receives so a broken daemon cannot hang the suite.
package testutil
