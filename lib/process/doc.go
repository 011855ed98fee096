// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers shared by the
// kdesu binaries. These centralize the raw stderr reporting that is
// legitimate before the structured logger exists and the process exit
// after an unrecoverable error in main().
package process
