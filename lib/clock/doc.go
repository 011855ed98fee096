// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance it deterministically.
// The credential repository depends on it so that expiry tests do not
// sleep.
package clock
