// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import "runtime"

// Wipe overwrites b with zeros. The function is kept out of line so
// the stores cannot be proven dead at the call site and eliminated;
// the KeepAlive fence pins the backing array until the stores have
// happened.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
