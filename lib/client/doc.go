// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client talks to the kdesud credential-caching daemon over
// its per-user unix-domain socket.
//
// The wire protocol is line-based: a keyword, escaped string
// arguments, and a newline; the daemon answers "OK [value]" or "NO".
// The client verifies socket ownership before trusting the daemon on
// the other end, and can spawn the daemon when it is not running.
package client
