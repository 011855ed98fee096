// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// kdesud is the per-user credential-caching daemon behind kdesu.
//
// It listens on $XDG_RUNTIME_DIR/kdesud_<display>, accepts a
// line-based text protocol, keeps passwords in process memory with
// per-entry expiry (zeroed when an entry is removed or expires; the
// entries are ordinary heap memory, not locked against swapping), and
// executes commands on behalf of clients by
// driving the escalation machinery itself — so repeated elevations
// within the timeout window do not prompt again. A secondary
// key/value store with group tagging rides on the same repository.
//
// The process makes itself untraceable, disables core dumps, and
// refuses connections from any uid but its own.
package main
