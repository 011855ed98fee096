// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// kdesu runs a command as another user (root by default) from the
// command line.
//
// With password keeping enabled (the default) the command goes
// through the kdesud daemon, which caches the password in its process
// memory so repeated elevations within the timeout window do not
// prompt again; the daemon is spawned on demand. With --no-keep, or
// when a remote host is given, the escalation session runs directly
// in this process.
package main
