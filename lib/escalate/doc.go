// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package escalate drives privilege-escalation helpers — su, sudo,
// doas, and ssh — over a pseudo-terminal.
//
// A session forks the helper with the stub helper as its command,
// detects the password prompt in the helper's output, feeds the
// password once the tty has stopped echoing, and then serves the stub
// conversation: a line-oriented request/response exchange through
// which the stub, already running as the target user, collects the
// display, authentication cookie, command, and environment before
// exec'ing the real program.
package escalate
