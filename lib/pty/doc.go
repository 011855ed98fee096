// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pty provides synchronous conversation with terminal
// programs over a pseudo-terminal.
//
// A Process owns a pty pair and a child attached to the slave side as
// its controlling tty. The parent side exposes blocking and
// non-blocking line I/O with pushback, echo control on the slave, and
// child supervision: bounded waits, exit-status polling, and an exit
// string that terminates the child when it appears at the start of an
// output line.
//
// The channel is a pty rather than a pipe so that programs which
// insist on a terminal — su, sudo, doas, ssh — work unmodified.
package pty
