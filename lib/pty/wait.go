// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pty

import (
	"bytes"
	"os"

	"golang.org/x/sys/unix"
)

// Exit-status values returned by CheckPidExited alongside real child
// exit codes.
const (
	// StatusError means waitpid failed (no such child).
	StatusError = -1
	// StatusNotExited means the child is still running.
	StatusNotExited = -2
	// StatusKilled means the child was terminated by a signal.
	StatusKilled = -3
)

// WaitMS waits up to ms milliseconds (0 <= ms < 1000) for fd to become
// readable. Returns select(2)'s result: -1 on error, 0 on timeout,
// positive when data is available.
func WaitMS(fd int, ms int) int {
	tv := unix.NsecToTimeval(int64(ms) * 1e6)
	var fds unix.FdSet
	fds.Set(fd)
	n, err := unix.Select(fd+1, &fds, nil, nil, &tv)
	if err != nil {
		return -1
	}
	return n
}

// CheckPid reports whether pid is an extant process that we may
// signal.
func CheckPid(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// CheckPidExited polls the exit state of pid without blocking. It
// returns the child's exit status (which may be zero), StatusKilled if
// it was terminated by a signal, StatusNotExited if it is still
// running, or StatusError if there is no such child.
func CheckPidExited(pid int) int {
	status, _ := waitNoHang(pid)
	return status
}

func waitNoHang(pid int) (int, error) {
	var ws unix.WaitStatus
	ret, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		return StatusError, err
	}
	if ret == pid {
		if ws.Exited() {
			return ws.ExitStatus(), nil
		}
		return StatusKilled, nil
	}
	return StatusNotExited, nil
}

// WaitForChild relays output until the child exits. Output is copied
// to the parent's stdout when the terminal flag is set, and scanned
// for the exit string: a line starting with it sends the child
// SIGTERM. Waiting for EOF on the pty alone would not work — the
// child may leave grandchildren attached to the terminal — so the
// child's exit state is polled each iteration.
//
// Returns the child's exit status; 0 if it was killed or already
// reaped elsewhere; -1 on a hard select or wait error.
func (p *Process) WaitForChild() int {
	fd := int(p.master.Fd())
	scanner := exitScanner{exit: p.exitString}

	for {
		// A bounded select keeps the exit poll running even if the
		// child goes silent without exiting. Timing out early just
		// means another iteration.
		tv := unix.NsecToTimeval(100 * 1e6)
		var fds unix.FdSet
		fds.Set(fd)
		n, err := unix.Select(fd+1, &fds, nil, nil, &tv)
		if err != nil {
			if err != unix.EINTR {
				return -1
			}
			n = 0
		}

		if n > 0 {
			for {
				output := p.ReadAll(false)
				if len(output) == 0 {
					break
				}
				if p.terminal {
					os.Stdout.Write(output)
				}
				if len(p.exitString) > 0 && scanner.feed(output) {
					unix.Kill(p.pid, unix.SIGTERM)
				}
			}
		}

		status, waitErr := waitNoHang(p.pid)
		switch status {
		case StatusError:
			if waitErr == unix.ECHILD {
				return 0
			}
			return -1
		case StatusKilled:
			return 0
		case StatusNotExited:
			continue
		default:
			return status
		}
	}
}

// exitScanner matches the exit string against line starts across
// arbitrarily chunked output.
type exitScanner struct {
	exit      []byte
	remainder []byte
}

// feed appends output and reports whether any line start matched.
func (s *exitScanner) feed(output []byte) bool {
	matched := false
	s.remainder = append(s.remainder, output...)
	for len(s.remainder) >= len(s.exit) {
		if bytes.HasPrefix(s.remainder, s.exit) {
			matched = true
			s.remainder = s.remainder[len(s.exit):]
		}
		off := bytes.IndexByte(s.remainder, '\n')
		if off < 0 {
			break
		}
		s.remainder = s.remainder[off+1:]
	}
	return matched
}
