// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package escalate

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/bureau-foundation/kdesu/lib/pty"
)

// stubHeader is the line the stub prints when it is ready to talk.
const stubHeader = "kdesu_stub"

// StubSession is the shared half of every escalation session: the
// conversation with the stub helper once the escalation helper has
// authenticated and exec'd it as the target user.
type StubSession struct {
	*pty.Process

	user          string
	command       []byte
	priority      int
	scheduler     int
	xOnly         bool
	remoteDisplay bool
	cookie        *Cookie
}

// newStubSession returns a stub session with the defaults the stub
// protocol assumes: target root, priority 50, normal scheduler.
func newStubSession() StubSession {
	return StubSession{
		Process:   pty.New(),
		user:      "root",
		priority:  50,
		scheduler: SchedulerNormal,
		xOnly:     true,
		cookie:    NewCookie(),
	}
}

// SetCommand sets the command line the stub will execute.
func (s *StubSession) SetCommand(command string) { s.command = []byte(command) }

// SetUser sets the target user.
func (s *StubSession) SetUser(user string) { s.user = user }

// User returns the target user.
func (s *StubSession) User() string { return s.user }

// SetPriority sets the stub's process priority, clamped to 0..100.
func (s *StubSession) SetPriority(priority int) {
	if priority > 100 {
		priority = 100
	} else if priority < 0 {
		priority = 0
	}
	s.priority = priority
}

// SetScheduler selects SchedulerNormal or SchedulerRealtime.
func (s *StubSession) SetScheduler(scheduler int) { s.scheduler = scheduler }

// SetXOnly controls the stub's xwindows_only reply.
func (s *StubSession) SetXOnly(xOnly bool) { s.xOnly = xOnly }

// display is what the stub gets for its "display" request. Remote
// sessions answer "no": ssh forwards X itself.
func (s *StubSession) display() string {
	if s.remoteDisplay {
		return "no"
	}
	return s.cookie.Display()
}

// displayAuth is what the stub gets for its "display_auth" request.
func (s *StubSession) displayAuth() string {
	if s.remoteDisplay {
		return "no"
	}
	return s.cookie.DisplayAuth()
}

// converseStub serves the stub's request loop. This is how the
// authentication tokens, command, and environment reach the stub
// process on the far side of the helper.
//
// Returns -1 on a broken conversation, 0 when the stub said "end",
// and 1 ("kill me") when the stub asked something we do not answer —
// the caller must terminate the child.
func (s *StubSession) converseStub(stop bool) int {
	// Eat output until the header arrives.
	for {
		line := s.ReadLine(true)
		if line == nil {
			return -1
		}
		if bytes.Equal(line, []byte(stubHeader)) {
			// No echo from here on; makes parsing the exchange
			// deterministic.
			s.EnableLocalEcho(false)
			if stop {
				s.WriteLine([]byte("stop"), true)
			} else {
				s.WriteLine([]byte("ok"), true)
			}
			break
		}
	}

	for {
		line := s.ReadLine(true)
		if line == nil {
			return -1
		}

		switch string(line) {
		case "display":
			s.WriteLine([]byte(s.display()), true)
		case "display_auth":
			s.WriteLine([]byte(s.displayAuth()), true)
		case "command":
			s.writeString(s.command)
		case "path":
			path := os.Getenv("PATH")
			path = strings.TrimPrefix(path, ":")
			if s.user == "root" {
				if path != "" {
					path = "/sbin:/bin:/usr/sbin:/usr/bin:" + path
				} else {
					path = "/sbin:/bin:/usr/sbin:/usr/bin"
				}
			}
			s.WriteLine([]byte(path), true)
		case "user":
			s.WriteLine([]byte(s.user), true)
		case "priority":
			s.WriteLine([]byte(strconv.Itoa(s.priority)), true)
		case "scheduler":
			if s.scheduler == SchedulerRealtime {
				s.WriteLine([]byte("realtime"), true)
			} else {
				s.WriteLine([]byte("normal"), true)
			}
		case "xwindows_only":
			if s.xOnly {
				s.WriteLine([]byte("no"), true)
			} else {
				s.WriteLine([]byte("yes"), true)
			}
		case "app_startup_id":
			id := "0"
			for _, entry := range s.Environment() {
				if value, ok := strings.CutPrefix(entry, "DESKTOP_STARTUP_ID="); ok {
					id = value
				}
			}
			s.WriteLine([]byte(id), true)
		case "app_start_pid":
			// Obsolete, still honored.
			s.WriteLine([]byte(strconv.Itoa(os.Getpid())), true)
		case "environment":
			for _, entry := range s.Environment() {
				s.writeString([]byte(entry))
			}
			s.WriteLine(nil, true)
		case "end":
			return 0
		default:
			return 1
		}
	}
}

// writeString sends str to the stub in the stub quoting convention:
// control bytes become '\' followed by the byte plus '@', and a
// backslash becomes "\/". Distinct from the daemon wire escaping.
func (s *StubSession) writeString(str []byte) {
	s.WriteLine(quoteStub(str), true)
}

func quoteStub(str []byte) []byte {
	out := make([]byte, 0, len(str)+8)
	for _, c := range str {
		switch {
		case c < 32:
			out = append(out, '\\', c+'@')
		case c == '\\':
			out = append(out, '\\', '/')
		default:
			out = append(out, c)
		}
	}
	return out
}
