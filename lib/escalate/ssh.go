// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package escalate

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/kdesu/lib/secret"
)

// sshExitString appears in ssh's output when the remote command has
// finished and only forwarded channels keep the connection up.
const sshExitString = "Waiting for forwarded connections to terminate"

// SshSession executes a command on a remote machine through ssh. The
// stub must be installed on the remote side; CheckInstall verifies
// that.
type SshSession struct {
	StubSession

	host    string
	stub    string
	prompt  []byte
	errText []byte
}

// NewSshSession prepares a session running command as user on host.
func NewSshSession(host, user, command string) *SshSession {
	s := &SshSession{
		StubSession: newStubSession(),
		host:        host,
		stub:        stubHeader,
	}
	// X traffic rides the ssh connection; the stub must not touch
	// the local display.
	s.remoteDisplay = true
	s.SetUser(user)
	s.SetCommand(command)
	return s
}

// SetHost changes the target host.
func (s *SshSession) SetHost(host string) { s.host = host }

// SetStub overrides the remote stub path.
func (s *SshSession) SetStub(stub string) { s.stub = stub }

// Prompt returns the password prompt captured by a NeedPassword
// probe.
func (s *SshSession) Prompt() []byte { return s.prompt }

// ErrorText returns the non-prompt output ssh produced before the
// stub took over — host key warnings, connection errors.
func (s *SshSession) ErrorText() []byte { return s.errText }

// CheckInstall authenticates and verifies the remote stub responds,
// without running the command.
func (s *SshSession) CheckInstall(password []byte) int {
	return s.Exec(password, Install)
}

// CheckNeedPassword probes whether ssh will ask for a password.
// Returns 0 when it will not, SshNeedsPassword when it will, -1 on a
// failed conversation, and SshNotFound when ssh cannot be started.
func (s *SshSession) CheckNeedPassword() int {
	return s.Exec(nil, NeedPassword)
}

// Exec runs the session. Returns the remote command's exit status,
// one of the Ssh result codes, or -1.
func (s *SshSession) Exec(password []byte, check CheckMode) int {
	if check != NoCheck {
		s.SetTerminal(true)
	}

	args := []string{
		"-l", s.User(),
		"-o", "StrictHostKeyChecking=no",
		s.host,
		s.stub,
	}
	if err := s.Process.Exec("ssh", args); err != nil {
		if check != NoCheck {
			return SshNotFound
		}
		return -1
	}

	ret := s.converseSsh(password, check)
	if ret < 0 {
		if check == NoCheck {
			slog.Error("conversation with ssh failed", "host", s.host)
		}
		return ret
	}
	if check == NeedPassword {
		return ret
	}

	if s.Erase() && password != nil {
		secret.Wipe(password)
	}

	iret := s.converseStub(check != NoCheck)
	if iret < 0 {
		if check == NoCheck {
			slog.Error("conversation with stub failed", "host", s.host)
		}
		return iret
	}
	if iret == 1 {
		unix.Kill(s.Pid(), unix.SIGTERM)
		s.WaitForChild()
		return SshIncorrectPassword
	}

	if check == Install {
		s.WaitForChild()
		return 0
	}

	// Once the remote command is done, only forwarded connections
	// keep ssh alive; shut the session down at that point.
	s.SetExitString(sshExitString)
	return s.WaitForChild()
}

// converseSsh waits for either a password prompt or the stub header.
// In NeedPassword mode a prompt is captured and reported without
// writing anything. Non-prompt lines accumulate as error text, echoed
// to stderr when the terminal flag is set.
func (s *SshSession) converseSsh(password []byte, check CheckMode) int {
	state := 0
	for state < 2 {
		line := s.ReadLine(true)
		if line == nil {
			return -1
		}

		switch state {
		case 0:
			if bytes.Equal(line, []byte(stubHeader)) {
				s.UnreadLine(line, true)
				return 0
			}

			if isPasswordPrompt(line) {
				if check == NeedPassword {
					s.prompt = append([]byte(nil), line...)
					return SshNeedsPassword
				}
				if err := s.WaitSlave(); err != nil {
					return -1
				}
				s.WriteLine(password, true)
				if s.Erase() {
					secret.Wipe(password)
				}
				state++
				break
			}

			// Warning or error message.
			s.errText = append(s.errText, line...)
			s.errText = append(s.errText, '\n')
			if s.Terminal() {
				fmt.Fprintf(os.Stderr, "ssh: %s\n", line)
			}

		case 1:
			if len(line) == 0 {
				state++
				break
			}
			return -1
		}
	}
	return 0
}
