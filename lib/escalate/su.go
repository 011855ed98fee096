// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package escalate

import (
	"bytes"
	"log/slog"
	"os/user"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/kdesu/lib/config"
	"github.com/bureau-foundation/kdesu/lib/pty"
	"github.com/bureau-foundation/kdesu/lib/secret"
)

// SuSession executes a command as another user through a local
// escalation helper: su, sudo, or doas.
type SuSession struct {
	StubSession

	superUserCommand string
	cfg              *config.Config
}

// NewSuSession prepares a session for running command as user, with
// the helper selected by cfg. Unknown helper names fall back to the
// default.
func NewSuSession(user, command string, cfg *config.Config) *SuSession {
	if cfg == nil {
		cfg = config.Default()
	}
	helper := cfg.SuperUserCommand
	if !config.KnownHelper(helper) {
		slog.Warn("unknown super user command, using default",
			"configured", helper, "default", config.DefaultSuperUserCommand)
		helper = config.DefaultSuperUserCommand
	}

	s := &SuSession{
		StubSession:      newStubSession(),
		superUserCommand: helper,
		cfg:              cfg,
	}
	s.SetUser(user)
	s.SetCommand(command)
	return s
}

// SuperUserCommand returns the helper this session will drive.
func (s *SuSession) SuperUserCommand() string { return s.superUserCommand }

// isPrivilegeEscalation reports whether the helper authenticates with
// the caller's own password rather than the target user's.
func (s *SuSession) isPrivilegeEscalation() bool {
	return s.superUserCommand == "sudo" || s.superUserCommand == "doas"
}

// UseUsersOwnPassword reports whose password the helper will ask for:
// true when it is the caller's own.
func (s *SuSession) UseUsersOwnPassword() bool {
	if s.isPrivilegeEscalation() && s.User() == "root" {
		return true
	}
	current, err := user.Current()
	if err != nil {
		return false
	}
	return current.Username == s.User()
}

// CheckInstall authenticates and handshakes with the stub, then stops
// it without running the command. Used to validate a password.
func (s *SuSession) CheckInstall(password []byte) int {
	return s.Exec(password, Install)
}

// CheckNeedPassword probes whether the helper will prompt. Returns 0
// when no password is needed, 1 when one is, -1 on a failed
// conversation. A helper that cannot be started yields SuNotFound,
// which is also 1.
func (s *SuSession) CheckNeedPassword() int {
	return s.Exec(nil, NeedPassword)
}

// Exec runs the session: fork the helper, converse to the point of
// authentication, hand over to the stub conversation, then supervise
// the command. Returns the command's exit status, one of the Su
// result codes, or -1.
func (s *SuSession) Exec(password []byte, check CheckMode) int {
	if check != NoCheck {
		s.SetTerminal(true)
	}

	// The target user may have changed since construction; only su
	// can become an arbitrary non-root user.
	if s.User() != "root" {
		s.superUserCommand = "su"
	}

	args := s.helperArgs()

	command := s.cfg.Command
	if command == "" {
		command = s.superUserCommand
	}

	if s.isPrivilegeEscalation() {
		// sudo and doas run as root and drop our signals; liveness
		// probes via kill(pid, 0) would misreport them as gone.
		s.SetSignalImmune(true)
	}

	if err := s.Process.Exec(command, args); err != nil {
		if check != NoCheck {
			return SuNotFound
		}
		return -1
	}

	ret := s.converseSU(password)
	if ret == convError {
		if check == NoCheck {
			slog.Error("conversation with helper failed",
				"helper", s.superUserCommand)
		}
		return -1
	}

	if check == NeedPassword {
		if ret == convKillMe {
			if s.isPrivilegeEscalation() {
				// The helper runs as root; our SIGKILL would not
				// land. It exits on its own after the prompt times
				// out.
				return ret
			}
			if err := unix.Kill(s.Pid(), unix.SIGKILL); err != nil {
				return convError
			}
			if s.WaitForChild() < 0 {
				return convError
			}
		}
		return ret
	}

	if s.Erase() && password != nil {
		secret.Wipe(password)
	}

	if ret != convOK {
		unix.Kill(s.Pid(), unix.SIGKILL)
		if s.isPrivilegeEscalation() {
			s.WaitForChild()
		}
		return SuIncorrectPassword
	}

	iret := s.converseStub(check != NoCheck)
	if iret < 0 {
		if check == NoCheck {
			slog.Error("conversation with stub failed")
		}
		return iret
	}
	if iret == 1 {
		unix.Kill(s.Pid(), unix.SIGKILL)
		s.WaitForChild()
		return SuIncorrectPassword
	}

	if check == Install {
		s.WaitForChild()
		return 0
	}
	return s.WaitForChild()
}

// helperArgs assembles the helper argv tail: the target user, the
// stub path, and "-" marking the end of stub options.
func (s *SuSession) helperArgs() []string {
	var args []string
	if s.isPrivilegeEscalation() {
		args = append(args, "-u")
	}
	if s.scheduler != SchedulerNormal || s.priority > 50 {
		// Scheduler and priority boosts need root even when the
		// command itself targets another user.
		args = append(args, "root")
	} else {
		args = append(args, s.User())
	}
	if s.superUserCommand == "su" {
		args = append(args, "-c")
	}
	return append(args, s.cfg.StubPath, "-")
}

// converseSU drives the helper to the point where the stub takes
// over: find the password prompt, feed the password once echo is off,
// and verify the helper accepted it.
func (s *SuSession) converseSU(password []byte) int {
	const (
		waitForPrompt = iota
		checkStar
		handleStub
	)
	state := waitForPrompt

	for {
		line := s.ReadLine(true)

		// After the password was sent, a colon (the prompt
		// reappeared) or EOF ends the conversation: while waiting for
		// the stub it means the password was rejected; while checking
		// the echo it is a failed conversation. EOF before a prompt is
		// a failed conversation too.
		if (bytes.IndexByte(line, ':') >= 0 && state != waitForPrompt) || line == nil {
			if state == handleStub {
				return convNotAuthorized
			}
			return convError
		}

		if bytes.Equal(line, []byte(stubHeader)) {
			// Authentication was bypassed — cached credentials or a
			// passwordless rule. Hand the header back for the stub
			// conversation.
			s.UnreadLine(line, true)
			return convOK
		}

		switch state {
		case waitForPrompt:
			if pty.WaitMS(s.Fd(), 100) > 0 {
				// More output is already pending, so this line was
				// part of a banner, not a prompt — a prompt is a
				// line the process stops after.
				continue
			}
			if !isPasswordPrompt(line) {
				break
			}
			if password == nil {
				return convKillMe
			}
			if err := s.WaitSlave(); err != nil {
				return convError
			}
			s.WriteLine(password, true)
			if s.Erase() {
				secret.Wipe(password)
			}
			state = checkStar

		case checkStar:
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) == 0 {
				state = handleStub
				break
			}
			// Some helpers echo the password as asterisks.
			if bytes.IndexFunc(trimmed, func(r rune) bool { return r != '*' }) >= 0 {
				return convError
			}
			state = handleStub

		case handleStub:
			// Discard output until the stub header shows up.
		}
	}
}
