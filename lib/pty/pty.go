// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/kdesu/lib/clock"
)

// Process drives a child program attached to a pseudo-terminal.
//
// The zero value is usable; Exec allocates the pty pair and starts the
// child. Line reads that find no newline return whatever arrived —
// callers rely on receiving the partial segment rather than blocking
// for a second read.
type Process struct {
	master *os.File
	slave  *os.File
	pid    int

	inputBuffer []byte
	env         []string
	exitString  []byte

	terminal     bool
	erase        bool
	signalImmune bool

	clk clock.Clock
}

// New returns a Process using the real clock.
func New() *Process {
	return &Process{clk: clock.Real()}
}

// NewWithClock returns a Process with an injected clock, which paces
// the echo-poll loop in WaitSlave; a fake clock makes it
// deterministic.
func NewWithClock(clk clock.Clock) *Process {
	return &Process{clk: clk}
}

// Init allocates the pty pair. Exec calls it implicitly; a separate
// call is only needed to obtain the master fd before the child runs.
func (p *Process) Init() error {
	if p.clk == nil {
		p.clk = clock.Real()
	}
	p.closePair()
	master, slave, err := creackpty.Open()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	p.master = master
	p.slave = slave
	p.inputBuffer = nil
	return nil
}

// Exec starts command with args on the pty. A command containing no
// slash is resolved via PATH. The child becomes session leader with
// the pty slave as its controlling tty and stdin/stdout/stderr; output
// post-processing is disabled on the tty so newlines pass through
// unmodified. The child's environment is the parent's plus the
// configured delta, with the session-manager variables removed and
// LC_ALL pinned to C (the previous value is preserved in KDESU_LC_ALL)
// so that helper prompts are parseable.
func (p *Process) Exec(command string, args []string) error {
	if err := p.Init(); err != nil {
		return err
	}

	path := command
	if !strings.Contains(command, "/") {
		resolved, err := exec.LookPath(command)
		if err != nil {
			return fmt.Errorf("%s: %w", command, err)
		}
		path = resolved
	}

	if err := disableOutputProcessing(p.slave); err != nil {
		return err
	}

	cmd := exec.Command(path)
	cmd.Args = append([]string{path}, args...)
	cmd.Stdin = p.slave
	cmd.Stdout = p.slave
	cmd.Stderr = p.slave
	cmd.Env = childEnv(os.Environ(), p.env)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // fd 0 in child = slave pty
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}
	p.pid = cmd.Process.Pid
	// Supervision goes through wait4, never cmd.Wait.
	cmd.Process.Release()
	return nil
}

// Fd returns the master fd, or -1 before Init.
func (p *Process) Fd() int {
	if p.master == nil {
		return -1
	}
	return int(p.master.Fd())
}

// Pid returns the child's pid, 0 before Exec.
func (p *Process) Pid() int { return p.pid }

// SetEnvironment sets additional KEY=VAL entries applied on top of
// the parent environment when the child starts.
func (p *Process) SetEnvironment(env []string) { p.env = env }

// Environment returns the additional entries set by SetEnvironment.
func (p *Process) Environment() []string { return p.env }

// SetExitString arranges for the child to receive SIGTERM when a line
// of its output starts with exit.
func (p *Process) SetExitString(exit string) { p.exitString = []byte(exit) }

// SetTerminal controls whether WaitForChild copies child output to
// the parent's stdout.
func (p *Process) SetTerminal(terminal bool) { p.terminal = terminal }

// SetErase arranges for password buffers to be wiped as soon as they
// have been written to the pty.
func (p *Process) SetErase(erase bool) { p.erase = erase }

// Erase reports the erase setting.
func (p *Process) Erase() bool { return p.erase }

// Terminal reports the terminal setting.
func (p *Process) Terminal() bool { return p.terminal }

// SetSignalImmune marks the child as one that does not accept signals
// from the invoking user (a setuid helper such as sudo or doas).
// Liveness checks then assume the child is still running instead of
// probing with kill(pid, 0).
func (p *Process) SetSignalImmune(immune bool) { p.signalImmune = immune }

// WaitSlave blocks until the child has cleared the ECHO flag on the
// tty. Some helpers disable echo with TCSAFLUSH after printing the
// password prompt, which flushes pending terminal input — writing the
// password before the flush would lose it. The termios are polled on
// the slave side every 10ms (Solaris disallows tcgetattr on the
// master) until echo is off or the child exits.
func (p *Process) WaitSlave() error {
	fd := int(p.slave.Fd())
	for {
		if !p.childAlive() {
			return fmt.Errorf("child exited while waiting for echo off")
		}
		tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return fmt.Errorf("tcgetattr: %w", err)
		}
		if tio.Lflag&unix.ECHO == 0 {
			return nil
		}
		p.clk.Sleep(10 * time.Millisecond)
	}
}

// EnableLocalEcho sets or clears the ECHO flag on the pty slave.
func (p *Process) EnableLocalEcho(enable bool) error {
	fd := int(p.slave.Fd())
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr: %w", err)
	}
	if enable {
		tio.Lflag |= unix.ECHO
	} else {
		tio.Lflag &^= unix.ECHO
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("tcsetattr: %w", err)
	}
	return nil
}

// Close releases the pty pair. The child, if still running, keeps its
// own descriptors.
func (p *Process) Close() {
	p.closePair()
}

func (p *Process) closePair() {
	if p.master != nil {
		p.master.Close()
		p.master = nil
	}
	if p.slave != nil {
		p.slave.Close()
		p.slave = nil
	}
}

// childAlive reports whether the child should be treated as running.
func (p *Process) childAlive() bool {
	if p.signalImmune {
		return true
	}
	return CheckPid(p.pid)
}

// disableOutputProcessing clears OPOST in the tty output flags so the
// kernel does not rewrite '\n' to "\r\n" on the way to the master.
func disableOutputProcessing(slave *os.File) error {
	fd := int(slave.Fd())
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr: %w", err)
	}
	tio.Oflag &^= unix.OPOST
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("tcsetattr: %w", err)
	}
	return nil
}
