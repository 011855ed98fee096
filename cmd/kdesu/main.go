// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/kdesu/lib/client"
	"github.com/bureau-foundation/kdesu/lib/config"
	"github.com/bureau-foundation/kdesu/lib/escalate"
	"github.com/bureau-foundation/kdesu/lib/process"
	"github.com/bureau-foundation/kdesu/lib/secret"
)

// defaultTimeout is how long the daemon keeps a password when the
// user does not say otherwise: 120 minutes.
const defaultTimeout = 120 * 60

type options struct {
	user      string
	host      string
	priority  int
	realtime  bool
	terminal  bool
	noKeep    bool
	timeout   int
	stop      bool
	forgetCmd bool
}

func main() {
	var opts options
	pflag.StringVarP(&opts.user, "user", "u", "root", "run the command as this user")
	pflag.StringVar(&opts.host, "host", "", "run the command on this host via ssh")
	pflag.IntVarP(&opts.priority, "priority", "p", 50, "process priority, 0..100")
	pflag.BoolVarP(&opts.realtime, "realtime", "r", false, "use realtime scheduling")
	pflag.BoolVarP(&opts.terminal, "terminal", "t", false, "show the helper's terminal output")
	pflag.BoolVarP(&opts.noKeep, "no-keep", "n", false, "do not keep the password in the daemon")
	pflag.IntVar(&opts.timeout, "timeout", defaultTimeout, "seconds the daemon keeps the password")
	pflag.BoolVarP(&opts.stop, "stop", "s", false, "stop the daemon and forget all passwords")
	pflag.BoolVarP(&opts.forgetCmd, "forget", "f", false, "forget the cached password for the command")
	pflag.Parse()

	logLevel := slog.LevelWarn
	if os.Getenv("KDESU_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := run(&opts, pflag.Args()); err != nil {
		process.Fatal(err)
	}
}

func run(opts *options, args []string) error {
	if opts.stop {
		c := client.New()
		defer c.Close()
		if err := c.StopServer(); err != nil {
			return fmt.Errorf("stop daemon: %w", err)
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}
	command := strings.Join(args, " ")

	if opts.forgetCmd {
		c := client.New()
		defer c.Close()
		if err := c.DelCommand(command, opts.user); err != nil {
			return fmt.Errorf("forget %q: %w", command, err)
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("falling back to default configuration", "error", err)
		cfg = config.Default()
	}

	if opts.host != "" {
		return runSsh(opts, command)
	}
	if !opts.noKeep {
		if err := runViaDaemon(opts, command); err == nil {
			return nil
		}
		// The daemon path is best-effort; a direct session still
		// elevates, it just cannot cache.
		slog.Debug("daemon unavailable, running direct session")
	}
	return runDirect(opts, command, cfg)
}

// runViaDaemon executes through kdesud, reusing a cached credential
// when one exists.
func runViaDaemon(opts *options, command string) error {
	c := client.New()
	defer c.Close()

	if err := c.Ping(); err != nil {
		if err := c.StartServer(); err != nil {
			return err
		}
	}

	if err := c.SetPriority(opts.priority); err != nil {
		return err
	}
	scheduler := escalate.SchedulerNormal
	if opts.realtime {
		scheduler = escalate.SchedulerRealtime
	}
	if err := c.SetScheduler(scheduler); err != nil {
		return err
	}

	// First try the cached credential.
	if err := c.Exec(command, opts.user, "", nil); err != nil {
		password, readErr := readPassword(opts.user)
		if readErr != nil {
			return readErr
		}
		err = c.SetPass(password, opts.timeout)
		secret.Wipe(password)
		if err != nil {
			return err
		}
		if err := c.Exec(command, opts.user, "", nil); err != nil {
			return fmt.Errorf("daemon refused to run %q", command)
		}
	}

	code, err := c.ExitCode()
	if err != nil {
		return err
	}
	if code == escalate.SuIncorrectPassword {
		// The cached or new password was wrong; drop it so the next
		// attempt prompts again.
		c.DelCommand(command, opts.user)
		return fmt.Errorf("incorrect password")
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// runDirect drives a local escalation session in this process.
func runDirect(opts *options, command string, cfg *config.Config) error {
	session := escalate.NewSuSession(opts.user, command, cfg)
	defer session.Close()
	session.SetTerminal(opts.terminal)
	session.SetErase(true)
	session.SetPriority(opts.priority)
	if opts.realtime {
		session.SetScheduler(escalate.SchedulerRealtime)
	}

	var password []byte
	probe := escalate.NewSuSession(opts.user, command, cfg)
	need := probe.CheckNeedPassword()
	probe.Close()
	if need != 0 {
		var err error
		password, err = readPassword(opts.user)
		if err != nil {
			return err
		}
	}

	return reportResult(session.Exec(password, escalate.NoCheck), command)
}

// runSsh drives a remote session.
func runSsh(opts *options, command string) error {
	session := escalate.NewSshSession(opts.host, opts.user, command)
	defer session.Close()
	session.SetTerminal(opts.terminal)
	session.SetErase(true)

	var password []byte
	probe := escalate.NewSshSession(opts.host, opts.user, command)
	need := probe.CheckNeedPassword()
	probe.Close()
	if need == escalate.SshNeedsPassword {
		var err error
		password, err = readPassword(opts.user + "@" + opts.host)
		if err != nil {
			return err
		}
	}

	result := session.Exec(password, escalate.NoCheck)
	if result == escalate.SshIncorrectPassword {
		return fmt.Errorf("incorrect password")
	}
	if len(session.ErrorText()) > 0 && result < 0 {
		return fmt.Errorf("ssh failed: %s", strings.TrimSpace(string(session.ErrorText())))
	}
	return reportResult(result, command)
}

func reportResult(result int, command string) error {
	switch result {
	case 0:
		return nil
	case escalate.SuIncorrectPassword:
		return fmt.Errorf("incorrect password")
	case escalate.SuNotFound:
		return fmt.Errorf("escalation helper not found")
	case -1:
		return fmt.Errorf("running %q failed", command)
	default:
		os.Exit(result)
	}
	return nil
}

// readPassword prompts on the controlling terminal with echo off.
func readPassword(who string) ([]byte, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no terminal to read the password from: %w", err)
	}
	defer tty.Close()

	fmt.Fprintf(tty, "Password for %s: ", who)
	password, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(tty)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return password, nil
}
