// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/kdesu/lib/client"
	"github.com/bureau-foundation/kdesu/lib/clock"
	"github.com/bureau-foundation/kdesu/lib/config"
	"github.com/bureau-foundation/kdesu/lib/process"
)

// version of the daemon protocol implementation.
const version = "1.01"

// listenerFdEnv tells a re-exec'd daemon that fd 3 is the bound
// listener it should adopt instead of creating the socket itself.
const listenerFdEnv = "KDESUD_LISTEN_FD"

func main() {
	foreground := pflag.Bool("foreground", false, "do not daemonize")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("kdesud %s\n", version)
		return
	}

	logLevel := slog.LevelInfo
	if os.Getenv("KDESU_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(*foreground, logger); err != nil {
		process.Fatal(err)
	}
}

func run(foreground bool, logger *slog.Logger) error {
	// Nothing must be able to read this process's address space: it
	// holds passwords.
	if err := preventTracing(); err != nil {
		logger.Warn("failed to make process memory untraceable", "error", err)
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return fmt.Errorf("disable core dumps: %w", err)
	}

	socketPath := client.SocketPath()

	var listener *net.UnixListener
	if os.Getenv(listenerFdEnv) != "" {
		// Re-exec'd child: adopt the listener the parent bound.
		file := os.NewFile(3, socketPath)
		fileListener, err := net.FileListener(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("adopt listener fd: %w", err)
		}
		var ok bool
		listener, ok = fileListener.(*net.UnixListener)
		if !ok {
			return fmt.Errorf("fd 3 is not a unix listener")
		}
		listener.SetUnlinkOnClose(false)
	} else {
		var err error
		listener, err = createSocket(socketPath, logger)
		if err != nil {
			return err
		}
		if !foreground {
			return daemonize(listener, socketPath)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Warn("falling back to default configuration", "error", err)
		cfg = config.Default()
	}

	repo := NewRepository(clock.Real())
	daemon := NewDaemon(listener, socketPath, repo, cfg, logger)

	// Graceful exit on session teardown signals; the socket must not
	// be left behind.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	signal.Ignore(syscall.SIGPIPE)
	go func() {
		sig := <-signals
		logger.Info("exiting on signal", "signal", sig)
		daemon.Stop()
		os.Exit(1)
	}()

	daemon.watchDisplay()

	logger.Info("kdesud listening", "socket", socketPath, "version", version)
	daemon.Serve()
	return nil
}

// daemonize re-executes this binary in the background with the bound
// listener as fd 3, then exits. Go cannot fork() after runtime start;
// handing the listener to a fresh session-leader process has the same
// effect as the classic fork-and-exit.
func daemonize(listener *net.UnixListener, socketPath string) error {
	file, err := listener.File()
	if err != nil {
		return fmt.Errorf("dup listener: %w", err)
	}
	defer file.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own binary: %w", err)
	}

	cmd := exec.Command(self, "--foreground")
	cmd.Env = append(os.Environ(), listenerFdEnv+"=3")
	cmd.ExtraFiles = []*os.File{file} // becomes fd 3
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		os.Remove(socketPath)
		return fmt.Errorf("background re-exec: %w", err)
	}
	cmd.Process.Release()
	return nil
}

// preventTracing marks the address space undumpable so no other
// process of this user can ptrace it or read it via /proc.
func preventTracing() error {
	return unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0)
}
