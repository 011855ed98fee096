// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/kdesu/lib/client"
	"github.com/bureau-foundation/kdesu/lib/config"
)

// Daemon owns the listener, the credential repository, and the
// process-wide state the connection handlers share. One instance per
// user.
type Daemon struct {
	listener   *net.UnixListener
	socketPath string
	repo       *Repository
	cfg        *config.Config
	logger     *slog.Logger
	uid        int

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDaemon wraps an already-bound listener.
func NewDaemon(listener *net.UnixListener, socketPath string, repo *Repository, cfg *config.Config, logger *slog.Logger) *Daemon {
	return &Daemon{
		listener:   listener,
		socketPath: socketPath,
		repo:       repo,
		cfg:        cfg,
		logger:     logger,
		uid:        os.Getuid(),
		stopped:    make(chan struct{}),
	}
}

// createSocket binds the daemon socket, never through a symlink (a
// symlink at the socket path is an attack; it is removed before the
// bind) and replacing stale sockets whose
// daemon no longer answers PING. An answering daemon means another
// instance runs; that is an error.
func createSocket(path string, logger *slog.Logger) (*net.UnixListener, error) {
	if st, err := os.Lstat(path); err == nil && st.Mode()&os.ModeSymlink != 0 {
		logger.Warn("socket path is a symlink, removing it", "path", path)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove symlink at %s: %w", path, err)
		}
	}

	if unix.Access(path, unix.R_OK|unix.W_OK) == nil {
		probe := client.NewWithPath(path)
		if probe.Ping() == nil {
			probe.Close()
			return nil, fmt.Errorf("kdesud is already running on %s", path)
		}
		probe.Close()
		logger.Warn("removing stale socket", "path", path)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}

	if err := configureListener(listener); err != nil {
		listener.Close()
		return nil, err
	}

	// The daemon outlives this process image (it re-execs itself to
	// daemonize); the socket file must survive listener close.
	listener.SetUnlinkOnClose(false)
	return listener, nil
}

// configureListener disables lingering and enables address reuse and
// keepalive on the listening socket.
func configureListener(listener *net.UnixListener) error {
	raw, err := listener.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{})
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Serve accepts connections until Stop. Each accepted connection is
// identity-checked immediately; a peer with a foreign uid is dropped
// before any command is read.
func (d *Daemon) Serve() {
	for {
		conn, err := d.listener.AcceptUnix()
		if err != nil {
			select {
			case <-d.stopped:
				return
			default:
			}
			d.logger.Error("accept failed", "error", err)
			continue
		}

		peer, err := getPeerCredentials(conn)
		if err != nil {
			ownerUID, ownerErr := socketOwnerUID(d.socketPath)
			if ownerErr != nil {
				d.logger.Warn("cannot identify peer, dropping connection", "error", err)
				conn.Close()
				continue
			}
			peer = peerCredentials{uid: ownerUID, gid: -1, pid: -1}
		}
		if peer.uid != d.uid {
			d.logger.Warn("rejecting connection from foreign uid", "uid", peer.uid)
			conn.Close()
			continue
		}

		logger := d.logger.With("connection", uuid.NewString()[:8], "peer_pid", peer.pid)
		logger.Debug("connection accepted")
		go newConnection(d, conn, peer, logger).serve()
	}
}

// Stop shuts the daemon down: the listener closes, Serve returns, and
// the socket is unlinked.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		d.listener.Close()
		os.Remove(d.socketPath)
		d.logger.Info("daemon stopped")
	})
}

// Stopped is closed once Stop has run.
func (d *Daemon) Stopped() <-chan struct{} { return d.stopped }

// watchDisplay holds a connection to the display server open and
// stops the daemon when it closes — cached passwords must not outlive
// the session they were typed into.
func (d *Daemon) watchDisplay() {
	path := displaySocketPath()
	if path == "" {
		d.logger.Warn("no display to watch; daemon will not stop at end of session")
		return
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		d.logger.Warn("cannot watch display", "path", path, "error", err)
		return
	}
	d.logger.Debug("watching display", "path", path)
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := conn.Read(buf); err != nil {
				d.logger.Info("display closed, exiting")
				d.Stop()
				return
			}
		}
	}()
}

// displaySocketPath maps the display environment to its unix socket:
// /tmp/.X11-unix/X<n> for X11, $XDG_RUNTIME_DIR/<name> for Wayland.
func displaySocketPath() string {
	if display := os.Getenv("DISPLAY"); display != "" {
		name := display
		if host, rest, ok := strings.Cut(display, ":"); ok && (host == "" || host == "unix") {
			name = rest
		} else {
			// Remote display; nothing local to watch.
			return ""
		}
		if dot := strings.IndexByte(name, '.'); dot >= 0 {
			name = name[:dot]
		}
		return "/tmp/.X11-unix/X" + name
	}
	if wayland := os.Getenv("WAYLAND_DISPLAY"); wayland != "" {
		if filepath.IsAbs(wayland) {
			return wayland
		}
		return filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), wayland)
	}
	return ""
}
