// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

// installedDaemonPath is where the daemon binary is installed; PATH
// is searched when it is not there.
const installedDaemonPath = "/usr/libexec/kdesud"

var screenSuffix = regexp.MustCompile(`\.[0-9]+$`)

// SocketPath returns the per-user daemon socket:
// $XDG_RUNTIME_DIR/kdesud_<display>, with the screen number stripped
// from the display. WAYLAND_DISPLAY is used when DISPLAY is unset,
// and the literal NODISPLAY when neither is.
func SocketPath() string {
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = "NODISPLAY"
	} else {
		display = screenSuffix.ReplaceAllString(display, "")
	}
	return filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), "kdesud_"+display)
}

// Client is a connection to the daemon. Methods return an error both
// for transport failures and for NO replies; the daemon deliberately
// does not say which (it never leaks a reason).
type Client struct {
	path string
	conn *net.UnixConn
}

// New returns a client for the default socket path. The connection is
// established lazily by the first command (or explicitly by Connect).
func New() *Client {
	return &Client{path: SocketPath()}
}

// NewWithPath returns a client for an explicit socket path.
func NewWithPath(path string) *Client {
	return &Client{path: path}
}

// Connect dials the daemon socket and verifies that its owner is the
// calling user. An existing connection is dropped first.
func (c *Client) Connect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if err := unix.Access(c.path, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("socket %s not accessible: %w", c.path, err)
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: c.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.path, err)
	}

	// Security: if the socket exists, we must own it. Anything else
	// is an impostor daemon that would receive our password.
	uid, err := peerUID(conn)
	if err != nil {
		// No peer credentials on this platform; fall back to the
		// socket inode. An attacker cannot create a socket owned by
		// us.
		uid, err = socketOwner(c.path)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("verify socket owner: %w", err)
	}
	if uid != os.Getuid() {
		conn.Close()
		return fmt.Errorf("socket %s not owned by uid %d (owner %d)", c.path, os.Getuid(), uid)
	}

	c.conn = conn
	return nil
}

// Close drops the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// peerUID reads the effective uid of the socket's other end.
func peerUID(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return -1, err
	}
	if credErr != nil {
		return -1, credErr
	}
	return int(cred.Uid), nil
}

// socketOwner checks the socket path itself: it must be a socket and
// its inode must belong to us.
func socketOwner(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return -1, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return -1, fmt.Errorf("%s is not a socket", path)
	}
	return int(st.Uid), nil
}

// Escape wraps str for the wire: double quotes around it; control
// bytes become `\^` plus the byte shifted into the printable range;
// backslash and double quote are backslash-prefixed.
func Escape(str []byte) []byte {
	out := make([]byte, 0, len(str)+4)
	out = append(out, '"')
	for _, c := range str {
		if c < 32 {
			out = append(out, '\\', '^', c+'@')
			continue
		}
		if c == '\\' || c == '"' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return append(out, '"')
}

// command writes one protocol line and parses the reply. The payload
// of an OK reply sits between the "OK " prefix and the trailing
// newline.
func (c *Client) command(cmd []byte) ([]byte, error) {
	if c.conn == nil {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}

	if _, err := c.conn.Write(cmd); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := c.conn.Read(buf)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("no reply from daemon")
	}
	reply := buf[:n]

	if !bytes.HasPrefix(reply, []byte("OK")) {
		return nil, fmt.Errorf("daemon refused command")
	}
	if len(reply) > 4 {
		return reply[3 : len(reply)-1], nil
	}
	return nil, nil
}

// SetPass stores the password for subsequent Exec calls on this
// connection. Credentials cached by those calls expire after timeout
// seconds (0 means never).
func (c *Client) SetPass(password []byte, timeout int) error {
	cmd := []byte("PASS ")
	cmd = append(cmd, Escape(password)...)
	cmd = append(cmd, ' ')
	cmd = strconv.AppendInt(cmd, int64(timeout), 10)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// Exec asks the daemon to run command as user, with optional options
// and additional environment entries.
func (c *Client) Exec(command, user string, options string, env []string) error {
	cmd := []byte("EXEC ")
	cmd = append(cmd, Escape([]byte(command))...)
	cmd = append(cmd, ' ')
	cmd = append(cmd, Escape([]byte(user))...)
	if options != "" || len(env) > 0 {
		cmd = append(cmd, ' ')
		cmd = append(cmd, Escape([]byte(options))...)
		for _, entry := range env {
			cmd = append(cmd, ' ')
			cmd = append(cmd, Escape([]byte(entry))...)
		}
	}
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// SetHost sets the target host for subsequent Exec calls (switches
// the daemon to the ssh path).
func (c *Client) SetHost(host string) error {
	cmd := []byte("HOST ")
	cmd = append(cmd, Escape([]byte(host))...)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// SetPriority sets the scheduling priority (0..100) for subsequent
// Exec calls.
func (c *Client) SetPriority(priority int) error {
	cmd := []byte("PRIO ")
	cmd = strconv.AppendInt(cmd, int64(priority), 10)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// SetScheduler sets the scheduler class for subsequent Exec calls.
func (c *Client) SetScheduler(scheduler int) error {
	cmd := []byte("SCHD ")
	cmd = strconv.AppendInt(cmd, int64(scheduler), 10)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// DelCommand removes the cached credential for (command, user).
func (c *Client) DelCommand(command, user string) error {
	cmd := []byte("DEL ")
	cmd = append(cmd, Escape([]byte(command))...)
	cmd = append(cmd, ' ')
	cmd = append(cmd, Escape([]byte(user))...)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// SetVar stores value under key in the daemon's key/value store, in
// group, expiring after timeout seconds (0 means never).
func (c *Client) SetVar(key string, value []byte, group string, timeout int) error {
	cmd := []byte("SET ")
	cmd = append(cmd, Escape([]byte(key))...)
	cmd = append(cmd, ' ')
	cmd = append(cmd, Escape(value)...)
	cmd = append(cmd, ' ')
	cmd = append(cmd, Escape([]byte(group))...)
	cmd = append(cmd, ' ')
	cmd = strconv.AppendInt(cmd, int64(timeout), 10)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// GetVar returns the value stored under key, or nil when there is
// none.
func (c *Client) GetVar(key string) []byte {
	cmd := []byte("GET ")
	cmd = append(cmd, Escape([]byte(key))...)
	cmd = append(cmd, '\n')
	reply, err := c.command(cmd)
	if err != nil {
		return nil
	}
	return reply
}

// GetKeys returns the keys carrying the given group tag.
func (c *Client) GetKeys(group string) [][]byte {
	cmd := []byte("GETK ")
	cmd = append(cmd, Escape([]byte(group))...)
	cmd = append(cmd, '\n')
	reply, err := c.command(cmd)
	if err != nil || len(reply) == 0 {
		return nil
	}
	return bytes.Split(reply, []byte{'\007'})
}

// FindGroup reports whether any stored variable carries the group
// tag.
func (c *Client) FindGroup(group string) bool {
	cmd := []byte("CHKG ")
	cmd = append(cmd, Escape([]byte(group))...)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err == nil
}

// DelVar removes the variable stored under key.
func (c *Client) DelVar(key string) error {
	cmd := []byte("DELV ")
	cmd = append(cmd, Escape([]byte(key))...)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// DelGroup removes every variable in group.
func (c *Client) DelGroup(group string) error {
	cmd := []byte("DELG ")
	cmd = append(cmd, Escape([]byte(group))...)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// DelVars removes every variable whose key lies under specialKey (the
// subtree delete).
func (c *Client) DelVars(specialKey string) error {
	cmd := []byte("DELS ")
	cmd = append(cmd, Escape([]byte(specialKey))...)
	cmd = append(cmd, '\n')
	_, err := c.command(cmd)
	return err
}

// Ping checks that a live daemon answers on the socket.
func (c *Client) Ping() error {
	_, err := c.command([]byte("PING\n"))
	return err
}

// ExitCode returns the exit code of the last command executed on this
// connection.
func (c *Client) ExitCode() (int, error) {
	reply, err := c.command([]byte("EXIT\n"))
	if err != nil {
		return -1, err
	}
	code, err := strconv.Atoi(string(reply))
	if err != nil {
		return -1, fmt.Errorf("malformed exit code %q", reply)
	}
	return code, nil
}

// StopServer shuts the daemon down.
func (c *Client) StopServer() error {
	_, err := c.command([]byte("STOP\n"))
	return err
}

// StartServer locates the daemon binary — the install location first,
// then PATH — and launches it. The daemon backgrounds itself, so the
// launch returning means the socket should be there; the client
// reconnects.
func (c *Client) StartServer() error {
	daemon := installedDaemonPath
	if _, err := os.Stat(daemon); err != nil {
		daemon, err = exec.LookPath("kdesud")
		if err != nil {
			return fmt.Errorf("kdesud daemon not found: %w", err)
		}
	}

	if err := exec.Command(daemon).Run(); err != nil {
		return fmt.Errorf("start kdesud: %w", err)
	}
	return c.Connect()
}
