// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/bureau-foundation/kdesu/lib/escalate"
	"github.com/bureau-foundation/kdesu/lib/secret"
)

// Key namespaces. makeKey prefixes every composite key with one of
// these plus '*' so cached exec credentials and client variables can
// never collide.
const (
	namespaceCommand  = 'C'
	namespaceVariable = 'V'
)

// execGroup tags cached exec credentials so variable group operations
// on any other group never touch them. The group operations match
// this name like any other, so CHKG, GETK and DELG naming "exec" do
// reach the cached credentials.
const execGroup = "exec"

// connection serves one accepted client. Commands on a connection are
// processed strictly in order; the only asynchronous event is the
// exit of a command launched by EXEC.
type connection struct {
	daemon *Daemon
	conn   *net.UnixConn
	logger *slog.Logger
	peer   peerCredentials

	// Per-session defaults, set by PASS/HOST/PRIO/SCHD.
	pass      []byte
	timeout   int
	priority  int
	scheduler int
	host      string

	// Exit bookkeeping for the last EXEC, written by the session
	// goroutine and read by EXIT.
	mu           sync.Mutex
	running      bool
	exitCode     int
	hasExitCode  bool
	needExitCode bool
}

func newConnection(daemon *Daemon, conn *net.UnixConn, peer peerCredentials, logger *slog.Logger) *connection {
	return &connection{
		daemon:   daemon,
		conn:     conn,
		logger:   logger,
		peer:     peer,
		priority: 50,
	}
}

// serve reads protocol lines until the client disconnects or fails
// the security gate.
func (h *connection) serve() {
	defer func() {
		secret.Wipe(h.pass)
		h.conn.Close()
		h.logger.Debug("connection closed")
	}()

	reader := bufio.NewReader(h.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		if !h.doCommand(line) {
			return
		}
	}
}

// respond writes an OK (with optional value) or NO reply.
func (h *connection) respond(ok bool, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.respondLocked(ok, value)
}

func (h *connection) respondLocked(ok bool, value []byte) {
	if !ok {
		h.conn.Write([]byte("NO\n"))
		return
	}
	buf := []byte("OK")
	if len(value) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, value...)
	}
	buf = append(buf, '\n')
	h.conn.Write(buf)
}

// makeKey serializes a namespace tag and components into a composite
// repository key: the tag byte, '*', then each component followed by
// the separator.
func makeKey(namespace byte, parts ...string) string {
	key := []byte{namespace, '*'}
	for _, part := range parts {
		key = append(key, part...)
		key = append(key, keySep)
	}
	return string(key)
}

// doCommand parses and executes one line. Returns false when the
// connection must be dropped.
func (h *connection) doCommand(line []byte) bool {
	// The gate runs on every command: the peer's uid must equal
	// ours. No reason is leaked; the connection just dies.
	if h.peer.uid != h.daemon.uid {
		h.logger.Warn("peer uid mismatch, dropping connection",
			"peer_uid", h.peer.uid, "daemon_uid", h.daemon.uid)
		return false
	}

	// The original daemon expires on every select wake; the
	// per-command sweep is the same cadence.
	h.daemon.repo.Expire()

	l := newLexer(line)
	switch l.lex() {
	case tokPass:
		if l.lex() != tokStr {
			h.respond(false, nil)
			return true
		}
		pass := append([]byte(nil), l.lval()...)
		if l.lex() != tokNum {
			h.respond(false, nil)
			return true
		}
		timeout, _ := strconv.Atoi(string(l.lval()))
		if !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		secret.Wipe(h.pass)
		h.pass = pass
		h.timeout = timeout
		h.respond(true, nil)

	case tokHost:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.host = string(l.lval())
		h.respond(true, nil)

	case tokPrio:
		if l.lex() != tokNum || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.priority, _ = strconv.Atoi(string(l.lval()))
		h.respond(true, nil)

	case tokSched:
		if l.lex() != tokNum || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.scheduler, _ = strconv.Atoi(string(l.lval()))
		h.respond(true, nil)

	case tokExec:
		h.doExec(l)

	case tokDelCmd:
		if l.lex() != tokStr {
			h.respond(false, nil)
			return true
		}
		command := string(l.lval())
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		user := string(l.lval())
		key := makeKey(namespaceCommand, h.host, user, command)
		h.respond(h.daemon.repo.Remove(key), nil)

	case tokSet:
		h.doSet(l)

	case tokGet:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		value := h.daemon.repo.Find(makeKey(namespaceVariable, string(l.lval())))
		if value == nil {
			h.respond(false, nil)
			return true
		}
		h.respond(true, value)

	case tokGetKeys:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		keys := h.daemon.repo.FindKeys(string(l.lval()))
		if len(keys) == 0 {
			h.respond(false, nil)
			return true
		}
		h.respond(true, keys)

	case tokChkGroup:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.respond(h.daemon.repo.HasGroup(string(l.lval())), nil)

	case tokDelVar:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.respond(h.daemon.repo.Remove(makeKey(namespaceVariable, string(l.lval()))), nil)

	case tokDelGroup:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.respond(h.daemon.repo.RemoveGroup(string(l.lval())), nil)

	case tokDelSpecialKey:
		if l.lex() != tokStr || !h.expectNewline(l) {
			h.respond(false, nil)
			return true
		}
		h.respond(h.daemon.repo.RemoveSpecialKey(string(l.lval())), nil)

	case tokPing:
		h.respond(true, nil)

	case tokExit:
		h.doExit()

	case tokStop:
		h.respond(true, nil)
		h.daemon.Stop()
		return false

	default:
		h.respond(false, nil)
	}
	return true
}

// expectNewline consumes the line terminator.
func (h *connection) expectNewline(l *lexer) bool {
	return l.lex() == '\n'
}

// doSet handles SET key value group timeout.
func (h *connection) doSet(l *lexer) {
	if l.lex() != tokStr {
		h.respond(false, nil)
		return
	}
	key := string(l.lval())
	if l.lex() != tokStr {
		h.respond(false, nil)
		return
	}
	value := append([]byte(nil), l.lval()...)
	if l.lex() != tokStr {
		h.respond(false, nil)
		return
	}
	group := string(l.lval())
	if l.lex() != tokNum || !h.expectNewline(l) {
		h.respond(false, nil)
		return
	}
	timeout, _ := strconv.Atoi(string(l.lval()))

	h.daemon.repo.Add(makeKey(namespaceVariable, key), value, group, timeout)
	secret.Wipe(value)
	h.respond(true, nil)
}

// doExec handles EXEC command user [options env...].
func (h *connection) doExec(l *lexer) {
	if l.lex() != tokStr {
		h.respond(false, nil)
		return
	}
	command := string(l.lval())
	if l.lex() != tokStr {
		h.respond(false, nil)
		return
	}
	user := string(l.lval())

	var options string
	var env []string
	tok := l.lex()
	if tok == tokStr {
		options = string(l.lval())
		for tok = l.lex(); tok == tokStr; tok = l.lex() {
			env = append(env, string(l.lval()))
		}
	}
	if tok != '\n' {
		h.respond(false, nil)
		return
	}

	key := makeKey(namespaceCommand, h.host, user, command)

	// A cached credential wins; the connection password is only
	// consulted when there is none.
	pass := h.daemon.repo.Find(key)
	newPass := false
	if len(pass) == 0 {
		if len(h.pass) == 0 {
			// No cached credential and no prior PASS.
			h.respond(false, nil)
			return
		}
		pass = append([]byte(nil), h.pass...)
		newPass = true
	}

	h.logger.Info("executing command", "command", command, "user", user,
		"host", h.host, "cached", !newPass, "options", options)

	h.mu.Lock()
	h.running = true
	h.hasExitCode = false
	h.needExitCode = false
	h.mu.Unlock()

	// The credential is cached only once the helper has accepted it,
	// so a wrong password cannot mask the cache until it expires.
	var cachePass []byte
	if newPass {
		cachePass = append([]byte(nil), h.pass...)
	}
	go h.runSession(command, user, h.host, env, pass, cachePass, key, h.timeout, h.priority, h.scheduler)

	if newPass {
		// The connection password is consumed by this EXEC; later
		// EXECs must hit the cache or send PASS again.
		secret.Wipe(h.pass)
		h.pass = nil
	}
	h.respond(true, nil)
}

// runSession drives the escalation session for one EXEC. The
// per-session defaults are passed by value so later commands on the
// connection cannot race with a session in flight. The password copy
// is wiped by the session once written; cachePass, when non-nil, is
// stored under key only after the helper has accepted it.
func (h *connection) runSession(command, user, host string, env []string, pass, cachePass []byte, key string, timeout, priority, scheduler int) {
	var result int
	if host == "" {
		session := escalate.NewSuSession(user, command, h.daemon.cfg)
		session.SetEnvironment(env)
		session.SetPriority(priority)
		session.SetScheduler(scheduler)
		session.SetErase(true)
		result = session.Exec(pass, escalate.NoCheck)
		session.Close()
	} else {
		session := escalate.NewSshSession(host, user, command)
		session.SetEnvironment(env)
		session.SetPriority(priority)
		session.SetScheduler(scheduler)
		session.SetErase(true)
		result = session.Exec(pass, escalate.NoCheck)
		session.Close()
	}
	// The session wipes the password once written; paths that fail
	// before writing it must not leave the copy behind.
	secret.Wipe(pass)

	h.logger.Info("command finished", "command", command, "result", result)

	if cachePass != nil {
		if result == 0 {
			h.daemon.repo.Add(key, cachePass, execGroup, timeout)
		}
		secret.Wipe(cachePass)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.exitCode = result
	h.hasExitCode = true
	if h.needExitCode {
		h.respondLocked(true, []byte(strconv.Itoa(h.exitCode)))
		h.needExitCode = false
	}
}

// doExit handles EXIT: the exit code of the last EXEC. When the
// command is still running the reply is deferred until it finishes.
func (h *connection) doExit() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running && !h.hasExitCode {
		h.needExitCode = true
		return
	}
	if !h.hasExitCode {
		h.respondLocked(false, nil)
		return
	}
	h.respondLocked(true, []byte(strconv.Itoa(h.exitCode)))
}
