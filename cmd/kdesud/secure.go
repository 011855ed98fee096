// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials holds what the kernel tells us about the process on
// the other end of an accepted socket, captured at accept time.
type peerCredentials struct {
	uid int
	gid int
	pid int
}

// getPeerCredentials reads the peer's credentials via SO_PEERCRED.
// When that is unavailable the caller falls back to checking the
// socket inode owner.
func getPeerCredentials(conn *net.UnixConn) (peerCredentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return peerCredentials{uid: -1, gid: -1, pid: -1}, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return peerCredentials{uid: -1, gid: -1, pid: -1}, err
	}
	if credErr != nil {
		return peerCredentials{uid: -1, gid: -1, pid: -1}, credErr
	}
	return peerCredentials{
		uid: int(cred.Uid),
		gid: int(cred.Gid),
		pid: int(cred.Pid),
	}, nil
}

// socketOwnerUID is the sloppy fallback: the owner of the socket
// inode. An attacker can delete the socket after we bind it, but
// cannot create one owned by us.
func socketOwnerUID(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return -1, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return -1, fmt.Errorf("%s is not a socket", path)
	}
	return int(st.Uid), nil
}
