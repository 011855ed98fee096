// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pty

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func TestUnreadLine_DrainedFirst(t *testing.T) {
	p := New()

	p.UnreadLine([]byte("kdesu_stub"), true)
	line := p.ReadLine(false)
	if !bytes.Equal(line, []byte("kdesu_stub")) {
		t.Fatalf("ReadLine = %q, want kdesu_stub", line)
	}

	if line := p.ReadLine(false); line != nil {
		t.Fatalf("second ReadLine = %q, want nil", line)
	}
}

func TestUnreadLine_Ordering(t *testing.T) {
	p := New()

	p.UnreadLine([]byte("second"), true)
	p.UnreadLine([]byte("first"), true)

	if line := p.ReadLine(false); !bytes.Equal(line, []byte("first")) {
		t.Fatalf("ReadLine = %q, want first", line)
	}
	if line := p.ReadLine(false); !bytes.Equal(line, []byte("second")) {
		t.Fatalf("ReadLine = %q, want second", line)
	}
}

func TestReadLine_PartialSegmentReturned(t *testing.T) {
	p := New()

	// No trailing newline: the partial segment comes back as-is
	// rather than blocking for more.
	p.UnreadLine([]byte("Password:"), false)
	line := p.ReadLine(false)
	if !bytes.Equal(line, []byte("Password:")) {
		t.Fatalf("ReadLine = %q, want the partial segment", line)
	}
}

func TestReadLine_EmptyLineIsNotNil(t *testing.T) {
	p := New()

	p.UnreadLine(nil, true) // a bare newline
	line := p.ReadLine(false)
	if line == nil {
		t.Fatal("empty line collapsed to nil")
	}
	if len(line) != 0 {
		t.Fatalf("ReadLine = %q, want empty", line)
	}
}

func TestReadLine_OverPty(t *testing.T) {
	p := New()
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Close()

	// What Exec does before the child writes anything.
	if err := disableOutputProcessing(p.slave); err != nil {
		t.Fatalf("disableOutputProcessing: %v", err)
	}

	if _, err := p.slave.Write([]byte("one\ntwo\n")); err != nil {
		t.Fatalf("write slave: %v", err)
	}

	if line := p.ReadLine(true); !bytes.Equal(line, []byte("one")) {
		t.Fatalf("ReadLine = %q, want one", line)
	}
	if line := p.ReadLine(false); !bytes.Equal(line, []byte("two")) {
		t.Fatalf("ReadLine = %q, want two", line)
	}
	if line := p.ReadLine(false); line != nil {
		t.Fatalf("ReadLine on drained pty = %q, want nil", line)
	}
}

func TestEnableLocalEcho(t *testing.T) {
	p := New()
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Close()

	if err := p.EnableLocalEcho(false); err != nil {
		t.Fatalf("EnableLocalEcho(false): %v", err)
	}
	tio, err := unix.IoctlGetTermios(int(p.slave.Fd()), unix.TCGETS)
	if err != nil {
		t.Fatal(err)
	}
	if tio.Lflag&unix.ECHO != 0 {
		t.Error("ECHO still set after disable")
	}

	if err := p.EnableLocalEcho(true); err != nil {
		t.Fatalf("EnableLocalEcho(true): %v", err)
	}
	tio, err = unix.IoctlGetTermios(int(p.slave.Fd()), unix.TCGETS)
	if err != nil {
		t.Fatal(err)
	}
	if tio.Lflag&unix.ECHO == 0 {
		t.Error("ECHO not restored after enable")
	}
}

func TestWriteLine_AppearsOnSlave(t *testing.T) {
	p := New()
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Close()

	// Suppress echo so the written line does not bounce back to the
	// master and confuse the read below.
	if err := p.EnableLocalEcho(false); err != nil {
		t.Fatal(err)
	}

	p.WriteLine([]byte("swordfish"), true)

	buf := make([]byte, 64)
	n, err := p.slave.Read(buf)
	if err != nil {
		t.Fatalf("read slave: %v", err)
	}
	if got := string(buf[:n]); got != "swordfish\n" {
		t.Fatalf("slave read %q, want swordfish\\n", got)
	}
}
