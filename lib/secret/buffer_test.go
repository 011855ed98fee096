// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNew_ValidSize(t *testing.T) {
	buffer, err := New(64)
	if err != nil {
		t.Fatalf("New(64) failed: %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 64 {
		t.Errorf("expected length 64, got %d", buffer.Len())
	}

	// Memory should be zero-initialized by mmap.
	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("expected zero at index %d, got %d", index, value)
		}
	}
}

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("expected error for size %d", size)
		}
	}
}

func TestFromBytes_WipesSource(t *testing.T) {
	source := []byte("ilovekde")

	buffer, err := FromBytes(source)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	defer buffer.Close()

	if got := buffer.Bytes(); !bytes.Equal(got, []byte("ilovekde")) {
		t.Errorf("expected %q, got %q", "ilovekde", got)
	}

	// The caller's copy must be gone.
	for index, value := range source {
		if value != 0 {
			t.Errorf("source not wiped at index %d: %d", index, value)
		}
	}
}

func TestFromBytes_Empty(t *testing.T) {
	if _, err := FromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestClose_Idempotent(t *testing.T) {
	buffer, err := FromBytes([]byte("hunter2"))
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBytes_PanicsAfterClose(t *testing.T) {
	buffer, err := FromBytes([]byte("hunter2"))
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading closed buffer")
		}
	}()
	buffer.Bytes()
}

func TestWipe(t *testing.T) {
	b := []byte("swordfish")
	Wipe(b)
	for index, value := range b {
		if value != 0 {
			t.Errorf("byte %d not wiped: %d", index, value)
		}
	}
}
