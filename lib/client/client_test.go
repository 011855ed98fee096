// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"testing"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("ls -la"), `"ls -la"`},
		{"empty", nil, `""`},
		{"quote", []byte(`say "hi"`), `"say \"hi\""`},
		{"backslash", []byte(`a\b`), `"a\\b"`},
		{"newline", []byte("a\nb"), `"a\^Jb"`},
		{"nul", []byte{0}, `"\^@"`},
		{"tab", []byte("\t"), `"\^I"`},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); !bytes.Equal(got, []byte(tt.want)) {
			t.Errorf("%s: Escape(%q) = %s, want %s", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestEscape_Printable(t *testing.T) {
	input := make([]byte, 0, 64)
	for c := byte(0); c < 32; c++ {
		input = append(input, c)
	}
	input = append(input, '"', '\\')

	quoted := Escape(input)
	for _, c := range quoted {
		if c < 32 || c > 126 {
			t.Fatalf("Escape output contains non-printable byte %#x", c)
		}
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	t.Run("x11 display with screen", func(t *testing.T) {
		t.Setenv("DISPLAY", ":0.1")
		t.Setenv("WAYLAND_DISPLAY", "")
		if got := SocketPath(); got != "/run/user/1000/kdesud_:0" {
			t.Errorf("SocketPath = %q", got)
		}
	})

	t.Run("wayland fallback", func(t *testing.T) {
		t.Setenv("DISPLAY", "")
		t.Setenv("WAYLAND_DISPLAY", "wayland-0")
		if got := SocketPath(); got != "/run/user/1000/kdesud_wayland-0" {
			t.Errorf("SocketPath = %q", got)
		}
	})

	t.Run("no display", func(t *testing.T) {
		t.Setenv("DISPLAY", "")
		t.Setenv("WAYLAND_DISPLAY", "")
		if got := SocketPath(); got != "/run/user/1000/kdesud_NODISPLAY" {
			t.Errorf("SocketPath = %q", got)
		}
	})
}

func TestConnect_MissingSocket(t *testing.T) {
	c := NewWithPath("/nonexistent/kdesud_nope")
	if err := c.Connect(); err == nil {
		t.Fatal("Connect to missing socket succeeded")
	}
}
