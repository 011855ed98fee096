// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package escalate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/kdesu/lib/config"
	"github.com/bureau-foundation/kdesu/lib/testutil"
)

// fakeHelper behaves like su on a tty: it prompts, disables echo,
// reads the password, and on success plays the stub side of the
// conversation. Bad passwords produce the classic retry sequence so
// the prompt reappears.
const fakeHelper = `#!/bin/sh
printf 'Password: '
stty -echo
read -r password
stty echo
if [ "$password" = "ilovekde" ]; then
    printf '\n'
    echo kdesu_stub
    read -r gate
    if [ "$gate" = "stop" ]; then
        echo end
        exit 0
    fi
    echo command
    read -r commandline
    echo end
    exit 0
fi
printf '\n'
echo 'Sorry, try again.'
printf 'Password: '
stty -echo
read -r again
exit 1
`

func writeFakeHelper(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "su")
	if err := os.WriteFile(path, []byte(fakeHelper), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func helperConfig(t *testing.T) *config.Config {
	return &config.Config{
		SuperUserCommand: "su",
		StubPath:         "/nonexistent/kdesu_stub", // argv only; the fake never execs it
		Command:          writeFakeHelper(t),
	}
}

func runExec(t *testing.T, s *SuSession, password []byte, check CheckMode) int {
	t.Helper()
	done := make(chan int, 1)
	go func() {
		done <- s.Exec(password, check)
	}()
	return testutil.RequireReceive(t, done, 30*time.Second, "session did not finish")
}

func TestSuSession_GoodPassword(t *testing.T) {
	s := NewSuSession("root", "ls", helperConfig(t))
	defer s.Close()

	if got := runExec(t, s, []byte("ilovekde"), NoCheck); got != 0 {
		t.Fatalf("Exec = %d, want 0", got)
	}
}

func TestSuSession_BadPassword(t *testing.T) {
	s := NewSuSession("root", "ls", helperConfig(t))
	defer s.Close()

	if got := runExec(t, s, []byte("broken"), NoCheck); got != SuIncorrectPassword {
		t.Fatalf("Exec = %d, want SuIncorrectPassword", got)
	}
}

func TestSuSession_CheckInstall(t *testing.T) {
	s := NewSuSession("root", "ls", helperConfig(t))
	defer s.Close()

	done := make(chan int, 1)
	go func() {
		done <- s.CheckInstall([]byte("ilovekde"))
	}()
	if got := testutil.RequireReceive(t, done, 30*time.Second, "check did not finish"); got != 0 {
		t.Fatalf("CheckInstall = %d, want 0", got)
	}
}

func TestSuSession_ErasesPassword(t *testing.T) {
	s := NewSuSession("root", "ls", helperConfig(t))
	defer s.Close()
	s.SetErase(true)

	password := []byte("ilovekde")
	if got := runExec(t, s, password, NoCheck); got != 0 {
		t.Fatalf("Exec = %d, want 0", got)
	}
	for i, b := range password {
		if b != 0 {
			t.Fatalf("password byte %d not wiped", i)
		}
	}
}

func TestSuSession_HelperNotFound(t *testing.T) {
	cfg := &config.Config{
		SuperUserCommand: "su",
		StubPath:         "/nonexistent/kdesu_stub",
		Command:          "/nonexistent/su",
	}
	s := NewSuSession("root", "ls", cfg)
	defer s.Close()

	if got := runExec(t, s, []byte("x"), Install); got != SuNotFound {
		t.Fatalf("Exec = %d, want SuNotFound", got)
	}
}
