// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/bureau-foundation/kdesu/lib/clock"
)

func testRepo() (*Repository, *clock.FakeClock) {
	fake := clock.Fake(time.Unix(1_000_000, 0))
	return NewRepository(fake), fake
}

func TestRepository_KeyRoundTrip(t *testing.T) {
	repo, fake := testRepo()

	repo.Add("C*host\aroot\als\a", []byte("swordfish"), execGroup, 10)

	if got := repo.Find("C*host\aroot\als\a"); !bytes.Equal(got, []byte("swordfish")) {
		t.Fatalf("Find = %q, want swordfish", got)
	}

	fake.Advance(9 * time.Second)
	if got := repo.Find("C*host\aroot\als\a"); got == nil {
		t.Fatal("entry expired early")
	}

	fake.Advance(2 * time.Second)
	if repo.Expire() != 1 {
		t.Fatal("Expire did not remove the entry")
	}
	if got := repo.Find("C*host\aroot\als\a"); got != nil {
		t.Fatalf("Find after expiry = %q, want nil", got)
	}
}

func TestRepository_FindChecksExpiryBeforeSweep(t *testing.T) {
	repo, fake := testRepo()

	repo.Add("V*k\a", []byte("v"), "g", 1)
	fake.Advance(2 * time.Second)

	// Not swept yet, but already expired.
	if got := repo.Find("V*k\a"); got != nil {
		t.Fatalf("Find returned expired value %q", got)
	}
}

func TestRepository_ZeroTimeoutNeverExpires(t *testing.T) {
	repo, fake := testRepo()

	repo.Add("V*k\a", []byte("v"), "g", 0)
	fake.Advance(1000 * time.Hour)

	if repo.Expire() != 0 {
		t.Fatal("Expire removed a never-expiring entry")
	}
	if got := repo.Find("V*k\a"); !bytes.Equal(got, []byte("v")) {
		t.Fatalf("Find = %q, want v", got)
	}
}

func TestRepository_ExpireIdempotent(t *testing.T) {
	repo, fake := testRepo()

	repo.Add("V*a\a", []byte("1"), "g", 1)
	repo.Add("V*b\a", []byte("2"), "g", 5)
	fake.Advance(2 * time.Second)

	if got := repo.Expire(); got != 1 {
		t.Fatalf("first Expire = %d, want 1", got)
	}
	if got := repo.Expire(); got != 0 {
		t.Fatalf("second Expire = %d, want 0", got)
	}
	if repo.Find("V*b\a") == nil {
		t.Fatal("live entry removed")
	}
}

func TestRepository_ExpireShortCircuits(t *testing.T) {
	repo, fake := testRepo()

	repo.Add("V*a\a", []byte("1"), "g", 3600)
	fake.Advance(time.Second)

	// Before headTime nothing is scanned.
	if got := repo.Expire(); got != 0 {
		t.Fatalf("Expire = %d, want 0", got)
	}
}

func TestRepository_AddReplacesEntry(t *testing.T) {
	repo, _ := testRepo()

	repo.Add("V*k\a", []byte("old"), "g", 0)
	repo.Add("V*k\a", []byte("new"), "g", 0)

	if got := repo.Find("V*k\a"); !bytes.Equal(got, []byte("new")) {
		t.Fatalf("Find = %q, want new", got)
	}
}

func TestRepository_GroupOperations(t *testing.T) {
	repo, _ := testRepo()

	repo.Add(makeKey(namespaceVariable, "a"), []byte("1"), "g", 0)
	repo.Add(makeKey(namespaceVariable, "b"), []byte("2"), "g", 0)
	repo.Add(makeKey(namespaceVariable, "c"), []byte("3"), "other", 0)

	if !repo.HasGroup("g") {
		t.Fatal("HasGroup(g) = false")
	}
	if repo.HasGroup("missing") {
		t.Fatal("HasGroup(missing) = true")
	}

	keys := repo.FindKeys("g")
	parts := bytes.Split(keys, []byte{keySep})
	if len(parts) != 2 {
		t.Fatalf("FindKeys = %q, want two keys", keys)
	}
	found := map[string]bool{}
	for _, p := range parts {
		found[string(p)] = true
	}
	if !found["a"] || !found["b"] {
		t.Fatalf("FindKeys = %q, want a and b", keys)
	}

	if !repo.RemoveGroup("g") {
		t.Fatal("RemoveGroup(g) = false")
	}
	if repo.Find(makeKey(namespaceVariable, "a")) != nil {
		t.Fatal("a survived RemoveGroup")
	}
	if repo.Find(makeKey(namespaceVariable, "b")) != nil {
		t.Fatal("b survived RemoveGroup")
	}
	if repo.Find(makeKey(namespaceVariable, "c")) == nil {
		t.Fatal("c was removed with the wrong group")
	}
}

func TestRepository_RemoveSpecialKey(t *testing.T) {
	repo, _ := testRepo()

	// Variables under a common path, grouped by a prefix of that
	// path.
	repo.Add(makeKey(namespaceVariable, "app/session/token"), []byte("1"), "app", 0)
	repo.Add(makeKey(namespaceVariable, "app/session/cookie"), []byte("2"), "app", 0)
	repo.Add(makeKey(namespaceVariable, "app/other"), []byte("3"), "app", 0)

	if !repo.RemoveSpecialKey("app/session") {
		t.Fatal("RemoveSpecialKey found nothing")
	}
	if repo.Find(makeKey(namespaceVariable, "app/session/token")) != nil {
		t.Fatal("token survived subtree delete")
	}
	if repo.Find(makeKey(namespaceVariable, "app/session/cookie")) != nil {
		t.Fatal("cookie survived subtree delete")
	}
	if repo.Find(makeKey(namespaceVariable, "app/other")) == nil {
		t.Fatal("sibling outside the subtree was removed")
	}
}

func TestRepository_HeadTimeTracksMinimum(t *testing.T) {
	repo, fake := testRepo()

	repo.Add("V*long\a", []byte("1"), "g", 3600)
	repo.Add("V*short\a", []byte("2"), "g", 2)

	fake.Advance(3 * time.Second)
	if got := repo.Expire(); got != 1 {
		t.Fatalf("Expire = %d, want 1 (the short entry)", got)
	}

	// After the sweep, headTime must equal the minimum remaining
	// expiry: another sweep before it passes removes nothing.
	fake.Advance(30 * time.Minute)
	if got := repo.Expire(); got != 0 {
		t.Fatalf("Expire = %d, want 0", got)
	}
	fake.Advance(31 * time.Minute)
	if got := repo.Expire(); got != 1 {
		t.Fatalf("Expire = %d, want 1 (the long entry)", got)
	}
}

func TestMakeKey(t *testing.T) {
	if got := makeKey(namespaceVariable, "name"); got != "V*name\a" {
		t.Errorf("makeKey = %q", got)
	}
	if got := makeKey(namespaceCommand, "host", "root", "ls"); got != "C*host\aroot\als\a" {
		t.Errorf("makeKey = %q", got)
	}
}
