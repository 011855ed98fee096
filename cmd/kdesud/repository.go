// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"sync"

	"github.com/bureau-foundation/kdesu/lib/clock"
	"github.com/bureau-foundation/kdesu/lib/secret"
)

// neverExpires is the expiry sentinel for entries stored with a zero
// timeout.
const neverExpires = ^uint64(0)

// keySep joins the components of a composite key; it is also the
// separator in GETK replies. It cannot occur unescaped in wire
// strings.
const keySep = '\007'

// entry is one stored credential or variable.
type entry struct {
	value  []byte
	group  []byte
	expiry uint64 // seconds since epoch; neverExpires means never
}

// Repository maps composite keys to secret entries with per-entry
// expiry and group tagging. headTime tracks the minimum expiry across
// live entries so Expire can short-circuit when nothing can have
// expired yet.
type Repository struct {
	mu       sync.Mutex
	entries  map[string]*entry
	headTime uint64
	clk      clock.Clock
}

// NewRepository returns an empty repository using clk for expiry.
func NewRepository(clk clock.Clock) *Repository {
	return &Repository{
		entries:  make(map[string]*entry),
		headTime: neverExpires,
		clk:      clk,
	}
}

func (r *Repository) now() uint64 {
	return uint64(r.clk.Now().Unix())
}

// Add stores value under key, replacing (and wiping) any previous
// entry. A zero timeout means the entry never expires.
func (r *Repository) Add(key string, value []byte, group string, timeout int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		r.removeLocked(key)
	}

	expiry := neverExpires
	if timeout != 0 {
		expiry = r.now() + uint64(timeout)
	}
	if expiry < r.headTime {
		r.headTime = expiry
	}
	r.entries[key] = &entry{
		value:  append([]byte(nil), value...),
		group:  []byte(group),
		expiry: expiry,
	}
}

// Remove wipes and erases the entry under key. Returns false when
// there is none.
func (r *Repository) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(key)
}

func (r *Repository) removeLocked(key string) bool {
	if key == "" {
		return false
	}
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	secret.Wipe(e.value)
	secret.Wipe(e.group)
	delete(r.entries, key)
	return true
}

// Find returns a copy of the value stored under key, or nil. Expired
// entries are never returned, even before Expire has swept them.
func (r *Repository) Find(key string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	if e.expiry != neverExpires && e.expiry <= r.now() {
		return nil
	}
	return append([]byte(nil), e.value...)
}

// HasGroup reports whether any entry carries the group tag.
func (r *Repository) HasGroup(group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group == "" {
		return false
	}
	for _, e := range r.entries {
		if string(e.group) == group {
			return true
		}
	}
	return false
}

// FindKeys returns the distinct keys tagged with group, stripped of
// the namespace prefix and trailing separator, joined with keySep.
func (r *Repository) FindKeys(group string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group == "" {
		return nil
	}
	var list []byte
	seen := make(map[string]bool)
	for key, e := range r.entries {
		if string(e.group) != group {
			continue
		}
		// Drop the trailing separator, then the two-byte namespace
		// prefix makeKey put in front.
		pos := strings.LastIndexByte(key, keySep)
		if pos < 0 {
			continue
		}
		stripped := key[:pos]
		if len(stripped) < 2 {
			continue
		}
		stripped = stripped[2:]
		if seen[stripped] {
			continue
		}
		seen[stripped] = true
		if len(list) > 0 {
			list = append(list, keySep)
		}
		list = append(list, stripped...)
	}
	return list
}

// RemoveGroup removes every entry tagged with group. Returns false
// when none was.
func (r *Repository) RemoveGroup(group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group == "" {
		return false
	}
	found := false
	for key, e := range r.entries {
		if string(e.group) == group {
			r.removeLocked(key)
			found = true
		}
	}
	return found
}

// RemoveSpecialKey removes every entry whose group tag is a prefix of
// key and whose stored key contains key as a substring — the subtree
// delete used to invalidate variables sharing a path.
func (r *Repository) RemoveSpecialKey(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == "" {
		return false
	}
	found := false
	for stored, e := range r.entries {
		if bytes.HasPrefix([]byte(key), e.group) && strings.Contains(stored, key) {
			r.removeLocked(stored)
			found = true
		}
	}
	return found
}

// Expire removes entries whose expiry has passed and returns how many
// were removed. When the current time is still before headTime the
// scan is skipped entirely.
func (r *Repository) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.now()
	if current < r.headTime {
		return 0
	}

	r.headTime = neverExpires
	removed := 0
	for key, e := range r.entries {
		if e.expiry <= current {
			r.removeLocked(key)
			removed++
			continue
		}
		if e.expiry < r.headTime {
			r.headTime = e.expiry
		}
	}
	return removed
}
