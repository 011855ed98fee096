// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pty

import "strings"

// Variables that must not leak into the escalated child: the child
// runs outside the desktop session and cannot reach the caller's
// session manager or session bus.
var strippedVariables = []string{
	"KDE_FULL_SESSION",
	"SESSION_MANAGER",
	"DBUS_SESSION_BUS_ADDRESS",
}

// childEnv merges the additional delta entries over base and applies
// the unconditional edits: the session variables above are removed,
// and LC_ALL is pinned to C so the helper's password prompt is
// parseable. The previous LC_ALL value is carried in KDESU_LC_ALL for
// the stub to restore (the holder is removed when there was none).
func childEnv(base, delta []string) []string {
	merged := make([]string, 0, len(base)+len(delta)+2)
	index := make(map[string]int)

	set := func(entry string) {
		key := entry
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			key = entry[:eq]
		}
		if at, ok := index[key]; ok {
			merged[at] = entry
			return
		}
		index[key] = len(merged)
		merged = append(merged, entry)
	}
	unset := func(key string) {
		at, ok := index[key]
		if !ok {
			return
		}
		merged = append(merged[:at], merged[at+1:]...)
		delete(index, key)
		for k, i := range index {
			if i > at {
				index[k] = i - 1
			}
		}
	}
	get := func(key string) string {
		if at, ok := index[key]; ok {
			return merged[at][len(key)+1:]
		}
		return ""
	}

	for _, entry := range base {
		set(entry)
	}
	for _, entry := range delta {
		set(entry)
	}

	for _, key := range strippedVariables {
		unset(key)
	}

	if lcAll := get("LC_ALL"); lcAll != "" {
		set("KDESU_LC_ALL=" + lcAll)
	} else {
		unset("KDESU_LC_ALL")
	}
	set("LC_ALL=C")

	return merged
}
