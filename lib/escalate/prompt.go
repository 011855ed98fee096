// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package escalate

import "bytes"

// isPasswordPrompt classifies a line of helper output. A line is a
// password prompt iff it contains exactly one ':' and every character
// after that colon is whitespace — i.e. the colon is the last thing
// the helper printed before it stopped to wait for input.
func isPasswordPrompt(line []byte) bool {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return false
	}
	if bytes.IndexByte(line[colon+1:], ':') >= 0 {
		return false
	}
	return len(bytes.TrimSpace(line[colon+1:])) == 0
}
