// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package escalate

import (
	"os"
	"os/exec"
	"strings"
)

// Cookie is a snapshot of the caller's display and its X
// authentication entry, taken at session creation so the values the
// stub receives are the ones that were live when the user asked for
// the command.
type Cookie struct {
	display     string
	displayAuth string
}

// NewCookie captures DISPLAY (or WAYLAND_DISPLAY as fallback) and,
// for X11 displays, the xauth entry for that display.
func NewCookie() *Cookie {
	c := &Cookie{}

	c.display = os.Getenv("DISPLAY")
	if c.display == "" {
		// Maybe a Wayland session; no xauth there.
		c.display = os.Getenv("WAYLAND_DISPLAY")
		return c
	}

	disp := c.display
	if strings.HasPrefix(disp, "localhost:") {
		disp = strings.TrimPrefix(disp, "localhost")
	}

	output, err := exec.Command("xauth", "list", disp).Output()
	if err != nil {
		return c
	}
	line, _, _ := strings.Cut(string(output), "\n")
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return c
	}
	c.displayAuth = fields[1] + " " + fields[2]
	return c
}

// Display returns the captured display name.
func (c *Cookie) Display() string { return c.display }

// DisplayAuth returns the xauth entry, empty when there is none.
func (c *Cookie) DisplayAuth() string { return c.displayAuth }
