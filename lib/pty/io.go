// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pty

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// readChunk bounds a single read from the master.
const readChunk = 32 * 1024

// ReadAll returns all available output. Pushed-back input is drained
// first; if any was present the fd read does not block regardless of
// block. Reads are restarted across EINTR. A nil return means nothing
// was available (or the fd has reached EOF).
func (p *Process) ReadAll(block bool) []byte {
	var ret []byte
	if len(p.inputBuffer) > 0 {
		// Something was pushed back; do not block, but still pick
		// up whatever else the fd has.
		ret = p.inputBuffer
		p.inputBuffer = nil
		block = false
	}
	if p.master == nil {
		return ret
	}

	fd := int(p.master.Fd())
	if err := unix.SetNonblock(fd, !block); err != nil {
		// The child may have closed its side already.
		return ret
	}

	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			break
		}
		ret = append(ret, buf[:n]...)
		break
	}
	return ret
}

// ReadLine returns one line of output with the trailing newline
// stripped. If the available data contains no newline, the partial
// segment is returned as-is; a second read is never attempted. A nil
// return means no output was available.
func (p *Process) ReadLine(block bool) []byte {
	p.inputBuffer = p.ReadAll(block)
	if len(p.inputBuffer) == 0 {
		p.inputBuffer = nil
		return nil
	}

	pos := bytes.IndexByte(p.inputBuffer, '\n')
	if pos == -1 {
		ret := p.inputBuffer
		p.inputBuffer = nil
		return ret
	}
	ret := p.inputBuffer[:pos:pos]
	p.inputBuffer = p.inputBuffer[pos+1:]
	return ret
}

// WriteLine writes line to the child's terminal, followed by a
// newline when addNewline is set.
func (p *Process) WriteLine(line []byte, addNewline bool) {
	fd := int(p.master.Fd())
	if len(line) > 0 {
		unix.Write(fd, line)
	}
	if addNewline {
		unix.Write(fd, []byte{'\n'})
	}
}

// UnreadLine puts a line back into the input buffer, ahead of
// anything already buffered.
func (p *Process) UnreadLine(line []byte, addNewline bool) {
	tmp := make([]byte, 0, len(line)+1+len(p.inputBuffer))
	tmp = append(tmp, line...)
	if addNewline {
		tmp = append(tmp, '\n')
	}
	if len(tmp) > 0 {
		p.inputBuffer = append(tmp, p.inputBuffer...)
	}
}
