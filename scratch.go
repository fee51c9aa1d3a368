//----------------------------------------------------------------------
// This file is part of ethweb.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// ethweb is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// ethweb is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package ethweb

import "bytes"

// ScratchSize is the per-connection receive buffer capacity.
const ScratchSize = 1024

// Terminator marks the end of the request headers.
var Terminator = []byte("\r\n\r\n")

// Scratch is a fixed-capacity append cursor over the request bytes.
// Reads land at the current position; when the buffer fills up without a
// terminator, all but the last len(Terminator)-1 bytes are discarded so
// a terminator split across the boundary is still found.
type Scratch struct {
	buf     []byte
	pos     int // accumulated bytes
	dropped int // bytes discarded by the rolling window
}

// NewScratch allocates a scratch buffer of the given capacity (at least
// the terminator length).
func NewScratch(size int) *Scratch {
	size = max(size, len(Terminator))
	return &Scratch{buf: make([]byte, size)}
}

// Reset for a new connection.
func (s *Scratch) Reset() {
	s.pos = 0
	s.dropped = 0
}

// Free returns the unused tail of the buffer; never empty.
func (s *Scratch) Free() []byte {
	return s.buf[s.pos:]
}

// Commit n bytes just read into Free() and report whether the buffered
// content now contains the terminator. Only the region that can hold a
// new match is scanned.
func (s *Scratch) Commit(n int) bool {
	if n <= 0 {
		return false
	}
	n = min(n, len(s.buf)-s.pos)
	start := max(s.pos-(len(Terminator)-1), 0)
	s.pos += n
	if bytes.Contains(s.buf[start:s.pos], Terminator) {
		return true
	}
	if s.pos == len(s.buf) {
		keep := len(Terminator) - 1
		s.dropped += s.pos - keep
		copy(s.buf, s.buf[s.pos-keep:s.pos])
		s.pos = keep
	}
	return false
}

// Len of the buffered content.
func (s *Scratch) Len() int {
	return s.pos
}

// Bytes returns the buffered content (valid until the next Commit).
func (s *Scratch) Bytes() []byte {
	return s.buf[:s.pos]
}

// Dropped returns the number of bytes discarded since Reset.
func (s *Scratch) Dropped() int {
	return s.dropped
}
