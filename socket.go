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

import (
	"io"
	"net"
	"time"
)

// Socket is the listening side owned by the connection handler.
type Socket interface {
	// Accept waits for the next peer.
	Accept() (Conn, error)
}

// Conn is an accepted TCP session.
type Conn interface {
	io.ReadWriter

	// Close shuts the session down gracefully (FIN, no more data).
	Close() error

	// Abort resets the session and frees the socket for reuse.
	Abort() error

	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// NewSocket wraps a stream listener.
func NewSocket(lst net.Listener) Socket {
	return &listenSocket{lst: lst}
}

type listenSocket struct {
	lst net.Listener
}

func (s *listenSocket) Accept() (Conn, error) {
	c, err := s.lst.Accept()
	if err != nil {
		return nil, err
	}
	return &streamConn{Conn: c}, nil
}

// optional capabilities of the wrapped connection
type (
	halfCloser interface{ CloseWrite() error }
	lingerer   interface{ SetLinger(sec int) error }
	resetter   interface{ Abort() error }
	flusher    interface{ FlushOutputBuffer() error }
)

// streamConn maps graceful close, flush and abort onto whatever the
// underlying connection offers.
type streamConn struct {
	net.Conn
	closed bool // fully closed by Close
}

// FlushOutputBuffer pushes buffered output onto the wire where the
// connection buffers writes; a no-op otherwise.
func (c *streamConn) FlushOutputBuffer() error {
	if f, ok := c.Conn.(flusher); ok {
		return f.FlushOutputBuffer()
	}
	return nil
}

// Close sends FIN. Connections without half-close are closed fully.
func (c *streamConn) Close() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	c.closed = true
	return c.Conn.Close()
}

// Abort discards pending state: connections from a reset listener use
// its reset, kernel sockets get a zero linger time so Close emits RST.
func (c *streamConn) Abort() error {
	if r, ok := c.Conn.(resetter); ok {
		return r.Abort()
	}
	if c.closed {
		return nil
	}
	c.closed = true
	if l, ok := c.Conn.(lingerer); ok {
		if err := l.SetLinger(0); err != nil {
			c.Conn.Close()
			return err
		}
	}
	return c.Conn.Close()
}

//----------------------------------------------------------------------

// WithReset wraps a listener whose connections have no reset primitive
// of their own: Abort on an accepted connection calls reset, which must
// drop all state of the listening port and re-arm it.
func WithReset(lst net.Listener, reset func() error) net.Listener {
	return &resetListener{Listener: lst, reset: reset}
}

type resetListener struct {
	net.Listener
	reset func() error
}

func (l *resetListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &resetConn{Conn: c, reset: l.reset}, nil
}

type resetConn struct {
	net.Conn
	reset func() error
}

func (c *resetConn) Abort() error {
	return c.reset()
}

func (c *resetConn) FlushOutputBuffer() error {
	if f, ok := c.Conn.(flusher); ok {
		return f.FlushOutputBuffer()
	}
	return nil
}
