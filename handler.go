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
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Handler defaults
const (
	DefaultGrace       = time.Second            // close->abort and abort->accept
	DefaultAcceptRetry = 100 * time.Millisecond // pause after a failed accept
)

// State of the connection handler
type State int

// Handler states, in processing order
const (
	StateIdle State = iota
	StateAccepting
	StateReading
	StateResponding
	StateClosing
	StateAborting
)

var stateNames = [...]string{"idle", "accepting", "reading", "responding", "closing", "aborting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ReadResult tells why reading a request stopped.
type ReadResult int

// Read results
const (
	ReadTerminator ReadResult = iota // header terminator seen
	ReadEOF                          // peer closed its side
	ReadFailed                       // transport error
)

// Stats are the handler counters; safe for concurrent reads.
type Stats struct {
	Accepted     atomic.Uint64
	Served       atomic.Uint64 // responses written completely
	EOFs         atomic.Uint64 // requests ended by peer EOF
	Overflows    atomic.Uint64 // requests that filled the scratch buffer
	AcceptErrors atomic.Uint64
	ReadErrors   atomic.Uint64
	WriteErrors  atomic.Uint64
}

// Errors returns the total number of absorbed errors.
func (st *Stats) Errors() uint64 {
	return st.AcceptErrors.Load() + st.ReadErrors.Load() + st.WriteErrors.Load()
}

// Handler serves the fixed page, one connection at a time:
// accept, read until terminator (or EOF/error), respond, close gracefully,
// wait, abort, wait, repeat. All connection errors are logged and absorbed.
type Handler struct {
	Content     File          // response bytes
	Grace       time.Duration // delay after close and after abort
	AcceptRetry time.Duration // delay after a failed accept
	ReadTimeout time.Duration // per-read idle timeout (0 = wait forever)
	Logger      *slog.Logger
	Status      *Status     // error blink codes (optional)
	OnState     func(State) // state trace (optional)
	Stats       Stats

	scratch *Scratch
	sleep   func(ctx context.Context, d time.Duration)
}

// NewHandler returns a handler for the fixed page with default timing.
func NewHandler(logger *slog.Logger, state *Status) *Handler {
	if logger == nil {
		logger = nopLogger()
	}
	return &Handler{
		Content:     NewPage(),
		Grace:       DefaultGrace,
		AcceptRetry: DefaultAcceptRetry,
		Logger:      logger,
		Status:      state,
		scratch:     NewScratch(ScratchSize),
		sleep:       sleep,
	}
}

// Serve connections on the socket. Only returns when ctx is done.
func (h *Handler) Serve(ctx context.Context, sock Socket) error {
	if h.Logger == nil {
		h.Logger = nopLogger()
	}
	if h.scratch == nil {
		h.scratch = NewScratch(ScratchSize)
	}
	if h.sleep == nil {
		h.sleep = sleep
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.serveOne(ctx, sock)
	}
}

// serveOne runs a single pass of the state machine. The connection is
// always closed and aborted once accepted, whatever happened in between.
func (h *Handler) serveOne(ctx context.Context, sock Socket) {
	h.enter(StateIdle)
	h.Logger.Info("waiting for connections")

	h.enter(StateAccepting)
	conn, err := sock.Accept()
	if err != nil {
		h.Stats.AcceptErrors.Add(1)
		h.Logger.Error("accept failed", slog.String("err", err.Error()))
		h.Status.Set(StatACCEPT, 3)
		h.sleep(ctx, h.AcceptRetry)
		return
	}
	h.Stats.Accepted.Add(1)
	logger := h.Logger
	if addr := conn.RemoteAddr(); addr != nil {
		logger = logger.With(slog.String("remote", addr.String()))
	}
	logger.Info("connected")

	h.enter(StateReading)
	switch h.readRequest(conn, logger) {
	case ReadEOF:
		h.Stats.EOFs.Add(1)
	case ReadFailed:
		h.Stats.ReadErrors.Add(1)
		h.Status.Set(StatREAD, 3)
	}

	h.enter(StateResponding)
	if err := h.respond(conn); err != nil {
		h.Stats.WriteErrors.Add(1)
		logger.Error("write error", slog.String("err", err.Error()))
		h.Status.Set(StatWRITE, 3)
	} else {
		h.Stats.Served.Add(1)
	}

	h.enter(StateClosing)
	logger.Debug("closing")
	if err := conn.Close(); err != nil {
		logger.Warn("close error", slog.String("err", err.Error()))
	}
	h.sleep(ctx, h.Grace)

	h.enter(StateAborting)
	logger.Debug("aborting")
	if err := conn.Abort(); err != nil {
		logger.Warn("abort error", slog.String("err", err.Error()))
	}
	h.sleep(ctx, h.Grace)
}

// readRequest reads into the scratch buffer until the terminator shows
// up, the peer closes or the transport fails. Reads are never retried.
func (h *Handler) readRequest(conn Conn, logger *slog.Logger) ReadResult {
	h.scratch.Reset()
	full := false
	for {
		if h.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(h.ReadTimeout)); err != nil {
				logger.Warn("read deadline", slog.String("err", err.Error()))
			}
		}
		n, err := conn.Read(h.scratch.Free())
		if n > 0 {
			found := h.scratch.Commit(n)
			if !full && h.scratch.Dropped() > 0 {
				full = true
				h.Stats.Overflows.Add(1)
				logger.Warn("receive buffer full", slog.Int("size", ScratchSize))
			}
			if found {
				logger.Info("request complete", slog.Int("len", h.scratch.Len()+h.scratch.Dropped()))
				logger.Debug("request", slog.String("data", string(h.scratch.Bytes())))
				return ReadTerminator
			}
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), err == nil && n == 0:
			// the userspace stack reports a peer FIN as a closed pipe
			logger.Info("read EOF")
			return ReadEOF
		case err != nil:
			logger.Error("read error", slog.String("err", err.Error()))
			return ReadFailed
		}
	}
}

// respond writes the complete response and flushes it where the
// connection buffers output.
func (h *Handler) respond(conn Conn) error {
	data, err := h.Content.Read()
	if err != nil {
		return err
	}
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	if f, ok := conn.(flusher); ok {
		return f.FlushOutputBuffer()
	}
	return nil
}

func (h *Handler) enter(s State) {
	if h.OnState != nil {
		h.OnState(s)
	}
}

// sleep for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
