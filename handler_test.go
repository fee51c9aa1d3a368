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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"
)

// recorder logs socket operations and delays in call order.
type recorder struct {
	ops []string
}

func (r *recorder) add(op string) {
	r.ops = append(r.ops, op)
}

type chunk struct {
	data string
	err  error
}

// flushConn buffers output until flushed.
type flushConn struct {
	*fakeConn
	flushErr error
}

func (c *flushConn) FlushOutputBuffer() error {
	c.rec.add("flush")
	return c.flushErr
}

// fakeConn replays scripted reads; reads past the script report EOF.
type fakeConn struct {
	rec         *recorder
	reads       []chunk
	writeErr    error
	deadlineErr error
	written     bytes.Buffer
	deadlines   int
	aborted     bool
}

func (c *fakeConn) Read(b []byte) (int, error) {
	c.rec.add("read")
	if len(c.reads) == 0 {
		return 0, io.EOF
	}
	ch := c.reads[0]
	n := copy(b, ch.data)
	if n < len(ch.data) {
		c.reads[0].data = ch.data[n:]
		return n, nil
	}
	c.reads = c.reads[1:]
	return n, ch.err
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.rec.add("write")
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(b)
}

func (c *fakeConn) Close() error {
	c.rec.add("close")
	return nil
}

func (c *fakeConn) Abort() error {
	c.rec.add("abort")
	c.aborted = true
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error {
	c.deadlines++
	return c.deadlineErr
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 31, 1), Port: 40000}
}

type acceptResult struct {
	conn *fakeConn
	wrap Conn // handed out instead of conn if set
	err  error
}

// fakeSocket hands out scripted connections and cancels the handler once
// the script is exhausted.
type fakeSocket struct {
	t      *testing.T
	rec    *recorder
	script []acceptResult
	cancel context.CancelFunc
	active *fakeConn
}

var errExhausted = errors.New("script exhausted")

func (s *fakeSocket) Accept() (Conn, error) {
	s.rec.add("accept")
	if s.active != nil && !s.active.aborted {
		s.t.Error("accept issued while a connection is still active")
	}
	if len(s.script) == 0 {
		s.cancel()
		return nil, errExhausted
	}
	r := s.script[0]
	s.script = s.script[1:]
	if r.err != nil {
		return nil, r.err
	}
	s.active = r.conn
	if r.wrap != nil {
		return r.wrap, nil
	}
	return r.conn, nil
}

func newTestHandler(rec *recorder) *Handler {
	h := NewHandler(nil, nil)
	h.sleep = func(_ context.Context, d time.Duration) {
		rec.add("delay " + d.String())
	}
	return h
}

// run serves the script to completion and returns the recorded ops
// without the trailing exhaustion accept.
func run(t *testing.T, h *Handler, rec *recorder, script ...acceptResult) []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sock := &fakeSocket{t: t, rec: rec, script: script, cancel: cancel}
	if err := h.Serve(ctx, sock); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v", err)
	}
	ops := rec.ops
	tail := []string{"accept", "delay 100ms"}
	if len(ops) < 2 || !reflect.DeepEqual(ops[len(ops)-2:], tail) {
		t.Fatalf("unexpected tail: %v", ops)
	}
	return ops[:len(ops)-2]
}

func conn(rec *recorder, reads ...chunk) *fakeConn {
	return &fakeConn{rec: rec, reads: reads}
}

func TestHandlerCloseOrdering(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: "GET / HTTP/1.1\r\n\r\n"})
	ops := run(t, h, rec, acceptResult{conn: c})
	want := []string{"accept", "read", "write", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if c.written.String() != Page {
		t.Fatalf("response = %q", c.written.String())
	}
	if h.Stats.Accepted.Load() != 1 || h.Stats.Served.Load() != 1 {
		t.Errorf("stats: accepted %d served %d", h.Stats.Accepted.Load(), h.Stats.Served.Load())
	}
}

func TestHandlerTerminatorAcrossReads(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec,
		chunk{data: "GET / HTTP/1.1\r\n"},
		chunk{data: "Host: 192.168.31.69\r"},
		chunk{data: "\n\r"},
		chunk{data: "\n"},
		chunk{data: "never read"},
	)
	ops := run(t, h, rec, acceptResult{conn: c})
	want := []string{"accept", "read", "read", "read", "read", "write", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if h.Stats.EOFs.Load() != 0 {
		t.Error("terminator counted as EOF")
	}
}

func TestHandlerEOFStillResponds(t *testing.T) {
	tests := []struct {
		name  string
		reads []chunk
		want  int // number of reads
	}{
		{"immediate EOF", nil, 1},
		{"partial request", []chunk{{data: "GET / HTTP/1.0\r\n"}}, 2},
		{"data with EOF", []chunk{{data: "GET", err: io.EOF}}, 1},
		{"zero read", []chunk{{data: "GET"}, {data: ""}}, 2},
		{"closed pipe", []chunk{{data: "GET / HTTP/1.0\r\n"}, {err: net.ErrClosed}}, 2},
		{"wrapped closed pipe", []chunk{{err: fmt.Errorf("read: %w", net.ErrClosed)}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := new(recorder)
			h := newTestHandler(rec)
			c := conn(rec, tt.reads...)
			ops := run(t, h, rec, acceptResult{conn: c})
			if n := strings.Count(strings.Join(ops, " "), "read"); n != tt.want {
				t.Errorf("reads = %d, want %d (%v)", n, tt.want, ops)
			}
			if c.written.String() != Page {
				t.Errorf("no response after EOF")
			}
			if h.Stats.EOFs.Load() != 1 {
				t.Errorf("EOFs = %d", h.Stats.EOFs.Load())
			}
		})
	}
}

func TestHandlerTerminatorWithEOF(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: "GET /\r\n\r\n", err: io.EOF})
	run(t, h, rec, acceptResult{conn: c})
	if h.Stats.EOFs.Load() != 0 {
		t.Error("terminator in final segment counted as EOF")
	}
	if c.written.String() != Page {
		t.Error("no response")
	}
}

func TestHandlerResponseInvariance(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c1 := conn(rec, chunk{data: "GET / HTTP/1.1\r\n\r\n"})
	c2 := conn(rec, chunk{data: "garbage\r\n\r\n"})
	c3 := conn(rec, chunk{data: "\x00\xff\x01"})
	run(t, h, rec, acceptResult{conn: c1}, acceptResult{conn: c2}, acceptResult{conn: c3})
	if !bytes.Equal(c1.written.Bytes(), c2.written.Bytes()) || !bytes.Equal(c2.written.Bytes(), c3.written.Bytes()) {
		t.Fatalf("responses differ:\n%q\n%q\n%q", c1.written.String(), c2.written.String(), c3.written.String())
	}
	if h.Stats.Served.Load() != 3 {
		t.Errorf("served = %d", h.Stats.Served.Load())
	}
}

func TestHandlerReadError(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec,
		chunk{data: "GET", err: errors.New("connection reset")},
		chunk{data: "\r\n\r\n"},
	)
	ops := run(t, h, rec, acceptResult{conn: c})
	want := []string{"accept", "read", "write", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if h.Stats.ReadErrors.Load() != 1 {
		t.Errorf("read errors = %d", h.Stats.ReadErrors.Load())
	}
}

func TestHandlerWriteFailure(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: "\r\n\r\n"})
	c.writeErr = errors.New("broken pipe")
	ops := run(t, h, rec, acceptResult{conn: c})
	want := []string{"accept", "read", "write", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if h.Stats.WriteErrors.Load() != 1 || h.Stats.Served.Load() != 0 {
		t.Errorf("write errors %d served %d", h.Stats.WriteErrors.Load(), h.Stats.Served.Load())
	}
}

func TestHandlerAcceptFailure(t *testing.T) {
	rec := new(recorder)
	state := NewStatus(new(nopDevice))
	h := newTestHandler(rec)
	h.Status = state
	c := conn(rec, chunk{data: "\r\n\r\n"})
	ops := run(t, h, rec,
		acceptResult{err: errors.New("no buffers")},
		acceptResult{err: errors.New("no buffers")},
		acceptResult{conn: c},
	)
	want := []string{
		"accept", "delay 100ms",
		"accept", "delay 100ms",
		"accept", "read", "write", "close", "delay 1s", "abort", "delay 1s",
	}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	// two scripted failures plus the one ending the test
	if h.Stats.AcceptErrors.Load() != 3 {
		t.Errorf("accept errors = %d", h.Stats.AcceptErrors.Load())
	}
	if h.Stats.Accepted.Load() != 1 || h.Stats.Served.Load() != 1 {
		t.Error("connection after accept failure not served")
	}
	if s, _ := state.Get(); s != StatACCEPT {
		t.Errorf("status = %d, want %d", s, StatACCEPT)
	}
}

func TestHandlerSequential(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	var script []acceptResult
	for range 5 {
		script = append(script, acceptResult{conn: conn(rec, chunk{data: "GET /\r\n\r\n"})})
	}
	ops := run(t, h, rec, script...)
	// every accept after the first is preceded by the abort delay
	for i, op := range ops {
		if op == "accept" && i > 0 && (ops[i-2] != "abort" || ops[i-1] != "delay 1s") {
			t.Fatalf("accept at %d not preceded by abort: %v", i, ops[:i+1])
		}
	}
	if h.Stats.Served.Load() != 5 {
		t.Errorf("served = %d", h.Stats.Served.Load())
	}
}

func TestHandlerStates(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	var states []string
	h.OnState = func(s State) {
		states = append(states, s.String())
	}
	run(t, h, rec, acceptResult{conn: conn(rec, chunk{data: "\r\n\r\n"})})
	want := []string{"idle", "accepting", "reading", "responding", "closing", "aborting", "idle", "accepting"}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states = %v\nwant %v", states, want)
	}
	if State(42).String() != "unknown" {
		t.Error("out of range state name")
	}
}

func TestHandlerOverflow(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: strings.Repeat("x", 3*ScratchSize) + "\r\n\r\n"})
	run(t, h, rec, acceptResult{conn: c})
	if h.Stats.Overflows.Load() != 1 {
		t.Errorf("overflows = %d", h.Stats.Overflows.Load())
	}
	if h.Stats.Served.Load() != 1 || h.Stats.EOFs.Load() != 0 {
		t.Error("oversized request not answered on terminator")
	}
}

func TestHandlerReadTimeout(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: "GET"}, chunk{data: "\r\n\r\n"})
	run(t, h, rec, acceptResult{conn: c})
	if c.deadlines != 0 {
		t.Fatalf("deadline set without timeout")
	}

	rec = new(recorder)
	h = newTestHandler(rec)
	h.ReadTimeout = 5 * time.Second
	c = conn(rec, chunk{data: "GET"}, chunk{data: "\r\n\r\n"})
	run(t, h, rec, acceptResult{conn: c})
	if c.deadlines != 2 {
		t.Fatalf("deadlines = %d, want 2", c.deadlines)
	}
}

func TestHandlerContentError(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	h.Content = NewFuncFile(func() ([]byte, error) {
		return nil, errors.New("no content")
	})
	ops := run(t, h, rec, acceptResult{conn: conn(rec, chunk{data: "\r\n\r\n"})})
	want := []string{"accept", "read", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if h.Stats.WriteErrors.Load() != 1 {
		t.Error("content error not counted")
	}
}

func TestPageBytes(t *testing.T) {
	if !strings.HasPrefix(Page, "HTTP/1.0 200 OK\r\n\r\n<html>") {
		t.Fatal("bad status line")
	}
	if !strings.Contains(Page, "<h1>Hello Rust! Hello STM32!</h1>") {
		t.Fatal("bad body")
	}
	if !strings.HasSuffix(Page, "</html>\r\n") {
		t.Fatal("bad trailer")
	}
	if strings.Contains(Page, "Content-") {
		t.Fatal("unexpected headers")
	}
}

func TestHandlerFlushOrdering(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: "\r\n\r\n"})
	ops := run(t, h, rec, acceptResult{conn: c, wrap: &flushConn{fakeConn: c}})
	want := []string{"accept", "read", "write", "flush", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if h.Stats.Served.Load() != 1 {
		t.Errorf("served = %d", h.Stats.Served.Load())
	}
}

func TestHandlerFlushFailure(t *testing.T) {
	rec := new(recorder)
	h := newTestHandler(rec)
	c := conn(rec, chunk{data: "\r\n\r\n"})
	fc := &flushConn{fakeConn: c, flushErr: errors.New("tx timeout")}
	ops := run(t, h, rec, acceptResult{conn: c, wrap: fc})
	want := []string{"accept", "read", "write", "flush", "close", "delay 1s", "abort", "delay 1s"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v\nwant %v", ops, want)
	}
	if h.Stats.WriteErrors.Load() != 1 || h.Stats.Served.Load() != 0 {
		t.Errorf("write errors %d served %d", h.Stats.WriteErrors.Load(), h.Stats.Served.Load())
	}
}

func TestHandlerDeadlineError(t *testing.T) {
	rec := new(recorder)
	var logs bytes.Buffer
	h := newTestHandler(rec)
	h.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	h.ReadTimeout = time.Second
	c := conn(rec, chunk{data: "\r\n\r\n"})
	c.deadlineErr = errors.New("not supported")
	run(t, h, rec, acceptResult{conn: c})
	if !strings.Contains(logs.String(), "level=WARN msg=\"read deadline\"") {
		t.Fatalf("deadline error not logged:\n%s", logs.String())
	}
	if h.Stats.Served.Load() != 1 {
		t.Error("request not served after deadline error")
	}
}
