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
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Error codes
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
)

//----------------------------------------------------------------------

// Entry in the namespace (file or directory)
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true for directories.
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Read file content.
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

// NewFile creates a file entry backed by impl.
func NewFile(name, user, group string, perm uint32, impl File) *Entry {
	return newEntry(name, user, group, perm, impl)
}

// NewDir creates an empty directory entry.
func NewDir(name, user, group string, perm uint32) *Entry {
	return newEntry(name, user, group, perm, nil)
}

func newEntry(name, user, group string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  user,
		Gid:  group,
		Muid: user,
	}
	return e
}

//----------------------------------------------------------------------

// Namespace is a read-only 9p filesystem.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextId      uint64
}

// NewNamespace with an empty root directory.
func NewNamespace(user, group string, perm uint32) *Namespace {
	ns := new(Namespace)
	ns.dict = make(map[uint64]*Entry)
	e := NewDir("/", user, group, perm)
	ns.register(e)
	return ns
}

// register assigns the next Qid path; the root gets 0.
func (ns *Namespace) register(e *Entry) {
	e.ref.Path = ns.nextId
	ns.nextId++
	ns.dict[e.ref.Path] = e
}

// Root directory
func (ns *Namespace) Root() *Entry {
	return ns.dict[0]
}

// Get the entry for an absolute path.
func (ns *Namespace) Get(path string) (*Entry, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.Root()
	for _, label := range strings.Split(path[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if curr.children == nil {
			return nil, errNoDir
		}
		qid := ns.Walk(&curr.ref.Qid, label)
		if qid == nil {
			return nil, errNoFile
		}
		curr = ns.dict[qid.Path]
	}
	return curr, nil
}

// AddChild to a directory.
func (ns *Namespace) AddChild(parent, child *Entry) error {
	if parent.children == nil {
		return errNoDir
	}
	ns.register(child)
	parent.children[child.ref.Name] = child
	return nil
}

// ServeListener accepts 9p sessions until the listener fails.
func (ns *Namespace) ServeListener(lst net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = nopLogger()
	}
	for {
		c, err := lst.Accept()
		if err != nil {
			return err
		}
		logger.Info("9p session", slog.String("remote", c.RemoteAddr().String()))
		srv := ninep.NewSrv(func() ninep.FS { return ns })
		go func() {
			defer c.Close()
			srv.ServeIO(c, c)
		}()
	}
}

//----------------------------------------------------------------------
// 9p handlers
//----------------------------------------------------------------------

// Attach returns the root Qid.
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.dict[0]; ok {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to a named child.
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.dict[cur.Path]
	if !ok || e.children == nil {
		return nil
	}
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open any entry.
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read directory listing or file content.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		var kids []ninep.Dir
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Stat an entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}

//----------------------------------------------------------------------

// NewDiagnostics builds the namespace exposing the served page, the
// handler counters and the current status code:
//
//	/index.html
//	/status
//	/stats/{accepted,served,eof,overflow,errors}
func NewDiagnostics(h *Handler, state *Status) *Namespace {
	ns := NewNamespace("sys", "sys", 0555)
	root := ns.Root()
	ns.AddChild(root, NewFile("index.html", "sys", "sys", 0444, h.Content))
	ns.AddChild(root, NewFile("status", "sys", "sys", 0444, NewFuncFile(
		func() ([]byte, error) {
			if state == nil {
				return []byte("-\n"), nil
			}
			s, n := state.Get()
			return []byte(strconv.Itoa(s) + " " + strconv.Itoa(n) + "\n"), nil
		},
	)))
	dir := NewDir("stats", "sys", "sys", 0555)
	ns.AddChild(root, dir)
	counter := func(name string, val func() uint64) {
		ns.AddChild(dir, NewFile(name, "sys", "sys", 0444, NewFuncFile(
			func() ([]byte, error) {
				return append(strconv.AppendUint(nil, val(), 10), '\n'), nil
			},
		)))
	}
	counter("accepted", h.Stats.Accepted.Load)
	counter("served", h.Stats.Served.Load)
	counter("eof", h.Stats.EOFs.Load)
	counter("overflow", h.Stats.Overflows.Load)
	counter("errors", h.Stats.Errors)
	return ns
}
