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

import "errors"

var errReadOnly = errors.New("write prohibited")

// File is a read-only content source: the served page and the entries
// of the diagnostics namespace.
type File interface {
	Read() ([]byte, error)
	Write([]byte) error
}

//----------------------------------------------------------------------

// NopFile has no content and rejects writes.
type NopFile struct{}

// Read returns no data.
func (f *NopFile) Read() (data []byte, err error) {
	return
}

// Write is prohibited.
func (f *NopFile) Write([]byte) error {
	return errReadOnly
}

//----------------------------------------------------------------------

// TextFile with static content.
type TextFile struct {
	NopFile
	body []byte
}

// NewTextFile with given content.
func NewTextFile(content string) *TextFile {
	return &TextFile{
		body: []byte(content),
	}
}

// Read returns the content; the returned slice must not be modified.
func (f *TextFile) Read() ([]byte, error) {
	return f.body, nil
}

//----------------------------------------------------------------------

// FuncFile with content computed on every read.
type FuncFile struct {
	NopFile
	fcn func() ([]byte, error)
}

// NewFuncFile with given content function.
func NewFuncFile(fcn func() ([]byte, error)) *FuncFile {
	return &FuncFile{
		fcn: fcn,
	}
}

// Read calls the content function.
func (f *FuncFile) Read() ([]byte, error) {
	return f.fcn()
}
