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

// HTTPPort is the listening port of the page server.
const HTTPPort = 80

// Page is the complete response sent on every connection: status line,
// empty header block and HTML body (no Content-Length, no Content-Type).
const Page = "HTTP/1.0 200 OK\r\n\r\n" +
	"<html>" +
	"<body>" +
	"<h1>Hello Rust! Hello STM32!</h1>" +
	"<h2>This is my first time ever using ethernet on STM32<h2>" +
	"</body>" +
	"</html>\r\n"

// NewPage returns the served content.
func NewPage() File {
	return NewTextFile(Page)
}
