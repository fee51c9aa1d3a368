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
	"log/slog"
	"net"
	"net/netip"
)

// Fixed socket buffer sizes (bytes)
const (
	RxBufSize = 1024
	TxBufSize = 1024
)

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Logger for device and network messages
	Logger() *slog.Logger
}

// Network is a running network stack that hands out listening sockets.
type Network interface {
	// Listen on the given TCP port (any local address). The listener
	// holds at most one connection with fixed Rx/Tx buffers.
	Listen(port uint16) (net.Listener, error)
}

// NetConfig is the static IPv4 configuration of the interface.
type NetConfig struct {
	Hostname string
	Addr     netip.Prefix // local address and prefix length
	Gateway  netip.Addr   // default gateway (no DNS, no DHCP)
	TCPPorts uint16       // number of listening sockets to provision

	// link credentials (if applicable)
	SSID   string
	Passwd string
}

// DefaultNetConfig returns the compiled-in network configuration.
func DefaultNetConfig() NetConfig {
	return NetConfig{
		Hostname: "ethweb",
		Addr:     netip.MustParsePrefix("192.168.31.69/24"),
		Gateway:  netip.MustParseAddr("192.168.31.5"),
		TCPPorts: 1,
	}
}

// nopLogger returns a logger that drops everything.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(127),
	}))
}
