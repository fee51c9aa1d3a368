//go:build !rp2350

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
	"log/slog"
	"net"
	"os"
	"strconv"
)

// LinuxDevice (for testing purposes)
type LinuxDevice struct {
	logger *slog.Logger
}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Logger writes to stderr.
func (dev *LinuxDevice) Logger() *slog.Logger {
	return dev.logger
}

// Initialize device
func InitDevice() Device {
	return &LinuxDevice{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// SetupNetwork uses the host network stack; the static address in the
// configuration is informational only (the kernel owns the interface).
func SetupNetwork(dev Device, cfg NetConfig) (nw Network, state int) {
	if _, ok := dev.(*LinuxDevice); !ok {
		return nil, StatDEV
	}
	if !cfg.Addr.IsValid() {
		return nil, StatIP
	}
	dev.Logger().Info("using host network stack",
		slog.String("addr", cfg.Addr.String()),
		slog.String("gateway", cfg.Gateway.String()),
	)
	return new(hostNetwork), StatOK
}

// hostNetwork listens on kernel TCP sockets.
type hostNetwork struct {
	host string // bind address ("" = any)
}

// Listen returns a TCP listener on the given port.
func (hn *hostNetwork) Listen(port uint16) (net.Listener, error) {
	ctx := context.Background()
	cfg := new(net.ListenConfig)
	return cfg.Listen(ctx, "tcp", net.JoinHostPort(hn.host, strconv.Itoa(int(port))))
}
