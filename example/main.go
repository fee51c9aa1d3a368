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

package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/bfix/ethweb"
)

// Link credentials and diagnostics port (set with -ldflags -X)
var (
	SSID   string
	Passwd string
	Port9P string // empty: no 9p diagnostics
)

// serve the fixed page on port 80, forever
func main() {
	// access device
	dev := ethweb.InitDevice()
	logger := dev.Logger()
	state := ethweb.NewStatus(dev)
	defer state.Trap(30 * time.Second)

	cfg := ethweb.DefaultNetConfig()
	cfg.SSID = SSID
	cfg.Passwd = Passwd

	var diagPort uint16
	if len(Port9P) > 0 {
		port, err := strconv.ParseUint(Port9P, 10, 16)
		if err != nil {
			state.Set(ethweb.StatPORT, 0)
			return
		}
		diagPort = uint16(port)
		cfg.TCPPorts++
	}

	// bring up the network (starts the stack runner)
	nw, stat := ethweb.SetupNetwork(dev, cfg)
	if stat != ethweb.StatOK {
		state.Set(stat, 0)
		return
	}
	lst, err := nw.Listen(ethweb.HTTPPort)
	if err != nil {
		logger.Error("listen failed", slog.String("err", err.Error()))
		state.Set(ethweb.StatLISTEN1, 0)
		return
	}
	hdlr := ethweb.NewHandler(logger, state)

	// optional read-only diagnostics via 9p
	if diagPort != 0 {
		dl, err := nw.Listen(diagPort)
		if err != nil {
			logger.Error("9p listen failed", slog.String("err", err.Error()))
			state.Set(ethweb.StatNS, 3)
		} else {
			ns := ethweb.NewDiagnostics(hdlr, state)
			go func() {
				err := ns.ServeListener(dl, logger)
				logger.Error("9p service stopped", slog.String("err", err.Error()))
				state.Set(ethweb.StatNS, 0)
			}()
		}
	}

	// never returns
	hdlr.Serve(context.Background(), ethweb.NewSocket(lst))

	// srv tcp!<host>!9fs diag
	// mount /srv/diag /n/diag
	// cat /n/diag/stats/served
}
