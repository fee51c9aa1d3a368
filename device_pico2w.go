//go:build rp2350

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
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/stacks"
)

const mtu = cyw43439.MTU

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref    *cyw43439.Device // reference to device
	logger *slog.Logger
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Logger writes to the serial console.
func (dev *Pico2WDevice) Logger() *slog.Logger {
	return dev.logger
}

// Initialize device
func InitDevice() Device {
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	dev.logger = slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelDebug - 1}))
	return dev
}

// SetupNetwork joins the link, builds the packet stack with the static
// address and starts the stack runner. The returned status is StatOK on
// success; any other value means no network service is possible.
func SetupNetwork(dev Device, cfg NetConfig) (nw Network, state int) {
	d, ok := dev.(*Pico2WDevice)
	if !ok {
		return nil, StatDEV
	}
	if !cfg.Addr.IsValid() || !cfg.Addr.Addr().Is4() {
		return nil, StatIP
	}
	logger := d.logger
	time.Sleep(2 * time.Second)

	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = logger
	logger.Info("initializing pico W device...")
	devInitTime := time.Now()
	err := d.ref.Init(wificfg)
	if err != nil {
		return nil, StatWIFI
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))
	if len(cfg.Passwd) == 0 {
		logger.Info("joining open network:", slog.String("ssid", cfg.SSID))
	} else {
		logger.Info("joining WPA secure network", slog.String("ssid", cfg.SSID), slog.Int("passlen", len(cfg.Passwd)))
	}
	for range 5 {
		if err = d.ref.JoinWPA2(cfg.SSID, cfg.Passwd); err == nil {
			break
		}
		logger.Error("wifi join failed", slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return nil, StatWPA2
	}
	mac, _ := d.ref.HardwareAddr6()
	logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsTCP: int(cfg.TCPPorts),
		MTU:             mtu,
		Logger:          logger,
	})
	d.ref.RecvEthHandle(stack.RecvEth)

	// the runner must be scheduled before any socket operation is issued
	runner := &Runner{
		Link:   d.ref,
		Stack:  stack,
		MTU:    int(mtu),
		Logger: logger,
	}
	go runner.Run(context.Background())

	// static configuration is effective immediately
	stack.SetAddr(cfg.Addr.Addr())
	logger.Info("static address assigned",
		slog.String("ourIP", cfg.Addr.String()),
		slog.String("gateway", cfg.Gateway.String()),
	)
	if cfg.Gateway.IsValid() {
		if hw, err := ResolveHardwareAddr(stack, cfg.Gateway); err != nil {
			logger.Warn("gateway not resolved", slog.String("err", err.Error()))
		} else {
			logger.Info("gateway resolved", slog.String("mac", net.HardwareAddr(hw[:]).String()))
		}
	}
	return &picoNetwork{stack: stack}, StatOK
}

// picoNetwork hands out listeners on the userspace stack.
type picoNetwork struct {
	stack *stacks.PortStack
}

// Listen returns a single-connection TCP listener on the given port.
// Stack connections cannot be reset one by one: Abort closes every
// connection on the port and starts listening again.
func (pn *picoNetwork) Listen(port uint16) (net.Listener, error) {
	listener, err := stacks.NewTCPListener(pn.stack, stacks.TCPListenerConfig{
		MaxConnections: 1,
		ConnTxBufSize:  TxBufSize,
		ConnRxBufSize:  RxBufSize,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	reset := func() error {
		err := pn.stack.CloseTCP(port)
		if lerr := listener.StartListening(port); lerr != nil {
			return lerr
		}
		return err
	}
	return WithReset(listener, reset), nil
}

// ResolveHardwareAddr obtains the hardware address of the given IP address.
func ResolveHardwareAddr(stack *stacks.PortStack, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := stack.ARP()
	arpc.Abort() // Remove any previous ARP requests.
	err := arpc.BeginResolve(ip)
	if err != nil {
		return [6]byte{}, err
	}
	time.Sleep(4 * time.Millisecond)
	// ARP exchanges should be fast, don't wait too long for them.
	const timeout = time.Second
	const maxretries = 20
	retries := maxretries
	for !arpc.IsDone() && retries > 0 {
		retries--
		if retries == 0 {
			return [6]byte{}, errors.New("arp timed out")
		}
		time.Sleep(timeout / maxretries)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}
