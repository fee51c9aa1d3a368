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
	"time"
)

// Runner queue parameters
const (
	QueueSize  = 4    // number of egress frames queued before sending
	MaxRetries = 3    // failed sends before an egress frame is dropped
	DefaultMTU = 1500 // frame buffer size
)

// DefaultIdle is the pause when neither ingress nor egress has work.
const DefaultIdle = 51 * time.Millisecond

// Link is the frame-level side of a network device. Ingress frames are
// delivered to the stack by a receive handler registered on the device;
// PollOne drives that delivery.
type Link interface {
	PollOne() (bool, error)
	SendEth(frame []byte) error
}

// PacketHandler is the stack side: HandleEth writes the next pending
// egress frame into dst and returns its length (0 = nothing pending).
type PacketHandler interface {
	HandleEth(dst []byte) (int, error)
}

// Runner drives the packet stack: it shuffles frames between link and
// stack so that socket operations on the stack can complete. It is the
// only component that touches the link after setup.
type Runner struct {
	Link   Link
	Stack  PacketHandler
	MTU    int           // frame buffer size (DefaultMTU if zero)
	Idle   time.Duration // stall pause (DefaultIdle if zero)
	Logger *slog.Logger
}

// Run the stack forever. It only returns when ctx is cancelled; the
// firmware passes a context that never is.
func (r *Runner) Run(ctx context.Context) {
	size := r.MTU
	if size <= 0 {
		size = DefaultMTU
	}
	idle := r.Idle
	if idle <= 0 {
		idle = DefaultIdle
	}
	logger := r.Logger
	if logger == nil {
		logger = nopLogger()
	}

	var queue [QueueSize][]byte
	for i := range queue {
		queue[i] = make([]byte, size)
	}
	var lenBuf [QueueSize]int
	var retries [QueueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		stallRx := true
		// Poll for incoming packets.
		gotPacket, err := r.Link.PollOne()
		if err != nil {
			logger.Error("poll error", slog.String("err", err.Error()))
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			lenBuf[i], err = r.Stack.HandleEth(queue[i])
			if err != nil {
				logger.Error("stack error", slog.Int("n", lenBuf[i]), slog.String("err", err.Error()))
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [QueueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				select {
				case <-ctx.Done():
					return
				case <-time.After(idle):
				}
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := r.Link.SendEth(queue[i][:n]); err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > MaxRetries {
					markSent(i)
					logger.Warn("dropped outgoing packet", slog.String("err", err.Error()))
				}
			} else {
				markSent(i)
			}
		}
	}
}
