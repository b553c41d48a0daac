// go-rc522
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-rc522.
//
// go-rc522 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-rc522 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-rc522; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package testing

import (
	"bytes"

	"github.com/ZaparooProject/go-rc522/internal/syncutil"
)

const (
	uartReadFlag    = 0x80
	uartAddressMask = 0x3F
)

// UARTEndpoint speaks the MFRC522 UART register protocol (datasheet §8.1.3)
// on top of a VirtualRC522 and implements io.ReadWriter:
//
//	read:  host sends 0x80|addr, chip answers the register value
//	write: host sends addr then value, chip echoes addr
type UARTEndpoint struct {
	sim         *VirtualRC522
	tx          bytes.Buffer
	pendingAddr int // -1 when no write address is waiting for its value
	mu          syncutil.Mutex
	corruptEcho bool
}

// NewUARTEndpoint creates an endpoint in front of sim
func NewUARTEndpoint(sim *VirtualRC522) *UARTEndpoint {
	return &UARTEndpoint{sim: sim, pendingAddr: -1}
}

// Write consumes bytes sent by the host
func (u *UARTEndpoint) Write(data []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, b := range data {
		if u.pendingAddr >= 0 {
			addr := byte(u.pendingAddr)
			u.pendingAddr = -1
			u.sim.WriteRegister(addr, b)
			echo := addr
			if u.corruptEcho {
				echo ^= 0x01
				u.corruptEcho = false
			}
			_ = u.tx.WriteByte(echo)
			continue
		}
		if b&uartReadFlag != 0 {
			_ = u.tx.WriteByte(u.sim.ReadRegister(b & uartAddressMask))
			continue
		}
		u.pendingAddr = int(b & uartAddressMask)
	}
	return len(data), nil
}

// Read returns bytes the chip has answered with; 0 when nothing is pending
func (u *UARTEndpoint) Read(buf []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx.Len() == 0 {
		return 0, nil
	}
	return u.tx.Read(buf) //nolint:wrapcheck // bytes.Buffer only returns io.EOF when empty
}

// CorruptNextEcho makes the next write acknowledgement carry the wrong
// address.
func (u *UARTEndpoint) CorruptNextEcho() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.corruptEcho = true
}

// HasPendingResponse reports whether unread reply bytes are queued
func (u *UARTEndpoint) HasPendingResponse() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx.Len() > 0
}
