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

// Package i2c provides I2C transport implementation for MFRC522
package i2c

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the 7-bit address with the chip's EA pin high and
	// ADR_0..ADR_5 strapped to 0b101000, as on most breakout boards
	DefaultAddress = 0x28

	// Max clock frequency (400 kHz fast mode).
	maxClockFreq = 400 * physic.KiloHertz

	registerMask = 0x3F
	traceSize    = 16
)

// Transport implements the rc522.Bus interface for I2C communication
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // Held so Close() can release the OS file descriptor
	trace   *rc522.TraceBuffer
	busName string
	mu      syncutil.Mutex
}

// ParsePath splits a path of the form "/dev/i2c-1:0x28" into bus name and
// address. A bare bus name uses DefaultAddress.
func ParsePath(path string) (busName string, addr uint16, err error) {
	busName, addrStr, found := strings.Cut(path, ":")
	if !found {
		return busName, DefaultAddress, nil
	}
	parsed, err := strconv.ParseUint(addrStr, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("%w: I2C address %q: %w", rc522.ErrInvalidParameter, addrStr, err)
	}
	return busName, uint16(parsed), nil
}

// New creates a new I2C transport. path is a periph.io bus name such as
// "/dev/i2c-1" or "1", optionally followed by ":<address>".
func New(path string) (*Transport, error) {
	busName, addr, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	// Initialize host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	return NewWithBus(bus, addr, path), nil
}

// NewWithBus creates a transport on an already opened bus. The transport
// owns bus and closes it on Close.
func NewWithBus(bus i2c.BusCloser, addr uint16, name string) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		bus:     bus,
		busName: name,
		trace:   rc522.NewTraceBuffer("I2C", name, traceSize),
	}
}

// WriteRegister writes value to the register at addr in a single
// [register, value] write transaction.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) WriteRegister(addr rc522.Register, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return rc522.NewTransportClosedError("WriteRegister", t.busName)
	}

	w := []byte{byte(addr) & registerMask, value}
	t.trace.RecordTX(w, "write "+addr.String())
	if err := t.dev.Tx(w, nil); err != nil {
		return t.trace.WrapError(rc522.NewTransportWriteError("WriteRegister", t.busName, err))
	}
	return nil
}

// ReadRegister writes the register address and reads one byte back with a
// repeated start.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) ReadRegister(addr rc522.Register) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return 0, rc522.NewTransportClosedError("ReadRegister", t.busName)
	}

	w := []byte{byte(addr) & registerMask}
	r := make([]byte, 1)
	t.trace.RecordTX(w, "read "+addr.String())
	if err := t.dev.Tx(w, r); err != nil {
		return 0, t.trace.WrapError(rc522.NewTransportReadError("ReadRegister", t.busName, err))
	}
	t.trace.RecordRX(r, addr.String())
	return r[0], nil
}

// Close closes the transport connection and releases the I2C bus file descriptor.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bus != nil {
		if err := t.bus.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus: %w", err)
		}
		t.bus = nil
	}
	t.dev = nil // IsConnected() returns false after Close
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type returns the transport type
func (*Transport) Type() rc522.BusType {
	return rc522.BusI2C
}

// Ensure Transport implements rc522.Bus
var _ rc522.Bus = (*Transport)(nil)
