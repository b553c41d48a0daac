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

package rc522

import (
	"errors"
	"fmt"
	"sync"
)

// Bus is a register-level connection to an MFRC522.
// This can be implemented by SPI, I2C, or UART backends, which differ only
// in how a register address is encoded on the wire.
type Bus interface {
	// WriteRegister writes value to the register at addr
	WriteRegister(addr Register, value byte) error

	// ReadRegister returns the current value of the register at addr
	ReadRegister(addr Register) (byte, error)

	// Close closes the bus connection
	Close() error

	// Type returns the bus type
	Type() BusType
}

// BusType represents the type of bus
type BusType string

const (
	// BusSPI represents SPI bus transport.
	BusSPI BusType = "spi"
	// BusI2C represents I2C bus transport.
	BusI2C BusType = "i2c"
	// BusUART represents UART/serial transport.
	BusUART BusType = "uart"
	// BusMock represents a mock bus for testing
	BusMock BusType = "mock"
)

// ResetLine is the digital output wired to the chip's NRSTPD pin.
// Driving it low powers the chip down; the rising edge starts a hard reset.
type ResetLine interface {
	SetLevel(high bool) error
	Release() error
}

// RegisterFile is a model of the chip's register space, used by MockBus to
// delegate accesses to a simulator.
type RegisterFile interface {
	ReadRegister(addr byte) byte
	WriteRegister(addr, value byte)
}

// RegisterWrite records one write seen by MockBus
type RegisterWrite struct {
	Addr  Register
	Value byte
}

// MockBus provides a mock implementation of Bus for testing.
// Without a RegisterFile it behaves like plain memory.
type MockBus struct {
	chip      RegisterFile
	readErr   map[Register]error
	writeErr  map[Register]error
	writes    []RegisterWrite
	regs      [int(MaxRegister) + 1]byte
	calls     int
	mu        sync.RWMutex
	connected bool
}

// NewMockBus creates a new mock bus. chip may be nil.
func NewMockBus(chip RegisterFile) *MockBus {
	return &MockBus{
		chip:      chip,
		connected: true,
		readErr:   make(map[Register]error),
		writeErr:  make(map[Register]error),
	}
}

// WriteRegister implements Bus
func (m *MockBus) WriteRegister(addr Register, value byte) error {
	mustBeRegister(addr)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return errors.New("bus not connected")
	}
	m.calls++
	if err, ok := m.writeErr[addr]; ok {
		return err
	}
	m.writes = append(m.writes, RegisterWrite{Addr: addr, Value: value})

	if m.chip != nil {
		m.chip.WriteRegister(byte(addr), value)
		return nil
	}
	m.regs[addr] = value
	return nil
}

// ReadRegister implements Bus
func (m *MockBus) ReadRegister(addr Register) (byte, error) {
	mustBeRegister(addr)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, errors.New("bus not connected")
	}
	m.calls++
	if err, ok := m.readErr[addr]; ok {
		return 0, err
	}

	if m.chip != nil {
		return m.chip.ReadRegister(byte(addr)), nil
	}
	return m.regs[addr], nil
}

// Close implements Bus
func (m *MockBus) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Type implements Bus
func (*MockBus) Type() BusType {
	return BusMock
}

// mustBeRegister panics on an address past MaxRegister
func mustBeRegister(addr Register) {
	if addr > MaxRegister {
		panic(fmt.Sprintf("rc522: register address 0x%02X out of range", uint8(addr)))
	}
}

// Test helper methods

// SetRegister presets a register when no RegisterFile is attached
func (m *MockBus) SetRegister(addr Register, value byte) {
	mustBeRegister(addr)
	m.mu.Lock()
	m.regs[addr] = value
	m.mu.Unlock()
}

// SetReadError makes reads of addr fail with err
func (m *MockBus) SetReadError(addr Register, err error) {
	m.mu.Lock()
	m.readErr[addr] = err
	m.mu.Unlock()
}

// SetWriteError makes writes to addr fail with err
func (m *MockBus) SetWriteError(addr Register, err error) {
	m.mu.Lock()
	m.writeErr[addr] = err
	m.mu.Unlock()
}

// ClearErrors removes all injected errors
func (m *MockBus) ClearErrors() {
	m.mu.Lock()
	m.readErr = make(map[Register]error)
	m.writeErr = make(map[Register]error)
	m.mu.Unlock()
}

// CallCount returns the number of register accesses seen so far
func (m *MockBus) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Writes returns a copy of the write log
func (m *MockBus) Writes() []RegisterWrite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegisterWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// WritesTo returns the values written to addr, in order
func (m *MockBus) WritesTo(addr Register) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []byte
	for _, w := range m.writes {
		if w.Addr == addr {
			out = append(out, w.Value)
		}
	}
	return out
}

// IsConnected returns false once Close has been called
func (m *MockBus) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// MockResetLine records the levels driven on a reset line
type MockResetLine struct {
	err      error
	levels   []bool
	mu       sync.Mutex
	released bool
}

// NewMockResetLine creates a new mock reset line
func NewMockResetLine() *MockResetLine {
	return &MockResetLine{}
}

// SetLevel implements ResetLine
func (r *MockResetLine) SetLevel(high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.levels = append(r.levels, high)
	return nil
}

// Release implements ResetLine
func (r *MockResetLine) Release() error {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
	return nil
}

// SetError makes every SetLevel call fail with err
func (r *MockResetLine) SetError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Levels returns the driven levels, in order
func (r *MockResetLine) Levels() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.levels))
	copy(out, r.levels)
	return out
}

// Released reports whether Release has been called
func (r *MockResetLine) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
