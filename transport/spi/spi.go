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

// Package spi provides SPI transport implementation for MFRC522
package spi

import (
	"fmt"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Address byte layout (MFRC522 datasheet §8.1.2.3): bit 7 selects
	// read, bits 6-1 hold the register address, bit 0 is always 0
	addressMask = 0x7E
	readFlag    = 0x80

	// Default SPI settings
	defaultFreq = 1 * physic.MegaHertz
	mode        = spi.Mode0 // CPOL=0, CPHA=0, MSB first
	bitsPerWord = 8

	traceSize = 16
)

// Transport implements the rc522.Bus interface for SPI communication
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	trace    *rc522.TraceBuffer // most recent transfers, attached to errors
	portName string
	mu       syncutil.Mutex
	closed   bool
}

// PortName returns the periph.io name of SPI bus and chip select,
// e.g. "SPI0.0"
func PortName(bus, cs int) string {
	return fmt.Sprintf("SPI%d.%d", bus, cs)
}

// New opens chip select cs on SPI bus bus
func New(bus, cs int) (*Transport, error) {
	return Open(PortName(bus, cs))
}

// Open creates a new SPI transport on the named periph.io port
func Open(portName string) (*Transport, error) {
	// Initialize host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	// Open SPI port
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	// Connect with SPI parameters
	conn, err := port.Connect(defaultFreq, mode, bitsPerWord)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	transport := NewWithConn(conn, portName)
	transport.port = port
	return transport, nil
}

// NewWithConn wraps an already connected spi.Conn. Close does not close
// the underlying port.
func NewWithConn(conn spi.Conn, portName string) *Transport {
	return &Transport{
		conn:     conn,
		portName: portName,
		trace:    rc522.NewTraceBuffer("SPI", portName, traceSize),
	}
}

// EncodeAddress returns the address byte for a read or write of addr
func EncodeAddress(addr rc522.Register, read bool) byte {
	b := (byte(addr) << 1) & addressMask
	if read {
		b |= readFlag
	}
	return b
}

// WriteRegister writes value to the register at addr
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) WriteRegister(addr rc522.Register, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return rc522.NewTransportClosedError("WriteRegister", t.portName)
	}

	tx := []byte{EncodeAddress(addr, false), value}
	t.trace.RecordTX(tx, "write "+addr.String())
	if err := t.conn.Tx(tx, make([]byte, len(tx))); err != nil {
		return t.trace.WrapError(rc522.NewTransportWriteError("WriteRegister", t.portName, err))
	}
	return nil
}

// ReadRegister returns the value of the register at addr. The chip clocks
// the value out during the second byte of the transfer.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) ReadRegister(addr rc522.Register) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, rc522.NewTransportClosedError("ReadRegister", t.portName)
	}

	tx := []byte{EncodeAddress(addr, true), 0x00}
	rx := make([]byte, len(tx))
	t.trace.RecordTX(tx, "read "+addr.String())
	if err := t.conn.Tx(tx, rx); err != nil {
		return 0, t.trace.WrapError(rc522.NewTransportReadError("ReadRegister", t.portName, err))
	}
	t.trace.RecordRX(rx[1:], addr.String())
	return rx[1], nil
}

// Close closes the SPI transport
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("failed to close SPI port: %w", err)
		}
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() rc522.BusType {
	return rc522.BusSPI
}

// String returns the periph.io port name
func (t *Transport) String() string {
	return t.portName
}

// Ensure Transport implements rc522.Bus
var _ rc522.Bus = (*Transport)(nil)
