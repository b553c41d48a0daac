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

// Package uart provides UART transport implementation for MFRC522
package uart

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/internal/syncutil"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the MFRC522 UART rate after reset (SerialSpeedReg 0xEB)
	DefaultBaudRate = 9600

	readFlag     = 0x80
	registerMask = 0x3F
	traceSize    = 16
)

// Transport implements the rc522.Bus interface for UART communication.
// Each register access is a one or two byte request answered by one byte:
// the register value for a read, the echoed address for a write.
type Transport struct {
	port     serial.Port
	trace    *rc522.TraceBuffer
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// getReadTimeout returns the serial read timeout for this platform
func getReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New creates a new UART transport at DefaultBaudRate.
func New(portName string) (*Transport, error) {
	return NewWithBaudRate(portName, DefaultBaudRate)
}

// NewWithBaudRate creates a new UART transport. The chip must already be
// configured for baud through SerialSpeedReg.
func NewWithBaudRate(portName string, baud int) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	timeout := getReadTimeout()
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to reset UART input buffer: %w", err)
	}

	return NewWithPort(port, portName, timeout), nil
}

// NewWithPort wraps an open serial port. timeout bounds the wait for each
// reply byte.
func NewWithPort(port serial.Port, portName string, timeout time.Duration) *Transport {
	return &Transport{
		port:     port,
		portName: portName,
		timeout:  timeout,
		trace:    rc522.NewTraceBuffer("UART", portName, traceSize),
	}
}

// WriteRegister sends the address and value, then checks the chip's echo
// of the address.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) WriteRegister(addr rc522.Register, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return rc522.NewTransportClosedError("WriteRegister", t.portName)
	}

	address := byte(addr) & registerMask
	if err := t.send([]byte{address, value}, "write "+addr.String()); err != nil {
		return t.trace.WrapError(err)
	}

	echo, err := t.receive("WriteRegister")
	if err != nil {
		return t.trace.WrapError(err)
	}
	t.trace.RecordRX([]byte{echo}, "echo")
	if echo != address {
		rc522.Debugf("UART echo 0x%02X for %s, want 0x%02X", echo, addr, address)
		return t.trace.WrapError(rc522.NewEchoMismatchError("WriteRegister", t.portName))
	}
	return nil
}

// ReadRegister sends the read address and returns the byte the chip answers
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) ReadRegister(addr rc522.Register) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, rc522.NewTransportClosedError("ReadRegister", t.portName)
	}

	if err := t.send([]byte{readFlag | byte(addr)&registerMask}, "read "+addr.String()); err != nil {
		return 0, t.trace.WrapError(err)
	}
	value, err := t.receive("ReadRegister")
	if err != nil {
		return 0, t.trace.WrapError(err)
	}
	t.trace.RecordRX([]byte{value}, addr.String())
	return value, nil
}

// send writes data, retrying writes interrupted by a signal
func (t *Transport) send(data []byte, note string) error {
	const maxRetries = 3

	t.trace.RecordTX(data, note)
	for attempt := 0; ; attempt++ {
		n, err := t.port.Write(data)
		if err == nil && n == len(data) {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(data))
		}
		if !isInterruptedSystemCall(err) || attempt == maxRetries-1 {
			return rc522.NewTransportWriteError("send", t.portName, err)
		}
	}
}

// receive reads a single reply byte, waiting up to the transport timeout.
// A serial read that times out returns zero bytes and no error, so it is
// retried until the deadline.
func (t *Transport) receive(op string) (byte, error) {
	buf := make([]byte, 1)
	deadline := time.Now().Add(t.timeout)
	for {
		n, err := t.port.Read(buf)
		if err != nil && !isInterruptedSystemCall(err) {
			return 0, rc522.NewTransportReadError(op, t.portName, err)
		}
		if n == 1 {
			return buf[0], nil
		}
		if !time.Now().Before(deadline) {
			return 0, rc522.NewTimeoutError(op, t.portName)
		}
	}
}

// SetTimeout sets how long to wait for each reply byte
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timeout <= 0 {
		return fmt.Errorf("%w: UART timeout %v", rc522.ErrInvalidParameter, timeout)
	}
	t.timeout = timeout
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	port := t.port
	t.port = nil
	if err := port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() rc522.BusType {
	return rc522.BusUART
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// Ensure Transport implements rc522.Bus
var _ rc522.Bus = (*Transport)(nil)
