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
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures JitteryConnection.
type JitterConfig struct {
	MaxLatency time.Duration
	Seed       uint64
	// EmptyReads is the chance, in percent, that a Read returns no data
	// even though bytes are pending, like a serial read timing out early
	EmptyReads int
}

// DefaultJitterConfig returns a configuration with small latency and
// occasional empty reads.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 2 * time.Millisecond,
		EmptyReads: 25,
	}
}

// JitteryConnection wraps an io.ReadWriter to simulate a USB-UART bridge
// (CH340, CP2102) between the host and the reader: reads are delayed,
// sometimes come back empty, and never return more than one byte at a time.
// Pending data is buffered so nothing is lost.
type JitteryConnection struct {
	backend io.ReadWriter
	rng     *rand.Rand
	readBuf []byte
	config  JitterConfig
	empties int
}

// NewJitteryConnection wraps backend with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
	}
}

// Write passes writes through to the backend unchanged.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns at most one buffered byte after a random delay.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 64)
		n, err := j.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}
	if len(j.readBuf) == 0 || len(buf) == 0 {
		return 0, nil
	}

	if j.config.EmptyReads > 0 && j.rng.IntN(100) < j.config.EmptyReads {
		j.empties++
		return 0, nil
	}

	buf[0] = j.readBuf[0]
	j.readBuf = j.readBuf[1:]
	return 1, nil
}

// EmptyReads returns how many reads were deliberately returned empty
func (j *JitteryConnection) EmptyReads() int {
	return j.empties
}
