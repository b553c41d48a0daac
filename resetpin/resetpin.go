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

// Package resetpin drives the MFRC522 NRSTPD line through a periph.io GPIO
package resetpin

import (
	"fmt"

	"github.com/ZaparooProject/go-rc522"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultPin is the reset pin used by most Raspberry Pi RC522 wiring guides
// (physical pin 15)
const DefaultPin = "GPIO22"

// Pin is a GPIO output wired to the chip's NRSTPD input. It implements
// rc522.ResetLine.
type Pin struct {
	pin gpio.PinIO
}

// Open initializes periph.io and opens the named pin, e.g. "GPIO22"
func Open(name string) (*Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return ByName(name)
}

// ByName looks up an already registered pin
func ByName(name string) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: failed to open reset pin %s", rc522.ErrInvalidParameter, name)
	}
	return New(p), nil
}

// New wraps an open pin
func New(p gpio.PinIO) *Pin {
	return &Pin{pin: p}
}

// SetLevel drives the line high or low
func (p *Pin) SetLevel(high bool) error {
	if err := p.pin.Out(gpio.Level(high)); err != nil {
		return fmt.Errorf("set %s %v: %w", p.pin, gpio.Level(high), err)
	}
	return nil
}

// Release stops driving the pin
func (p *Pin) Release() error {
	if err := p.pin.Halt(); err != nil {
		return fmt.Errorf("halt %s: %w", p.pin, err)
	}
	return nil
}

// String returns the pin name
func (p *Pin) String() string {
	return p.pin.Name()
}

var _ rc522.ResetLine = (*Pin)(nil)
