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
	"context"
	"errors"
	"fmt"
	"time"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RequestTimeout bounds each card-facing exchange (REQA, anticollision,
	// select, halt). It is wall-clock time per exchange, not cumulative.
	RequestTimeout time.Duration
	// CRCTimeout bounds the CRC coprocessor
	CRCTimeout time.Duration
	// ResetDelay is the settling time after each reset line edge and after
	// the soft reset command
	ResetDelay time.Duration
	// Checksum selects how the identifier check byte is validated
	Checksum Checksum
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RequestTimeout: 100 * time.Millisecond,
		CRCTimeout:     100 * time.Millisecond,
		ResetDelay:     50 * time.Millisecond,
		Checksum:       ChecksumSum,
	}
}

// Device represents an MFRC522 reader chip.
//
// The Device owns its Bus and ResetLine exclusively for its whole life and
// is the only writer of the chip's registers.
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. The polling
// package runs all device access on one goroutine.
type Device struct {
	bus         Bus
	reset       ResetLine
	waiter      IRQWaiter
	config      *DeviceConfig
	version     byte
	initialized bool
	closed      bool
}

// Option configures a Device
type Option func(*Device) error

// WithRequestTimeout sets the per-exchange timeout for card commands
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative request timeout %v", ErrInvalidParameter, timeout)
		}
		d.config.RequestTimeout = timeout
		return nil
	}
}

// WithCRCTimeout sets how long CalculateCRC waits for the coprocessor
func WithCRCTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative CRC timeout %v", ErrInvalidParameter, timeout)
		}
		d.config.CRCTimeout = timeout
		return nil
	}
}

// WithResetDelay sets the settling delay used during reset
func WithResetDelay(delay time.Duration) Option {
	return func(d *Device) error {
		if delay < 0 {
			return fmt.Errorf("%w: negative reset delay %v", ErrInvalidParameter, delay)
		}
		d.config.ResetDelay = delay
		return nil
	}
}

// WithChecksum selects the identifier checksum
func WithChecksum(c Checksum) Option {
	return func(d *Device) error {
		if c != ChecksumSum && c != ChecksumXOR {
			return fmt.Errorf("%w: unknown checksum %d", ErrInvalidParameter, c)
		}
		d.config.Checksum = c
		return nil
	}
}

// WithIRQWaiter replaces the busy-polling completion wait, e.g. with one
// driven by the chip's IRQ pin.
func WithIRQWaiter(w IRQWaiter) Option {
	return func(d *Device) error {
		if w == nil {
			return fmt.Errorf("%w: nil IRQ waiter", ErrInvalidParameter)
		}
		d.waiter = w
		return nil
	}
}

// New creates a new MFRC522 device on bus. reset may be nil when the
// chip's reset pin is tied high; Init then relies on the soft reset alone.
// The chip is not touched until Init.
func New(bus Bus, reset ResetLine, opts ...Option) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidParameter)
	}

	device := &Device{
		bus:    bus,
		reset:  reset,
		waiter: PollWaiter{},
		config: DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Connect creates and initializes a device. On failure the bus and reset
// line are released and no Device is returned.
func Connect(ctx context.Context, bus Bus, reset ResetLine, opts ...Option) (*Device, error) {
	device, err := New(bus, reset, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	if err := device.Init(ctx); err != nil {
		if closeErr := device.Close(); closeErr != nil {
			Debugf("close after failed init: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}

	return device, nil
}

// Bus returns the underlying bus
func (d *Device) Bus() Bus {
	return d.bus
}

// Config returns a copy of the device configuration
func (d *Device) Config() DeviceConfig {
	return *d.config
}

// IsInitialized reports whether Init has completed and Close has not been called
func (d *Device) IsInitialized() bool {
	return d.initialized && !d.closed
}

// ChipVersion returns the VersionReg value read during Init
func (d *Device) ChipVersion() byte {
	return d.version
}

// Init resets and configures the chip: hard reset through the reset line,
// soft reset, timer and modulation setup, then antenna on. It may be called
// again to recover a chip that lost power.
func (d *Device) Init(ctx context.Context) error {
	if d.closed {
		return ErrDeviceClosed
	}
	d.initialized = false

	if err := d.hardReset(ctx); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}

	if err := d.writeRegister(CommandReg, byte(CmdSoftReset)); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	if err := sleepCtx(ctx, d.config.ResetDelay); err != nil {
		return err
	}

	version, err := d.readRegister(VersionReg)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version == versionNoChip00 || version == versionNoChipFF {
		return fmt.Errorf("%w: VersionReg = 0x%02X", ErrNoChip, version)
	}
	d.version = version

	config := []struct {
		reg   Register
		value byte
	}{
		{TModeReg, tModeAuto},
		{TPrescalerReg, tPrescalerLow},
		{TReloadRegL, tReloadLow},
		{TReloadRegH, tReloadHigh},
		{TxASKReg, txASKForce100},
		{ModeReg, modeCRCPreset},
	}
	for _, c := range config {
		if err := d.writeRegister(c.reg, c.value); err != nil {
			return fmt.Errorf("configure %s: %w", c.reg, err)
		}
	}

	if err := d.antennaOn(); err != nil {
		return fmt.Errorf("antenna on: %w", err)
	}

	d.initialized = true
	Debugf("MFRC522 initialized (%s, VersionReg 0x%02X, bus %s)", VersionName(version), version, d.bus.Type())
	return nil
}

// hardReset drives the reset line low then high, waiting ResetDelay after
// each edge.
func (d *Device) hardReset(ctx context.Context) error {
	if d.reset == nil {
		return nil
	}
	for _, level := range []bool{false, true} {
		if err := d.reset.SetLevel(level); err != nil {
			return fmt.Errorf("set reset line: %w", err)
		}
		if err := sleepCtx(ctx, d.config.ResetDelay); err != nil {
			return err
		}
	}
	return nil
}

// Version reads VersionReg from the chip
func (d *Device) Version() (byte, error) {
	if d.closed {
		return 0, ErrDeviceClosed
	}
	return d.readRegister(VersionReg)
}

// AntennaOn enables the TX1/TX2 antenna drivers. The register is only
// written when both drivers are currently off.
func (d *Device) AntennaOn() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.antennaOn()
}

func (d *Device) antennaOn() error {
	value, err := d.readRegister(TxControlReg)
	if err != nil {
		return err
	}
	if value&txControlAntenna != 0 {
		return nil
	}
	return d.setBitMask(TxControlReg, txControlAntenna)
}

// AntennaOff disables the antenna drivers, removing the RF field
func (d *Device) AntennaOff() error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.clearBitMask(TxControlReg, txControlAntenna)
}

// ready rejects protocol operations outside the Init..Close window
func (d *Device) ready() error {
	if d.closed {
		return ErrDeviceClosed
	}
	if !d.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Close parks the chip in reset (if it was initialized), releases the reset
// line and closes the bus. It is safe to call more than once and on a device
// whose collaborators were never acquired.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	if d.initialized && d.reset != nil {
		if err := d.hardReset(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	d.initialized = false

	if d.reset != nil {
		if err := d.reset.Release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release reset line: %w", err))
		}
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close bus: %w", err))
		}
	}

	Debugln("MFRC522 resources released")
	return errors.Join(errs...)
}

// sleepCtx performs a context-aware sleep. Returns ctx.Err() if context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
