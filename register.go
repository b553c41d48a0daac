// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rc522

import "fmt"

func (d *Device) writeRegister(addr Register, value byte) error {
	if d.closed {
		return ErrDeviceClosed
	}
	if err := d.bus.WriteRegister(addr, value); err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}
	return nil
}

func (d *Device) readRegister(addr Register) (byte, error) {
	if d.closed {
		return 0, ErrDeviceClosed
	}
	value, err := d.bus.ReadRegister(addr)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", addr, err)
	}
	return value, nil
}

// setBitMask sets mask bits in addr (read-modify-write, not atomic)
func (d *Device) setBitMask(addr Register, mask byte) error {
	current, err := d.readRegister(addr)
	if err != nil {
		return err
	}
	return d.writeRegister(addr, current|mask)
}

// clearBitMask clears mask bits in addr (read-modify-write, not atomic)
func (d *Device) clearBitMask(addr Register, mask byte) error {
	current, err := d.readRegister(addr)
	if err != nil {
		return err
	}
	return d.writeRegister(addr, current&^mask)
}

// registerReader exposes the device's guarded reads to an IRQWaiter
type registerReader struct {
	d *Device
}

func (r registerReader) ReadRegister(addr Register) (byte, error) {
	return r.d.readRegister(addr)
}

// VersionName describes a VersionReg value
func VersionName(version byte) string {
	switch version {
	case 0x88:
		return "FM17522 clone"
	case 0x90:
		return "MFRC522 v0.0"
	case 0x91:
		return "MFRC522 v1.0"
	case 0x92:
		return "MFRC522 v2.0"
	case 0xB2:
		return "FM17522 clone"
	case 0x12:
		return "counterfeit MFRC522"
	default:
		return fmt.Sprintf("unknown (0x%02X)", version)
	}
}
