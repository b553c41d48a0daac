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


package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-rc522"
)

// ProbeTimeout bounds a single probe
const ProbeTimeout = 2 * time.Second

// knownVersions are the VersionReg values of genuine chips and the common
// FM17522 clones
var knownVersions = map[byte]bool{
	0x88: true,
	0x90: true,
	0x91: true,
	0x92: true,
	0xB2: true,
	0x12: true,
}

// KnownVersion reports whether version identifies an MFRC522 or a clone
func KnownVersion(version byte) bool {
	return knownVersions[version]
}

// Probe checks whether an MFRC522 answers on bus and returns its VersionReg
// value with the resulting confidence. Probe owns bus and always closes it.
//
// Safe mode only reads VersionReg. Full mode additionally runs Init, which
// soft resets the chip, and switches the antenna off again afterwards. A
// single attempt is made per bus; a port that does not answer is not retried.
func Probe(ctx context.Context, bus rc522.Bus, mode Mode, opts ...rc522.Option) (byte, Confidence, error) {
	if bus == nil {
		return 0, Low, fmt.Errorf("%w: nil bus", rc522.ErrInvalidParameter)
	}

	device, err := rc522.New(bus, nil, opts...)
	if err != nil {
		_ = bus.Close()
		return 0, Low, err
	}
	defer func() { _ = device.Close() }()

	if mode == Passive {
		return 0, Low, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	version, err := device.Version()
	if err != nil {
		return 0, Low, fmt.Errorf("read VersionReg: %w", err)
	}
	if version == 0x00 || version == 0xFF {
		return version, Low, fmt.Errorf("%w: VersionReg = 0x%02X", rc522.ErrNoChip, version)
	}

	if mode == Full {
		if err := device.Init(probeCtx); err != nil {
			return version, Low, err
		}
		if err := device.AntennaOff(); err != nil {
			rc522.Debugf("probe: antenna off on %s: %v", bus.Type(), err)
		}
	}

	if KnownVersion(version) {
		return version, High, nil
	}
	return version, Medium, nil
}

// probeDevice fills in the metadata of a probed device. It reports false
// when the bus did not answer like an MFRC522.
func probeDevice(ctx context.Context, bus rc522.Bus, mode Mode, device *DeviceInfo) bool {
	version, confidence, err := Probe(ctx, bus, mode)
	if err != nil {
		if !errors.Is(err, rc522.ErrNoChip) {
			rc522.Debugf("probe %s %s: %v", device.Transport, device.Path, err)
		}
		return false
	}
	device.Confidence = confidence
	if mode != Passive {
		if device.Metadata == nil {
			device.Metadata = make(map[string]string)
		}
		device.Metadata["version"] = fmt.Sprintf("0x%02X", version)
		device.Metadata["chip"] = rc522.VersionName(version)
	}
	return true
}

// ProbeDevice opens device with open and probes it in mode. On success the
// device's confidence and metadata are updated.
func ProbeDevice(ctx context.Context, open func(path string) (rc522.Bus, error), mode Mode, device *DeviceInfo) bool {
	if mode == Passive {
		return true
	}
	bus, err := open(device.Path)
	if err != nil {
		rc522.Debugf("open %s %s: %v", device.Transport, device.Path, err)
		return false
	}
	return probeDevice(ctx, bus, mode, device)
}
