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


// Package i2c finds MFRC522 readers on I2C buses
package i2c

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/detection"
	"github.com/ZaparooProject/go-rc522/transport/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// EnvDevice names extra I2C paths to check, separated by commas. Each entry
// is a bus name optionally followed by ":<address>".
const EnvDevice = "RC522_I2C_DEVICE"

// detector implements the Detector interface for I2C devices
type detector struct {
	buses func() []string
	open  func(path string) (rc522.Bus, error)
}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{
		buses: gatherPaths,
		open:  openPath,
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(rc522.BusI2C)
}

func openPath(path string) (rc522.Bus, error) {
	return i2c.New(path)
}

// Detect searches for MFRC522 readers at the default address of every I2C
// bus. Passive mode reports each bus with Low confidence since nothing is
// read from it.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, path := range d.buses() {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(path, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  string(rc522.BusI2C),
			Path:       path,
			Name:       "I2C reader at " + path,
			Confidence: detection.Low,
			Metadata:   make(map[string]string),
		}
		if detection.ProbeDevice(ctx, d.open, opts.Mode, &device) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherPaths lists EnvDevice entries followed by every registered bus at
// i2c.DefaultAddress
func gatherPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}

	for _, entry := range strings.Split(os.Getenv(EnvDevice), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, ":") {
			entry = withAddress(entry)
		}
		add(entry)
	}

	if _, err := host.Init(); err != nil {
		rc522.Debugf("periph host init: %v", err)
		return paths
	}
	for _, ref := range i2creg.All() {
		add(withAddress(ref.Name))
	}
	return paths
}

func withAddress(bus string) string {
	return fmt.Sprintf("%s:0x%02X", bus, i2c.DefaultAddress)
}
