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


// Package uart finds MFRC522 readers behind USB serial adapters
package uart

import (
	"context"
	"strings"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/detection"
	"github.com/ZaparooProject/go-rc522/transport/uart"
	"go.bug.st/serial/enumerator"
)

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Product      string
	VIDPID       string
	SerialNumber string
	IsUSB        bool
}

// detector implements the Detector interface for UART devices
type detector struct {
	ports func() ([]serialPort, error)
	open  func(path string) (rc522.Bus, error)
}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{
		ports: getSerialPorts,
		open:  openPort,
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(rc522.BusUART)
}

func openPort(path string) (rc522.Bus, error) {
	return uart.New(path)
}

// getSerialPorts lists the host's serial ports with their USB descriptors
func getSerialPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		port := serialPort{
			Path:  d.Name,
			IsUSB: d.IsUSB,
		}
		if d.IsUSB {
			port.VIDPID = detection.FormatVIDPID(d.VID, d.PID)
			port.Product = d.Product
			port.SerialNumber = d.SerialNumber
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// Detect searches for MFRC522 readers on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.ports()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// processPort handles a single port's detection logic
func (d *detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}
	if detection.IsBlocked(port.VIDPID, opts.Blocklist) {
		rc522.Debugf("skipping blocked serial adapter %s at %s", port.VIDPID, port.Path)
		return detection.DeviceInfo{}, false
	}

	likely := isLikelyReader(port)
	if opts.Mode == detection.Passive && !likely {
		return detection.DeviceInfo{}, false
	}

	device := createDeviceInfo(port)
	if likely {
		device.Confidence = detection.Medium
	}

	// A failed probe discards likely adapters too
	if !detection.ProbeDevice(ctx, d.open, opts.Mode, &device) {
		return detection.DeviceInfo{}, false
	}
	return device, true
}

// createDeviceInfo builds a DeviceInfo struct from port data
func createDeviceInfo(port *serialPort) detection.DeviceInfo {
	name := port.Product
	if name == "" {
		name = "serial port " + port.Path
	}

	device := detection.DeviceInfo{
		Transport:  string(rc522.BusUART),
		Path:       port.Path,
		Name:       name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// likelyAdapters are USB serial bridges found on MFRC522 UART modules
var likelyAdapters = map[string]bool{
	"067B:2303": true, // Prolific PL2303
	"0403:6001": true, // FTDI FT232R
	"10C4:EA60": true, // Silicon Labs CP210x
	"1A86:7523": true, // QinHeng CH340
}

// isLikelyReader checks whether a serial port could carry an MFRC522
func isLikelyReader(port *serialPort) bool {
	if likelyAdapters[port.VIDPID] {
		return true
	}

	product := strings.ToLower(port.Product)
	for _, keyword := range []string{"rc522", "rfid", "13.56"} {
		if strings.Contains(product, keyword) {
			return true
		}
	}
	return false
}
