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


// Package spi finds MFRC522 readers on SPI ports
package spi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/detection"
	"github.com/ZaparooProject/go-rc522/transport/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// EnvDevice names extra SPI ports to check, separated by commas
const EnvDevice = "RC522_SPI_DEVICE"

// Config represents SPI device configuration
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// periph.io port name (e.g., "SPI0.0" or "/dev/spidev0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
}

// detector implements the Detector interface for SPI devices
type detector struct {
	configs func() []Config
	open    func(name string) (rc522.Bus, error)
}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{
		configs: gatherConfigs,
		open:    openPort,
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(rc522.BusSPI)
}

func openPort(name string) (rc522.Bus, error) {
	return spi.Open(name)
}

// Detect searches for MFRC522 readers on SPI ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := d.configs()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, config := range configs {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)
		if detection.ProbeDevice(ctx, d.open, opts.Mode, &device) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// createDeviceInfo creates a DeviceInfo from a Config
func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  string(rc522.BusSPI),
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string, len(config.Metadata)),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if device.Name == "" {
		device.Name = "SPI port " + config.Device
	}
	return device
}

// gatherConfigs collects SPI ports from the config file, the environment
// and the periph.io registry, in that order
func gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, loadConfigFile()...)
	configs = append(configs, loadEnvConfig()...)
	configs = append(configs, registeredPorts()...)
	return deduplicateConfigs(configs)
}

// loadConfigFile loads SPI configurations from the first JSON file found.
// The file holds either one Config object or an array of them.
func loadConfigFile() []Config {
	configPaths := []string{
		"rc522-spi.json",
		".rc522-spi.json",
		filepath.Join(os.Getenv("HOME"), ".config", "rc522", "spi.json"),
		"/etc/rc522/spi.json",
	}

	for _, path := range configPaths {
		// #nosec G304 -- paths are hardcoded above, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if configs, ok := parseConfig(data); ok {
			return configs
		}
		rc522.Debugf("ignoring malformed SPI config %s", path)
	}
	return nil
}

func parseConfig(data []byte) ([]Config, bool) {
	var configs []Config
	if err := json.Unmarshal(data, &configs); err == nil {
		return configs, true
	}
	var config Config
	if err := json.Unmarshal(data, &config); err == nil && config.Device != "" {
		return []Config{config}, true
	}
	return nil, false
}

// loadEnvConfig reads EnvDevice
func loadEnvConfig() []Config {
	var configs []Config
	for _, name := range strings.Split(os.Getenv(EnvDevice), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		configs = append(configs, Config{
			Device: name,
			Name:   "SPI port from " + EnvDevice,
		})
	}
	return configs
}

// registeredPorts lists the SPI ports periph.io knows about on this host
func registeredPorts() []Config {
	if _, err := host.Init(); err != nil {
		rc522.Debugf("periph host init: %v", err)
		return nil
	}

	refs := spireg.All()
	configs := make([]Config, 0, len(refs))
	for _, ref := range refs {
		config := Config{Device: ref.Name}
		if len(ref.Aliases) > 0 {
			config.Metadata = map[string]string{"aliases": strings.Join(ref.Aliases, ",")}
		}
		configs = append(configs, config)
	}
	return configs
}

// deduplicateConfigs removes duplicate SPI configurations
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config

	for _, config := range configs {
		if config.Device == "" || seen[config.Device] {
			continue
		}
		seen[config.Device] = true
		unique = append(unique, config)
	}

	return unique
}
