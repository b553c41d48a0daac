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


// Package detection locates MFRC522 readers on the host's SPI, I2C and
// serial ports. Transport detectors register themselves on import:
//
//	import _ "github.com/ZaparooProject/go-rc522/detection/spi"
package detection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Mode represents how far a detector may go to confirm a reader
type Mode int

const (
	// Passive mode only lists candidate ports without any communication
	Passive Mode = iota
	// Safe mode reads VersionReg and nothing else
	Safe
	// Full mode runs the complete Init sequence, then turns the antenna off
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "passive", "safe" or "full" to a Mode
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Passive, Safe, Full} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return Safe, fmt.Errorf("unknown detection mode %q", s)
}

// Confidence represents how certain a detector is that a reader is attached
type Confidence int

const (
	// Low confidence - the port exists but was not probed
	Low Confidence = iota
	// Medium confidence - VersionReg answered with an unrecognised value
	Medium
	// High confidence - VersionReg matched a known MFRC522 or clone
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected MFRC522 reader
type DeviceInfo struct {
	// Probe results and USB descriptors: "version", "chip", "vidpid",
	// "product", "serial", "aliases"
	Metadata map[string]string
	// Transport type: "spi", "i2c" or "uart"
	Transport string
	// Path to hand to the transport constructor, e.g. "SPI0.0",
	// "/dev/i2c-1:0x28" or "/dev/ttyUSB0"
	Path string
	// Human-readable device name
	Name string
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs never to probe (e.g., ["2341:0043"])
	Blocklist []string
	// Device paths to skip (e.g., ["SPI0.1", "/dev/ttyUSB0"])
	IgnorePaths []string
	// Which transports to check (empty = all registered)
	Transports []string
	// How long cached results stay valid
	CacheTTL time.Duration
	// Upper bound on the whole DetectAll call, 0 for none
	Timeout time.Duration
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector finds readers on one kind of transport
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no MFRC522 devices were detected
	ErrNoDevicesFound = errors.New("no MFRC522 devices found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNoDetectors indicates no registered detector matches Options.Transports
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

// registry is only written from package init functions
var registry []Detector

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

// getDetectors returns detectors filtered by transport types
func getDetectors(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}

	var filtered []Detector
	for _, d := range registry {
		if slices.Contains(transports, d.Transport()) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every registered detector matching opts.Transports in
// parallel. Devices are returned most confident first. Detector failures
// are only reported when no detector found anything.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- detectWithCache(ctx, d, opts)
		}()
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(devices) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoDevicesFound
	}

	sortDevices(devices)
	return devices, nil
}

// detectWithCache serves a detector from the cache when allowed and
// refreshes the cache otherwise
func detectWithCache(ctx context.Context, d Detector, opts *Options) detectionResult {
	transport := d.Transport()

	if opts.EnableCache {
		if cached, found := getCached(transport, opts.Mode, opts.CacheTTL); found {
			// cached results bypass Detect, so the filters are applied here
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: fmt.Errorf("%s: %w", transport, err)}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(transport, opts.Mode, devices)
		} else {
			// a reader that went away must not be served from cache
			clearCacheForTransport(transport)
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices applies IgnorePaths and Blocklist to a device list
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	filtered := devices[:0]
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if IsBlocked(device.Metadata["vidpid"], opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// sortDevices orders by confidence, then transport and path for stable output
func sortDevices(devices []DeviceInfo) {
	slices.SortStableFunc(devices, func(a, b DeviceInfo) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Transport, b.Transport); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
