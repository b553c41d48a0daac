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

package detection

import (
	"maps"
	"time"

	"github.com/ZaparooProject/go-rc522/internal/syncutil"
)

// cacheKey separates results by how invasively they were obtained, so a
// Passive listing never answers a Safe or Full request
type cacheKey struct {
	transport string
	mode      Mode
}

type cacheEntry struct {
	timestamp time.Time
	devices   []DeviceInfo
}

type detectionCache struct {
	entries map[cacheKey]cacheEntry
	mu      syncutil.RWMutex
}

var cache = &detectionCache{
	entries: make(map[cacheKey]cacheEntry),
}

// getCached returns unexpired results for transport obtained in mode or a
// more invasive one
func getCached(transport string, mode Mode, ttl time.Duration) ([]DeviceInfo, bool) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	for m := Full; m >= mode; m-- {
		entry, exists := cache.entries[cacheKey{transport: transport, mode: m}]
		if !exists || time.Since(entry.timestamp) > ttl {
			continue
		}
		return cloneDevices(entry.devices), true
	}
	return nil, false
}

// setCached stores detection results obtained in mode
func setCached(transport string, mode Mode, devices []DeviceInfo) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.entries[cacheKey{transport: transport, mode: mode}] = cacheEntry{
		devices:   cloneDevices(devices),
		timestamp: time.Now(),
	}
}

func clearCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.entries = make(map[cacheKey]cacheEntry)
}

// clearCacheForTransport drops the transport's results for every mode
func clearCacheForTransport(transport string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	for key := range cache.entries {
		if key.transport == transport {
			delete(cache.entries, key)
		}
	}
}

func cloneDevices(devices []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = d
		out[i].Metadata = maps.Clone(d.Metadata)
	}
	return out
}
