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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{"empty ignore list", "/dev/spidev0.0", nil, false},
		{"empty device path", "", []string{"/dev/spidev0.0"}, false},
		{"exact match", "/dev/spidev0.0", []string{"/dev/spidev0.0"}, true},
		{"no match", "/dev/spidev0.1", []string{"/dev/spidev0.0"}, false},
		{"periph name", "SPI0.0", []string{"spi0.0"}, true},
		{"unclean path", "/dev/../dev/ttyUSB0", []string{"/dev/ttyUSB0"}, true},
		{"trailing slash", "/dev/i2c-1:0x28/", []string{"/dev/i2c-1:0x28"}, true},
		{"windows case", "com3", []string{"COM3"}, true},
		{"one of several", "/dev/ttyUSB1", []string{"/dev/ttyUSB0", "", "/dev/ttyUSB1"}, true},
		{"empty entries only", "/dev/ttyUSB0", []string{"", ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	blocklist := []string{"2341:0043", " abcd:ef01 "}

	tests := []struct {
		name    string
		vidpid  string
		blocked bool
	}{
		{"exact match", "2341:0043", true},
		{"case insensitive", "ABCD:EF01", true},
		{"surrounding whitespace", "  2341:0043 ", true},
		{"not listed", "1A86:7523", false},
		{"partial", "2341:", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.blocked, IsBlocked(tc.vidpid, blocklist))
		})
	}
}

func TestDefaultBlocklist_WellFormed(t *testing.T) {
	t.Parallel()

	for _, entry := range DefaultBlocklist() {
		assert.Len(t, entry, 9, entry)
		assert.Equal(t, entry, FormatVIDPID(entry[:4], entry[5:]))
	}
}

func TestFormatVIDPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		vid      string
		pid      string
		expected string
	}{
		{"lower case", "1a86", "7523", "1A86:7523"},
		{"upper case", "10C4", "EA60", "10C4:EA60"},
		{"hex prefix", "0x0403", "0x6001", "0403:6001"},
		{"whitespace", " 067b ", "2303", "067B:2303"},
		{"missing pid", "0403", "", ""},
		{"short vid", "403", "6001", ""},
		{"not hex", "04g3", "6001", ""},
		{"non-usb port", "", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, FormatVIDPID(tc.vid, tc.pid))
		})
	}
}
