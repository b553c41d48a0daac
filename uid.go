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

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-rc522/internal/frame"
)

// UIDLength is the length of a cascade level 1 identifier
const UIDLength = 4

// UID is the 4-byte card identifier returned by cascade level 1
// anticollision.
type UID [UIDLength]byte

// String renders the identifier as colon separated upper case hex,
// e.g. "12:34:56:78"
func (u UID) String() string {
	parts := make([]string, len(u))
	for i, b := range u {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Hex renders the identifier as lower case hex without separators
func (u UID) Hex() string {
	return hex.EncodeToString(u[:])
}

// IsZero reports whether the identifier is unset
func (u UID) IsZero() bool {
	return u == UID{}
}

// ParseUID parses "12:34:56:78" or "12345678"
func ParseUID(s string) (UID, error) {
	var uid UID
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return uid, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	if len(raw) != UIDLength {
		return uid, fmt.Errorf("%w: UID must be %d bytes, got %d", ErrInvalidParameter, UIDLength, len(raw))
	}
	copy(uid[:], raw)
	return uid, nil
}

// Checksum selects how the check byte following the identifier is computed
type Checksum int

const (
	// ChecksumSum is the sum of the identifier bytes modulo 256
	ChecksumSum Checksum = iota
	// ChecksumXOR is the ISO 14443-3 BCC, the XOR of the identifier bytes
	ChecksumXOR
)

func (c Checksum) String() string {
	switch c {
	case ChecksumSum:
		return "sum"
	case ChecksumXOR:
		return "xor"
	default:
		return fmt.Sprintf("Checksum(%d)", int(c))
	}
}

// Compute returns the check byte for payload
func (c Checksum) Compute(payload []byte) byte {
	if c == ChecksumXOR {
		return frame.CalculateBCC(payload)
	}
	return frame.CalculateChecksum(payload)
}

// Valid reports whether check is the check byte of payload
func (c Checksum) Valid(payload []byte, check byte) bool {
	return c.Compute(payload) == check
}

// ValidChecksum reports whether check equals the sum of payload modulo 256
func ValidChecksum(payload []byte, check byte) bool {
	return ChecksumSum.Valid(payload, check)
}
