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

// Package frame holds the byte-level check values used on the card side of
// the reader: identifier checksums and the ISO 14443-3 CRC_A.
package frame

// CalculateChecksum computes the checksum for a data buffer
// This is a simple sum of all bytes in the provided data, modulo 256
func CalculateChecksum(data []byte) byte {
	chk := byte(0)
	for _, b := range data {
		chk += b
	}
	return chk
}

// CalculateBCC computes the ISO 14443-3 block check character, the XOR of
// all bytes in data.
func CalculateBCC(data []byte) byte {
	var bcc byte
	for _, b := range data {
		bcc ^= b
	}
	return bcc
}

// crcAPreset is the initial register value for CRC_A (ISO 14443-3 Annex B).
const crcAPreset = 0x6363

// CalculateCRCA computes the CRC_A over data and returns it in transmission
// order (low byte first).
func CalculateCRCA(data []byte) [2]byte {
	crc := uint16(crcAPreset)
	for _, b := range data {
		ch := b ^ byte(crc&0x00FF)
		ch ^= ch << 4
		crc = (crc >> 8) ^ (uint16(ch) << 8) ^ (uint16(ch) << 3) ^ (uint16(ch) >> 4)
	}
	return [2]byte{byte(crc & 0xFF), byte(crc >> 8)}
}

// VerifyCRCA reports whether the last two bytes of data are the CRC_A of the
// bytes before them.
func VerifyCRCA(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	n := len(data) - 2
	crc := CalculateCRCA(data[:n])
	return crc[0] == data[n] && crc[1] == data[n+1]
}
