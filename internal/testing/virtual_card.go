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

package testing

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/ZaparooProject/go-rc522/internal/frame"
)

// ISO 14443-3 type A frames understood by VirtualCard
const (
	cmdREQA      = 0x26
	cmdWUPA      = 0x52
	cmdSelCL1    = 0x93
	cmdHLTA      = 0x50
	nvbAnticoll  = 0x20
	nvbSelectAll = 0x70
)

// CheckMode selects how a VirtualCard computes the byte following its UID
type CheckMode int

const (
	// CheckSum appends the sum of the UID bytes modulo 256
	CheckSum CheckMode = iota
	// CheckXOR appends the ISO 14443-3 BCC
	CheckXOR
)

// Common test identifiers
var (
	TestUID       = []byte{0x12, 0x34, 0x56, 0x78}
	TestMifareUID = []byte{0xDE, 0xAD, 0xBE, 0xEF}
)

// VirtualCard is a single ISO 14443-A card in the simulated RF field. It
// answers REQA, WUPA, cascade level 1 anticollision and select, and HLTA.
type VirtualCard struct {
	UID       []byte
	ATQA      [2]byte
	SAK       byte
	Check     CheckMode
	Halted    bool
	Selected  bool
	BadCheck  bool // reply to anticollision with a corrupted check byte
	Present   bool
	Truncated bool // reply to anticollision with the UID only
}

// NewVirtualCard creates a MIFARE Classic 1K style card. A nil uid uses TestUID.
func NewVirtualCard(uid []byte) *VirtualCard {
	if uid == nil {
		uid = TestUID
	}
	return &VirtualCard{
		UID:     append([]byte(nil), uid[:4]...),
		ATQA:    [2]byte{0x04, 0x00},
		SAK:     0x08,
		Check:   CheckSum,
		Present: true,
	}
}

// CheckByte returns the byte the card sends after its UID
func (c *VirtualCard) CheckByte() byte {
	check := frame.CalculateChecksum(c.UID)
	if c.Check == CheckXOR {
		check = frame.CalculateBCC(c.UID)
	}
	if c.BadCheck {
		check++
	}
	return check
}

// GetUIDString returns the UID as upper case hex
func (c *VirtualCard) GetUIDString() string {
	return strings.ToUpper(hex.EncodeToString(c.UID))
}

// Remove takes the card out of the field
func (c *VirtualCard) Remove() {
	c.Present = false
	c.Halted = false
	c.Selected = false
}

// Insert puts the card back in the field in the idle state
func (c *VirtualCard) Insert() {
	c.Present = true
	c.Halted = false
	c.Selected = false
}

// Respond handles one frame sent by the reader. txLastBits is the number of
// valid bits in the last byte, 0 for whole bytes. A nil reply means the card
// stays silent.
func (c *VirtualCard) Respond(data []byte, txLastBits byte) []byte {
	if !c.Present || len(data) == 0 {
		return nil
	}

	if len(data) == 1 && txLastBits == 7 {
		switch data[0] {
		case cmdREQA:
			if c.Halted {
				return nil
			}
			c.Selected = false
			return c.ATQA[:]
		case cmdWUPA:
			c.Halted = false
			c.Selected = false
			return c.ATQA[:]
		}
		return nil
	}

	if c.Halted {
		return nil
	}

	switch {
	case len(data) == 2 && data[0] == cmdSelCL1 && data[1] == nvbAnticoll:
		reply := append([]byte(nil), c.UID...)
		if c.Truncated {
			return reply
		}
		return append(reply, c.CheckByte())

	case len(data) == 9 && data[0] == cmdSelCL1 && data[1] == nvbSelectAll:
		if !frame.VerifyCRCA(data) || !bytes.Equal(data[2:6], c.UID) || data[6] != c.CheckByte() {
			return nil
		}
		c.Selected = true
		crc := frame.CalculateCRCA([]byte{c.SAK})
		return []byte{c.SAK, crc[0], crc[1]}

	case len(data) == 4 && data[0] == cmdHLTA && data[1] == 0x00:
		if frame.VerifyCRCA(data) {
			c.Halted = true
			c.Selected = false
		}
		return nil
	}

	return nil
}
