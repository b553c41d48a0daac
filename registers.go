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

import "fmt"

// Register is the address of one of the MFRC522's internal 8-bit registers.
// Valid addresses are 0x00 to 0x3F (MFRC522 datasheet §9.2).
type Register uint8

// MFRC522 registers used by this driver.
const (
	CommandReg    Register = 0x01 // starts and stops command execution
	ComIrqReg     Register = 0x04 // interrupt request bits
	DivIrqReg     Register = 0x05
	ErrorReg      Register = 0x06 // error bits of the last command
	FIFODataReg   Register = 0x09 // input and output of the 64 byte FIFO
	FIFOLevelReg  Register = 0x0A // number of bytes stored in the FIFO
	ControlReg    Register = 0x0C
	BitFramingReg Register = 0x0D // adjustments for bit-oriented frames
	CollReg       Register = 0x0E // position of the first bit collision
	ModeReg       Register = 0x11
	TxControlReg  Register = 0x14 // controls the antenna driver pins TX1 and TX2
	TxASKReg      Register = 0x15
	CRCResultRegH Register = 0x21
	CRCResultRegL Register = 0x22
	TModeReg      Register = 0x2A
	TPrescalerReg Register = 0x2B
	TReloadRegH   Register = 0x2C
	TReloadRegL   Register = 0x2D
	VersionReg    Register = 0x37

	// MaxRegister is the highest addressable register.
	MaxRegister Register = 0x3F
)

var registerNames = map[Register]string{
	CommandReg:    "CommandReg",
	ComIrqReg:     "ComIrqReg",
	DivIrqReg:     "DivIrqReg",
	ErrorReg:      "ErrorReg",
	FIFODataReg:   "FIFODataReg",
	FIFOLevelReg:  "FIFOLevelReg",
	ControlReg:    "ControlReg",
	BitFramingReg: "BitFramingReg",
	CollReg:       "CollReg",
	ModeReg:       "ModeReg",
	TxControlReg:  "TxControlReg",
	TxASKReg:      "TxASKReg",
	CRCResultRegH: "CRCResultRegH",
	CRCResultRegL: "CRCResultRegL",
	TModeReg:      "TModeReg",
	TPrescalerReg: "TPrescalerReg",
	TReloadRegH:   "TReloadRegH",
	TReloadRegL:   "TReloadRegL",
	VersionReg:    "VersionReg",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Reg(0x%02X)", uint8(r))
}

// Command is an opcode written to CommandReg (MFRC522 datasheet §10.3).
type Command uint8

// MFRC522 commands.
const (
	CmdIdle       Command = 0x00
	CmdCalcCRC    Command = 0x03
	CmdTransceive Command = 0x0C
	CmdMFAuthent  Command = 0x0E
	CmdSoftReset  Command = 0x0F
)

func (c Command) String() string {
	switch c {
	case CmdIdle:
		return "Idle"
	case CmdCalcCRC:
		return "CalcCRC"
	case CmdTransceive:
		return "Transceive"
	case CmdMFAuthent:
		return "MFAuthent"
	case CmdSoftReset:
		return "SoftReset"
	default:
		return fmt.Sprintf("Command(0x%02X)", uint8(c))
	}
}

// ISO 14443-3 type A commands sent to the card (PICC)
const (
	piccReqA        = 0x26
	piccSelCL1      = 0x93
	piccHaltA       = 0x50
	piccNVBAnticoll = 0x20 // NVB: two bytes sent, no UID bits
	piccNVBSelect   = 0x70 // NVB: seven bytes sent, full UID
)

// Register bits
const (
	// ComIrqReg
	irqTimer = 0x01
	irqIdle  = 0x10
	irqRx    = 0x20
	irqAll   = 0x7F // writing 0 to Set1 clears the marked bits

	// DivIrqReg
	irqCRC = 0x04

	// FIFOLevelReg
	fifoFlushBuffer = 0x80
	fifoLevelMask   = 0x7F
	fifoSize        = 64

	// ControlReg
	rxLastBitsMask = 0x07

	// CollReg
	collPosMask     = 0x1F // 0 means bit 32
	collPosNotValid = 0x20

	// BitFramingReg
	bitFramingStartSend = 0x80
	bitFramingShort     = 0x07 // 7 valid bits in the last byte
	bitFramingFull      = 0x00

	// TxControlReg
	txControlAntenna = 0x03 // Tx1RFEn | Tx2RFEn
)

// Power-on configuration written by Init (MFRC522 datasheet §9.3.3).
const (
	tModeAuto       = 0x8D // TAuto, prescaler high nibble 0xD
	tPrescalerLow   = 0x3E
	tReloadLow      = 30
	tReloadHigh     = 0
	txASKForce100   = 0x40 // force 100% ASK modulation
	modeCRCPreset   = 0x3D // CRC preset 0x6363, TxWaitRF, MSB first
	versionNoChip00 = 0x00
	versionNoChipFF = 0xFF
)
