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
	"github.com/ZaparooProject/go-rc522/internal/frame"
	"github.com/ZaparooProject/go-rc522/internal/syncutil"
)

// MFRC522 register addresses (datasheet §9.2)
const (
	RegCommand    = 0x01
	RegComIEn     = 0x02
	RegComIrq     = 0x04
	RegDivIrq     = 0x05
	RegError      = 0x06
	RegFIFOData   = 0x09
	RegFIFOLevel  = 0x0A
	RegControl    = 0x0C
	RegBitFraming = 0x0D
	RegMode       = 0x11
	RegTxControl  = 0x14
	RegTxASK      = 0x15
	RegCRCResultH = 0x21
	RegCRCResultL = 0x22
	RegTMode      = 0x2A
	RegTPrescaler = 0x2B
	RegTReloadH   = 0x2C
	RegTReloadL   = 0x2D
	RegVersion    = 0x37
)

// MFRC522 commands (datasheet §10.3)
const (
	CmdIdle       = 0x00
	CmdCalcCRC    = 0x03
	CmdTransceive = 0x0C
	CmdMFAuthent  = 0x0E
	CmdSoftReset  = 0x0F
)

// ErrorReg bits
const (
	ErrProtocol   = 0x01
	ErrParity     = 0x02
	ErrCRC        = 0x04
	ErrCollision  = 0x08
	ErrBufferOvfl = 0x10
)

// ComIrqReg / DivIrqReg bits
const (
	IRQTimer = 0x01
	IRQErr   = 0x02
	IRQIdle  = 0x10
	IRQRx    = 0x20
	IRQTx    = 0x40
	IRQSet1  = 0x80
	IRQCRC   = 0x04
)

const (
	fifoCapacity    = 64
	fifoFlush       = 0x80
	startSend       = 0x80
	commandMask     = 0x0F
	txLastBitsMask  = 0x07
	registerCount   = 0x40
	defaultVersion  = 0x92
	comIrqResetVal  = 0x14
	controlResetVal = 0x10
	txCtrlResetVal  = 0x80
	txAntennaBits   = 0x03
	modeResetVal    = 0x3F
)

// VirtualRC522 simulates an MFRC522 at the register level. It implements
// rc522.RegisterFile so it can sit behind rc522.MockBus, and the transport
// wire tests decode their bus framing into ReadRegister/WriteRegister calls.
//
// The simulator models what the driver relies on:
// - the 64 byte FIFO, its level register and flush bit
// - Set1-style IRQ registers (ComIrqReg, DivIrqReg)
// - Idle, CalcCRC, Transceive (started by BitFramingReg StartSend), SoftReset
// - one VirtualCard in the RF field
type VirtualRC522 struct {
	card          *VirtualCard
	fifo          []byte
	frames        [][]byte
	commands      []byte
	nextResponse  []byte
	regs          [registerCount]byte
	reads         [registerCount]int
	writes        [registerCount]int
	mu            syncutil.Mutex
	version       byte
	injectErr     byte
	nextLastBits  byte
	stallIRQ      bool
	injectTimer   bool
	overrideReply bool
	stallCRC      bool
}

// NewVirtualRC522 creates a simulator in its power-on state with no card
// in the field.
func NewVirtualRC522() *VirtualRC522 {
	v := &VirtualRC522{version: defaultVersion}
	v.resetRegisters()
	return v
}

func (v *VirtualRC522) resetRegisters() {
	v.regs = [registerCount]byte{}
	v.regs[RegCommand] = 0x20
	v.regs[RegComIrq] = comIrqResetVal
	v.regs[RegControl] = controlResetVal
	v.regs[RegTxControl] = txCtrlResetVal
	v.regs[RegMode] = modeResetVal
	v.regs[RegVersion] = v.version
	v.fifo = v.fifo[:0]
}

// ReadRegister implements rc522.RegisterFile
func (v *VirtualRC522) ReadRegister(addr byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	addr &= registerCount - 1
	v.reads[addr]++

	switch addr {
	case RegFIFOData:
		if len(v.fifo) == 0 {
			return 0
		}
		b := v.fifo[0]
		v.fifo = v.fifo[1:]
		return b
	case RegFIFOLevel:
		return byte(len(v.fifo))
	default:
		return v.regs[addr]
	}
}

// WriteRegister implements rc522.RegisterFile
func (v *VirtualRC522) WriteRegister(addr, value byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	addr &= registerCount - 1
	v.writes[addr]++

	switch addr {
	case RegFIFOData:
		if len(v.fifo) >= fifoCapacity {
			v.regs[RegError] |= ErrBufferOvfl
			return
		}
		v.fifo = append(v.fifo, value)
	case RegFIFOLevel:
		if value&fifoFlush != 0 {
			v.fifo = v.fifo[:0]
			v.regs[RegError] &^= ErrBufferOvfl
		}
	case RegComIrq, RegDivIrq:
		bits := value &^ IRQSet1
		if value&IRQSet1 != 0 {
			v.regs[addr] |= bits
		} else {
			v.regs[addr] &^= bits
		}
	case RegVersion:
		// read-only
	case RegCommand:
		v.regs[RegCommand] = v.regs[RegCommand]&^commandMask | value&commandMask
		v.runCommand(value & commandMask)
	case RegBitFraming:
		v.regs[RegBitFraming] = value
		if value&startSend != 0 && v.regs[RegCommand]&commandMask == CmdTransceive {
			v.transceive(value & txLastBitsMask)
		}
	case RegTxControl:
		v.regs[RegTxControl] = value
		if value&txAntennaBits == 0 && v.card != nil && v.card.Present {
			// dropping the field powers the card down
			v.card.Halted = false
			v.card.Selected = false
		}
	default:
		v.regs[addr] = value
	}
}

func (v *VirtualRC522) runCommand(cmd byte) {
	v.commands = append(v.commands, cmd)
	if cmd != CmdIdle {
		// starting a command clears all error bits except BufferOvfl
		v.regs[RegError] &= ErrBufferOvfl
	}

	switch cmd {
	case CmdIdle:
	case CmdSoftReset:
		v.resetRegisters()
	case CmdCalcCRC:
		if v.stallCRC {
			return
		}
		crc := frame.CalculateCRCA(v.fifo)
		v.fifo = v.fifo[:0]
		v.regs[RegCRCResultL] = crc[0]
		v.regs[RegCRCResultH] = crc[1]
		v.regs[RegDivIrq] |= IRQCRC
	case CmdTransceive:
		// waits for StartSend
	default:
		if !v.stallIRQ {
			v.regs[RegComIrq] |= IRQIdle
		}
	}
}

func (v *VirtualRC522) transceive(txLastBits byte) {
	sent := append([]byte(nil), v.fifo...)
	v.fifo = v.fifo[:0]
	v.frames = append(v.frames, sent)
	v.regs[RegComIrq] |= IRQTx

	var reply []byte
	lastBits := byte(0)
	switch {
	case v.overrideReply:
		reply = v.nextResponse
		lastBits = v.nextLastBits
		v.overrideReply = false
		v.nextResponse = nil
		v.nextLastBits = 0
	case v.card != nil:
		reply = v.card.Respond(sent, txLastBits)
	}

	if v.stallIRQ || reply == nil {
		// the chip timer runs out; receiver-done never fires
		v.regs[RegComIrq] |= IRQTimer
		return
	}

	v.fifo = append(v.fifo, reply...)
	v.regs[RegControl] = v.regs[RegControl]&^txLastBitsMask | lastBits&txLastBitsMask
	v.regs[RegComIrq] |= IRQRx
	if v.injectErr != 0 {
		v.regs[RegError] |= v.injectErr
		v.regs[RegComIrq] |= IRQErr
		v.injectErr = 0
	}
	if v.injectTimer {
		v.regs[RegComIrq] |= IRQTimer
		v.injectTimer = false
	}
}

// SetCard places card in the field, replacing any previous card. nil
// empties the field.
func (v *VirtualRC522) SetCard(card *VirtualCard) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.card = card
}

// Card returns the card in the field, or nil
func (v *VirtualRC522) Card() *VirtualCard {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.card
}

// RemoveCard empties the field
func (v *VirtualRC522) RemoveCard() {
	v.SetCard(nil)
}

// SetVersion sets the value reported by VersionReg, e.g. 0x00 to emulate a
// missing chip.
func (v *VirtualRC522) SetVersion(version byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version = version
	v.regs[RegVersion] = version
}

// SetRegister forces a register value, bypassing write side effects
func (v *VirtualRC522) SetRegister(addr, value byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.regs[addr&(registerCount-1)] = value
}

// Register returns a register value without read side effects
func (v *VirtualRC522) Register(addr byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if addr&(registerCount-1) == RegFIFOLevel {
		return byte(len(v.fifo))
	}
	return v.regs[addr&(registerCount-1)]
}

// InjectError makes the next transceive that gets a reply set bits in
// ErrorReg.
func (v *VirtualRC522) InjectError(flags byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectErr = flags
}

// InjectTimerIRQ makes the next replied transceive also raise TimerIRq
func (v *VirtualRC522) InjectTimerIRQ() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectTimer = true
}

// StallIRQ stops the simulator from ever raising RxIRq or IdleIRq, as if
// the chip were stuck.
func (v *VirtualRC522) StallIRQ(stall bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stallIRQ = stall
}

// StallCRC stops the CRC coprocessor from completing
func (v *VirtualRC522) StallCRC(stall bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stallCRC = stall
}

// QueueResponse makes the next transceive return data with lastBits valid
// bits in the final byte, regardless of the card in the field. nil data
// or empty data means no reply.
func (v *VirtualRC522) QueueResponse(data []byte, lastBits byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrideReply = true
	v.nextResponse = append([]byte(nil), data...)
	v.nextLastBits = lastBits
}

// Frames returns every frame transmitted to the field, oldest first
func (v *VirtualRC522) Frames() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.frames))
	for i, f := range v.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Commands returns every command written to CommandReg, oldest first
func (v *VirtualRC522) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.commands...)
}

// ReadCount returns how many times addr was read
func (v *VirtualRC522) ReadCount(addr byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reads[addr&(registerCount-1)]
}

// WriteCount returns how many times addr was written
func (v *VirtualRC522) WriteCount(addr byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writes[addr&(registerCount-1)]
}

// Reset returns the simulator to power-on state. The card in the field
// stays but is woken from HALT.
func (v *VirtualRC522) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.resetRegisters()
	v.frames = nil
	v.commands = nil
	v.reads = [registerCount]int{}
	v.writes = [registerCount]int{}
	v.injectErr = 0
	v.injectTimer = false
	v.stallIRQ = false
	v.stallCRC = false
	v.overrideReply = false
	v.nextResponse = nil
	if v.card != nil && v.card.Present {
		v.card.Insert()
	}
}
