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
	"context"
	"fmt"

	"github.com/ZaparooProject/go-rc522/internal/frame"
)

const (
	atqaLength          = 2
	anticollisionLength = UIDLength + 1 // UID + check byte
	selectAckLength     = 3             // SAK + CRC_A
)

// Request sends REQA as a 7-bit short frame. An OK outcome means a card
// answered; Outcome.Data then holds its 2-byte ATQA.
func (d *Device) Request(ctx context.Context) (Outcome, error) {
	if err := d.ready(); err != nil {
		return Outcome{}, err
	}
	if err := d.writeRegister(BitFramingReg, bitFramingShort); err != nil {
		return Outcome{}, err
	}

	out, err := d.communicate(ctx, CmdTransceive, []byte{piccReqA}, d.config.RequestTimeout)
	if err != nil || !out.OK() {
		return out, err
	}
	if len(out.Data) != atqaLength || out.ValidBits != 0 {
		Debugf("REQA: unexpected ATQA %s (%d valid bits)", formatHexBytes(out.Data), out.ValidBits)
		return Outcome{Status: StatusCommunicationError}, nil
	}
	return out, nil
}

// Anticollision runs cascade level 1 anticollision and returns the card's
// 4-byte identifier once its check byte has been validated. A reply that is
// not exactly identifier plus check byte, or whose check byte is wrong, is
// a communication error.
func (d *Device) Anticollision(ctx context.Context) (Outcome, UID, error) {
	var uid UID
	if err := d.ready(); err != nil {
		return Outcome{}, uid, err
	}
	if err := d.writeRegister(BitFramingReg, bitFramingFull); err != nil {
		return Outcome{}, uid, err
	}

	out, err := d.communicate(ctx, CmdTransceive, []byte{piccSelCL1, piccNVBAnticoll}, d.config.RequestTimeout)
	if err != nil {
		return out, uid, err
	}
	if out.ErrorFlags&ErrFlagCollision != 0 {
		if err := d.logCollision(); err != nil {
			return Outcome{}, uid, err
		}
	}
	if !out.OK() {
		return out, uid, nil
	}
	if len(out.Data) != anticollisionLength {
		Debugf("anticollision: expected %d bytes, got %s", anticollisionLength, formatHexBytes(out.Data))
		return Outcome{Status: StatusCommunicationError}, uid, nil
	}

	copy(uid[:], out.Data[:UIDLength])
	if !d.config.Checksum.Valid(uid[:], out.Data[UIDLength]) {
		Debugf("anticollision: %s check byte 0x%02X, want 0x%02X (%s)",
			uid, out.Data[UIDLength], d.config.Checksum.Compute(uid[:]), d.config.Checksum)
		return Outcome{Status: StatusCommunicationError}, UID{}, nil
	}

	out.Data = uid[:]
	return out, uid, nil
}

// logCollision reports where two cards answered with different bits
func (d *Device) logCollision() error {
	coll, err := d.readRegister(CollReg)
	if err != nil {
		return err
	}
	if coll&collPosNotValid != 0 {
		Debugln("anticollision: bit collision outside the UID")
		return nil
	}
	pos := int(coll & collPosMask)
	if pos == 0 {
		pos = 32
	}
	Debugf("anticollision: bit collision at UID bit %d", pos)
	return nil
}

// ReadUID runs Request then Anticollision. A non-OK outcome from either
// step means no identifier was read this cycle.
func (d *Device) ReadUID(ctx context.Context) (UID, Outcome, error) {
	out, err := d.Request(ctx)
	if err != nil || !out.OK() {
		return UID{}, out, err
	}
	out, uid, err := d.Anticollision(ctx)
	return uid, out, err
}

// Select selects the card with uid at cascade level 1 and returns its SAK.
// The SAK is only meaningful when the outcome is OK.
func (d *Device) Select(ctx context.Context, uid UID) (byte, Outcome, error) {
	if err := d.ready(); err != nil {
		return 0, Outcome{}, err
	}

	cmd := make([]byte, 0, 9)
	cmd = append(cmd, piccSelCL1, piccNVBSelect)
	cmd = append(cmd, uid[:]...)
	cmd = append(cmd, d.config.Checksum.Compute(uid[:]))

	crc, err := d.CalculateCRC(ctx, cmd)
	if err != nil {
		return 0, Outcome{}, fmt.Errorf("%w: %w", ErrSelectFailed, err)
	}
	cmd = append(cmd, crc[:]...)

	if err := d.writeRegister(BitFramingReg, bitFramingFull); err != nil {
		return 0, Outcome{}, err
	}
	out, err := d.communicate(ctx, CmdTransceive, cmd, d.config.RequestTimeout)
	if err != nil || !out.OK() {
		return 0, out, err
	}
	if len(out.Data) != selectAckLength || !frame.VerifyCRCA(out.Data) {
		Debugf("select %s: bad SAK frame %s", uid, formatHexBytes(out.Data))
		return 0, Outcome{Status: StatusCommunicationError}, nil
	}
	return out.Data[0], out, nil
}

// Halt sends HLTA. A halted card does not answer, so a timeout is success;
// any answer means the card did not halt.
func (d *Device) Halt(ctx context.Context) error {
	if err := d.ready(); err != nil {
		return err
	}

	cmd := []byte{piccHaltA, 0x00}
	crc, err := d.CalculateCRC(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHaltFailed, err)
	}
	cmd = append(cmd, crc[:]...)

	if err := d.writeRegister(BitFramingReg, bitFramingFull); err != nil {
		return err
	}
	out, err := d.communicate(ctx, CmdTransceive, cmd, d.config.RequestTimeout)
	if err != nil {
		return err
	}
	if out.Status != StatusTimeout {
		return fmt.Errorf("%w: card answered HLTA (%s)", ErrHaltFailed, out)
	}
	return nil
}
