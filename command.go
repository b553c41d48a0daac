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
	"time"
)

// Status is the result category of one chip exchange
type Status int

const (
	// StatusOK means the command completed and Outcome.Data is valid
	StatusOK Status = iota
	// StatusCommunicationError means the chip flagged a parity, protocol,
	// collision or overflow error, or the reply failed validation
	StatusCommunicationError
	// StatusTimeout means the chip did not signal completion in time,
	// typically because no card is in the field
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCommunicationError:
		return "communication error"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the result of a chip exchange. Timeouts and communication
// errors are routine while polling for cards, so they are reported here
// rather than as Go errors; callers must not use Data unless Status is
// StatusOK.
type Outcome struct {
	Data       []byte
	Status     Status
	ErrorFlags ChipErrorFlags
	// ValidBits is the number of valid bits in the last byte of Data,
	// 0 meaning the whole byte is valid
	ValidBits uint8
}

// OK reports whether the exchange succeeded
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

func (o Outcome) String() string {
	if o.Status == StatusCommunicationError && o.ErrorFlags != 0 {
		return fmt.Sprintf("%s (%s)", o.Status, o.ErrorFlags)
	}
	if o.Status == StatusOK {
		return fmt.Sprintf("ok [%s]", formatHexBytes(o.Data))
	}
	return o.Status.String()
}

// RegisterReader reads chip registers on behalf of an IRQWaiter
type RegisterReader interface {
	ReadRegister(addr Register) (byte, error)
}

// IRQWaiter waits for any bit of mask to be set in an interrupt request
// register. It returns the last value read, whether a bit of mask was seen
// before timeout, and any bus or context error.
type IRQWaiter interface {
	WaitIRQ(ctx context.Context, r RegisterReader, reg Register, mask byte, timeout time.Duration) (byte, bool, error)
}

// PollWaiter busy-polls the IRQ register on the calling goroutine. This is
// the default; the chip's IRQ pin is not used.
type PollWaiter struct {
	// Interval between reads, 0 for back-to-back reads
	Interval time.Duration
}

// WaitIRQ implements IRQWaiter. A timeout of zero or less never reads the
// register and reports a timeout.
func (w PollWaiter) WaitIRQ(
	ctx context.Context, r RegisterReader, reg Register, mask byte, timeout time.Duration,
) (byte, bool, error) {
	var irq byte
	if timeout <= 0 {
		return irq, false, nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return irq, false, err
		}

		value, err := r.ReadRegister(reg)
		if err != nil {
			return irq, false, err
		}
		irq = value
		if irq&mask != 0 {
			return irq, true, nil
		}

		if w.Interval > 0 {
			if err := sleepCtx(ctx, w.Interval); err != nil {
				return irq, false, err
			}
		}
	}
	return irq, false, nil
}

// Communicate runs cmd on the chip with send loaded into the FIFO and waits
// up to timeout for completion. For CmdTransceive the received frame is
// returned in Outcome.Data; other commands never return data. Bus failures
// and context cancellation are returned as errors.
func (d *Device) Communicate(ctx context.Context, cmd Command, send []byte, timeout time.Duration) (Outcome, error) {
	if err := d.ready(); err != nil {
		return Outcome{}, err
	}
	if len(send) > fifoSize {
		return Outcome{}, fmt.Errorf("%w: %d bytes exceed the %d byte FIFO", ErrDataTooLarge, len(send), fifoSize)
	}
	return d.communicate(ctx, cmd, send, timeout)
}

func (d *Device) communicate(ctx context.Context, cmd Command, send []byte, timeout time.Duration) (Outcome, error) {
	if err := d.writeRegister(CommandReg, byte(CmdIdle)); err != nil {
		return Outcome{}, err
	}
	if err := d.writeRegister(ComIrqReg, irqAll); err != nil {
		return Outcome{}, err
	}
	if err := d.setBitMask(FIFOLevelReg, fifoFlushBuffer); err != nil {
		return Outcome{}, err
	}
	if err := d.loadFIFO(send); err != nil {
		return Outcome{}, err
	}
	if err := d.writeRegister(CommandReg, byte(cmd)); err != nil {
		return Outcome{}, err
	}
	if cmd == CmdTransceive {
		if err := d.setBitMask(BitFramingReg, bitFramingStartSend); err != nil {
			return Outcome{}, err
		}
	}

	irq, done, waitErr := d.waiter.WaitIRQ(ctx, registerReader{d}, ComIrqReg, irqRx|irqIdle, timeout)

	// StartSend is cleared even after a failed wait so the next frame
	// does not start early.
	if err := d.clearBitMask(BitFramingReg, bitFramingStartSend); err != nil && waitErr == nil {
		waitErr = err
	}
	if waitErr != nil {
		return Outcome{}, waitErr
	}

	if !done {
		return Outcome{Status: StatusTimeout}, nil
	}

	errFlags, err := d.readRegister(ErrorReg)
	if err != nil {
		return Outcome{}, err
	}
	if flags := ChipErrorFlags(errFlags); flags.IsCommunicationError() {
		Debugf("%s failed: %s", cmd, flags)
		return Outcome{Status: StatusCommunicationError, ErrorFlags: flags}, nil
	}
	if irq&irqTimer != 0 {
		Debugf("%s finished after the chip timer expired (ComIrqReg 0x%02X)", cmd, irq)
		return Outcome{Status: StatusCommunicationError}, nil
	}

	if cmd != CmdTransceive {
		return Outcome{Status: StatusOK}, nil
	}
	return d.drainFIFO()
}

func (d *Device) loadFIFO(data []byte) error {
	for _, b := range data {
		if err := d.writeRegister(FIFODataReg, b); err != nil {
			return err
		}
	}
	return nil
}

// drainFIFO reads every byte the chip buffered for the last frame
func (d *Device) drainFIFO() (Outcome, error) {
	level, err := d.readRegister(FIFOLevelReg)
	if err != nil {
		return Outcome{}, err
	}
	control, err := d.readRegister(ControlReg)
	if err != nil {
		return Outcome{}, err
	}

	n := int(level & fifoLevelMask)
	if n > fifoSize {
		n = fifoSize
	}

	data := make([]byte, n)
	for i := range data {
		if data[i], err = d.readRegister(FIFODataReg); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{
		Status:    StatusOK,
		Data:      data,
		ValidBits: control & rxLastBitsMask,
	}, nil
}

// CalculateCRC runs the chip's CRC coprocessor over data and returns the
// CRC_A low byte first, ready to append to a frame.
func (d *Device) CalculateCRC(ctx context.Context, data []byte) ([2]byte, error) {
	var crc [2]byte
	if err := d.ready(); err != nil {
		return crc, err
	}
	if len(data) > fifoSize {
		return crc, fmt.Errorf("%w: %d bytes exceed the %d byte FIFO", ErrDataTooLarge, len(data), fifoSize)
	}

	if err := d.writeRegister(CommandReg, byte(CmdIdle)); err != nil {
		return crc, err
	}
	if err := d.writeRegister(DivIrqReg, irqCRC); err != nil {
		return crc, err
	}
	if err := d.setBitMask(FIFOLevelReg, fifoFlushBuffer); err != nil {
		return crc, err
	}
	if err := d.loadFIFO(data); err != nil {
		return crc, err
	}
	if err := d.writeRegister(CommandReg, byte(CmdCalcCRC)); err != nil {
		return crc, err
	}

	_, done, waitErr := d.waiter.WaitIRQ(ctx, registerReader{d}, DivIrqReg, irqCRC, d.config.CRCTimeout)
	if err := d.writeRegister(CommandReg, byte(CmdIdle)); err != nil && waitErr == nil {
		waitErr = err
	}
	if waitErr != nil {
		return crc, waitErr
	}
	if !done {
		return crc, ErrCRCTimeout
	}

	lo, err := d.readRegister(CRCResultRegL)
	if err != nil {
		return crc, err
	}
	hi, err := d.readRegister(CRCResultRegH)
	if err != nil {
		return crc, err
	}
	crc[0], crc[1] = lo, hi
	return crc, nil
}
