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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-rc522/internal/testing"
)

func TestCommunicate_WireSequence(t *testing.T) {
	t.Parallel()

	device, sim, bus := createSimulatedDevice(t)
	sim.QueueResponse([]byte{0xAA, 0xBB}, 0)

	before := len(bus.Writes())
	out, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x26}, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, []byte{0xAA, 0xBB}, out.Data)
	assert.Zero(t, out.ValidBits)

	want := []RegisterWrite{
		{Addr: CommandReg, Value: byte(CmdIdle)},
		{Addr: ComIrqReg, Value: 0x7F},
		{Addr: FIFOLevelReg, Value: 0x80},
		{Addr: FIFODataReg, Value: 0x26},
		{Addr: CommandReg, Value: byte(CmdTransceive)},
		{Addr: BitFramingReg, Value: 0x80},
		{Addr: BitFramingReg, Value: 0x00},
	}
	assert.Equal(t, want, bus.Writes()[before:])
	assert.Equal(t, [][]byte{{0x26}}, sim.Frames())
}

func TestCommunicate_ValidBits(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	sim.QueueResponse([]byte{0x0A}, 4)

	out, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x01}, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.Equal(t, uint8(4), out.ValidBits)
}

func TestCommunicate_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup     func(sim *virt.VirtualRC522)
		name      string
		wantFlags ChipErrorFlags
		want      Status
	}{
		{
			name:  "no reply times out",
			setup: func(*virt.VirtualRC522) {},
			want:  StatusTimeout,
		},
		{
			name: "collision",
			setup: func(sim *virt.VirtualRC522) {
				sim.QueueResponse([]byte{0x01}, 0)
				sim.InjectError(virt.ErrCollision)
			},
			want:      StatusCommunicationError,
			wantFlags: ErrFlagCollision,
		},
		{
			name: "parity and protocol",
			setup: func(sim *virt.VirtualRC522) {
				sim.QueueResponse([]byte{0x01}, 0)
				sim.InjectError(virt.ErrParity | virt.ErrProtocol)
			},
			want:      StatusCommunicationError,
			wantFlags: ErrFlagParity | ErrFlagProtocol,
		},
		{
			name: "CRC error alone is not fatal",
			setup: func(sim *virt.VirtualRC522) {
				sim.QueueResponse([]byte{0x01}, 0)
				sim.InjectError(virt.ErrCRC)
			},
			want: StatusOK,
		},
		{
			name: "timer expired with data",
			setup: func(sim *virt.VirtualRC522) {
				sim.QueueResponse([]byte{0x01}, 0)
				sim.InjectTimerIRQ()
			},
			want: StatusCommunicationError,
		},
		{
			name:  "stuck chip",
			setup: func(sim *virt.VirtualRC522) { sim.StallIRQ(true) },
			want:  StatusTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, sim, _ := createSimulatedDevice(t)
			tt.setup(sim)

			out, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x01}, 10*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status, out.String())
			assert.Equal(t, tt.wantFlags, out.ErrorFlags)
			if !out.OK() {
				assert.Empty(t, out.Data)
			}
		})
	}
}

func TestCommunicate_ZeroTimeout(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	sim.QueueResponse([]byte{0x01}, 0)

	reads := sim.ReadCount(virt.RegComIrq)
	out, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x01}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.Equal(t, reads, sim.ReadCount(virt.RegComIrq), "IRQ register is never polled")
}

func TestCommunicate_NonTransceiveCommand(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)

	out, err := device.Communicate(context.Background(), CmdSoftReset, nil, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Empty(t, out.Data)
	assert.Empty(t, sim.Frames(), "nothing is transmitted")
}

func TestCommunicate_DataTooLarge(t *testing.T) {
	t.Parallel()

	device, _, bus := createSimulatedDevice(t)
	calls := bus.CallCount()

	_, err := device.Communicate(context.Background(), CmdTransceive, make([]byte, 65), time.Millisecond)
	require.ErrorIs(t, err, ErrDataTooLarge)
	assert.Equal(t, calls, bus.CallCount())
}

func TestCommunicate_ContextCancelled(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	sim.QueueResponse([]byte{0x01}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := device.Communicate(ctx, CmdTransceive, []byte{0x01}, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sim.Register(virt.RegBitFraming)&0x80, "StartSend cleared after a failed wait")
}

func TestCommunicate_BusErrors(t *testing.T) {
	t.Parallel()

	t.Run("IRQ read fails", func(t *testing.T) {
		t.Parallel()

		device, _, bus := createSimulatedDevice(t)
		bus.SetReadError(ComIrqReg, ErrTransportRead)

		_, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x01}, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrTransportRead)
		assert.ErrorContains(t, err, "ComIrqReg")
	})

	t.Run("FIFO write fails", func(t *testing.T) {
		t.Parallel()

		device, _, bus := createSimulatedDevice(t)
		bus.SetWriteError(FIFODataReg, ErrTransportWrite)

		_, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x01}, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrTransportWrite)
	})

	t.Run("error register read fails", func(t *testing.T) {
		t.Parallel()

		device, sim, bus := createSimulatedDevice(t)
		sim.QueueResponse([]byte{0x01}, 0)
		bus.SetReadError(ErrorReg, ErrTransportTimeout)

		_, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x01}, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrTransportTimeout)
	})
}

// recordingWaiter wraps PollWaiter and remembers each wait request
type recordingWaiter struct {
	masks []byte
	regs  []Register
	inner PollWaiter
}

func (w *recordingWaiter) WaitIRQ(
	ctx context.Context, r RegisterReader, reg Register, mask byte, timeout time.Duration,
) (byte, bool, error) {
	w.regs = append(w.regs, reg)
	w.masks = append(w.masks, mask)
	return w.inner.WaitIRQ(ctx, r, reg, mask, timeout)
}

func TestCommunicate_CustomWaiter(t *testing.T) {
	t.Parallel()

	waiter := &recordingWaiter{}
	device, sim, _ := createSimulatedDevice(t, WithIRQWaiter(waiter))
	sim.QueueResponse([]byte{0x04, 0x00}, 0)

	out, err := device.Communicate(context.Background(), CmdTransceive, []byte{0x26}, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, out.OK())

	assert.Equal(t, []Register{ComIrqReg}, waiter.regs)
	assert.Equal(t, []byte{0x30}, waiter.masks, "RxIRq or IdleIRq")
}

func TestPollWaiter(t *testing.T) {
	t.Parallel()

	t.Run("bit already set", func(t *testing.T) {
		t.Parallel()

		bus := NewMockBus(nil)
		bus.SetRegister(ComIrqReg, 0x20)

		irq, done, err := PollWaiter{}.WaitIRQ(context.Background(), bus, ComIrqReg, 0x30, time.Second)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, byte(0x20), irq)
		assert.Equal(t, 1, bus.CallCount())
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()

		bus := NewMockBus(nil)
		bus.SetRegister(ComIrqReg, 0x01)

		start := time.Now()
		irq, done, err := PollWaiter{Interval: time.Millisecond}.WaitIRQ(
			context.Background(), bus, ComIrqReg, 0x30, 20*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, byte(0x01), irq)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Positive(t, bus.CallCount())
	})

	t.Run("read error", func(t *testing.T) {
		t.Parallel()

		bus := NewMockBus(nil)
		bus.SetReadError(DivIrqReg, ErrTransportRead)

		_, done, err := PollWaiter{}.WaitIRQ(context.Background(), bus, DivIrqReg, 0x04, time.Second)
		require.ErrorIs(t, err, ErrTransportRead)
		assert.False(t, done)
	})
}

func TestCalculateCRC(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)

	crc, err := device.CalculateCRC(context.Background(), []byte{0x50, 0x00})
	require.NoError(t, err)
	assert.Equal(t, [2]byte{0x57, 0xCD}, crc)
	assert.Equal(t, byte(CmdIdle), sim.Register(virt.RegCommand)&0x0F, "coprocessor stopped afterwards")
}

func TestCalculateCRC_Timeout(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t, WithCRCTimeout(5*time.Millisecond))
	sim.StallCRC(true)

	_, err := device.CalculateCRC(context.Background(), []byte{0x50, 0x00})
	require.ErrorIs(t, err, ErrCRCTimeout)
	assert.True(t, IsRetryable(err))
}

func TestCalculateCRC_DataTooLarge(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	_, err := device.CalculateCRC(context.Background(), make([]byte, 65))
	require.ErrorIs(t, err, ErrDataTooLarge)
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
		out  Outcome
	}{
		{name: "ok", out: Outcome{Status: StatusOK, Data: []byte{0x04, 0x00}}, want: "ok [04 00]"},
		{name: "ok empty", out: Outcome{Status: StatusOK}, want: "ok [(empty)]"},
		{name: "timeout", out: Outcome{Status: StatusTimeout}, want: "timeout"},
		{name: "plain error", out: Outcome{Status: StatusCommunicationError}, want: "communication error"},
		{
			name: "error with flags",
			out:  Outcome{Status: StatusCommunicationError, ErrorFlags: ErrFlagCollision},
			want: "communication error (bit collision)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.out.String())
		})
	}

	assert.Equal(t, "Status(9)", Status(9).String())
}
