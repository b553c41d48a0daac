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
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-rc522"
	virt "github.com/ZaparooProject/go-rc522/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulatedBus(version byte) (*rc522.MockBus, *virt.VirtualRC522) {
	sim := virt.NewVirtualRC522()
	sim.SetVersion(version)
	return rc522.NewMockBus(sim), sim
}

func TestKnownVersion(t *testing.T) {
	t.Parallel()

	for _, v := range []byte{0x88, 0x90, 0x91, 0x92, 0xB2, 0x12} {
		assert.True(t, KnownVersion(v), "0x%02X", v)
	}
	for _, v := range []byte{0x00, 0xFF, 0x37, 0x93} {
		assert.False(t, KnownVersion(v), "0x%02X", v)
	}
}

func TestProbe_Safe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		version    byte
		confidence Confidence
	}{
		{"MFRC522 v2.0", 0x92, High},
		{"MFRC522 v1.0", 0x91, High},
		{"FM17522 clone", 0x88, High},
		{"unrecognised chip", 0x37, Medium},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			bus, sim := simulatedBus(tc.version)

			version, confidence, err := Probe(context.Background(), bus, Safe)
			require.NoError(t, err)
			assert.Equal(t, tc.version, version)
			assert.Equal(t, tc.confidence, confidence)
			assert.False(t, bus.IsConnected(), "probe must close the bus")
			assert.Empty(t, bus.Writes(), "safe probe must not write")
			assert.Equal(t, 1, sim.ReadCount(virt.RegVersion))
		})
	}
}

func TestProbe_NoChip(t *testing.T) {
	t.Parallel()

	for _, version := range []byte{0x00, 0xFF} {
		bus, _ := simulatedBus(version)
		_, confidence, err := Probe(context.Background(), bus, Safe)
		require.ErrorIs(t, err, rc522.ErrNoChip)
		assert.Equal(t, Low, confidence)
		assert.False(t, bus.IsConnected())
	}
}

func TestProbe_ReadError(t *testing.T) {
	t.Parallel()

	bus, _ := simulatedBus(0x92)
	bus.SetReadError(rc522.VersionReg, errors.New("bus fault"))

	_, _, err := Probe(context.Background(), bus, Safe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read VersionReg")
	assert.False(t, bus.IsConnected())
}

func TestProbe_FullInitializesAndStopsField(t *testing.T) {
	t.Parallel()

	bus, sim := simulatedBus(0x92)

	version, confidence, err := Probe(context.Background(), bus, Full, rc522.WithResetDelay(0))
	require.NoError(t, err)
	assert.Equal(t, byte(0x92), version)
	assert.Equal(t, High, confidence)

	assert.Equal(t, byte(0x8D), sim.Register(virt.RegTMode))
	assert.Zero(t, sim.Register(virt.RegTxControl)&0x03, "antenna must be off after a probe")
	assert.False(t, bus.IsConnected())
}

func TestProbe_Passive(t *testing.T) {
	t.Parallel()

	bus, sim := simulatedBus(0x92)

	_, confidence, err := Probe(context.Background(), bus, Passive)
	require.NoError(t, err)
	assert.Equal(t, Low, confidence)
	assert.Zero(t, sim.ReadCount(virt.RegVersion))
	assert.False(t, bus.IsConnected())
}

func TestProbe_NilBus(t *testing.T) {
	t.Parallel()

	_, _, err := Probe(context.Background(), nil, Safe)
	require.ErrorIs(t, err, rc522.ErrInvalidParameter)
}

func TestProbeDevice(t *testing.T) {
	t.Parallel()

	t.Run("records chip metadata", func(t *testing.T) {
		t.Parallel()
		bus, _ := simulatedBus(0x91)
		device := DeviceInfo{Transport: "spi", Path: "SPI0.0"}

		ok := ProbeDevice(context.Background(), func(path string) (rc522.Bus, error) {
			assert.Equal(t, "SPI0.0", path)
			return bus, nil
		}, Safe, &device)

		require.True(t, ok)
		assert.Equal(t, High, device.Confidence)
		assert.Equal(t, "0x91", device.Metadata["version"])
		assert.Equal(t, "MFRC522 v1.0", device.Metadata["chip"])
	})

	t.Run("open failure", func(t *testing.T) {
		t.Parallel()
		device := DeviceInfo{Transport: "spi", Path: "SPI9.9"}
		ok := ProbeDevice(context.Background(), func(string) (rc522.Bus, error) {
			return nil, errors.New("no such port")
		}, Safe, &device)
		assert.False(t, ok)
	})

	t.Run("passive does not open", func(t *testing.T) {
		t.Parallel()
		device := DeviceInfo{Transport: "spi", Path: "SPI0.0", Confidence: Low}
		ok := ProbeDevice(context.Background(), func(string) (rc522.Bus, error) {
			t.Error("open called in passive mode")
			return nil, errors.New("unexpected")
		}, Passive, &device)
		assert.True(t, ok)
		assert.Equal(t, Low, device.Confidence)
	})

	t.Run("silent bus", func(t *testing.T) {
		t.Parallel()
		bus, _ := simulatedBus(0xFF)
		device := DeviceInfo{Transport: "i2c", Path: "/dev/i2c-1:0x28"}
		ok := ProbeDevice(context.Background(), func(string) (rc522.Bus, error) {
			return bus, nil
		}, Full, &device)
		assert.False(t, ok)
	})
}
