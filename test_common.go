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

//go:build !prod

package rc522

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	virt "github.com/ZaparooProject/go-rc522/internal/testing"
)

// createSimulatedDevice connects a device to a simulated MFRC522 with a
// card carrying virt.TestUID in the field. Reset delays are disabled so
// tests run without sleeping. The device is closed when the test ends.
func createSimulatedDevice(t *testing.T, opts ...Option) (*Device, *virt.VirtualRC522, *MockBus) {
	t.Helper()

	sim := virt.NewVirtualRC522()
	sim.SetCard(virt.NewVirtualCard(nil))
	bus := NewMockBus(sim)

	opts = append([]Option{WithResetDelay(0)}, opts...)
	device, err := Connect(context.Background(), bus, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = device.Close() })

	return device, sim, bus
}
