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

package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/internal/syncutil"
	virt "github.com/ZaparooProject/go-rc522/internal/testing"
)

// createSimulatedDevice connects a device to a simulated chip with a card
// in the field. Request timeouts are short so empty polls are fast.
func createSimulatedDevice(t testing.TB) (*rc522.Device, *virt.VirtualRC522, *rc522.MockBus) {
	t.Helper()

	sim := virt.NewVirtualRC522()
	sim.SetCard(virt.NewVirtualCard(nil))
	bus := rc522.NewMockBus(sim)

	device, err := rc522.Connect(context.Background(), bus, nil,
		rc522.WithResetDelay(0),
		rc522.WithRequestTimeout(5*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = device.Close() })
	return device, sim, bus
}

func testConfig() *Config {
	return &Config{
		PollInterval:  2 * time.Millisecond,
		SleepRecovery: SleepRecoveryConfig{Enabled: false},
	}
}

// eventLog records session callbacks
type eventLog struct {
	detected []rc522.UID
	changed  []rc522.UID
	removed  int
	mu       syncutil.Mutex
}

func (e *eventLog) attach(s *Session) {
	s.SetOnCardDetected(func(uid rc522.UID) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.detected = append(e.detected, uid)
		return nil
	})
	s.SetOnCardChanged(func(uid rc522.UID) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.changed = append(e.changed, uid)
		return nil
	})
	s.SetOnCardRemoved(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.removed++
	})
}

func (e *eventLog) counts() (detected, changed, removed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.detected), len(e.changed), e.removed
}

func (e *eventLog) lastDetected() rc522.UID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.detected) == 0 {
		return rc522.UID{}
	}
	return e.detected[len(e.detected)-1]
}

// runSession starts s in the background and returns a function that stops
// it and returns Start's result.
func runSession(t *testing.T, s *Session) (stop func() error, done <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	var result error
	var stopped bool
	stop = func() error {
		if stopped {
			return result
		}
		stopped = true
		cancel()
		select {
		case result = <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatal("session did not stop")
		}
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop, errCh
}

// waitCycles waits until the session has completed n more polling cycles
func waitCycles(t *testing.T, s *Session, n int64) {
	t.Helper()
	target := s.GetMetrics().PollCycles + n
	require.Eventually(t, func() bool {
		return s.GetMetrics().PollCycles >= target
	}, 2*time.Second, time.Millisecond)
}

func TestNewSession(t *testing.T) {
	t.Parallel()
	device, _, _ := createSimulatedDevice(t)

	t.Run("WithDefaultConfig", func(t *testing.T) {
		t.Parallel()
		session := NewSession(device, nil)

		assert.NotNil(t, session)
		assert.Equal(t, device, session.GetDevice())
		assert.Equal(t, 100*time.Millisecond, session.config.PollInterval)
		assert.NotNil(t, session.pauseChan)
		assert.NotNil(t, session.resumeChan)
		assert.False(t, session.isPaused.Load())
		assert.Equal(t, StateIdle, session.GetState().DetectionState)
	})

	t.Run("WithCustomConfig", func(t *testing.T) {
		t.Parallel()
		config := &Config{PollInterval: 50 * time.Millisecond}
		session := NewSession(device, config)

		assert.Equal(t, config, session.config)
		assert.Equal(t, 50*time.Millisecond, session.config.PollInterval)
	})

	t.Run("ZeroIntervalUsesDefault", func(t *testing.T) {
		t.Parallel()
		session := NewSession(device, &Config{})
		assert.Equal(t, DefaultConfig().PollInterval, session.config.PollInterval)
	})
}

func TestSession_CallbackSetters(t *testing.T) {
	t.Parallel()
	device, _, _ := createSimulatedDevice(t)
	session := NewSession(device, nil)

	session.SetOnCardDetected(func(rc522.UID) error { return nil })
	session.SetOnCardChanged(func(rc522.UID) error { return nil })
	session.SetOnCardRemoved(func() {})

	session.stateMutex.RLock()
	defer session.stateMutex.RUnlock()
	assert.NotNil(t, session.OnCardDetected)
	assert.NotNil(t, session.OnCardChanged)
	assert.NotNil(t, session.OnCardRemoved)
}

func TestSession_Start_NoDevice(t *testing.T) {
	t.Parallel()

	session := NewSession(nil, testConfig())
	err := session.Start(context.Background())
	require.ErrorIs(t, err, rc522.ErrInvalidParameter)
}

func TestSession_DetectsCardOnce(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())
	events := &eventLog{}
	events.attach(session)

	stop, _ := runSession(t, session)

	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 1
	}, 2*time.Second, time.Millisecond)

	// The same card read again and again is reported once.
	waitCycles(t, session, 5)
	detected, changed, removed := events.counts()
	assert.Equal(t, 1, detected)
	assert.Zero(t, changed)
	assert.Zero(t, removed)
	assert.Equal(t, "12:34:56:78", events.lastDetected().String())

	state := session.GetState()
	assert.Equal(t, StateTagDetected, state.DetectionState)
	assert.Equal(t, rc522.UID{0x12, 0x34, 0x56, 0x78}, state.LastUID)
	assert.True(t, state.Present)

	require.ErrorIs(t, stop(), context.Canceled)
	assert.EqualValues(t, 1, session.GetMetrics().CardsDetected)
}

func TestSession_CardRemovedAndReinserted(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())
	events := &eventLog{}
	events.attach(session)

	runSession(t, session)

	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 1
	}, 2*time.Second, time.Millisecond)

	sim.RemoveCard()
	require.Eventually(t, func() bool {
		_, _, r := events.counts()
		return r == 1
	}, 2*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return session.GetState().DetectionState == StateIdle
	}, time.Second, time.Millisecond)

	sim.SetCard(virt.NewVirtualCard(nil))
	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 2
	}, 2*time.Second, time.Millisecond)
	_, changed, removed := events.counts()
	assert.Zero(t, changed)
	assert.Equal(t, 1, removed)
}

func TestSession_CardChanged(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())
	events := &eventLog{}
	events.attach(session)

	runSession(t, session)

	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 1
	}, 2*time.Second, time.Millisecond)

	sim.SetCard(virt.NewVirtualCard(virt.TestMifareUID))
	require.Eventually(t, func() bool {
		_, c, _ := events.counts()
		return c == 1
	}, 2*time.Second, time.Millisecond)

	events.mu.Lock()
	assert.Equal(t, "DE:AD:BE:EF", events.changed[0].String())
	events.mu.Unlock()
	assert.Equal(t, rc522.UID{0xDE, 0xAD, 0xBE, 0xEF}, session.GetState().LastUID)
}

func TestSession_UnreadableCard(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	card := virt.NewVirtualCard(nil)
	card.BadCheck = true
	sim.SetCard(card)

	session := NewSession(device, testConfig())
	events := &eventLog{}
	events.attach(session)

	runSession(t, session)

	require.Eventually(t, func() bool {
		return session.GetState().DetectionState == StateReading
	}, 2*time.Second, time.Millisecond)
	waitCycles(t, session, 3)

	detected, _, removed := events.counts()
	assert.Zero(t, detected, "a UID failing its check byte is never reported")
	assert.Zero(t, removed)
	assert.True(t, session.GetState().Present)

	// Once the card reads cleanly it is reported.
	sim.SetCard(virt.NewVirtualCard(nil))
	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 1
	}, 2*time.Second, time.Millisecond)
}

func TestSession_RemovalTimeout(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	config := testConfig()
	config.CardRemovalTimeout = time.Hour
	session := NewSession(device, config)
	events := &eventLog{}
	events.attach(session)

	runSession(t, session)

	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 1
	}, 2*time.Second, time.Millisecond)

	sim.RemoveCard()
	waitCycles(t, session, 5)

	_, _, removed := events.counts()
	assert.Zero(t, removed, "card silent for less than CardRemovalTimeout")
	assert.Equal(t, StateTagDetected, session.GetState().DetectionState)
}

func TestSession_CallbackError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		callback func(rc522.UID) error
		name     string
		want     string
	}{
		{
			name:     "error",
			callback: func(rc522.UID) error { return errors.New("database offline") },
			want:     "OnCardDetected callback failed: database offline",
		},
		{
			name:     "panic",
			callback: func(rc522.UID) error { panic("boom") },
			want:     "OnCardDetected callback panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, _, _ := createSimulatedDevice(t)
			session := NewSession(device, testConfig())
			session.SetOnCardDetected(tt.callback)

			err := session.Start(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSession_FatalErrorStops(t *testing.T) {
	t.Parallel()

	device, _, bus := createSimulatedDevice(t)
	bus.SetReadError(rc522.ComIrqReg, rc522.NewTransportClosedError("ReadRegister", "SPI0.0"))

	session := NewSession(device, testConfig())
	err := session.Start(context.Background())
	require.ErrorIs(t, err, rc522.ErrTransportClosed)
	assert.EqualValues(t, 1, session.GetMetrics().PollErrors)
}

func TestSession_TransientErrorRemovesCard(t *testing.T) {
	t.Parallel()

	device, _, bus := createSimulatedDevice(t)
	session := NewSession(device, testConfig())
	events := &eventLog{}
	events.attach(session)

	runSession(t, session)

	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 1
	}, 2*time.Second, time.Millisecond)

	bus.SetReadError(rc522.ErrorReg, rc522.ErrTransportRead)
	require.Eventually(t, func() bool {
		_, _, r := events.counts()
		return r == 1
	}, 2*time.Second, time.Millisecond)
	assert.Positive(t, session.GetMetrics().PollErrors)

	bus.ClearErrors()
	require.Eventually(t, func() bool {
		d, _, _ := events.counts()
		return d == 2
	}, 2*time.Second, time.Millisecond)
}

func TestSession_HandlePollingError(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	newDevice, _, _ := createSimulatedDevice(t)
	uid := rc522.UID{1, 2, 3, 4}

	t.Run("retryable error waits for removal timeout", func(t *testing.T) {
		t.Parallel()

		config := testConfig()
		config.CardRemovalTimeout = time.Hour
		session := NewSession(device, config)
		recoverer := &stubRecoverer{}
		session.SetRecoverer(recoverer)
		session.state.TransitionToDetected(uid)

		err := session.handlePollingError(context.Background(),
			rc522.NewTransportReadError("ReadRegister", "SPI0.0", nil))
		require.NoError(t, err)
		assert.Equal(t, StateTagDetected, session.GetState().DetectionState)
		assert.Zero(t, recoverer.calls)
		assert.EqualValues(t, 1, session.GetMetrics().PollErrors)
	})

	t.Run("other error recovers device", func(t *testing.T) {
		t.Parallel()

		session := NewSession(device, testConfig())
		recoverer := &stubRecoverer{device: newDevice}
		session.SetRecoverer(recoverer)
		removed := 0
		session.SetOnCardRemoved(func() { removed++ })
		session.state.TransitionToDetected(uid)

		err := session.handlePollingError(context.Background(), rc522.ErrNotInitialized)
		require.NoError(t, err)
		assert.Equal(t, 1, recoverer.calls)
		assert.Same(t, newDevice, session.GetDevice())
		assert.EqualValues(t, 1, session.GetMetrics().Recoveries)
		assert.Equal(t, 1, removed)
	})

	t.Run("failed recovery stops", func(t *testing.T) {
		t.Parallel()

		session := NewSession(device, testConfig())
		session.SetRecoverer(&stubRecoverer{err: rc522.ErrNoChip})

		err := session.handlePollingError(context.Background(), rc522.ErrNotInitialized)
		require.ErrorIs(t, err, rc522.ErrNoChip)
		require.ErrorIs(t, err, rc522.ErrNotInitialized)
	})

	t.Run("fatal error skips recovery", func(t *testing.T) {
		t.Parallel()

		session := NewSession(device, testConfig())
		recoverer := &stubRecoverer{}
		session.SetRecoverer(recoverer)

		err := session.handlePollingError(context.Background(), rc522.ErrDeviceClosed)
		require.ErrorIs(t, err, rc522.ErrDeviceClosed)
		assert.Zero(t, recoverer.calls)
	})
}

func TestSession_PauseResume(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())
	runSession(t, session)
	waitCycles(t, session, 2)

	require.NoError(t, session.pauseWithAck(context.Background()))
	paused := session.GetMetrics().PollCycles
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, paused, session.GetMetrics().PollCycles, "no polling while paused")

	session.Resume()
	waitCycles(t, session, 2)
}

func TestSession_PauseWithAck_CancelledContext(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, session.pauseWithAck(ctx), context.Canceled)
	assert.False(t, session.isPaused.Load())
}

func TestSession_WaitForCard(t *testing.T) {
	t.Parallel()

	t.Run("card present", func(t *testing.T) {
		t.Parallel()

		device, _, _ := createSimulatedDevice(t)
		session := NewSession(device, testConfig())

		uid, err := session.WaitForCard(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, rc522.UID{0x12, 0x34, 0x56, 0x78}, uid)
		assert.False(t, session.isPaused.Load(), "resumed afterwards")
	})

	t.Run("no card", func(t *testing.T) {
		t.Parallel()

		device, sim, _ := createSimulatedDevice(t)
		sim.RemoveCard()
		session := NewSession(device, testConfig())

		_, err := session.WaitForCard(context.Background(), 30*time.Millisecond)
		require.ErrorIs(t, err, ErrWaitTimeout)
	})

	t.Run("while polling", func(t *testing.T) {
		t.Parallel()

		device, sim, _ := createSimulatedDevice(t)
		sim.RemoveCard()
		session := NewSession(device, testConfig())
		events := &eventLog{}
		events.attach(session)
		runSession(t, session)
		waitCycles(t, session, 2)

		go func() {
			time.Sleep(20 * time.Millisecond)
			sim.SetCard(virt.NewVirtualCard(virt.TestMifareUID))
		}()

		uid, err := session.WaitForCard(context.Background(), 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "DE:AD:BE:EF", uid.String())

		// polling resumes and reports the card through the callbacks
		require.Eventually(t, func() bool {
			d, _, _ := events.counts()
			return d == 1
		}, 2*time.Second, time.Millisecond)
	})
}

func TestSession_WithDevice(t *testing.T) {
	t.Parallel()

	device, sim, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())
	runSession(t, session)

	var sak byte
	err := session.WithDevice(context.Background(), func(ctx context.Context, d *rc522.Device) error {
		uid, out, err := d.ReadUID(ctx)
		if err != nil {
			return err
		}
		if !out.OK() {
			return errors.New(out.String())
		}
		sak, out, err = d.Select(ctx, uid)
		if err != nil {
			return err
		}
		if !out.OK() {
			return errors.New(out.String())
		}
		return d.Halt(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0x08), sak)
	assert.True(t, sim.Card().Halted)
}

// stubRecoverer counts recovery attempts
type stubRecoverer struct {
	err    error
	device *rc522.Device
	calls  int
}

func (r *stubRecoverer) AttemptRecovery(context.Context) error {
	r.calls++
	return r.err
}

func (r *stubRecoverer) GetDevice() *rc522.Device {
	return r.device
}

func TestSession_CheckSleep(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	newDevice, _, _ := createSimulatedDevice(t)

	t.Run("recovers after sleep", func(t *testing.T) {
		t.Parallel()

		config := testConfig()
		config.SleepRecovery = DefaultSleepRecoveryConfig()
		session := NewSession(device, config)
		recoverer := &stubRecoverer{device: newDevice}
		session.SetRecoverer(recoverer)

		removed := 0
		session.SetOnCardRemoved(func() { removed++ })
		session.state.TransitionToDetected(rc522.UID{1, 2, 3, 4})

		now := time.Now()
		require.NoError(t, session.checkSleep(context.Background(), now))
		require.NoError(t, session.checkSleep(context.Background(), now.Add(10*time.Second)))

		assert.Equal(t, 1, recoverer.calls)
		assert.Same(t, newDevice, session.GetDevice())
		assert.EqualValues(t, 1, session.GetMetrics().Recoveries)
		assert.Equal(t, 1, removed)
		assert.Equal(t, StateIdle, session.GetState().DetectionState)
	})

	t.Run("normal interval", func(t *testing.T) {
		t.Parallel()

		config := testConfig()
		config.SleepRecovery = DefaultSleepRecoveryConfig()
		session := NewSession(device, config)
		recoverer := &stubRecoverer{}
		session.SetRecoverer(recoverer)

		now := time.Now()
		require.NoError(t, session.checkSleep(context.Background(), now))
		require.NoError(t, session.checkSleep(context.Background(), now.Add(config.PollInterval)))
		assert.Zero(t, recoverer.calls)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		session := NewSession(device, testConfig())
		recoverer := &stubRecoverer{}
		session.SetRecoverer(recoverer)

		now := time.Now()
		require.NoError(t, session.checkSleep(context.Background(), now))
		require.NoError(t, session.checkSleep(context.Background(), now.Add(time.Hour)))
		assert.Zero(t, recoverer.calls)
	})

	t.Run("recovery fails", func(t *testing.T) {
		t.Parallel()

		config := testConfig()
		config.SleepRecovery = DefaultSleepRecoveryConfig()
		session := NewSession(device, config)
		session.SetRecoverer(&stubRecoverer{err: rc522.ErrNoChip})

		now := time.Now()
		require.NoError(t, session.checkSleep(context.Background(), now))
		err := session.checkSleep(context.Background(), now.Add(time.Minute))
		require.ErrorIs(t, err, rc522.ErrNoChip)
	})
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	device, _, _ := createSimulatedDevice(t)
	session := NewSession(device, testConfig())

	removed := false
	session.SetOnCardRemoved(func() { removed = true })
	session.state.TransitionToDetected(rc522.UID{1, 2, 3, 4})
	session.Pause()

	require.NoError(t, session.Close())
	assert.False(t, session.isPaused.Load())

	// removal is not reported after Close
	session.handleCardRemoval(true)
	assert.False(t, removed)
	assert.True(t, device.IsInitialized(), "the device is left open")
}
