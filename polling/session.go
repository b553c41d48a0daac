// Copyright 2025 The Zaparoo Project Contributors.
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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/internal/syncutil"
)

// ErrWaitTimeout is returned by WaitForCard when no card was read in time
var ErrWaitTimeout = errors.New("timeout waiting for card")

// Metrics tracks operational counters of a Session
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of cycles that failed with a bus error
	CardsDetected   int64         // Number of OnCardDetected/OnCardChanged events
	Recoveries      int64         // Number of successful device recoveries
	LastPollLatency time.Duration // Duration of the last polling cycle
}

// Session handles continuous card monitoring with state machine.
//
// A Session is the only user of its Device while Start runs: every bus
// access, including WaitForCard and WithDevice, is serialized on deviceMutex.
type Session struct {
	config          *Config
	OnCardDetected  func(uid rc522.UID) error
	OnCardRemoved   func()
	OnCardChanged   func(uid rc522.UID) error
	pauseChan       chan struct{}
	resumeChan      chan struct{}
	ackChan         chan struct{}
	device          *rc522.Device
	recoverer       DeviceRecoverer
	lastPoll        time.Time
	state           CardState
	stateMutex      syncutil.RWMutex
	deviceMutex     syncutil.Mutex
	exclusiveMutex  syncutil.Mutex
	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	cardsDetected   atomic.Int64
	recoveries      atomic.Int64
	lastPollLatency atomic.Int64
	closed          atomic.Bool
	isPaused        atomic.Bool
}

// NewSession creates a new card monitoring session
func NewSession(device *rc522.Device, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	return &Session{
		device:     device,
		config:     config,
		state:      CardState{},
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
}

// SetRecoverer replaces the recoverer used after a detected host sleep.
// Without one, a DefaultRecoverer built from SleepRecovery is used.
func (s *Session) SetRecoverer(r DeviceRecoverer) {
	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()
	s.recoverer = r
}

// Start begins continuous monitoring for cards. It blocks until ctx is
// cancelled, a callback fails, or the device reports a fatal error.
func (s *Session) Start(ctx context.Context) error {
	return s.runPollingLoop(ctx, s.executeSinglePollingCycle)
}

// GetState returns the current card state
func (s *Session) GetState() CardState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// GetDevice returns the underlying MFRC522 device
func (s *Session) GetDevice() *rc522.Device {
	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()
	return s.device
}

// GetMetrics returns current operational metrics
func (s *Session) GetMetrics() Metrics {
	return Metrics{
		PollCycles:      s.pollCycles.Load(),
		PollErrors:      s.pollErrors.Load(),
		CardsDetected:   s.cardsDetected.Load(),
		Recoveries:      s.recoveries.Load(),
		LastPollLatency: time.Duration(s.lastPollLatency.Load()),
	}
}

// SetOnCardDetected sets the callback for when a card is detected.
func (s *Session) SetOnCardDetected(callback func(rc522.UID) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardDetected = callback
}

// SetOnCardRemoved sets the callback for when a card is removed.
func (s *Session) SetOnCardRemoved(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardRemoved = callback
}

// SetOnCardChanged sets the callback for when a different card replaces
// the detected one without an empty poll in between.
func (s *Session) SetOnCardChanged(callback func(rc522.UID) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardChanged = callback
}

// Close cleans up the monitor resources. It does not close the Device.
func (s *Session) Close() error {
	s.closed.Store(true)

	// Reset pause state and drain channels to prevent corruption
	s.isPaused.Store(false)

	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case <-s.resumeChan:
	default:
	}

	return nil
}

// Pause temporarily stops the polling loop
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		// Non-blocking: no polling loop may be running
		select {
		case s.pauseChan <- struct{}{}:
		default:
		}
	}
}

// Resume restarts the polling loop after a pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// pauseWithAck pauses polling and waits for acknowledgment
func (s *Session) pauseWithAck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !s.isPaused.CompareAndSwap(false, true) {
		return nil // already paused
	}

	select {
	case s.pauseChan <- struct{}{}:
		ackTimeout := time.NewTimer(100 * time.Millisecond)
		defer ackTimeout.Stop()

		select {
		case <-s.ackChan:
			return nil
		case <-ackTimeout.C:
			// No acknowledgment: no polling loop is running, or it is in
			// the middle of a cycle. deviceMutex still serializes access.
			return nil
		case <-ctx.Done():
			s.isPaused.Store(false)
			return ctx.Err()
		}
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	default:
		return nil
	}
}

// WithDevice pauses polling and runs fn with exclusive use of the device,
// e.g. to Select and Halt the current card.
func (s *Session) WithDevice(ctx context.Context, fn func(context.Context, *rc522.Device) error) error {
	s.exclusiveMutex.Lock()
	defer s.exclusiveMutex.Unlock()

	if err := s.pauseWithAck(ctx); err != nil {
		return fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()
	return fn(ctx, s.device)
}

// WaitForCard pauses the polling loop and polls until a card's UID is read
// or timeout expires. Session callbacks are not invoked.
func (s *Session) WaitForCard(ctx context.Context, timeout time.Duration) (rc522.UID, error) {
	s.exclusiveMutex.Lock()
	defer s.exclusiveMutex.Unlock()

	if err := s.pauseWithAck(ctx); err != nil {
		return rc522.UID{}, fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		uid, err := s.performSinglePoll(timeoutCtx)
		if err == nil {
			return uid, nil
		}
		if !errors.Is(err, ErrNoTagInPoll) && !errors.Is(err, ErrTagUnreadable) {
			if timeoutCtx.Err() != nil && ctx.Err() == nil {
				return rc522.UID{}, ErrWaitTimeout
			}
			return rc522.UID{}, fmt.Errorf("card detection failed: %w", err)
		}

		select {
		case <-ticker.C:
		case <-timeoutCtx.Done():
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return rc522.UID{}, ErrWaitTimeout
			}
			return rc522.UID{}, timeoutCtx.Err()
		}
	}
}

// runPollingLoop drives cycleFunc every PollInterval
func (s *Session) runPollingLoop(ctx context.Context, cycleFunc func(context.Context) error) error {
	if s.GetDevice() == nil {
		return fmt.Errorf("%w: session has no device", rc522.ErrInvalidParameter)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}

		if err := s.checkSleep(ctx, time.Now()); err != nil {
			return err
		}

		if err := cycleFunc(ctx); err != nil {
			return err
		}

		if err := s.waitForNextPollOrPause(ctx, ticker); err != nil {
			return err
		}
	}
}

// checkSleep recovers the device when the time since the previous cycle
// shows the host was suspended.
func (s *Session) checkSleep(ctx context.Context, now time.Time) error {
	last := s.lastPoll
	s.lastPoll = now
	if last.IsZero() || !s.config.SleepRecovery.DetectSleep(now.Sub(last), s.config.PollInterval) {
		return nil
	}

	rc522.Debugf("polling: %v since last poll, assuming host sleep", now.Sub(last).Round(time.Millisecond))

	// The card seen before the sleep may be long gone.
	if err := s.recoverDevice(ctx); err != nil {
		return fmt.Errorf("device recovery after sleep failed: %w", err)
	}
	return nil
}

// executeSinglePollingCycle performs one polling cycle and processes results
func (s *Session) executeSinglePollingCycle(ctx context.Context) error {
	start := time.Now()
	uid, err := s.performSinglePoll(ctx)
	s.pollCycles.Add(1)
	s.lastPollLatency.Store(int64(time.Since(start)))

	switch {
	case err == nil:
		if err := s.processPollingResults(uid); err != nil {
			return fmt.Errorf("callback error during polling: %w", err)
		}
		return nil
	case errors.Is(err, ErrNoTagInPoll):
		s.handleCardRemoval(false)
		return nil
	case errors.Is(err, ErrTagUnreadable):
		s.stateMutex.Lock()
		s.state.TransitionToReading()
		s.stateMutex.Unlock()
		return nil
	default:
		return s.handlePollingError(ctx, err)
	}
}

// waitForNextPollOrPause waits for the next poll interval or handles pause signals
func (s *Session) waitForNextPollOrPause(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ticker.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	default:
		return nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		// time spent paused is not a host sleep
		s.lastPoll = time.Time{}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// performSinglePoll runs REQA then anticollision. A card that does not
// answer REQA is ErrNoTagInPoll; a card whose UID cannot be read is
// ErrTagUnreadable.
func (s *Session) performSinglePoll(ctx context.Context) (rc522.UID, error) {
	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()

	out, err := s.device.Request(ctx)
	if err != nil {
		return rc522.UID{}, fmt.Errorf("request failed: %w", err)
	}
	if !out.OK() {
		return rc522.UID{}, ErrNoTagInPoll
	}

	out, uid, err := s.device.Anticollision(ctx)
	if err != nil {
		return rc522.UID{}, fmt.Errorf("anticollision failed: %w", err)
	}
	if !out.OK() {
		rc522.Debugf("polling: card present but UID unreadable (%s)", out)
		return rc522.UID{}, ErrTagUnreadable
	}
	return uid, nil
}

// handlePollingError handles bus errors from polling operations. Fatal
// errors end the session. Retryable errors count as a poll without a card.
// Anything else re-initializes the device through the recoverer.
func (s *Session) handlePollingError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	s.pollErrors.Add(1)
	switch {
	case rc522.IsFatal(err):
		return fmt.Errorf("polling stopped: %w", err)
	case rc522.IsRetryable(err):
		rc522.Debugf("polling: transient error: %v", err)
		s.handleCardRemoval(false)
		return nil
	}

	rc522.Debugf("polling: %v, recovering device", err)
	if recErr := s.recoverDevice(ctx); recErr != nil {
		return fmt.Errorf("device recovery after %w failed: %w", err, recErr)
	}
	return nil
}

// recoverDevice runs the recoverer and forgets the current card. The
// caller must not hold deviceMutex.
func (s *Session) recoverDevice(ctx context.Context) error {
	s.deviceMutex.Lock()
	defer s.deviceMutex.Unlock()

	if s.recoverer == nil {
		s.recoverer = NewDefaultRecoverer(
			s.device, nil,
			s.config.SleepRecovery.RecoveryBackoff,
			s.config.SleepRecovery.MaxRecoveryAttempts,
		)
	}
	if err := s.recoverer.AttemptRecovery(ctx); err != nil {
		return err
	}
	s.device = s.recoverer.GetDevice()
	s.recoveries.Add(1)

	s.handleCardRemoval(true)
	return nil
}

// handleCardRemoval reports the removal of a detected card once it has
// been silent for CardRemovalTimeout, or at once when force is set.
func (s *Session) handleCardRemoval(force bool) {
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	if !force && !s.state.RemovalDue(time.Now(), s.config.CardRemovalTimeout) {
		s.stateMutex.Unlock()
		return
	}
	wasDetected := s.state.DetectionState == StateTagDetected
	s.state.TransitionToIdle()
	onRemoved := s.OnCardRemoved
	s.stateMutex.Unlock()

	// Call callback outside the lock to avoid potential deadlocks
	if wasDetected && onRemoved != nil {
		onRemoved()
	}
}

// processPollingResults reports uid if it differs from the detected card
func (s *Session) processPollingResults(uid rc522.UID) error {
	s.stateMutex.RLock()
	wasDetected := s.state.DetectionState == StateTagDetected
	changed := wasDetected && s.state.LastUID != uid
	onDetected := s.OnCardDetected
	onChanged := s.OnCardChanged
	s.stateMutex.RUnlock()

	// Record the card before calling back so a slow callback does not
	// look like a removal.
	s.stateMutex.Lock()
	s.state.TransitionToDetected(uid)
	s.stateMutex.Unlock()

	switch {
	case !wasDetected:
		s.cardsDetected.Add(1)
		if onDetected != nil {
			return s.safeCallCallback(onDetected, uid, "OnCardDetected")
		}
	case changed:
		s.cardsDetected.Add(1)
		if onChanged != nil {
			return s.safeCallCallback(onChanged, uid, "OnCardChanged")
		}
	}
	return nil
}

// safeCallCallback executes a callback with panic recovery
func (*Session) safeCallCallback(
	callback func(rc522.UID) error,
	uid rc522.UID,
	callbackName string,
) error {
	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = fmt.Errorf("%s callback panicked: %v", callbackName, r)
			}
		}()
		callbackErr = callback(uid)
	}()
	if callbackErr != nil {
		return fmt.Errorf("%s callback failed: %w", callbackName, callbackErr)
	}
	return nil
}
