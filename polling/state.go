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
	"errors"
	"time"

	"github.com/ZaparooProject/go-rc522"
)

// CardDetectionState represents the finite state machine for card detection
type CardDetectionState int

const (
	// StateIdle means no card answered the last REQA
	StateIdle CardDetectionState = iota
	// StateReading means a card answers REQA but its UID has not been read
	StateReading
	// StateTagDetected means a UID was read and reported
	StateTagDetected
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateTagDetected:
		return "detected"
	default:
		return "unknown"
	}
}

// CardState tracks the state of a card on a reader
type CardState struct {
	LastSeenTime   time.Time
	DetectedTime   time.Time
	LastUID        rc522.UID
	DetectionState CardDetectionState
	Present        bool
}

// ErrNoTagInPoll indicates no tag was detected during polling (not an error condition)
var ErrNoTagInPoll = errors.New("no tag detected in polling cycle")

// ErrTagUnreadable indicates a card answered REQA but its UID could not be
// read in this cycle (not an error condition)
var ErrTagUnreadable = errors.New("tag answered but UID could not be read")

// TransitionToReading records a card in the field whose UID is still unknown.
// A card already detected stays detected.
func (cs *CardState) TransitionToReading() {
	cs.Present = true
	cs.LastSeenTime = time.Now()
	if cs.DetectionState == StateIdle {
		cs.DetectionState = StateReading
	}
}

// TransitionToDetected records uid as the card in the field
func (cs *CardState) TransitionToDetected(uid rc522.UID) {
	now := time.Now()
	if cs.DetectionState != StateTagDetected || cs.LastUID != uid {
		cs.DetectedTime = now
	}
	cs.DetectionState = StateTagDetected
	cs.Present = true
	cs.LastUID = uid
	cs.LastSeenTime = now
}

// TransitionToIdle resets to idle state
func (cs *CardState) TransitionToIdle() {
	cs.DetectionState = StateIdle
	cs.Present = false
	cs.LastUID = rc522.UID{}
	cs.LastSeenTime = time.Time{}
	cs.DetectedTime = time.Time{}
}

// RemovalDue reports whether a present card has been silent for at least
// timeout at now.
func (cs *CardState) RemovalDue(now time.Time, timeout time.Duration) bool {
	if !cs.Present {
		return false
	}
	return now.Sub(cs.LastSeenTime) >= timeout
}
