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
	"bytes"
	"io"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// swapSessionWriter replaces the session log writer and returns the old one
func swapSessionWriter(w io.Writer) io.Writer {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()
	old := sessionLogWriter
	sessionLogWriter = w
	return old
}

// withDebugWriter swaps the session log writer for a buffer for one test.
func withDebugWriter(t *testing.T) *bytes.Buffer {
	t.Helper()
	origEnabled := debugEnabled.Load()
	var buf bytes.Buffer
	origWriter := swapSessionWriter(&buf)
	t.Cleanup(func() {
		debugEnabled.Store(origEnabled)
		swapSessionWriter(origWriter)
	})

	debugEnabled.Store(false)
	return &buf
}

//nolint:paralleltest // mutates package-level debug state
func TestDebugf_WritesToSessionLog(t *testing.T) {
	buf := withDebugWriter(t)

	Debugf("test message %d", 42)

	content := buf.String()
	assert.Contains(t, content, "DEBUG: test message 42")
	matched, err := regexp.MatchString(`\d{2}:\d{2}:\d{2}\.\d{3} DEBUG:`, content)
	require.NoError(t, err)
	assert.True(t, matched, "Should include timestamp in format HH:MM:SS.mmm, got: %s", content)
}

//nolint:paralleltest // mutates package-level debug state
func TestDebugln_WritesToSessionLog(t *testing.T) {
	buf := withDebugWriter(t)

	Debugln("card", "12:34:56:78")

	assert.Contains(t, buf.String(), "DEBUG: card12:34:56:78")
}

//nolint:paralleltest // mutates package-level debug state
func TestDebugf_NilSessionWriter(t *testing.T) {
	withDebugWriter(t)
	swapSessionWriter(nil)

	assert.NotPanics(t, func() { Debugf("test message %d", 42) })
}

//nolint:paralleltest // mutates package-level debug state
func TestSetDebugEnabled(t *testing.T) {
	withDebugWriter(t)
	swapSessionWriter(io.Discard)

	SetDebugEnabled(true)
	assert.True(t, IsDebugEnabled())
	SetDebugEnabled(false)
	assert.False(t, IsDebugEnabled())
}
