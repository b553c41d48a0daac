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


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-rc522"
)

// stressPollInterval paces the wait for the first card
const stressPollInterval = 50 * time.Millisecond

// StressTestResult holds the outcome of a stress run on one card.
type StressTestResult struct {
	Started    time.Time      `json:"started"`
	Steps      map[string]int `json:"stepFailures,omitempty"`
	UID        string         `json:"uid"`
	Chip       string         `json:"chip"`
	ReportFile string         `json:"-"`
	Failures   []CycleFailure `json:"failures,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Cycles     int            `json:"cycles"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Checksum   rc522.Checksum `json:"checksum"`
	SAK        byte           `json:"sak"`
}

// CycleFailure describes one failed read/select/halt cycle.
type CycleFailure struct {
	Time    time.Time `json:"time"`
	err     error
	Step    string `json:"step"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
	Trace   string `json:"trace,omitempty"`
	Cycle   int    `json:"cycle"`
}

// maxRecordedFailures caps the report size on a reader that fails every cycle
const maxRecordedFailures = 50

func runStressMode(ctx context.Context, device *rc522.Device, cfg *config, out io.Writer) error {
	_, _ = fmt.Fprintf(out, "Stress test: %d read/select/halt cycles\n", cfg.stress)
	_, _ = fmt.Fprintln(out, "Place a card on the reader and leave it there...")

	uid, err := waitForFirstCard(ctx, device)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Card %s found, starting\n", uid)

	result := &StressTestResult{
		UID:      uid.String(),
		Cycles:   cfg.stress,
		Chip:     rc522.VersionName(device.ChipVersion()),
		Checksum: device.Config().Checksum,
		Started:  time.Now(),
		Steps:    make(map[string]int),
	}

	for cycle := 1; cycle <= cfg.stress; cycle++ {
		if err := ctx.Err(); err != nil {
			result.Cycles = cycle - 1
			break
		}

		failure := runCycle(ctx, device, uid, result)
		if failure == nil {
			result.Passed++
			continue
		}
		failure.Cycle = cycle
		result.Failed++
		result.Steps[failure.Step]++
		if len(result.Failures) < maxRecordedFailures {
			result.Failures = append(result.Failures, *failure)
		}
		rc522.Debugf("stress cycle %d failed at %s: %s%s", cycle, failure.Step, failure.Outcome, failure.Error)

		if rc522.IsFatal(failure.err) {
			result.Cycles = cycle
			break
		}
	}
	result.Duration = time.Since(result.Started)

	if result.Failed > 0 {
		path, err := writeStressReport(cfg.logDir, result)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to write stress report: %v\n", err)
		} else {
			result.ReportFile = path
		}
	}

	printStressSummary(out, result)
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d cycles failed", result.Failed, result.Cycles)
	}
	return nil
}

// waitForFirstCard polls until a card answers REQA and anticollision
func waitForFirstCard(ctx context.Context, device *rc522.Device) (rc522.UID, error) {
	ticker := time.NewTicker(stressPollInterval)
	defer ticker.Stop()

	for {
		uid, out, err := device.ReadUID(ctx)
		if err != nil {
			return rc522.UID{}, err
		}
		if out.OK() {
			return uid, nil
		}

		select {
		case <-ctx.Done():
			return rc522.UID{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle power cycles the field, then reads, selects and halts the card.
// The field reset wakes the card from HALT for the next cycle.
func runCycle(ctx context.Context, device *rc522.Device, want rc522.UID, result *StressTestResult) *CycleFailure {
	fail := func(step string, out *rc522.Outcome, err error) *CycleFailure {
		f := &CycleFailure{Time: time.Now(), Step: step}
		if out != nil {
			f.Outcome = out.String()
		}
		if err != nil {
			f.err = err
			f.Error = err.Error()
			if trace := rc522.GetTrace(err); trace != nil {
				f.Trace = trace.FormatTrace()
			}
		}
		return f
	}

	if err := device.AntennaOff(); err != nil {
		return fail("antenna off", nil, err)
	}
	if err := device.AntennaOn(); err != nil {
		return fail("antenna on", nil, err)
	}

	uid, out, err := device.ReadUID(ctx)
	if err != nil || !out.OK() {
		return fail("read", &out, err)
	}
	if uid != want {
		return fail("read", nil, fmt.Errorf("UID %s, want %s", uid, want))
	}

	sak, out, err := device.Select(ctx, uid)
	if err != nil || !out.OK() {
		return fail("select", &out, err)
	}
	result.SAK = sak

	if err := device.Halt(ctx); err != nil {
		return fail("halt", nil, err)
	}
	return nil
}

// writeStressReport writes result as JSON next to the session log
func writeStressReport(dir string, result *StressTestResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("rc522_stress_%s.json", result.Started.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func printStressSummary(out io.Writer, result *StressTestResult) {
	_, _ = fmt.Fprintln(out, "\n========== STRESS TEST SUMMARY ==========")
	_, _ = fmt.Fprintf(out, "Card:     %s (SAK 0x%02X)\n", result.UID, result.SAK)
	_, _ = fmt.Fprintf(out, "Chip:     %s\n", result.Chip)
	_, _ = fmt.Fprintf(out, "Cycles:   %d passed, %d failed of %d\n", result.Passed, result.Failed, result.Cycles)
	_, _ = fmt.Fprintf(out, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	for _, step := range []string{"antenna off", "antenna on", "read", "select", "halt"} {
		if n := result.Steps[step]; n > 0 {
			_, _ = fmt.Fprintf(out, "  %-12s %d\n", step+":", n)
		}
	}
	if result.ReportFile != "" {
		_, _ = fmt.Fprintf(out, "Report:   %s\n", result.ReportFile)
	}
}
