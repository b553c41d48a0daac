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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-rc522"
	"github.com/ZaparooProject/go-rc522/detection"
	_ "github.com/ZaparooProject/go-rc522/detection/i2c"
	_ "github.com/ZaparooProject/go-rc522/detection/spi"
	_ "github.com/ZaparooProject/go-rc522/detection/uart"
	"github.com/ZaparooProject/go-rc522/polling"
	"github.com/ZaparooProject/go-rc522/resetpin"
	"github.com/ZaparooProject/go-rc522/transport/i2c"
	"github.com/ZaparooProject/go-rc522/transport/spi"
	"github.com/ZaparooProject/go-rc522/transport/uart"
)

type config struct {
	transport  string
	port       string
	resetPin   string
	logDir     string
	bus        int
	cs         int
	stress     int
	interval   time.Duration
	detectMode detection.Mode
	xor        bool
	debug      bool
}

// Package-level flag variables
var (
	flagTransport  string
	flagDetectMode string
	flagPort       string
	flagReset      string
	flagLog        string
	flagBus        int
	flagCS         int
	flagStress     int
	flagInterval   time.Duration
	flagXOR        bool
	flagDebug      bool
)

func init() {
	flag.StringVar(&flagTransport, "transport", "spi", "Bus to the reader: spi, i2c, uart or auto")
	flag.StringVar(&flagDetectMode, "detect-mode", "safe", "Probing for -transport auto: passive, safe or full")
	flag.IntVar(&flagBus, "bus", 0, "SPI or I2C bus number")
	flag.IntVar(&flagCS, "cs", 0, "SPI chip select")
	flag.StringVar(&flagPort, "port", "", "Port name or device path, overrides -bus and -cs")
	flag.StringVar(&flagReset, "reset", resetpin.DefaultPin, `GPIO wired to NRSTPD ("none" if tied high)`)
	flag.DurationVar(&flagInterval, "interval", 100*time.Millisecond, "Pause between card polls")
	flag.BoolVar(&flagXOR, "xor", false, "Validate the UID with the ISO 14443-3 XOR check byte instead of the sum")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.StringVar(&flagLog, "log", "", "Directory for a session log file")
	flag.IntVar(&flagStress, "stress", 0, "Run N read/select/halt cycles on one card and exit")
}

func parseConfig() (*config, error) {
	mode, err := detection.ParseMode(flagDetectMode)
	if err != nil {
		return nil, err
	}

	cfg := &config{
		transport:  strings.ToLower(flagTransport),
		port:       flagPort,
		resetPin:   flagReset,
		logDir:     flagLog,
		bus:        flagBus,
		cs:         flagCS,
		stress:     flagStress,
		interval:   flagInterval,
		detectMode: mode,
		xor:        flagXOR,
		debug:      flagDebug,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.debug {
		rc522.SetDebugEnabled(true)
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch c.transport {
	case "spi", "i2c", "auto":
	case "uart":
		if c.port == "" {
			return errors.New("-transport uart needs -port")
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.transport)
	}
	if c.bus < 0 || c.cs < 0 {
		return errors.New("-bus and -cs must not be negative")
	}
	if c.interval <= 0 {
		return errors.New("-interval must be positive")
	}
	if c.stress < 0 {
		return errors.New("-stress must not be negative")
	}
	return nil
}

// deviceOptions maps flags to constructor options
func (c *config) deviceOptions() []rc522.Option {
	var opts []rc522.Option
	if c.xor {
		opts = append(opts, rc522.WithChecksum(rc522.ChecksumXOR))
	}
	return opts
}

// openBus opens the transport named by the flags
func openBus(ctx context.Context, cfg *config) (rc522.Bus, error) {
	switch cfg.transport {
	case "spi":
		if cfg.port != "" {
			return spi.Open(cfg.port)
		}
		return spi.New(cfg.bus, cfg.cs)
	case "i2c":
		path := cfg.port
		if path == "" {
			path = strconv.Itoa(cfg.bus)
		}
		return i2c.New(path)
	case "uart":
		return uart.New(cfg.port)
	case "auto":
		return detectBus(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.transport)
	}
}

// detectBus opens the most confident reader found by auto-detection
func detectBus(ctx context.Context, cfg *config) (rc522.Bus, error) {
	if cfg.debug {
		_, _ = fmt.Println("Auto-detecting MFRC522 readers...")
	}

	opts := detection.DefaultOptions()
	opts.Mode = cfg.detectMode
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("auto-detection failed: %w", err)
	}

	best := devices[0]
	if cfg.debug {
		_, _ = fmt.Printf("Using %s\n", best)
	}
	return newBusFromDevice(best)
}

// newBusFromDevice creates a transport for a detected device
func newBusFromDevice(device detection.DeviceInfo) (rc522.Bus, error) {
	switch rc522.BusType(strings.ToLower(device.Transport)) {
	case rc522.BusSPI:
		return spi.Open(device.Path)
	case rc522.BusI2C:
		return i2c.New(device.Path)
	case rc522.BusUART:
		return uart.New(device.Path)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", device.Transport)
	}
}

// openReset opens the reset GPIO. It returns a nil ResetLine when the pin
// is disabled.
func openReset(name string) (rc522.ResetLine, error) {
	if name == "" || strings.EqualFold(name, "none") {
		return nil, nil
	}
	pin, err := resetpin.Open(name)
	if err != nil {
		return nil, err
	}
	return pin, nil
}

func connectToDevice(ctx context.Context, cfg *config) (*rc522.Device, error) {
	bus, err := openBus(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s bus: %w", cfg.transport, err)
	}

	reset, err := openReset(cfg.resetPin)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	device, err := rc522.Connect(ctx, bus, reset, cfg.deviceOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MFRC522: %w", err)
	}

	if cfg.debug {
		_, _ = fmt.Printf("Reader: %s on %s\n", rc522.VersionName(device.ChipVersion()), bus.Type())
	}
	return device, nil
}

const banner = "================================"

func runReadMode(ctx context.Context, device *rc522.Device, cfg *config, out io.Writer) error {
	sessionConfig := polling.DefaultConfig()
	sessionConfig.PollInterval = cfg.interval
	session := polling.NewSession(device, sessionConfig)

	defer func() {
		if err := session.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	_, _ = fmt.Fprintln(out, "Starting the RFID card reader...")
	_, _ = fmt.Fprintln(out, "Hold any RFID card near the reader.")
	_, _ = fmt.Fprintln(out, "Press Ctrl+C to exit.")

	printCard := func(uid rc522.UID) error {
		_, _ = fmt.Fprintf(out, "\n%s\nCard detected!\n  UID: %s\n%s\n", banner, uid, banner)
		return nil
	}
	session.SetOnCardDetected(printCard)
	session.SetOnCardChanged(printCard)
	session.SetOnCardRemoved(func() {
		_, _ = fmt.Fprintln(out, "\nCard removed. The reader is ready for the next card.")
	})

	done := make(chan error, 1)
	go func() {
		done <- session.Start(ctx)
	}()

	// Start returns once ctx is cancelled; the device must be idle before
	// the caller closes it.
	err := <-done
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("polling stopped: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config, out io.Writer) error {
	if cfg.logDir != "" {
		path, err := rc522.InitSessionLog(cfg.logDir)
		if err != nil {
			return fmt.Errorf("failed to open session log: %w", err)
		}
		defer func() { _ = rc522.CloseSessionLog() }()
		_, _ = fmt.Fprintf(out, "Session log: %s\n", path)
	}

	device, err := connectToDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
		_, _ = fmt.Fprintln(out, "Resources released. Goodbye!")
	}()

	if cfg.stress > 0 {
		return runStressMode(ctx, device, cfg, out)
	}
	return runReadMode(ctx, device, cfg, out)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if rc522.HasTrace(err) {
			_, _ = fmt.Fprint(os.Stderr, rc522.GetTrace(err).FormatTrace())
		}
		return 1
	}
	return 0
}
