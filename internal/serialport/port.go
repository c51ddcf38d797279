// Package serialport wraps the host's serial devices behind a small
// interface so the translator and the autodetect probe can be exercised
// against in-memory endpoints.
package serialport

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
)

// Port is one open serial endpoint. Reads return within the configured
// timeout even when no data arrives.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Config describes how to open a device.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Opener opens serial devices; the autodetect probe takes one so tests can
// hand out fake ports.
type Opener func(cfg Config) (Port, error)

// Open opens a real serial device in 8N1 mode.
func Open(cfg Config) (Port, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", cfg.Device, err)
	}

	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Device, err)
		}
	}

	return port, nil
}

// candidatePatterns are the USB-serial naming patterns a bridge node can
// enumerate under on Linux.
var candidatePatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/serial/by-id/*",
}

// Candidates lists attached devices matching the known patterns, sorted
// lexicographically so the probe order is deterministic.
func Candidates() []string {
	var devices []string

	for _, pattern := range candidatePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}

		devices = append(devices, matches...)
	}

	sort.Strings(devices)

	return devices
}
