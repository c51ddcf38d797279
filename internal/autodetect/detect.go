// Package autodetect finds which serial device a ready bridge node sits
// behind and persists it for the translator's startup configuration.
package autodetect

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"apertus/internal/config"
	"apertus/internal/serialport"
	"apertus/pkg/utils"
	"apertus/pkg/wire"
)

// ErrNoGateway is returned when no candidate device produced the readiness
// marker within its probe window. Previously persisted configuration is left
// untouched in that case.
var ErrNoGateway = errors.New("no gateway found on candidate devices")

const (
	defaultProbeTimeout = 3 * time.Second
	readTimeout         = 500 * time.Millisecond
)

// Options control one detection run. Zero fields get defaults.
type Options struct {
	EnvFile      string
	Baud         int
	ProbeTimeout time.Duration

	// Candidates and Open default to the real device scan and opener.
	Candidates []string
	Open       serialport.Opener
}

func (o *Options) applyDefaults() {
	if o.EnvFile == "" {
		o.EnvFile = config.DefaultEnvFile
	}
	if o.Baud == 0 {
		o.Baud = config.DefaultBaud
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.Candidates == nil {
		o.Candidates = serialport.Candidates()
	}
	if o.Open == nil {
		o.Open = serialport.Open
	}
}

// Run probes each candidate in order and persists the first device that
// identifies as a bridge node. First match wins; the candidate list is
// already sorted, so the tie-break among multiple bridges is enumeration
// order and nothing more.
func Run(l *slog.Logger, opts Options) (string, error) {
	opts.applyDefaults()
	l = l.With(slog.String("component", "autodetect"))

	env, err := config.ReadEnvFile(opts.EnvFile)
	if err != nil {
		return "", err
	}

	// A configured device that still exists is kept as-is.
	if current := env[string(config.EnvSerialDevice)]; current != "" {
		if _, err := os.Stat(current); err == nil {
			l.Info("existing serial device still present, leaving unchanged", slog.String("device", current))
			return current, nil
		}
	}

	for _, candidate := range opts.Candidates {
		device := resolve(candidate)

		l.Info("probing", slog.String("device", device))

		if probe(l, opts.Open, device, opts.Baud, opts.ProbeTimeout) {
			l.Info("found gateway", slog.String("device", device))

			env[string(config.EnvSerialDevice)] = device
			setDefault(env, config.EnvSerialBaud, strconv.Itoa(opts.Baud))
			setDefault(env, config.EnvMQTTHost, "localhost")
			setDefault(env, config.EnvMQTTPort, "1883")

			if err := config.WriteEnvFile(opts.EnvFile, env); err != nil {
				return "", err
			}

			return device, nil
		}
	}

	// Nothing found. Never clobber an existing file; only seed defaults when
	// there is no configuration at all, so the translator has something to read.
	if _, err := os.Stat(opts.EnvFile); os.IsNotExist(err) {
		setDefault(env, config.EnvSerialDevice, "/dev/ttyUSB0")
		setDefault(env, config.EnvSerialBaud, strconv.Itoa(opts.Baud))
		setDefault(env, config.EnvMQTTHost, "localhost")
		setDefault(env, config.EnvMQTTPort, "1883")

		if err := config.WriteEnvFile(opts.EnvFile, env); err != nil {
			return "", err
		}

		l.Info("wrote default env file", slog.String("path", opts.EnvFile))
	}

	return "", ErrNoGateway
}

// probe listens on one device for up to timeout and reports whether a line
// identifying a bridge node arrived.
func probe(l *slog.Logger, open serialport.Opener, device string, baud int, timeout time.Duration) bool {
	port, err := open(serialport.Config{Device: device, Baud: baud, ReadTimeout: readTimeout})
	if err != nil {
		l.Debug("cannot open candidate", slog.String("device", device), utils.ErrAttr(err))
		return false
	}
	defer port.Close()

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	var acc []byte

	for time.Now().Before(deadline) {
		n, err := port.Read(chunk)
		if n > 0 {
			acc = append(acc, chunk[:n]...)

			for {
				nl := bytes.IndexByte(acc, '\n')
				if nl < 0 {
					break
				}

				line := strings.TrimSpace(string(acc[:nl]))
				acc = acc[nl+1:]

				if matchesGateway(line) {
					return true
				}
			}

			// Bound the accumulator against a chatty non-bridge device.
			if len(acc) > 4096 {
				acc = acc[:0]
			}
		}

		if err != nil {
			return false
		}
	}

	return false
}

// matchesGateway recognizes the readiness marker, or a radio reception line
// whose payload looks like gate telemetry. The gateway prints reception
// lines between ready markers, so either identifies the device.
func matchesGateway(line string) bool {
	if strings.Contains(line, `"gateway"`) && strings.Contains(line, wire.ReadyMarker) {
		return true
	}

	if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"src"`) || !strings.Contains(line, `"payload"`) {
		return false
	}

	ev, err := wire.DecodeEvent(line)
	if err != nil || len(ev.Payload) == 0 {
		return false
	}

	var payload string
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return false
	}

	return strings.Contains(payload, "battery_voltage") || strings.Contains(payload, "gate_state")
}

// resolve follows /dev/serial/by-id symlinks to the underlying device.
func resolve(path string) string {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}

	return real
}

func setDefault(env map[string]string, key config.EnvKey, value string) {
	if _, ok := env[string(key)]; !ok {
		env[string(key)] = value
	}
}
