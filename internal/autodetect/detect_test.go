package autodetect

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"apertus/internal/config"
	"apertus/internal/serialport"
	"apertus/pkg/wire"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePort replays a fixed byte stream, then times out forever.
type fakePort struct {
	data []byte
	pos  int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.pos >= len(p.data) {
		// Simulate a read timeout with no data.
		time.Sleep(5 * time.Millisecond)
		return 0, nil
	}

	n := copy(b, p.data[p.pos:])
	p.pos += n

	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error)          { return len(b), nil }
func (p *fakePort) Close() error                         { return nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }

// fakeOpener maps device paths to canned port output. Devices not in the
// map fail to open. Opened paths are recorded.
type fakeOpener struct {
	ports  map[string]string
	opened []string
}

func (f *fakeOpener) open(cfg serialport.Config) (serialport.Port, error) {
	f.opened = append(f.opened, cfg.Device)

	data, ok := f.ports[cfg.Device]
	if !ok {
		return nil, errors.New("no such device")
	}

	return &fakePort{data: []byte(data)}, nil
}

func TestRunSelectsSecondCandidate(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), "apertus.env")

	opener := &fakeOpener{ports: map[string]string{
		"/dev/fake0": "garbage line\nmore noise\n",
		"/dev/fake1": wire.ReadyLine + "\n",
		"/dev/fake2": wire.ReadyLine + "\n",
	}}

	device, err := Run(discard(), Options{
		EnvFile:      envFile,
		ProbeTimeout: 50 * time.Millisecond,
		Candidates:   []string{"/dev/fake0", "/dev/fake1", "/dev/fake2"},
		Open:         opener.open,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if device != "/dev/fake1" {
		t.Errorf("Run() = %q, want /dev/fake1", device)
	}

	// First match wins: the third candidate is never probed.
	if len(opener.opened) != 2 {
		t.Errorf("opened = %v, want first two candidates only", opener.opened)
	}

	env, err := config.ReadEnvFile(envFile)
	if err != nil {
		t.Fatal(err)
	}

	if env["APERTUS_SERIAL"] != "/dev/fake1" {
		t.Errorf("persisted APERTUS_SERIAL = %q, want /dev/fake1", env["APERTUS_SERIAL"])
	}

	if env["APERTUS_BAUD"] != "115200" {
		t.Errorf("persisted APERTUS_BAUD = %q, want 115200", env["APERTUS_BAUD"])
	}
}

func TestRunKeepsExistingConfigOnFailure(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), "apertus.env")

	existing := map[string]string{
		"APERTUS_SERIAL":    "/dev/gone",
		"APERTUS_MQTT_HOST": "broker.lan",
	}
	if err := config.WriteEnvFile(envFile, existing); err != nil {
		t.Fatal(err)
	}

	opener := &fakeOpener{ports: map[string]string{}}

	_, err := Run(discard(), Options{
		EnvFile:      envFile,
		ProbeTimeout: 20 * time.Millisecond,
		Candidates:   []string{"/dev/fake0"},
		Open:         opener.open,
	})
	if !errors.Is(err, ErrNoGateway) {
		t.Fatalf("Run() error = %v, want ErrNoGateway", err)
	}

	env, err := config.ReadEnvFile(envFile)
	if err != nil {
		t.Fatal(err)
	}

	// Stale-but-valid configuration is preferred over no configuration.
	for k, v := range existing {
		if env[k] != v {
			t.Errorf("key %s = %q, want %q preserved", k, env[k], v)
		}
	}
}

func TestRunWritesDefaultsWhenNoEnvFile(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), "apertus.env")
	opener := &fakeOpener{ports: map[string]string{}}

	_, err := Run(discard(), Options{
		EnvFile:      envFile,
		ProbeTimeout: 20 * time.Millisecond,
		Candidates:   []string{"/dev/fake0"},
		Open:         opener.open,
	})
	if !errors.Is(err, ErrNoGateway) {
		t.Fatalf("Run() error = %v, want ErrNoGateway", err)
	}

	env, err := config.ReadEnvFile(envFile)
	if err != nil {
		t.Fatal(err)
	}

	if env["APERTUS_SERIAL"] == "" || env["APERTUS_BAUD"] == "" {
		t.Errorf("defaults not seeded: %v", env)
	}
}

func TestRunSkipsProbeWhenDeviceStillExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := filepath.Join(dir, "apertus.env")

	// An existing path on disk stands in for an attached device.
	device := filepath.Join(dir, "ttyUSB9")
	if err := os.WriteFile(device, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := config.WriteEnvFile(envFile, map[string]string{"APERTUS_SERIAL": device}); err != nil {
		t.Fatal(err)
	}

	opener := &fakeOpener{ports: map[string]string{}}

	got, err := Run(discard(), Options{
		EnvFile:      envFile,
		ProbeTimeout: 20 * time.Millisecond,
		Candidates:   []string{"/dev/fake0"},
		Open:         opener.open,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got != device {
		t.Errorf("Run() = %q, want existing %q", got, device)
	}

	if len(opener.opened) != 0 {
		t.Errorf("probed %v despite valid existing config", opener.opened)
	}
}

func TestMatchesGateway(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want bool
	}{
		{name: "ready marker", line: wire.ReadyLine, want: true},
		{name: "telemetry rx line", line: `{"src":20,"rssi":-70,"payload":"{\"gate_state\":\"open\"}"}`, want: true},
		{name: "battery rx line", line: `{"src":20,"rssi":-70,"payload":"battery_voltage=12"}`, want: true},
		{name: "unrelated rx line", line: `{"src":20,"rssi":-70,"payload":"hello"}`, want: false},
		{name: "noise", line: "AT+OK", want: false},
		{name: "other json", line: `{"temp":21}`, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := matchesGateway(tt.line); got != tt.want {
				t.Errorf("matchesGateway(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
