// Package translator converts the bridge node's serial event stream into
// bus topic publications and bus commands back into serial lines.
package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"apertus/internal/config"
	"apertus/internal/serialport"
	"apertus/internal/translator/nodestore"
	"apertus/pkg/utils"
	"apertus/pkg/wire"
)

// diagTopicSuffix is where bridge send acks/errors and reject events are
// republished. They are operator diagnostics, not per-node user topics.
const diagTopicSuffix = "/bridge/diag"

// scalarFields maps telemetry keys to their per-field topic suffixes, in
// publication order.
var scalarFields = []struct {
	key    string
	suffix string
}{
	{"gate_state", "state"},
	{"battery_voltage", "battery_voltage"},
	{"battery_pct", "battery_pct"},
	{"solar_voltage", "solar_voltage"},
	{"charging", "charging"},
	{"rssi", "rssi"},
	{"radio_temp_c", "radio_temp_c"},
	{"uptime_s", "uptime_s"},
	{"limit_open", "limit_open"},
	{"limit_closed", "limit_closed"},
	{"photoeye_blocked", "photoeye_blocked"},
	{"free_exit", "free_exit"},
}

// Translator owns one serial endpoint and one bus connection. The serial
// read loop and the bus message callbacks run concurrently; the serial
// writer is the only shared resource and takes a lock per line.
type Translator struct {
	l       *slog.Logger
	cfg     *config.Config
	bus     Bus
	store   *nodestore.Store
	metrics *Metrics

	open serialport.Opener

	mu    sync.Mutex
	port  io.Writer
	known map[string]struct{}
}

// New creates a translator. store may be nil when persistence is disabled.
func New(l *slog.Logger, cfg *config.Config, bus Bus, store *nodestore.Store, metrics *Metrics) *Translator {
	t := &Translator{
		l:       l.With(slog.String("component", "translator")),
		cfg:     cfg,
		bus:     bus,
		store:   store,
		metrics: metrics,
		open:    serialport.Open,
		known:   make(map[string]struct{}),
	}

	if store != nil {
		ids, err := store.All()
		if err != nil {
			t.l.Warn("failed to load persisted nodes", utils.ErrAttr(err))
		}

		for _, id := range ids {
			t.known[id] = struct{}{}
		}
	}

	return t
}

// CommandTopic is the wildcard subscription for inbound commands.
func (t *Translator) CommandTopic() string {
	return t.cfg.BaseTopic + "/+/cmd"
}

// HandleCommand forwards one bus command to the bridge node. The payload
// passes through verbatim apart from trailing-newline stripping; the field
// node is the authority on the command vocabulary.
func (t *Translator) HandleCommand(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != t.cfg.BaseTopic || parts[2] != "cmd" {
		return
	}

	nodeID, err := strconv.Atoi(parts[1])
	if err != nil {
		t.l.Warn("command topic with non-numeric node id", slog.String("topic", topic))
		return
	}

	text := strings.TrimRight(string(payload), "\r\n")

	if err := t.writeSerial(wire.EncodeCommandFrame(nodeID, text)); err != nil {
		t.l.Error("failed to write command to serial", utils.ErrAttr(err))
		return
	}

	t.metrics.CommandsForwarded.Inc()
	t.l.Info("forwarded command", slog.Int("node", nodeID), slog.String("command", text))
}

// HandleLine processes one serial line from the bridge. Malformed lines are
// dropped with a diagnostic; they never terminate the read loop.
func (t *Translator) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	t.metrics.SerialLines.Inc()

	ev, err := wire.DecodeEvent(line)
	if err != nil {
		t.metrics.SerialDropped.Inc()
		t.l.Debug("dropping non-JSON serial line", slog.String("line", line))

		return
	}

	switch {
	case ev.Ready():
		t.l.Info("bridge reported ready, republishing discovery")
		t.PublishAllDiscovery()

	case ev.SentTo != nil || ev.SentErrorTo != nil || ev.Err != "":
		t.handleDiagnostic(ev, line)

	case ev.Src != nil:
		t.handleTelemetry(ev, line)

	default:
		t.metrics.SerialDropped.Inc()
		t.l.Debug("serial JSON without src", slog.String("line", line))
	}
}

// handleDiagnostic republishes bridge send outcomes and rejects under the
// diagnostics sub-namespace.
func (t *Translator) handleDiagnostic(ev wire.Event, line string) {
	switch {
	case ev.SentTo != nil:
		t.l.Debug("bridge relayed command", slog.Int("node", *ev.SentTo))
	case ev.SentErrorTo != nil:
		t.l.Warn("bridge send failed", slog.Int("node", *ev.SentErrorTo))
	case ev.Err != "":
		t.l.Warn("bridge rejected line", slog.String("reason", ev.Err), slog.String("line", ev.Line))
	}

	if err := t.bus.Publish(t.cfg.BaseTopic+diagTopicSuffix, []byte(line), false); err != nil {
		t.l.Debug("diag publish failed", utils.ErrAttr(err))
	}
}

// handleTelemetry merges a reception event with its payload and publishes
// the snapshot plus the per-field scalar topics, all non-retained.
func (t *Translator) handleTelemetry(ev wire.Event, line string) {
	combined := t.combine(ev, line)
	if combined == nil {
		t.metrics.SerialDropped.Inc()
		return
	}

	nodeID := strconv.Itoa(*ev.Src)

	snapshot, err := utils.ToJSON(combined)
	if err != nil {
		t.l.Error("failed to encode snapshot", utils.ErrAttr(err))
		return
	}

	// Telemetry is never retained: a subscriber must not replay stale
	// values from a node that has gone offline.
	if err := t.bus.Publish(t.cfg.BaseTopic+"/"+nodeID+"/telemetry", snapshot, false); err != nil {
		t.l.Warn("telemetry publish failed", utils.ErrAttr(err))
	}

	for _, field := range scalarFields {
		value, ok := combined[field.key]
		if !ok {
			continue
		}

		topic := t.cfg.BaseTopic + "/" + nodeID + "/" + field.suffix
		if err := t.bus.Publish(topic, []byte(scalarString(value)), false); err != nil {
			t.l.Debug("scalar publish failed", slog.String("topic", topic), utils.ErrAttr(err))
		}
	}

	t.metrics.TelemetryPublished.Inc()
	t.noteNode(nodeID)
}

// combine builds the snapshot map: the payload object (inline, or parsed
// out of the escaped string) merged with the envelope's src and rssi.
func (t *Translator) combine(ev wire.Event, line string) map[string]any {
	combined := map[string]any{}

	switch {
	case len(ev.Payload) == 0:
		// Telemetry forwarded unchanged: the whole line is the object.
		if err := decodeNumbers(line, &combined); err != nil {
			t.l.Debug("unparseable telemetry line", slog.String("line", line))
			return nil
		}

	case ev.Payload[0] == '"':
		var inner string
		if err := json.Unmarshal(ev.Payload, &inner); err != nil {
			return nil
		}

		if err := decodeNumbers(inner, &combined); err != nil {
			// Not JSON; keep the raw text so nothing is silently lost.
			combined["raw"] = inner
		}

	default:
		if err := decodeNumbers(string(ev.Payload), &combined); err != nil {
			return nil
		}
	}

	if _, ok := combined["rssi"]; !ok && ev.RSSI != nil {
		combined["rssi"] = json.Number(strconv.Itoa(*ev.RSSI))
	}

	if _, ok := combined["src"]; !ok {
		combined["src"] = json.Number(strconv.Itoa(*ev.Src))
	}

	return combined
}

// noteNode publishes discovery the first time a node id is seen this
// session and records it in the store.
func (t *Translator) noteNode(nodeID string) {
	t.mu.Lock()
	_, seen := t.known[nodeID]
	if !seen {
		t.known[nodeID] = struct{}{}
	}
	t.mu.Unlock()

	if seen {
		return
	}

	t.l.Info("discovered new node", slog.String("node", nodeID))
	t.publishDiscovery(nodeID)

	if t.store != nil {
		if err := t.store.Add(nodeID); err != nil {
			t.l.Warn("failed to persist node", utils.ErrAttr(err))
		}
	}
}

func (t *Translator) knownNodes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.known))
	for id := range t.known {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// KnownNodes lists every node id seen or persisted, for diagnostics.
func (t *Translator) KnownNodes() []string {
	return t.knownNodes()
}

// SerialConnected reports whether a serial port is currently open.
func (t *Translator) SerialConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

// writeSerial writes one line to the current serial port. Writes are
// atomic per line under the lock; the read loop never writes, so the bus
// callback is the only writer.
func (t *Translator) writeSerial(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return errSerialClosed
	}

	_, err := io.WriteString(t.port, line)

	return err
}

func (t *Translator) setPort(w io.Writer) {
	t.mu.Lock()
	t.port = w
	t.mu.Unlock()
}

// Run owns the serial connection: open, read lines, and on failure reopen
// with exponential backoff. Serial and bus failures are independent; a
// broken serial link never tears down the process.
func (t *Translator) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		port, err := t.open(serialport.Config{
			Device:      t.cfg.SerialDevice,
			Baud:        t.cfg.SerialBaud,
			ReadTimeout: time.Second,
		})
		if err != nil {
			t.l.Error("cannot open serial port, retrying",
				slog.String("device", t.cfg.SerialDevice), utils.ErrAttr(err))
			t.metrics.SerialReconnects.Inc()

			if !sleepCtx(ctx, bo.NextBackOff()) {
				return nil
			}

			continue
		}

		t.l.Info("opened serial port",
			slog.String("device", t.cfg.SerialDevice), slog.Int("baud", t.cfg.SerialBaud))
		t.setPort(port)
		bo.Reset()

		err = t.readLoop(ctx, port)
		t.setPort(nil)
		port.Close()

		if ctx.Err() != nil {
			return nil
		}

		t.l.Warn("serial connection lost, reopening", utils.ErrAttr(err))
		t.metrics.SerialReconnects.Inc()

		if !sleepCtx(ctx, bo.NextBackOff()) {
			return nil
		}
	}
}

// readLoop reads the port until a read error or cancellation. Reads time
// out periodically so cancellation is observed without data arriving.
func (t *Translator) readLoop(ctx context.Context, port io.Reader) error {
	chunk := make([]byte, 512)

	var acc []byte

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(chunk)
		if n > 0 {
			acc = append(acc, chunk[:n]...)

			for {
				nl := bytes.IndexByte(acc, '\n')
				if nl < 0 {
					break
				}

				t.HandleLine(string(acc[:nl]))
				acc = acc[nl+1:]
			}
		}

		if err != nil {
			return err
		}
	}
}

var errSerialClosed = errors.New("serial port not open")

// decodeNumbers unmarshals JSON keeping numbers as json.Number, so scalar
// topics republish the exact textual value the node emitted.
func decodeNumbers(text string, out *map[string]any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	return dec.Decode(out)
}

// scalarString renders one telemetry value for a per-field topic.
// Booleans become 1/0; numbers keep their original text.
func scalarString(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "1"
		}

		return "0"
	case json.Number:
		return val.String()
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}

		return string(b)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
