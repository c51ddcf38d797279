// Package fieldnode implements the gate-side node: it samples the gate
// sensors, executes actuator commands arriving over radio, and reports
// telemetry snapshots to its gateway.
package fieldnode

import (
	"context"
	"log/slog"
	"math"
	"time"

	"apertus/internal/radio"
	"apertus/pkg/utils"
	"apertus/pkg/wire"
)

// Pins is one sample of the node's digital inputs, as electrical levels.
// Limit switches and the photoeye are wired active-low: an engaged switch
// pulls its pin low.
type Pins struct {
	LimitOpen   bool
	LimitClosed bool
	Photoeye    bool
	FreeExit    bool
}

// Sensors exposes the node's raw inputs.
type Sensors interface {
	Pins() Pins
	// BatteryADC and SolarADC return the voltage at the ADC pin, before
	// the divider factor is applied.
	BatteryADC() float64
	SolarADC() float64
	RadioTempC() int
}

// Actuator drives the gate controller's command inputs. Assert and Release
// bracket a momentary pulse emulating a physical switch closure.
type Actuator interface {
	Assert(cmd wire.Command)
	Release(cmd wire.Command)
}

const pollInterval = 10 * time.Millisecond

// Node is one field node. It runs a single cooperative loop: no state is
// mutated outside Run's goroutine, so it carries no locks.
type Node struct {
	cfg      Config
	link     radio.Link
	sensors  Sensors
	actuator Actuator
	l        *slog.Logger

	start         time.Time
	lastTelemetry time.Time
	lastRSSI      int

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a field node. cfg is copied; zero fields get defaults.
func New(l *slog.Logger, cfg Config, link radio.Link, sensors Sensors, actuator Actuator) *Node {
	cfg.applyDefaults()

	return &Node{
		cfg:      cfg,
		link:     link,
		sensors:  sensors,
		actuator: actuator,
		l:        l.With(slog.String("component", "fieldnode"), slog.Int("node", cfg.NodeID)),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Run executes the node loop until the context is cancelled. One telemetry
// snapshot is sent immediately at boot.
func (n *Node) Run(ctx context.Context) {
	n.start = n.now()
	n.sendTelemetry()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n.Step()
		n.sleep(pollInterval)
	}
}

// Step performs one loop iteration: poll the radio once, then check the
// telemetry timer. Exported so the simulator and tests can drive the node
// without real time passing.
func (n *Node) Step() {
	if n.start.IsZero() {
		n.start = n.now()
	}

	if frame, ok := n.link.Receive(); ok {
		n.lastRSSI = frame.RSSI
		n.handleCommand(string(frame.Payload))
	}

	if n.now().Sub(n.lastTelemetry) >= n.cfg.TelemetryPeriod {
		n.sendTelemetry()
	}
}

// handleCommand executes one received command. Unknown text is dropped
// without a reply. The actuator pulse is a blocking wait: nothing else
// happens on the node during it.
func (n *Node) handleCommand(text string) {
	cmd, ok := wire.ParseCommand(text)
	if !ok {
		n.l.Debug("ignoring unknown command", slog.String("text", text))
		return
	}

	n.l.Info("executing command", slog.String("command", string(cmd)))

	n.actuator.Assert(cmd)
	n.sleep(n.cfg.PulseWidth)
	n.actuator.Release(cmd)

	if !n.link.Send(n.cfg.GatewayID, []byte(wire.Ack)) {
		n.l.Warn("ack send failed")
	}

	n.sendTelemetry()
}

// Snapshot samples all sensors and derives the reported values.
func (n *Node) Snapshot() wire.Telemetry {
	pins := n.sensors.Pins()

	// Active-low inputs: engaged means pin low.
	limitOpen := !pins.LimitOpen
	limitClosed := !pins.LimitClosed

	battery := n.sensors.BatteryADC() * n.cfg.BatteryDivider
	solar := n.sensors.SolarADC() * n.cfg.SolarDivider

	uptime := n.now().Sub(n.start)
	if uptime < 0 {
		uptime = 0
	}

	return wire.Telemetry{
		Src:             n.cfg.NodeID,
		GateState:       deriveGateState(limitOpen, limitClosed),
		LimitOpen:       wire.Bit(limitOpen),
		LimitClosed:     wire.Bit(limitClosed),
		PhotoeyeBlocked: wire.Bit(!pins.Photoeye),
		FreeExit:        wire.Bit(!pins.FreeExit),
		BatteryVoltage:  battery,
		BatteryPct:      batteryPercent(battery, n.cfg.BatteryLowVolts, n.cfg.BatteryHighVolts),
		SolarVoltage:    solar,
		Charging:        wire.Bit(solar > battery+n.cfg.ChargeMargin),
		RSSI:            n.lastRSSI,
		RadioTempC:      n.sensors.RadioTempC(),
		UptimeS:         uint64(uptime / time.Second),
	}
}

// sendTelemetry radios a fresh snapshot to the gateway. A failed send is
// dropped: the radio owns retries and the node keeps no backlog. The timer
// resets either way.
func (n *Node) sendTelemetry() {
	n.lastTelemetry = n.now()

	payload, err := utils.ToJSON(n.Snapshot())
	if err != nil {
		n.l.Error("failed to encode telemetry", utils.ErrAttr(err))
		return
	}

	if !n.link.Send(n.cfg.GatewayID, payload) {
		n.l.Warn("telemetry send failed")
	}
}

// deriveGateState computes the gate position from the two limit switches.
// It is a pure function of the current sample; no history, no debouncing.
// Both switches engaged is a sensor fault.
func deriveGateState(limitOpen, limitClosed bool) wire.GateState {
	switch {
	case limitOpen && limitClosed:
		return wire.GateUnknown
	case limitOpen:
		return wire.GateOpen
	case limitClosed:
		return wire.GateClosed
	default:
		return wire.GateMoving
	}
}

// batteryPercent maps a battery voltage onto 0..100, clamped at the
// configured thresholds and linear between them, rounded to nearest.
func batteryPercent(v, low, high float64) int {
	if v <= low {
		return 0
	}

	if v >= high {
		return 100
	}

	return int(math.Round((v - low) / (high - low) * 100))
}
