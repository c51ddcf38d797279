package translator

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts the translator's relay activity.
type Metrics struct {
	SerialLines        prometheus.Counter
	SerialDropped      prometheus.Counter
	SerialReconnects   prometheus.Counter
	TelemetryPublished prometheus.Counter
	CommandsForwarded  prometheus.Counter
	DiscoveryPublished prometheus.Counter
}

// NewMetrics creates and registers the translator metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SerialLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apertus_serial_lines_total",
			Help: "Serial lines received from the bridge node.",
		}),
		SerialDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apertus_serial_dropped_total",
			Help: "Serial lines dropped as malformed.",
		}),
		SerialReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apertus_serial_reconnects_total",
			Help: "Serial port reopen attempts after a disconnect.",
		}),
		TelemetryPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apertus_telemetry_published_total",
			Help: "Telemetry snapshots published to the bus.",
		}),
		CommandsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apertus_commands_forwarded_total",
			Help: "Bus commands forwarded to the bridge node.",
		}),
		DiscoveryPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apertus_discovery_published_total",
			Help: "Discovery descriptor publications.",
		}),
	}

	reg.MustRegister(
		m.SerialLines,
		m.SerialDropped,
		m.SerialReconnects,
		m.TelemetryPublished,
		m.CommandsForwarded,
		m.DiscoveryPublished,
	)

	return m
}
