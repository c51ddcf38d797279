package fieldnode

import "time"

// Config carries the per-deployment constants of one field node.
// It is built once at startup and never mutated.
type Config struct {
	NetworkID int
	NodeID    int
	GatewayID int

	// ADC-to-voltage divider factors for the two analog channels.
	BatteryDivider float64
	SolarDivider   float64

	// Battery voltage range mapped to 0..100 percent.
	BatteryLowVolts  float64
	BatteryHighVolts float64

	// ChargeMargin is how far solar must exceed battery to count as charging.
	ChargeMargin float64

	PulseWidth      time.Duration
	TelemetryPeriod time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatteryDivider == 0 {
		c.BatteryDivider = 3.0
	}
	if c.SolarDivider == 0 {
		c.SolarDivider = 4.0
	}
	if c.BatteryLowVolts == 0 {
		c.BatteryLowVolts = 11.5
	}
	if c.BatteryHighVolts == 0 {
		c.BatteryHighVolts = 13.6
	}
	if c.ChargeMargin == 0 {
		c.ChargeMargin = 0.2
	}
	if c.PulseWidth == 0 {
		c.PulseWidth = 200 * time.Millisecond
	}
	if c.TelemetryPeriod == 0 {
		c.TelemetryPeriod = 60 * time.Second
	}
}
