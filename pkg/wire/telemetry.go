package wire

// GateState is the derived position of a gate, computed from its limit switches.
type GateState string

const (
	GateOpen    GateState = "open"
	GateClosed  GateState = "closed"
	GateMoving  GateState = "moving"
	GateUnknown GateState = "unknown"
)

// Telemetry is one snapshot of a field node's sensed state.
// Boolean sensors travel as 0/1 integers to keep the serial format
// identical to what the node firmware emits.
type Telemetry struct {
	Src             int       `json:"src"`
	GateState       GateState `json:"gate_state"`
	LimitOpen       int       `json:"limit_open"`
	LimitClosed     int       `json:"limit_closed"`
	PhotoeyeBlocked int       `json:"photoeye_blocked"`
	FreeExit        int       `json:"free_exit"`
	BatteryVoltage  float64   `json:"battery_voltage"`
	BatteryPct      int       `json:"battery_pct"`
	SolarVoltage    float64   `json:"solar_voltage"`
	Charging        int       `json:"charging"`
	RSSI            int       `json:"rssi"`
	RadioTempC      int       `json:"radio_temp_c"`
	UptimeS         uint64    `json:"uptime_s"`
}

// Bit converts a boolean sensor reading to its wire representation.
func Bit(b bool) int {
	if b {
		return 1
	}

	return 0
}
