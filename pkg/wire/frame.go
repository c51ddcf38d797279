package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ReadyMarker is the value of the "gateway" key in the readiness line a
// bridge node prints once its radio is initialized.
const ReadyMarker = "apertus_ready"

// ReadyLine is the exact readiness line, without trailing newline.
const ReadyLine = `{"gateway":"` + ReadyMarker + `"}`

// commandPrefix starts every host-to-bridge serial command line.
const commandPrefix = "TO:"

// Command frame parse failures. The bridge reports these back on serial
// as reject events; nothing reaches the radio.
var (
	ErrMissingPrefix  = errors.New("missing TO: prefix")
	ErrBadDestination = errors.New("bad destination id")
	ErrEmptyPayload   = errors.New("empty payload")
)

// EncodeCommandFrame builds a host-to-bridge serial line, newline-terminated.
func EncodeCommandFrame(dest int, text string) string {
	return fmt.Sprintf("%s%d:%s\n", commandPrefix, dest, text)
}

// ParseCommandFrame splits a host-to-bridge serial line into destination id
// and payload. The line must carry the TO: prefix, a decimal destination up
// to the next colon, and a non-empty payload. Trailing CR/LF is stripped.
func ParseCommandFrame(line string) (int, string, error) {
	line = strings.TrimRight(line, "\r\n")

	rest, ok := strings.CutPrefix(line, commandPrefix)
	if !ok {
		return 0, "", ErrMissingPrefix
	}

	destText, payload, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", ErrBadDestination
	}

	dest, err := strconv.Atoi(destText)
	if err != nil {
		return 0, "", ErrBadDestination
	}

	if payload == "" {
		return 0, "", ErrEmptyPayload
	}

	return dest, payload, nil
}

// EscapePayload escapes backslash and double-quote so a payload can be
// embedded in a bridge JSON line. No other escaping is performed, matching
// the bridge firmware formatter; non-printable bytes do not round-trip.
func EscapePayload(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// Bridge-to-host serial lines. Each line is one JSON object; which keys are
// present determines the event kind.

// RxLine formats a received radio frame as a bridge serial line.
func RxLine(src, rssi int, payload []byte) string {
	return fmt.Sprintf(`{"src":%d,"rssi":%d,"payload":"%s"}`, src, rssi, EscapePayload(string(payload)))
}

// SentLine reports a successfully relayed command.
func SentLine(dest int, payload string) string {
	return fmt.Sprintf(`{"sent_to":%d,"payload":"%s"}`, dest, EscapePayload(payload))
}

// SendErrorLine reports a command whose radio send failed after retries.
func SendErrorLine(dest int) string {
	return fmt.Sprintf(`{"sent_error_to":%d}`, dest)
}

// RejectLine reports a malformed host-to-bridge line, echoing the original.
func RejectLine(reason error, line string) string {
	return fmt.Sprintf(`{"err":"%s","line":"%s"}`, EscapePayload(reason.Error()), EscapePayload(strings.TrimRight(line, "\r\n")))
}

// Event is the decoded form of a bridge-to-host serial line. Pointer fields
// distinguish absent keys from zero values; Payload stays raw because it may
// be either an escaped string or an inline object.
type Event struct {
	Gateway     string          `json:"gateway,omitempty"`
	Src         *int            `json:"src,omitempty"`
	RSSI        *int            `json:"rssi,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SentTo      *int            `json:"sent_to,omitempty"`
	SentErrorTo *int            `json:"sent_error_to,omitempty"`
	Err         string          `json:"err,omitempty"`
	Line        string          `json:"line,omitempty"`
}

// DecodeEvent parses one bridge serial line. Unknown keys are tolerated:
// telemetry objects forwarded unchanged carry the full sensor field set.
func DecodeEvent(line string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode bridge event: %w", err)
	}

	return ev, nil
}

// Ready reports whether the event is the bridge readiness marker.
func (e Event) Ready() bool {
	return e.Gateway == ReadyMarker
}
