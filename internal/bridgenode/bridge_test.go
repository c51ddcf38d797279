package bridgenode

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"apertus/internal/radio"
	"apertus/pkg/wire"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBridge(t *testing.T) (*Bridge, *radio.Network, *bytes.Buffer) {
	t.Helper()

	net := radio.NewNetwork()
	var out bytes.Buffer

	return New(discard(), net.Endpoint(1), &out), net, &out
}

func lines(out *bytes.Buffer) []string {
	var got []string

	sc := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for sc.Scan() {
		got = append(got, sc.Text())
	}

	return got
}

func TestStartEmitsReadyMarker(t *testing.T) {
	t.Parallel()

	b, _, out := testBridge(t)
	b.Start()

	if got := out.String(); got != wire.ReadyLine+"\n" {
		t.Errorf("Start() wrote %q, want %q", got, wire.ReadyLine+"\n")
	}
}

func TestValidCommandForwarded(t *testing.T) {
	t.Parallel()

	b, net, out := testBridge(t)
	node := net.Endpoint(20)

	b.Feed([]byte("TO:20:OPEN\r\n"))

	frame, ok := node.Receive()
	if !ok || string(frame.Payload) != "OPEN" || frame.Src != 1 {
		t.Fatalf("node received %+v, want OPEN from 1", frame)
	}

	got := lines(out)
	if len(got) != 1 || got[0] != `{"sent_to":20,"payload":"OPEN"}` {
		t.Errorf("serial output = %v, want one sent_to event", got)
	}
}

func TestSendFailureReported(t *testing.T) {
	t.Parallel()

	b, net, out := testBridge(t)
	net.Endpoint(20)
	net.SetDown(20, true)

	b.Feed([]byte("TO:20:OPEN\n"))

	got := lines(out)
	if len(got) != 1 || got[0] != `{"sent_error_to":20}` {
		t.Errorf("serial output = %v, want one sent_error_to event", got)
	}
}

func TestMalformedLineRejectedLocally(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{name: "missing prefix", line: "BOGUS\n"},
		{name: "missing colon", line: "TO:20\n"},
		{name: "bad destination", line: "TO:x:OPEN\n"},
		{name: "empty payload", line: "TO:20:\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, net, out := testBridge(t)
			node := net.Endpoint(20)

			b.Feed([]byte(tt.line))

			if frame, ok := node.Receive(); ok {
				t.Fatalf("malformed line reached the radio: %+v", frame)
			}

			got := lines(out)
			if len(got) != 1 {
				t.Fatalf("serial output = %v, want exactly one event", got)
			}

			ev, err := wire.DecodeEvent(got[0])
			if err != nil {
				t.Fatalf("error event is not JSON: %v", err)
			}

			if ev.Err == "" {
				t.Errorf("event %q has no err field", got[0])
			}
		})
	}
}

func TestOversizePayloadTruncated(t *testing.T) {
	t.Parallel()

	b, net, _ := testBridge(t)
	node := net.Endpoint(20)

	payload := strings.Repeat("A", radio.MaxPayload+50)
	b.Feed([]byte("TO:20:" + payload + "\n"))

	frame, ok := node.Receive()
	if !ok {
		t.Fatal("truncated payload was not sent")
	}

	if len(frame.Payload) != radio.MaxPayload {
		t.Errorf("payload length = %d, want %d", len(frame.Payload), radio.MaxPayload)
	}
}

func TestPartialLinesAccumulate(t *testing.T) {
	t.Parallel()

	b, net, _ := testBridge(t)
	node := net.Endpoint(20)

	for _, part := range []string{"TO:", "20:OP", "EN"} {
		b.Feed([]byte(part))
	}

	if _, ok := node.Receive(); ok {
		t.Fatal("line processed before newline")
	}

	b.Feed([]byte("\n"))

	if frame, ok := node.Receive(); !ok || string(frame.Payload) != "OPEN" {
		t.Fatalf("node received %+v, want OPEN", frame)
	}
}

func TestOverflowResyncsOnNewline(t *testing.T) {
	t.Parallel()

	b, net, _ := testBridge(t)
	node := net.Endpoint(20)

	// Exceed the buffer with no newline, then terminate the junk line and
	// send a valid command.
	b.Feed(bytes.Repeat([]byte("x"), maxLineLen+100))
	b.Feed([]byte("more junk\n"))
	b.Feed([]byte("TO:20:STOP\n"))

	frame, ok := node.Receive()
	if !ok || string(frame.Payload) != "STOP" {
		t.Fatalf("node received %+v, want STOP after resync", frame)
	}

	if frame, ok := node.Receive(); ok {
		t.Errorf("junk reached the radio: %+v", frame)
	}
}

func TestRadioFrameForwardedToSerial(t *testing.T) {
	t.Parallel()

	b, net, out := testBridge(t)
	node := net.Endpoint(20)

	node.Send(1, []byte(`{"gate_state":"open"}`))

	if !b.PollRadio() {
		t.Fatal("PollRadio() found no frame")
	}

	got := lines(out)
	if len(got) != 1 {
		t.Fatalf("serial output = %v, want one rx line", got)
	}

	ev, err := wire.DecodeEvent(got[0])
	if err != nil {
		t.Fatalf("rx line is not JSON: %v", err)
	}

	if ev.Src == nil || *ev.Src != 20 {
		t.Errorf("src = %v, want 20", ev.Src)
	}

	if ev.RSSI == nil {
		t.Error("rssi missing from rx line")
	}

	var payload string
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("payload not a string: %v", err)
	}

	if payload != `{"gate_state":"open"}` {
		t.Errorf("payload = %q, want original text", payload)
	}
}
