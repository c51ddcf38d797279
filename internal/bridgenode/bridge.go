// Package bridgenode implements the radio-to-serial bridge. It is content
// blind: it frames bytes in both directions and carries no telemetry
// semantics of its own.
package bridgenode

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"apertus/internal/radio"
	"apertus/pkg/utils"
	"apertus/pkg/wire"
)

// maxLineLen bounds the serial line buffer. A line that grows past this
// without a newline is discarded and the buffer resynchronizes on the next
// newline. No partial-line recovery, no backpressure.
const maxLineLen = 512

const pollInterval = 5 * time.Millisecond

// Bridge holds exactly one radio link and one serial endpoint.
// All methods are called from a single loop; there is no locking.
type Bridge struct {
	l    *slog.Logger
	link radio.Link
	out  io.Writer

	buf      []byte
	overflow bool
}

// New creates a bridge writing serial output to out.
func New(l *slog.Logger, link radio.Link, out io.Writer) *Bridge {
	return &Bridge{
		l:    l.With(slog.String("component", "bridgenode")),
		link: link,
		out:  out,
		buf:  make([]byte, 0, maxLineLen),
	}
}

// Start emits the readiness marker. It is emitted unconditionally once the
// radio is set up; hosts synchronize on this line.
func (b *Bridge) Start() {
	b.writeLine(wire.ReadyLine)
}

// Run drives the bridge loop until the context is cancelled: read available
// serial bytes, then poll the radio once. The reader must return within a
// bounded time even with no data (serial ports with a read timeout do).
func (b *Bridge) Run(ctx context.Context, in io.Reader) {
	b.Start()

	chunk := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idle := true

		n, err := in.Read(chunk)
		if n > 0 {
			idle = false
			b.Feed(chunk[:n])
		} else if err != nil && err != io.EOF {
			b.l.Debug("serial read", utils.ErrAttr(err))
		}

		if b.PollRadio() {
			idle = false
		}

		if idle {
			time.Sleep(pollInterval)
		}
	}
}

// Feed accumulates serial bytes and processes each completed line.
func (b *Bridge) Feed(data []byte) {
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			b.accumulate(data)
			return
		}

		b.accumulate(data[:nl])
		data = data[nl+1:]

		if b.overflow {
			// The discarded line ends here; resynchronized.
			b.overflow = false
			b.buf = b.buf[:0]

			continue
		}

		line := string(b.buf)
		b.buf = b.buf[:0]

		if line != "" && line != "\r" {
			b.handleLine(line)
		}
	}
}

func (b *Bridge) accumulate(data []byte) {
	if b.overflow {
		return
	}

	if len(b.buf)+len(data) > maxLineLen {
		b.l.Warn("serial line overflow, discarding until next newline")
		b.overflow = true
		b.buf = b.buf[:0]

		return
	}

	b.buf = append(b.buf, data...)
}

// handleLine relays one host command line to the radio. Malformed lines are
// rejected locally with an error event; the destination node never sees them.
func (b *Bridge) handleLine(line string) {
	dest, payload, err := wire.ParseCommandFrame(line)
	if err != nil {
		b.writeLine(wire.RejectLine(err, line))
		return
	}

	if len(payload) > radio.MaxPayload {
		payload = payload[:radio.MaxPayload]
	}

	// Synchronous send; the radio runs its own retry cycle.
	if b.link.Send(dest, []byte(payload)) {
		b.writeLine(wire.SentLine(dest, payload))
	} else {
		b.writeLine(wire.SendErrorLine(dest))
	}
}

// PollRadio forwards at most one received radio frame to serial and reports
// whether a frame was handled.
func (b *Bridge) PollRadio() bool {
	frame, ok := b.link.Receive()
	if !ok {
		return false
	}

	b.writeLine(wire.RxLine(frame.Src, frame.RSSI, frame.Payload))

	return true
}

func (b *Bridge) writeLine(line string) {
	if _, err := io.WriteString(b.out, line+"\n"); err != nil {
		b.l.Warn("serial write failed", utils.ErrAttr(err))
	}
}
