// Package radio defines the point-to-point transport contract shared by the
// field node and the bridge node. The real transport is the radio module
// firmware: addressed, encrypted, with per-message acknowledgement and bounded
// retry. This package treats it as a black box and ships an in-memory
// implementation for the simulator and tests.
package radio

import "sync"

// MaxPayload is the largest payload the transport accepts, in bytes.
// Longer payloads must be truncated by the caller before Send.
const MaxPayload = 192

// Frame is one received radio message.
type Frame struct {
	Src     int
	Payload []byte
	RSSI    int
}

// Link is one endpoint on the radio network.
//
// Send blocks through the transport's own retry cycle and reports whether the
// destination acknowledged. Receive polls without blocking; ok is false when
// no frame is pending.
type Link interface {
	Send(dest int, payload []byte) bool
	Receive() (frame Frame, ok bool)
}

const defaultRSSI = -70

// Network is an in-memory radio network. Endpoints obtained from the same
// Network can reach each other; frames carry a synthetic signal strength.
type Network struct {
	mu      sync.Mutex
	inboxes map[int]chan Frame
	down    map[int]bool
	rssi    int
}

// NewNetwork creates an empty in-memory network.
func NewNetwork() *Network {
	return &Network{
		inboxes: make(map[int]chan Frame),
		down:    make(map[int]bool),
		rssi:    defaultRSSI,
	}
}

// Endpoint joins the network under the given node id and returns its link.
func (n *Network) Endpoint(id int) Link {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.inboxes[id]; !ok {
		n.inboxes[id] = make(chan Frame, 16)
	}

	return &endpoint{net: n, id: id}
}

// SetDown marks a node unreachable: sends to it fail as if retries exhausted.
func (n *Network) SetDown(id int, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = down
}

type endpoint struct {
	net *Network
	id  int
}

func (e *endpoint) Send(dest int, payload []byte) bool {
	if len(payload) > MaxPayload {
		return false
	}

	e.net.mu.Lock()
	inbox, ok := e.net.inboxes[dest]
	down := e.net.down[dest]
	rssi := e.net.rssi
	e.net.mu.Unlock()

	if !ok || down {
		return false
	}

	frame := Frame{Src: e.id, Payload: append([]byte(nil), payload...), RSSI: rssi}

	select {
	case inbox <- frame:
		return true
	default:
		// Receiver not draining; the radio would exhaust retries.
		return false
	}
}

func (e *endpoint) Receive() (Frame, bool) {
	e.net.mu.Lock()
	inbox := e.net.inboxes[e.id]
	e.net.mu.Unlock()

	select {
	case frame := <-inbox:
		return frame, true
	default:
		return Frame{}, false
	}
}
