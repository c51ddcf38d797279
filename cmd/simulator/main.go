// simulator runs a virtual gate installation: field nodes with modeled
// gates on an in-memory radio network, plus a bridge node whose serial
// side is served over TCP. Point the translator at the TCP port (via
// socat PTY forwarding or a tcp-capable serial shim) to exercise the
// full pipeline without hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"apertus/internal/bridgenode"
	"apertus/internal/fieldnode"
	"apertus/internal/radio"
	"apertus/pkg/utils"
	"apertus/pkg/wire"
)

const (
	gatewayID  = 1
	travelTime = 8 * time.Second
	connWindow = 100 * time.Millisecond
)

func main() {
	listen := flag.String("listen", "127.0.0.1:7777", "address serving the bridge's serial stream")
	nodeList := flag.String("nodes", "20", "comma-separated field node ids")
	period := flag.Duration("telemetry", 60*time.Second, "telemetry period per node")
	flag.Parse()

	logOptions := slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: utils.SlogReplacer}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &logOptions))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	network := radio.NewNetwork()

	for _, field := range strings.Split(*nodeList, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			logger.Error("bad node id", slog.String("value", field))
			os.Exit(1)
		}

		gate := newSimGate()
		node := fieldnode.New(logger, fieldnode.Config{
			NodeID:          id,
			GatewayID:       gatewayID,
			TelemetryPeriod: *period,
		}, network.Endpoint(id), gate, gate)

		go node.Run(ctx)

		logger.Info("field node running", slog.Int("node", id))
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("cannot listen", utils.ErrAttr(err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("bridge serial stream listening", slog.String("address", *listen))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.Error("accept failed", utils.ErrAttr(err))

			continue
		}

		logger.Info("translator connected", slog.String("remote", conn.RemoteAddr().String()))
		serveConn(ctx, logger, network, conn)
		logger.Info("translator disconnected")
	}
}

// serveConn runs one bridge session over the connection. The session ends
// when the peer disconnects or the simulator shuts down.
func serveConn(ctx context.Context, l *slog.Logger, network *radio.Network, conn net.Conn) {
	defer conn.Close()

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	bridge := bridgenode.New(l, network.Endpoint(gatewayID), conn)
	bridge.Run(connCtx, &connReader{conn: conn, closed: connCancel})
}

// connReader adapts a net.Conn to the bounded-read contract the bridge
// loop expects, and ends the session on peer disconnect.
type connReader struct {
	conn   net.Conn
	closed context.CancelFunc
}

func (r *connReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(connWindow)); err != nil {
		return 0, err
	}

	n, err := r.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}

		r.closed()
	}

	return n, err
}

// simGate models one gate operator: limit switches that disengage during
// travel, a slowly cycling battery, and steady solar input. It is both the
// node's sensor block and its actuator.
type simGate struct {
	mu        sync.Mutex
	target    wire.GateState
	moveUntil time.Time
	started   time.Time
}

func newSimGate() *simGate {
	return &simGate{target: wire.GateClosed, started: time.Now()}
}

func (g *simGate) Assert(cmd wire.Command) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch cmd {
	case wire.CommandOpen:
		g.target = wire.GateOpen
		g.moveUntil = time.Now().Add(travelTime)
	case wire.CommandClose, wire.CommandTimerClose:
		g.target = wire.GateClosed
		g.moveUntil = time.Now().Add(travelTime)
	case wire.CommandStop:
		g.target = wire.GateMoving
		g.moveUntil = time.Time{}
	case wire.CommandLatch, wire.CommandUnlatch:
		// Latching changes controller behavior, not gate position.
	}
}

func (g *simGate) Release(wire.Command) {}

// Pins reports electrical levels: an engaged switch pulls its pin low.
func (g *simGate) Pins() fieldnode.Pins {
	g.mu.Lock()
	defer g.mu.Unlock()

	pins := fieldnode.Pins{LimitOpen: true, LimitClosed: true, Photoeye: true, FreeExit: true}

	if time.Now().Before(g.moveUntil) {
		return pins
	}

	switch g.target {
	case wire.GateOpen:
		pins.LimitOpen = false
	case wire.GateClosed:
		pins.LimitClosed = false
	default:
		// Stopped mid-travel: neither switch engaged.
	}

	return pins
}

func (g *simGate) BatteryADC() float64 {
	// Battery drifts around 12.55 V over a slow cycle; sensors report the
	// pin voltage before the x3 divider.
	minutes := time.Since(g.started).Minutes()

	return (12.55 + 0.4*math.Sin(minutes/30)) / 3.0
}

func (g *simGate) SolarADC() float64 {
	return 18.0 / 4.0
}

func (g *simGate) RadioTempC() int {
	return 31
}
