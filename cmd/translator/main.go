// The translator daemon bridges a serial-attached radio gateway to an
// MQTT broker: gateway JSON lines become per-node telemetry topics and
// Home Assistant discovery, bus commands become serial command frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/prometheus/client_golang/prometheus"

	"apertus/internal/config"
	"apertus/internal/diag"
	"apertus/internal/translator"
	"apertus/internal/translator/nodestore"
	"apertus/pkg/utils"
)

const nodesDBFile = "nodes.db"

func main() {
	embeddedBroker := flag.Bool("embedded-broker", false, "run an embedded MQTT broker instead of connecting to an external one")
	flag.Parse()

	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	cfg, err := config.New()
	if err != nil {
		fatalIfErr(slog.Default(), fmt.Errorf("failed to create config: %w", err))
	}

	logger := getLogger(cfg)
	started := time.Now()

	// Optional embedded broker, for deployments with no external one.
	if *embeddedBroker {
		broker, err := getMQTTServer(logger, fmt.Sprintf(":%d", cfg.EmbeddedBrokerPort))
		fatalIfErr(logger, err)

		go func() {
			logger.Info("MQTT broker listening", slog.Int("port", cfg.EmbeddedBrokerPort))

			if err := broker.Serve(); err != nil {
				logger.Error("MQTT broker failed", utils.ErrAttr(err))
				sigCancel()
			}
		}()

		defer func() {
			logger.Info("mqtt broker shutting down...")

			if err := broker.Close(); err != nil {
				logger.Error("mqtt broker shutdown failed", utils.ErrAttr(err))
			}
		}()
	}

	store, err := nodestore.Open(filepath.Join(cfg.DataDir, nodesDBFile))
	fatalIfErr(logger, err)

	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close node store", utils.ErrAttr(err))
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := translator.NewMetrics(registry)

	var tr *translator.Translator

	bus, err := translator.NewBusClient(logger, translator.BusOptions{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID + "-" + utils.NewUUID(),
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		OnConnect: func(c *translator.BusClient) {
			// Runs on reconnects too: the broker may have restarted and
			// lost both the subscription and the retained descriptors.
			if err := c.Subscribe(tr.CommandTopic(), func(_ mqtt.Client, msg mqtt.Message) {
				tr.HandleCommand(msg.Topic(), msg.Payload())
			}); err != nil {
				logger.Error("failed to subscribe to command topic", utils.ErrAttr(err))
			}

			tr.PublishAllDiscovery()
		},
	})
	fatalIfErr(logger, err)

	tr = translator.New(logger, cfg, bus, store, metrics)

	go func() {
		if err := bus.Connect(); err != nil {
			logger.Error("failed to connect to MQTT broker", utils.ErrAttr(err))
		}
	}()

	diagServer := diag.New(logger, cfg.DiagAddr, tr.KnownNodes, func() diag.Status {
		return diag.Status{
			SerialConnected: tr.SerialConnected(),
			BusConnected:    bus.Connected(),
			Uptime:          time.Since(started).Round(time.Second).String(),
		}
	}, registry)
	diagServer.StartOnBackground(sigCancel)

	serialDone := make(chan error, 1)

	go func() {
		serialDone <- tr.Run(sigCtx)
	}()

	<-sigCtx.Done()
	logger.Info("received signal, shutting down...")

	if err := <-serialDone; err != nil {
		logger.Error("serial loop failed", utils.ErrAttr(err))
	}

	logger.Info("disconnecting from MQTT broker...")
	bus.Disconnect()

	if err := diagServer.Shutdown(); err != nil {
		logger.Error("diag server shutdown failed", utils.ErrAttr(err))
	}

	logger.Info("translator exited gracefully")
}

func getMQTTServer(l *slog.Logger, addr string) (*mqttbroker.Server, error) {
	server := mqttbroker.New(&mqttbroker.Options{
		Logger: l.With(slog.String("component", "mqtt-broker")),
	})
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})

	err := server.AddListener(tcp)
	if err != nil {
		return nil, err
	}

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}

	return server, nil
}

func getLogger(cfg *config.Config) *slog.Logger {
	logOptions := slog.HandlerOptions{
		Level:       cfg.LogLevel,
		ReplaceAttr: utils.SlogReplacer,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &logOptions))
}

func fatalIfErr(l *slog.Logger, err error) {
	if err == nil {
		return
	}

	l.Error("error", utils.ErrAttr(err))
	os.Exit(1)
}
