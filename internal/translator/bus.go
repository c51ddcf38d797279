package translator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"apertus/pkg/utils"
)

// Bus is the publish side of the message bus as the translator needs it.
type Bus interface {
	Publish(topic string, payload []byte, retained bool) error
}

// BusOptions configures the MQTT connection.
type BusOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// OnConnect runs on every successful connect, including reconnects.
	// The translator uses it to resubscribe and republish discovery.
	OnConnect func(c *BusClient)
}

// BusClient wraps the paho MQTT client with the translator's connection
// policy: auto-reconnect with bounded retry intervals.
type BusClient struct {
	client mqtt.Client
	l      *slog.Logger
}

// NewBusClient creates an MQTT client. Connect must be called before use.
func NewBusClient(l *slog.Logger, opts BusOptions) (*BusClient, error) {
	l = l.With(slog.String("component", "mqtt-client"))

	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}

	if opts.ClientID == "" {
		return nil, errors.New("client ID is required")
	}

	bc := &BusClient{l: l}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	// Retry every 5 seconds, max interval 15 seconds
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectTimeout(5 * time.Second)
	clientOpts.SetConnectRetryInterval(5 * time.Second)
	clientOpts.SetMaxReconnectInterval(15 * time.Second)
	clientOpts.SetKeepAlive(30 * time.Second)

	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		bc.l.Info("connected to MQTT broker")

		if opts.OnConnect != nil {
			opts.OnConnect(bc)
		}
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		bc.l.Warn("connection to MQTT broker lost", utils.ErrAttr(err))
	})
	clientOpts.SetReconnectingHandler(func(_ mqtt.Client, o *mqtt.ClientOptions) {
		bc.l.Info("reconnecting to MQTT broker", slog.String("broker", o.Servers[0].String()))
	})

	bc.client = mqtt.NewClient(clientOpts)

	l.Info("MQTT client created", slog.String("broker", opts.BrokerURL), slog.String("clientID", opts.ClientID))

	return bc, nil
}

// Connect connects to the broker, waiting for the initial connection.
func (c *BusClient) Connect() error {
	token := c.client.Connect()
	token.Wait()

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return nil
}

// Disconnect disconnects with a short grace period.
func (c *BusClient) Disconnect() {
	if !c.client.IsConnected() {
		return
	}

	c.client.Disconnect(250)
	c.l.Info("disconnected from MQTT broker")
}

// Connected reports whether the client currently has a broker connection.
func (c *BusClient) Connected() bool {
	return c.client.IsConnected()
}

// Publish sends payload to topic at QoS 0.
func (c *BusClient) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 0, retained, payload)
	token.Wait()

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// Subscribe registers handler for topic at QoS 1.
func (c *BusClient) Subscribe(topic string, handler mqtt.MessageHandler) error {
	token := c.client.Subscribe(topic, 1, handler)
	token.Wait()

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.l.Info("subscribed", slog.String("topic", topic))

	return nil
}
