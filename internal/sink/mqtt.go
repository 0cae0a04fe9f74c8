package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vigilia/vigilia/internal/event"
)

// MQTTConfig configures the alert publisher.
type MQTTConfig struct {
	Broker   string // host:port
	Topic    string
	ClientID string
	QoS      byte
}

// MQTT publishes completed events as JSON to an alert topic, typically
// consumed by on-site hardware (speakers, ESP32 relays).
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
}

// NewMQTT creates an unconnected publisher. Call Connect before use.
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "vigilia/alerts"
	}
	return &MQTT{cfg: cfg}
}

// Connect establishes the broker connection with auto-reconnect enabled.
// A lost connection is recovered in the background; deliveries during an
// outage fail and are logged by the dispatcher.
func (s *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established",
			"broker", s.cfg.Broker,
			"client_id", s.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"broker", s.cfg.Broker,
			"error", err,
		)
	}

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout (%s)", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTT) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// Name implements Sink.
func (s *MQTT) Name() string { return "mqtt" }

// Deliver implements Sink, publishing the event JSON to the alert topic.
func (s *MQTT) Deliver(ctx context.Context, ev event.Event) error {
	if s.client == nil || !s.client.IsConnected() {
		return fmt.Errorf("mqtt not connected (%s)", s.cfg.Broker)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)

	deadline := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	if !token.WaitTimeout(deadline) {
		return fmt.Errorf("mqtt publish timeout (topic %s)", s.cfg.Topic)
	}
	return token.Error()
}
