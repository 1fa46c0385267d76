package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQoS            = 0
)

// mqttClient is the part of mqtt.Client the channel uses
type mqttClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTChannel publishes alerts as JSON to a broker topic
type MQTTChannel struct {
	client mqttClient
	topic  string
	now    func() time.Time
}

// NewMQTTChannel connects to the broker. An unreachable broker is logged
// and retried in the background rather than failing startup.
func NewMQTTChannel(cfg config.MQTTChannel, log *logger.Logger) (*MQTTChannel, error) {
	broker := cfg.Broker
	if broker == "" {
		return nil, fmt.Errorf("mqtt broker is not configured")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		log.Info("MQTT connection established", "broker", broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn("MQTT connection lost, reconnecting", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		log.Warn("MQTT broker not reachable yet, retrying in background", "broker", broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newMQTTChannel(client, cfg.Topic), nil
}

func newMQTTChannel(client mqttClient, topic string) *MQTTChannel {
	return &MQTTChannel{client: client, topic: topic, now: time.Now}
}

// Name returns the channel name
func (c *MQTTChannel) Name() string {
	return "mqtt"
}

// Send publishes the alert with QoS 0
func (c *MQTTChannel) Send(ctx context.Context, msg Message) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(WebhookPayload{
		Subject:   msg.Subject,
		Body:      msg.Body,
		Alert:     msg.Record,
		Timestamp: c.now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := c.client.Publish(c.topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (c *MQTTChannel) Close() error {
	c.client.Disconnect(250)
	return nil
}
