package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ============================================================================
// MQTT publisher
// ============================================================================
//
// Publishes reducer broadcasts as JSON to <prefix>/<type> and keeps a
// retained <prefix>/status of "online" / "offline" (the broker publishes
// "offline" through the will if we vanish).
//
// ============================================================================

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// mqttClient is the subset of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// MQTTPublisher forwards state broadcasts to an MQTT broker.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqttClient
	logger *slog.Logger

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// NewMQTTPublisher builds the paho client. Nothing is dialed until Connect.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rfidjukebox-" + uuid.NewString()[:8]
	}

	p := &MQTTPublisher{cfg: cfg, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(p.statusTopic(), "offline", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", clientID)
		// Re-announce after every (re)connect; the will may have fired.
		c.Publish(p.statusTopic(), 1, true, "online")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", cfg.Broker)
	}

	p.client = mqtt.NewClient(opts)
	return p
}

func newMQTTPublisherWithClient(cfg MQTTConfig, client mqttClient, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg, client: client, logger: logger}
}

func (p *MQTTPublisher) statusTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

func (p *MQTTPublisher) topicFor(typ string) string {
	return p.cfg.TopicPrefix + "/" + typ
}

// Connect dials the broker. With connect-retry enabled the token completes
// only once connected, so a timeout is not fatal: paho keeps retrying in
// the background.
func (p *MQTTPublisher) Connect() error {
	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.Broker)

	token := p.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Run publishes broadcasts from src until ctx is canceled or src closes,
// then marks the daemon offline and disconnects.
func (p *MQTTPublisher) Run(ctx context.Context, src <-chan StateBroadcast) {
	defer p.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			if err := p.Publish(b); err != nil {
				p.logger.Debug("mqtt publish failed", "error", err, "type", broadcastType(b))
			}
		}
	}
}

// Publish sends one broadcast.
func (p *MQTTPublisher) Publish(b StateBroadcast) error {
	ev, ok := convertBroadcast(b)
	if !ok {
		return nil
	}

	if !p.client.IsConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(ev.Data)
	if err != nil {
		p.countError()
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	topic := p.topicFor(ev.Type)
	token := p.client.Publish(topic, byte(p.cfg.QoS), false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("mqtt published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (p *MQTTPublisher) Disconnect() {
	if !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(p.statusTopic(), 1, true, "offline")
	token.WaitTimeout(mqttPublishTimeout)
	p.client.Disconnect(250)
	p.logger.Info("mqtt disconnected")
}

// Stats returns the number of published messages and failures.
func (p *MQTTPublisher) Stats() (published, errors uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.errors
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
