// Package publish forwards acquisition status to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/config"
	"github.com/shaunagostinho/meshgps/internal/gps"
)

const (
	queueSize      = 16
	publishTimeout = 5 * time.Second
)

// publisher is the part of mqtt.Client used once connected.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each status snapshot, retained, on <prefix>/status.
// Handle never blocks; snapshots are dropped when the queue is full.
type MQTT struct {
	client mqtt.Client
	pub    publisher
	broker string
	topic  string
	qos    byte
	queue  chan []byte
	log    *zap.SugaredLogger
}

// New builds a publisher for cfg. Call Connect before Run.
func New(cfg config.MQTT, log *zap.SugaredLogger) *MQTT {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "meshgps-" + uuid.NewString()
	}
	topic := statusTopic(cfg.TopicPrefix)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	m := newWithPublisher(client, topic, cfg.QoS, log)
	m.client = client
	m.broker = cfg.Broker
	return m
}

func newWithPublisher(pub publisher, topic string, qos byte, log *zap.SugaredLogger) *MQTT {
	return &MQTT{
		pub:   pub,
		topic: topic,
		qos:   qos,
		queue: make(chan []byte, queueSize),
		log:   log,
	}
}

func statusTopic(prefix string) string {
	if prefix == "" {
		prefix = "meshgps"
	}
	return prefix + "/status"
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds or ctx ends.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	op := func() error {
		token := m.client.Connect()
		token.Wait()
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		m.log.Warnf("mqtt connect to %s failed: %v (retry in %v)", m.broker, err, next.Round(time.Millisecond))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.broker, err)
	}
	m.log.Infof("mqtt connected to %s, publishing on %s", m.broker, m.topic)
	return nil
}

// Handle queues st for publishing.
func (m *MQTT) Handle(st gps.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		m.log.Errorf("mqtt marshal: %v", err)
		return
	}
	select {
	case m.queue <- payload:
	default:
		m.log.Debug("mqtt queue full, dropping status")
	}
}

// Run publishes queued snapshots until ctx ends.
func (m *MQTT) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-m.queue:
			m.send(payload)
		}
	}
}

func (m *MQTT) send(payload []byte) {
	token := m.pub.Publish(m.topic, m.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.log.Warnf("mqtt publish to %s timed out", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		m.log.Warnf("mqtt publish to %s: %v", m.topic, err)
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
