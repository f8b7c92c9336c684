// Package mqtt mirrors the state tree to an MQTT broker and accepts writes
// to writable states from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallbox-bridge/config"
	"wallbox-bridge/internal/schema"
	"wallbox-bridge/internal/store"
)

const (
	qos = 1

	availabilityTopic = "availability"
	setSuffix         = "/set"

	payloadOnline  = "online"
	payloadOffline = "offline"

	disconnectQuiesce = 250 // ms
	publishTimeout    = 5 * time.Second
)

// StateWriter receives writes coming from the broker.
type StateWriter interface {
	SetState(ctx context.Context, path string, value any, ack bool) error
}

// client is the part of paho.Client the mirror uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token
}

// Mirror publishes acknowledged state changes retained below the topic prefix
// and forwards <prefix>/<path>/set messages as external writes.
type Mirror struct {
	prefix string
	client client
	states StateWriter
	log    *zap.Logger

	mu        sync.Mutex
	published map[string]string
}

// NewMirror creates a mirror connected to the configured broker on Connect.
func NewMirror(cfg config.MQTTConfig, states StateWriter, logger *zap.Logger) *Mirror {
	m := newMirror(cfg.TopicPrefix, nil, states, logger)

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWill(m.Topic(availabilityTopic), payloadOffline, qos, true).
		SetOnConnectHandler(func(paho.Client) { m.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			m.log.Warn("connection to broker lost", zap.Error(err))
		})

	m.client = paho.NewClient(opts)
	return m
}

func newMirror(prefix string, c client, states StateWriter, logger *zap.Logger) *Mirror {
	return &Mirror{
		prefix:    strings.TrimSuffix(prefix, "/"),
		client:    c,
		states:    states,
		log:       logger.Named("mqtt"),
		published: make(map[string]string),
	}
}

// Connect starts connecting to the broker and waits until the connection is
// up or ctx is done. paho keeps retrying in the background after ctx ends.
func (m *Mirror) Connect(ctx context.Context) error {
	token := m.client.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close announces the mirror offline and disconnects.
func (m *Mirror) Close() {
	token := m.client.Publish(m.Topic(availabilityTopic), qos, true, payloadOffline)
	token.WaitTimeout(publishTimeout)
	m.client.Disconnect(disconnectQuiesce)
}

// Topic returns the broker topic of a state path.
func (m *Mirror) Topic(path string) string {
	return m.prefix + "/" + strings.ReplaceAll(path, ".", "/")
}

// PathFromSetTopic returns the state path addressed by a set topic.
func (m *Mirror) PathFromSetTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, m.prefix+"/")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, setSuffix)
	if !ok || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// HandleChange is a store subscriber. Only acknowledged values are mirrored,
// and a payload identical to the last one published for the topic is skipped.
func (m *Mirror) HandleChange(c store.Change) {
	if !c.Ack {
		return
	}
	payload, err := json.Marshal(c.Value)
	if err != nil {
		m.log.Warn("failed to encode state", zap.String("path", c.Path), zap.Error(err))
		return
	}

	topic := m.Topic(c.Path)
	m.mu.Lock()
	if m.published[topic] == string(payload) {
		m.mu.Unlock()
		return
	}
	m.published[topic] = string(payload)
	m.mu.Unlock()

	token := m.client.Publish(topic, qos, true, payload)
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			m.log.Warn("failed to publish state", zap.String("topic", topic), zap.Error(token.Error()))
			m.forget(topic)
		}
	}()
}

func (m *Mirror) forget(topic string) {
	m.mu.Lock()
	delete(m.published, topic)
	m.mu.Unlock()
}

func (m *Mirror) onConnect() {
	m.log.Info("connected to broker")
	m.client.Publish(m.Topic(availabilityTopic), qos, true, payloadOnline)

	filters := make(map[string]byte)
	for _, n := range schema.Writable() {
		filters[m.Topic(n.Path)+setSuffix] = qos
	}
	token := m.client.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		m.handleSet(msg)
	})
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			m.log.Error("failed to subscribe to set topics", zap.Error(token.Error()))
		}
	}()
}

func (m *Mirror) handleSet(msg paho.Message) {
	// Retained set messages would replay a command on every reconnect.
	if msg.Retained() {
		m.log.Debug("ignoring retained set message", zap.String("topic", msg.Topic()))
		return
	}
	path, ok := m.PathFromSetTopic(msg.Topic())
	if !ok {
		return
	}

	value := DecodePayload(msg.Payload())
	id := uuid.NewString()
	ctx := store.WithRequestID(context.Background(), id)
	if err := m.states.SetState(ctx, path, value, false); err != nil {
		m.log.Warn("rejected write from broker", zap.String("path", path), zap.String("request", id), zap.Error(err))
		return
	}
	m.log.Info("accepted write from broker", zap.String("path", path), zap.String("request", id))
}

// DecodePayload reads a JSON scalar; anything else is taken as a plain string.
func DecodePayload(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}
