package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallbox-bridge/internal/store"
)

// doneToken is a completed paho.Token.
type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publishes and subscriptions.
type fakeClient struct {
	mu         sync.Mutex
	publishes  []published
	filters    map[string]byte
	handler    paho.MessageHandler
	publishErr error
}

func (f *fakeClient) Connect() paho.Token   { return &doneToken{} }
func (f *fakeClient) Disconnect(quiesce uint) {}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	}
	f.publishes = append(f.publishes, published{topic: topic, retained: retained, payload: p})
	return &doneToken{err: f.publishErr}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = filters
	f.handler = callback
	return &doneToken{}
}

func (f *fakeClient) Publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.publishes...)
}

// fakeMessage is a minimal paho.Message.
type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// mockStates is a mock implementation of the StateWriter interface.
type mockStates struct {
	SetStateFunc func(ctx context.Context, path string, value any, ack bool) error
}

func (m *mockStates) SetState(ctx context.Context, path string, value any, ack bool) error {
	return m.SetStateFunc(ctx, path, value, ack)
}

func TestTopic(t *testing.T) {
	m := newMirror("wallbox/", &fakeClient{}, nil, zap.NewNop())

	assert.Equal(t, "wallbox/control/maxChargingCurrent", m.Topic("control.maxChargingCurrent"))
	assert.Equal(t, "wallbox/availability", m.Topic("availability"))
}

func TestPathFromSetTopic(t *testing.T) {
	m := newMirror("wallbox", &fakeClient{}, nil, zap.NewNop())

	testCases := []struct {
		topic string
		path  string
		ok    bool
	}{
		{"wallbox/control/pause/set", "control.pause", true},
		{"wallbox/info/name/set", "info.name", true},
		{"wallbox/control/pause", "", false},
		{"other/control/pause/set", "", false},
		{"wallbox/set", "", false},
	}
	for _, tc := range testCases {
		path, ok := m.PathFromSetTopic(tc.topic)
		assert.Equal(t, tc.ok, ok, tc.topic)
		assert.Equal(t, tc.path, path, tc.topic)
	}
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, true, DecodePayload([]byte("true")))
	assert.Equal(t, 16.0, DecodePayload([]byte("16")))
	assert.Equal(t, "Garage", DecodePayload([]byte(`"Garage"`)))
	assert.Equal(t, "Garage", DecodePayload([]byte("Garage")))
}

func TestHandleChange_PublishesRetainedOnChange(t *testing.T) {
	c := &fakeClient{}
	m := newMirror("wallbox", c, nil, zap.NewNop())

	m.HandleChange(store.Change{Path: "info.status", Value: int64(194), Ack: true})
	m.HandleChange(store.Change{Path: "info.status", Value: int64(194), Ack: true})
	m.HandleChange(store.Change{Path: "info.status", Value: int64(193), Ack: true})
	m.HandleChange(store.Change{Path: "control.pause", Value: true, Ack: false})

	assert.Equal(t, []published{
		{topic: "wallbox/info/status", retained: true, payload: "194"},
		{topic: "wallbox/info/status", retained: true, payload: "193"},
	}, c.Publishes())
}

func TestHandleChange_RepublishesAfterFailure(t *testing.T) {
	c := &fakeClient{publishErr: errors.New("not connected")}
	m := newMirror("wallbox", c, nil, zap.NewNop())

	m.HandleChange(store.Change{Path: "info.name", Value: "Garage", Ack: true})
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.published) == 0
	}, time.Second, 5*time.Millisecond)

	m.HandleChange(store.Change{Path: "info.name", Value: "Garage", Ack: true})
	assert.Len(t, c.Publishes(), 2)
}

func TestOnConnect(t *testing.T) {
	c := &fakeClient{}
	m := newMirror("wallbox", c, nil, zap.NewNop())

	m.onConnect()

	assert.Equal(t, []published{{topic: "wallbox/availability", retained: true, payload: "online"}}, c.Publishes())
	assert.Len(t, c.filters, 8)
	assert.Contains(t, c.filters, "wallbox/control/resume/set")
	assert.Contains(t, c.filters, "wallbox/control/maxChargingCurrent/set")
	assert.Contains(t, c.filters, "wallbox/info/name/set")
	assert.NotContains(t, c.filters, "wallbox/info/status/set")
}

func TestHandleSet(t *testing.T) {
	var got []store.Change
	states := &mockStates{
		SetStateFunc: func(ctx context.Context, path string, value any, ack bool) error {
			got = append(got, store.Change{Path: path, Value: value, Ack: ack, RequestID: store.RequestID(ctx)})
			return nil
		},
	}
	c := &fakeClient{}
	m := newMirror("wallbox", c, states, zap.NewNop())
	m.onConnect()

	c.handler(nil, &fakeMessage{topic: "wallbox/control/maxChargingCurrent/set", payload: []byte("16")})
	c.handler(nil, &fakeMessage{topic: "wallbox/control/pause/set", payload: []byte("true"), retained: true})

	require.Len(t, got, 1, "retained set messages are ignored")
	assert.Equal(t, "control.maxChargingCurrent", got[0].Path)
	assert.Equal(t, 16.0, got[0].Value)
	assert.False(t, got[0].Ack)
	assert.NotEmpty(t, got[0].RequestID)
}

func TestClose(t *testing.T) {
	c := &fakeClient{}
	m := newMirror("wallbox", c, nil, zap.NewNop())

	m.Close()
	assert.Equal(t, []published{{topic: "wallbox/availability", retained: true, payload: "offline"}}, c.Publishes())
}
