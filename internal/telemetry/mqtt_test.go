package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
	"github.com/gatecrash-project/gatecrash/internal/util"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic string
	body  map[string]interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	json.Unmarshal(payload.([]byte), &body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, body: body})
	return doneToken{}
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func newTestHandler(connected bool) (*MQTTHandler, *fakePublisher, *events.EventBus) {
	bus := events.NewEventBus()
	pub := &fakePublisher{connected: connected}
	h := newHandler(config.MQTTConfig{Topic: "gc"}, bus, pub, util.SystemInfo{Hostname: "box"})
	h.Subscribe()
	return h, pub, bus
}

func TestDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestPublishesDetection(t *testing.T) {
	_, pub, bus := newTestHandler(true)

	msg := protocol.NewMessageFromChunks(12, protocol.DestinationServer, protocol.String("wave"))
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type: events.EventHostGesture,
		Payload: events.DetectedPayload{
			SessionID: "s1",
			Header:    12,
			Message:   msg,
			Action:    "wave",
		},
	}))

	got := pub.all()
	require.Len(t, got, 1)
	assert.Equal(t, "gc/detection", got[0].topic)
	assert.Equal(t, "box", got[0].body["hostname"])
	assert.Equal(t, string(events.EventHostGesture), got[0].body["event"])

	payload := got[0].body["payload"].(map[string]interface{})
	assert.Equal(t, "s1", payload["session_id"])
	assert.Equal(t, msg.String(), payload["packet"])
	assert.Equal(t, "server", payload["destination"])
	assert.Equal(t, "wave", payload["action"])
}

func TestPublishesSessionEvents(t *testing.T) {
	h, pub, bus := newTestHandler(true)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventConnected,
		Payload: events.ConnectedPayload{SessionID: "s1", Host: "game", Port: 1},
	}))
	h.PublishShutdown()

	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, "gc/session", got[0].topic)
	assert.Equal(t, string(events.EventConnected), got[0].body["event"])
	assert.Equal(t, "gc/admin", got[1].topic)
}

func TestSkipsWhenOffline(t *testing.T) {
	_, pub, bus := newTestHandler(false)

	require.NoError(t, bus.EmitSync(context.Background(), events.Event{Type: events.EventDisconnected}))
	assert.Empty(t, pub.all())
}
