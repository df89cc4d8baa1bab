// Package telemetry publishes session and detection events to an MQTT
// broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/util"
)

var ErrDisabled = errors.New("MQTT is disabled")

// Topic suffixes under the configured prefix.
const (
	TopicSession   = "session"
	TopicDetection = "detection"
	TopicHeaders   = "headers"
	TopicAdmin     = "admin"
)

// Publisher is the subset of mqtt.Client used for publishing.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to the broker as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   Publisher

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for the configured broker.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := newHandler(cfg, eventBus, nil, sysInfo)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("gatecrash-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, client Publisher, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
			"arch":     sysInfo.Architecture,
		},
	}
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	client, ok := h.client.(mqtt.Client)
	if !ok {
		return fmt.Errorf("MQTT client not configured")
	}

	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe()

	<-ctx.Done()

	h.PublishShutdown()
	client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// Subscribe registers the bus handlers that publish to the broker.
func (h *MQTTHandler) Subscribe() {
	h.eventBus.Subscribe(events.EventConnected, "mqtt.connected", h.onSession)
	h.eventBus.Subscribe(events.EventDisconnected, "mqtt.disconnected", h.onSession)
	h.eventBus.Subscribe(events.EventHeaderLearned, "mqtt.headerLearned", h.onHeaderLearned)
	for _, t := range events.DetectionTypes {
		h.eventBus.Subscribe(t, "mqtt.detection", h.onDetection)
	}
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.Topic == "" {
		return suffix
	}
	return h.cfg.Topic + "/" + suffix
}

// publish sends a JSON message to an MQTT topic without waiting for the ack.
func (h *MQTTHandler) publish(topic string, event string, payload interface{}) {
	if h.client == nil || !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(event, payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(event string, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = event
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onSession(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicSession), string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onHeaderLearned(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicHeaders), string(event.Type), event.Payload)
	return nil
}

// onDetection runs inside the relay's EmitSync, so the message is rendered
// before returning.
func (h *MQTTHandler) onDetection(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.DetectedPayload)
	if !ok {
		return nil
	}

	body := map[string]interface{}{
		"session_id": p.SessionID,
		"header":     p.Header,
	}
	if p.Message != nil {
		body["packet"] = p.Message.String()
		body["destination"] = p.Message.Destination()
	}
	if p.Action != "" {
		body["action"] = p.Action
	}
	h.publish(h.topic(TopicDetection), string(event.Type), body)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(TopicAdmin), string(events.EventShutdown), nil)
}
