package source

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/audiolibrelab/fusecapture/internal/label"
)

// MQTTConfig describes the broker subscription feeding marker events
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// markerPayload is the JSON form of a marker message. A bare
// `[has_image, image, has_status, status]` array is accepted too.
type markerPayload struct {
	Marker    []int32 `json:"marker"`
	Timestamp float64 `json:"timestamp"`
}

// DecodeMarkerPayload parses an MQTT marker message
func DecodeMarkerPayload(payload []byte) (label.Event, error) {
	var p markerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		var bare []int32
		if errBare := json.Unmarshal(payload, &bare); errBare != nil {
			return label.Event{}, fmt.Errorf("invalid marker payload: %w", err)
		}
		p.Marker = bare
	}
	ev, err := label.DecodeMarker(p.Marker)
	if err != nil {
		return label.Event{}, err
	}
	ev.Timestamp = p.Timestamp
	return ev, nil
}

// MQTTEvents subscribes to a marker topic and queues decoded events
type MQTTEvents struct {
	cfg    MQTTConfig
	queue  *EventQueue
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	received  uint64
	rejected  uint64
}

func NewMQTTEvents(cfg MQTTConfig) *MQTTEvents {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fusecapture"
	}
	return &MQTTEvents{cfg: cfg, queue: NewEventQueue()}
}

// Connect establishes the broker connection and subscribes. The
// subscription is restored by the OnConnect handler after reconnects.
func (m *MQTTEvents) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.mu.Lock()
		m.connected = true
		m.mu.Unlock()
		slog.Info("mqtt connection established", "broker", m.cfg.Broker, "topic", m.cfg.Topic)

		token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handle)
		if !token.WaitTimeout(m.cfg.Timeout) {
			slog.Error("mqtt subscribe timeout", "topic", m.cfg.Topic)
			return
		}
		if err := token.Error(); err != nil {
			slog.Error("mqtt subscribe failed", "topic", m.cfg.Topic, "error", err)
		}
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", m.cfg.Broker)
	}

	m.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", m.cfg.Broker)
	token := m.client.Connect()
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (m *MQTTEvents) handle(_ mqtt.Client, msg mqtt.Message) {
	ev, err := DecodeMarkerPayload(msg.Payload())
	if err != nil {
		m.mu.Lock()
		m.rejected++
		m.mu.Unlock()
		slog.Warn("Dropping marker message", "topic", msg.Topic(), "error", err)
		return
	}
	m.mu.Lock()
	m.received++
	m.mu.Unlock()
	slog.Debug("Marker received", "topic", msg.Topic(), "event", ev)
	m.queue.Push(ev)
}

// Push lets HTTP-injected events share the subscription's queue
func (m *MQTTEvents) Push(ev label.Event) { m.queue.Push(ev) }

func (m *MQTTEvents) TryNext() (label.Event, bool) { return m.queue.TryNext() }

func (m *MQTTEvents) FlushBacklog() { m.queue.FlushBacklog() }

// Connected reports the last known broker connection state
func (m *MQTTEvents) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Counts returns the number of accepted and rejected messages
func (m *MQTTEvents) Counts() (received, rejected uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.received, m.rejected
}

// Close unsubscribes and disconnects
func (m *MQTTEvents) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Unsubscribe(m.cfg.Topic).WaitTimeout(m.cfg.Timeout)
		m.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}
