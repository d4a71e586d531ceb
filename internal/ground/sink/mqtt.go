package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tm2space/tm2-manha-firmware/internal/command"
	"github.com/tm2space/tm2-manha-firmware/internal/config"
)

// newPahoClient is swapped for a fake in tests.
var newPahoClient = mqtt.NewClient

// MQTT publishes telemetry envelopes to the operator-facing broker and
// subscribes to the command topic, which is the uplink entry point for the
// dashboard and other operator tooling.
type MQTT struct {
	client mqtt.Client
	cfg    config.MQTT
	logger *slog.Logger

	mu         sync.RWMutex
	connected  bool
	cmdHandler func(command.Command)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTT builds the client; Connect establishes the session.
func NewMQTT(cfg config.MQTT, logger *slog.Logger) *MQTT {
	m := &MQTT{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Callbacks keep internal state accurate. The command subscription is
	// (re)established here so it survives reconnects and brokers that only
	// come up after startup.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		m.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
		m.resubscribe()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	m.client = newPahoClient(opts)
	return m
}

// Connect establishes the connection to the MQTT broker. It waits for the
// initial connection and respects ctx and Close(). Returning on ctx does not
// tear the client down: paho's connect retry keeps working in the background
// and the connect callback finishes the wiring whenever the broker appears.
func (m *MQTT) Connect(ctx context.Context) error {
	select {
	case <-m.stopCh:
		return fmt.Errorf("mqtt client stopped")
	default:
	}

	if m.IsConnected() {
		return nil
	}

	token := m.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler sets connected=true.
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return fmt.Errorf("mqtt client stopped")
		default:
		}
	}
}

func (m *MQTT) Name() string { return "mqtt" }

// Publish sends one telemetry envelope to the telemetry topic.
func (m *MQTT) Publish(env Envelope) error {
	if !m.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	token := m.client.Publish(m.cfg.TelemetryTopic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", m.cfg.TelemetryTopic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish telemetry: %w", token.Error())
	}

	m.logger.Debug("published telemetry", "topic", m.cfg.TelemetryTopic, "ts", env.Record.Timestamp)
	return nil
}

// SubscribeCommands registers handler for operator commands arriving on the
// command topic. Invalid payloads are logged and dropped; the handler runs
// on paho's delivery goroutine, so it must only queue work. Registration
// sticks: if the broker is not up yet, the subscription is established by
// the connect callback once it is.
func (m *MQTT) SubscribeCommands(handler func(command.Command)) error {
	m.mu.Lock()
	m.cmdHandler = handler
	m.mu.Unlock()

	if !m.IsConnected() {
		return nil
	}
	return m.subscribe(handler)
}

// resubscribe runs on the connect callback with whatever handler is
// registered at that point.
func (m *MQTT) resubscribe() {
	m.mu.RLock()
	handler := m.cmdHandler
	m.mu.RUnlock()
	if handler == nil {
		return
	}
	if err := m.subscribe(handler); err != nil {
		m.logger.Warn("command subscription failed", "error", err)
	}
}

func (m *MQTT) subscribe(handler func(command.Command)) error {
	messageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		cmd, err := command.Unmarshal(msg.Payload())
		if err != nil {
			m.logger.Warn("ignoring invalid operator command",
				"topic", msg.Topic(),
				"error", err,
				"payload", string(msg.Payload()),
			)
			return
		}
		handler(cmd)
	}

	token := m.client.Subscribe(m.cfg.CommandTopic, 1, messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", m.cfg.CommandTopic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", m.cfg.CommandTopic, token.Error())
	}

	m.logger.Info("subscribed to command topic", "topic", m.cfg.CommandTopic)
	return nil
}

// IsConnected returns whether the client is connected.
func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected && m.client.IsConnected()
}

// Close stops the client and closes the MQTT connection. Idempotent.
func (m *MQTT) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	if m.client != nil && m.IsConnected() {
		token := m.client.Unsubscribe(m.cfg.CommandTopic)
		token.WaitTimeout(2 * time.Second)
	}
	if m.client != nil {
		m.client.Disconnect(250)
	}

	m.setConnected(false)
	m.logger.Info("mqtt disconnected")
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}
