package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/luminary/internal/config"
)

// mqttSendTimeout bounds the wait for a broker connection when sending.
const mqttSendTimeout = 5 * time.Second

// errMQTTNotStarted is returned by Send before Start has run.
var errMQTTNotStarted = errors.New("mqtt channel not started")

// MQTT publishes notifications to a broker topic. autopaho keeps the
// connection alive and reconnects in the background.
type MQTT struct {
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// NewMQTT creates an MQTT channel. Call [MQTT.Start] to connect.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{cfg: cfg, logger: logger}
}

func (m *MQTT) Name() string { return "mqtt" }

// clientConfig translates the notify settings into an autopaho config.
func (m *MQTT) clientConfig() (autopaho.ClientConfig, error) {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	cc := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		cc.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cc, nil
}

// Start begins connecting to the broker. It does not wait for the
// connection; Send does.
func (m *MQTT) Start(ctx context.Context) error {
	cc, err := m.clientConfig()
	if err != nil {
		return err
	}
	cm, err := autopaho.NewConnection(ctx, cc)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.mu.Lock()
	m.cm = cm
	m.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (m *MQTT) Stop(ctx context.Context) error {
	m.mu.Lock()
	cm := m.cm
	m.cm = nil
	m.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

type mqttPayload struct {
	Message string    `json:"message"`
	SentAt  time.Time `json:"sentAt"`
}

func (m *MQTT) Send(ctx context.Context, message string) error {
	m.mu.Lock()
	cm := m.cm
	m.mu.Unlock()
	if cm == nil {
		return errMQTTNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, mqttSendTimeout)
	defer cancel()
	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt broker unavailable: %w", err)
	}

	payload, err := json.Marshal(mqttPayload{Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.cfg.Topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}
