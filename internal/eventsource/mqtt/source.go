// Package mqtt implements the MQTT event source.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"automation-engine/config"
	"automation-engine/internal/eventsource"
	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
)

const sourceName = "mqtt"

// Source subscribes to MQTT topics and delivers decoded events. The paho
// client auto-reconnects; subscriptions are restored in the OnConnect
// handler since MQTT sessions do not survive a clean reconnect.
type Source struct {
	cfg        *config.MQTTConfig
	defaultOrg string
	logger     *logger.Logger
	metrics    *metrics.Metrics

	client    mqtt.Client
	handler   eventsource.Handler
	ctx       context.Context
	connected atomic.Bool
}

// NewSource creates an MQTT event source.
func NewSource(cfg *config.MQTTConfig, defaultOrg string, log *logger.Logger, m *metrics.Metrics) *Source {
	return &Source{
		cfg:        cfg,
		defaultOrg: defaultOrg,
		logger:     log,
		metrics:    m,
	}
}

// Start connects to the MQTT broker and subscribes to every configured
// topic.
func (s *Source) Start(ctx context.Context, handler eventsource.Handler) error {
	s.ctx = ctx
	s.handler = handler

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)

	opts.OnConnect = s.handleConnect
	opts.OnConnectionLost = s.handleDisconnect
	opts.OnReconnecting = s.handleReconnecting

	if s.cfg.TLS.Enable {
		tlsConfig, err := newTLSConfig(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile, s.cfg.TLS.CAFile)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to broker: %w", token.Error())
	}
	return nil
}

// Close disconnects from the MQTT broker.
func (s *Source) Close() {
	if s.client == nil {
		return
	}
	s.logger.Info("disconnecting from mqtt broker")
	s.client.Disconnect(250)
	s.connected.Store(false)
	s.setConnectedMetric(false)
}

// IsConnected returns the current connection status.
func (s *Source) IsConnected() bool {
	return s.connected.Load()
}

// handleConnect resubscribes to every topic after connect and reconnect.
func (s *Source) handleConnect(client mqtt.Client) {
	s.logger.Info("mqtt client connected", "broker", s.cfg.Broker)
	s.connected.Store(true)
	s.setConnectedMetric(true)

	for _, topic := range s.cfg.Topics {
		topic := topic
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			s.incEventMetric()
			ev := eventsource.Decode(msg.Topic(), s.defaultOrg, msg.Payload(), time.Now())
			s.handler(s.ctx, ev)
		})
		if token.Wait() && token.Error() != nil {
			s.logger.Error("failed to subscribe to topic",
				"topic", topic,
				"error", token.Error())
			continue
		}
		s.logger.Debug("subscribed to topic", "topic", topic)
	}
}

func (s *Source) handleDisconnect(client mqtt.Client, err error) {
	s.logger.Error("mqtt connection lost", "error", err)
	s.connected.Store(false)
	s.setConnectedMetric(false)
}

func (s *Source) handleReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	s.logger.Info("mqtt client reconnecting", "broker", s.cfg.Broker)
}

func (s *Source) setConnectedMetric(up bool) {
	if s.metrics != nil {
		s.metrics.SetSourceConnected(sourceName, up)
	}
}

func (s *Source) incEventMetric() {
	if s.metrics != nil {
		s.metrics.IncSourceEvents(sourceName)
	}
}

// newTLSConfig builds mutual-TLS client configuration from PEM files.
func newTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
