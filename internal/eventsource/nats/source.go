// Package nats implements the NATS event source.
package nats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"automation-engine/config"
	"automation-engine/internal/eventsource"
	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
)

const sourceName = "nats"

// Source subscribes to NATS subjects and delivers decoded events.
type Source struct {
	cfg        *config.NATSConfig
	defaultOrg string
	logger     *logger.Logger
	metrics    *metrics.Metrics

	conn      *nats.Conn
	subs      []*nats.Subscription
	connected atomic.Bool
}

// NewSource creates a NATS event source.
func NewSource(cfg *config.NATSConfig, defaultOrg string, log *logger.Logger, m *metrics.Metrics) *Source {
	return &Source{
		cfg:        cfg,
		defaultOrg: defaultOrg,
		logger:     log,
		metrics:    m,
	}
}

// Start connects to the NATS server and subscribes to every configured
// subject. Reconnects are unlimited; the client library restores
// subscriptions itself.
func (s *Source) Start(ctx context.Context, handler eventsource.Handler) error {
	if len(s.cfg.URLs) == 0 {
		return fmt.Errorf("no NATS server URLs provided")
	}

	opts := []nats.Option{
		nats.Name(s.cfg.ClientID),
		nats.ReconnectWait(time.Second * 2),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(s.handleDisconnect),
		nats.ReconnectHandler(s.handleReconnect),
		nats.ClosedHandler(s.handleClosed),
	}

	if s.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(s.cfg.Username, s.cfg.Password))
	}
	if s.cfg.TLS.Enable {
		opts = append(opts, nats.ClientCert(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile))
		if s.cfg.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(s.cfg.TLS.CAFile))
		}
	}

	s.logger.Info("connecting to NATS server", "urls", s.cfg.URLs)

	conn, err := nats.Connect(s.cfg.URLs[0], opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	s.conn = conn
	s.connected.Store(true)
	s.setConnectedMetric(true)

	for _, subject := range s.cfg.Subjects {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			s.incEventMetric()
			ev := eventsource.Decode(msg.Subject, s.defaultOrg, msg.Data, time.Now())
			handler(ctx, ev)
		})
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("connected to NATS server",
		"url", conn.ConnectedUrl(),
		"subjects", s.cfg.Subjects)
	return nil
}

// Close drains subscriptions and disconnects.
func (s *Source) Close() {
	if s.conn == nil {
		return
	}
	s.logger.Info("disconnecting from NATS server")
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.conn.Close()
	s.connected.Store(false)
	s.setConnectedMetric(false)
}

// IsConnected returns the current connection status.
func (s *Source) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected() && s.connected.Load()
}

func (s *Source) handleDisconnect(conn *nats.Conn, err error) {
	s.logger.Error("disconnected from NATS server", "error", err)
	s.connected.Store(false)
	s.setConnectedMetric(false)
}

func (s *Source) handleReconnect(conn *nats.Conn) {
	s.logger.Info("reconnected to NATS server", "url", conn.ConnectedUrl())
	s.connected.Store(true)
	s.setConnectedMetric(true)
}

func (s *Source) handleClosed(conn *nats.Conn) {
	s.logger.Warn("NATS connection closed")
	s.connected.Store(false)
	s.setConnectedMetric(false)
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
