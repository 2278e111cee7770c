package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"go.uber.org/zap"
)

// SessionV5 is an MQTT 5 session. A fresh paho client is built on every
// Connect because a paho.Client cannot be reused after its connection ends.
type SessionV5 struct {
	cfg    config.MQTTConfig
	logger *zap.Logger
	dial   func(ctx context.Context, u *url.URL) (net.Conn, error)

	mu        sync.Mutex
	client    *paho.Client
	connected atomic.Bool
}

func NewSessionV5(cfg config.MQTTConfig, logger *zap.Logger) *SessionV5 {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	return &SessionV5{cfg: cfg, logger: logger, dial: dialBroker}
}

func (s *SessionV5) Connect(ctx context.Context) error {
	u, err := url.Parse(s.cfg.Server)
	if err != nil {
		return fmt.Errorf("parse mqtt server: %w", err)
	}
	conn, err := s.dial(ctx, u)
	if err != nil {
		return fmt.Errorf("mqtt dial %s: %w", s.cfg.Server, err)
	}

	c := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.connected.Store(false)
			s.logger.Warn("mqtt server disconnected", zap.Uint8("reason", d.ReasonCode))
		},
		OnClientError: func(err error) {
			s.connected.Store(false)
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		},
	})

	cp := &paho.Connect{
		KeepAlive:  uint16(s.cfg.KeepAliveSec),
		ClientID:   s.cfg.ClientID,
		CleanStart: true,
	}
	if s.cfg.Username != "" {
		cp.Username = s.cfg.Username
		cp.UsernameFlag = true
	}
	if s.cfg.Password != "" {
		cp.Password = []byte(s.cfg.Password)
		cp.PasswordFlag = true
	}

	ca, err := c.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		if ca != nil {
			return fmt.Errorf("mqtt connect %s (reason %d): %w", s.cfg.Server, ca.ReasonCode, err)
		}
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Server, err)
	}

	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
	s.connected.Store(true)
	return nil
}

func (s *SessionV5) Connected() bool { return s.connected.Load() }

func (s *SessionV5) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil || !s.Connected() {
		return ErrNotConnected
	}
	if _, err := c.Publish(ctx, &paho.Publish{Topic: topic, QoS: 0, Payload: payload}); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (s *SessionV5) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c == nil || !s.connected.Swap(false) {
		return nil
	}
	return c.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

// brokerAddress turns a broker URL into host:port, defaulting the port by scheme.
func brokerAddress(u *url.URL) (string, bool, error) {
	secure := false
	port := "1883"
	switch u.Scheme {
	case "tcp", "mqtt", "":
	case "ssl", "tls", "mqtts":
		secure = true
		port = "8883"
	default:
		return "", false, fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", false, fmt.Errorf("mqtt server %q has no host", u.String())
	}
	if p := u.Port(); p != "" {
		port = p
	}
	return net.JoinHostPort(host, port), secure, nil
}

func dialBroker(ctx context.Context, u *url.URL) (net.Conn, error) {
	addr, secure, err := brokerAddress(u)
	if err != nil {
		return nil, err
	}
	if secure {
		d := &tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
