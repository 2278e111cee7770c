// Package mqtt implements broker sessions for the connectivity manager:
// MQTT 3.1.1 on paho.mqtt.golang and MQTT 5 on paho.golang.
//
// Both sessions leave reconnection to the caller. The connectivity manager
// owns the retry policy, so the clients' own auto-reconnect stays off.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"go.uber.org/zap"
)

const (
	DefaultServer   = "tcp://test.mosquitto.org:1883"
	DefaultClientID = "ESP32Client"

	connectTimeout = 10 * time.Second
	disconnectMs   = 250
)

var ErrNotConnected = errors.New("mqtt session not connected")

// Session is an MQTT 3.1.1 session.
type Session struct {
	client mqtt.Client
	server string
	logger *zap.Logger
}

func NewSession(cfg config.MQTTConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{server: cfg.Server, logger: logger}
	s.client = mqtt.NewClient(s.clientOptions(cfg))
	return s
}

func (s *Session) clientOptions(cfg config.MQTTConfig) *mqtt.ClientOptions {
	server := cfg.Server
	if server == "" {
		server = DefaultServer
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(server).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout)
	if cfg.KeepAliveSec > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAliveSec) * time.Second)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.String("server", server), zap.Error(err))
	})
	return opts
}

func (s *Session) Connect(ctx context.Context) error {
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.server, err)
	}
	return nil
}

func (s *Session) Connected() bool { return s.client.IsConnectionOpen() }

// Publish sends payload with QoS 0, not retained.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return waitToken(ctx, s.client.Publish(topic, 0, false, payload))
}

func (s *Session) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(disconnectMs)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
