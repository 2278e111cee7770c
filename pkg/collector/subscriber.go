package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNoHumidity = errors.New("message has no humidity field")

type humidityMessage struct {
	Humidity *float64 `json:"humidity"`
}

// Decode extracts the humidity value of a device payload.
func Decode(payload []byte) (float64, error) {
	var m humidityMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return 0, fmt.Errorf("decode payload: %w", err)
	}
	if m.Humidity == nil {
		return 0, ErrNoHumidity
	}
	return *m.Humidity, nil
}

// Inserter is the write side of the store.
type Inserter interface {
	Insert(ctx context.Context, value float64, ts time.Time) (int64, error)
}

// Subscriber stores every humidity message received on the topic.
type Subscriber struct {
	client mqtt.Client
	topic  string
	store  Inserter
	logger *zap.Logger
	now    func() time.Time
}

func NewSubscriber(cfg config.MQTTConfig, store Inserter, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{topic: cfg.Topic, store: store, logger: logger, now: time.Now}

	// the device owns the configured client id; the collector needs its own
	clientID := "humidity-collector-" + uuid.NewString()[:8]
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("collector connected", zap.String("server", cfg.Server))
		token := c.Subscribe(s.topic, 0, s.handleMessage)
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Error("subscribe failed", zap.String("topic", s.topic), zap.Error(err))
				return
			}
			logger.Info("subscribed", zap.String("topic", s.topic))
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("collector connection lost", zap.Error(err))
	})
	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects and keeps the subscription until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("collector connect: %w", err)
		}
	case <-ctx.Done():
	}
	<-ctx.Done()
	s.client.Disconnect(250)
	return nil
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.Handle(context.Background(), msg.Topic(), msg.Payload())
}

// Handle stores one message. Invalid payloads are logged and skipped.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) {
	value, err := Decode(payload)
	if err != nil {
		s.logger.Warn("ignoring message", zap.String("topic", topic), zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	id, err := s.store.Insert(ctx, value, s.now())
	if err != nil {
		s.logger.Error("store reading failed", zap.Float64("humidity", value), zap.Error(err))
		return
	}
	s.logger.Info("reading stored", zap.Int64("id", id), zap.Float64("humidity", value))
}
