// Package cycle runs the periodic read-and-publish loop of the monitor profile.
package cycle

import (
	"context"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/metrics"
	"github.com/ericogr/soil-moisture-mqtt/pkg/sensor"
	"go.uber.org/zap"
)

type Reader interface {
	Read() (sensor.Reading, error)
}

// Broker is the part of the connectivity manager the cycle drives.
type Broker interface {
	Connected() bool
	EnsureBrokerSession(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Cycle struct {
	reader  Reader
	broker  Broker
	topic   string
	period  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(reader Reader, broker Broker, topic string, period time.Duration, logger *zap.Logger, m *metrics.Metrics) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{reader: reader, broker: broker, topic: topic, period: period, logger: logger, metrics: m}
}

// Run ticks once per period until ctx is cancelled.
func (c *Cycle) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick takes one reading and publishes it when the session is up. A failed
// publish is logged and dropped. When the session is down nothing is
// published; the tick blocks in EnsureBrokerSession instead.
func (c *Cycle) Tick(ctx context.Context) {
	reading, err := c.reader.Read()
	if err != nil {
		c.metrics.ReadFailed()
		c.logger.Error("sensor read failed", zap.Error(err))
	} else {
		c.metrics.ObserveReading(reading.Humidity)
		c.logger.Debug("sensor reading", zap.Int("raw", reading.Raw), zap.Float64("humidity", reading.Humidity))
	}

	if !c.broker.Connected() {
		c.logger.Warn("broker session down, reconnecting before next reading")
		if err := c.broker.EnsureBrokerSession(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("broker reconnect gave up", zap.Error(err))
		}
		return
	}
	if err != nil {
		return
	}

	payload, err := FormatPayload(reading.Humidity)
	if err != nil {
		c.metrics.PublishFailed()
		c.logger.Error("payload rejected", zap.Float64("humidity", reading.Humidity), zap.Error(err))
		return
	}
	if err := c.broker.Publish(ctx, c.topic, payload); err != nil {
		c.metrics.PublishFailed()
		c.logger.Warn("publish failed, reading dropped",
			zap.String("topic", c.topic),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return
	}
	c.metrics.Published()
	c.logger.Info("published", zap.String("topic", c.topic), zap.ByteString("payload", payload))
}
