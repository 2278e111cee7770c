package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/collector"
	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"github.com/ericogr/soil-moisture-mqtt/pkg/connectivity"
	"github.com/ericogr/soil-moisture-mqtt/pkg/cycle"
	"github.com/ericogr/soil-moisture-mqtt/pkg/httpserver"
	"github.com/ericogr/soil-moisture-mqtt/pkg/metrics"
	"github.com/ericogr/soil-moisture-mqtt/pkg/output"
	"github.com/ericogr/soil-moisture-mqtt/pkg/output/console"
	mqttout "github.com/ericogr/soil-moisture-mqtt/pkg/output/mqtt"
	"github.com/ericogr/soil-moisture-mqtt/pkg/relay"
	"github.com/ericogr/soil-moisture-mqtt/pkg/sensor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", zap.String("profile", cfg.Profile))
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Profile {
	case config.ProfileBlinker:
		return runBlinker(ctx, cfg, logger)
	case config.ProfileMonitor:
		return runMonitor(ctx, cfg, logger)
	case config.ProfileCollector:
		return runCollector(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown profile %q", cfg.Profile)
	}
}

func initReader(cfg config.SensorConfig) (*sensor.Reader, error) {
	src, err := sensor.NewSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("sensor: %w", err)
	}
	return sensor.NewReader(src, cfg.MaxRaw), nil
}

// runBlinker toggles the relay and prints the sensor on two independent tasks.
func runBlinker(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	out, err := relay.Open(cfg.Relay.Pin)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	reader, err := initReader(cfg.Sensor)
	if err != nil {
		return err
	}
	defer reader.Close()

	blinker := relay.NewBlinker(out, cfg.Relay.HalfPeriod(), logger.Named("relay"))
	con := console.NewConsole()
	defer con.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return blinker.Run(gctx) })
	g.Go(func() error { return printReadings(gctx, reader, con, cfg.Sensor.Period(), logger.Named("sensor")) })
	return g.Wait()
}

func printReadings(ctx context.Context, reader *sensor.Reader, out output.Output, period time.Duration, logger *zap.Logger) error {
	for {
		r, err := reader.Read()
		if err != nil {
			logger.Error("sensor read failed", zap.Error(err))
		} else if err := out.Publish(r); err != nil {
			logger.Error("output failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(period):
		}
	}
}

func newSession(cfg config.MQTTConfig, logger *zap.Logger) connectivity.Session {
	if cfg.Protocol == config.ProtocolV5 {
		return mqttout.NewSessionV5(cfg, logger)
	}
	return mqttout.NewSession(cfg, logger)
}

// runMonitor runs the publish cycle next to the connectivity supervisor.
func runMonitor(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reader, err := initReader(cfg.Sensor)
	if err != nil {
		return err
	}
	defer reader.Close()
	return monitor(ctx, cfg, reader, newSession(cfg.MQTT, logger.Named("mqtt")), logger)
}

func monitor(ctx context.Context, cfg config.Config, reader *sensor.Reader, session connectivity.Session, logger *zap.Logger) error {
	network, err := connectivity.NewNetwork(cfg.Network, logger.Named("network"))
	if err != nil {
		return err
	}
	met := metrics.New()
	mgr := connectivity.New(network, session, connectivity.Options{
		NetworkPoll: cfg.Network.Poll(),
		Retry: connectivity.RetryPolicy{
			Interval:    cfg.Retry.Interval(),
			MaxAttempts: cfg.Retry.MaxAttempts,
		},
		Logger:  logger.Named("connectivity"),
		Metrics: met,
	})
	defer mgr.Close()

	// connect once before the loops start
	if err := mgr.EnsureNetwork(ctx); err != nil {
		return nil // only fails on shutdown
	}
	if err := mgr.EnsureBrokerSession(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	c := cycle.New(reader, mgr, cfg.MQTT.Topic, cfg.PublishInterval(), logger.Named("cycle"), met)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Supervise(gctx, cfg.SupervisorInterval()) })
	g.Go(func() error { return c.Run(gctx) })
	if cfg.Metrics.Listen != "" {
		router := metrics.NewRouter(met, mgr.Status)
		g.Go(func() error { return httpserver.Serve(gctx, cfg.Metrics.Listen, router, logger.Named("http")) })
	}
	return g.Wait()
}

// runCollector stores published readings and serves them over HTTP.
func runCollector(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := collector.OpenStore(ctx, cfg.Collector.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	sub := collector.NewSubscriber(cfg.MQTT, store, logger.Named("subscriber"))
	api := collector.NewAPI(store, cfg.Collector.HistoryLimit, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sub.Run(gctx) })
	g.Go(func() error { return httpserver.Serve(gctx, cfg.Collector.Listen, api.Router(), logger.Named("http")) })
	return g.Wait()
}
