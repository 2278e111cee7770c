// Package metrics exposes the monitor's counters on a private Prometheus
// registry. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	readings        prometheus.Counter
	readFailures    prometheus.Counter
	published       prometheus.Counter
	publishFailures prometheus.Counter
	connectAttempts prometheus.Counter
	connectFailures prometheus.Counter
	sessionUp       prometheus.Gauge
	networkUp       prometheus.Gauge
	humidity        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soil_readings_total",
			Help: "Sensor samples taken.",
		}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soil_read_failures_total",
			Help: "Sensor samples that could not be read.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soil_publish_total",
			Help: "Humidity payloads accepted by the broker client.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soil_publish_failures_total",
			Help: "Humidity payloads dropped after a failed publish.",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soil_broker_connect_attempts_total",
			Help: "Broker session connect attempts.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soil_broker_connect_failures_total",
			Help: "Broker session connect attempts that failed.",
		}),
		sessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soil_broker_session_up",
			Help: "1 while the broker session is connected.",
		}),
		networkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soil_network_up",
			Help: "1 while the network link is associated.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soil_humidity_percent",
			Help: "Last humidity reading.",
		}),
	}
	m.registry.MustRegister(
		m.readings, m.readFailures,
		m.published, m.publishFailures,
		m.connectAttempts, m.connectFailures,
		m.sessionUp, m.networkUp, m.humidity,
	)
	return m
}

func (m *Metrics) ObserveReading(humidity float64) {
	if m == nil {
		return
	}
	m.readings.Inc()
	m.humidity.Set(humidity)
}

func (m *Metrics) ReadFailed() {
	if m == nil {
		return
	}
	m.readFailures.Inc()
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

func (m *Metrics) SetSessionUp(up bool) {
	if m == nil {
		return
	}
	m.sessionUp.Set(boolToFloat(up))
}

func (m *Metrics) SetNetworkUp(up bool) {
	if m == nil {
		return
	}
	m.networkUp.Set(boolToFloat(up))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
