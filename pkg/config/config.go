package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProfileBlinker   = "blinker"
	ProfileMonitor   = "monitor"
	ProfileCollector = "collector"

	ProtocolV311 = "3.1.1"
	ProtocolV5   = "5"
)

type SensorConfig struct {
	Type       string `json:"type" yaml:"type"`
	Pin        string `json:"pin,omitempty" yaml:"pin,omitempty"`
	IIOPath    string `json:"iio_path,omitempty" yaml:"iio_path,omitempty"`
	I2CBus     string `json:"i2c_bus,omitempty" yaml:"i2c_bus,omitempty"`
	I2CAddress int    `json:"i2c_address,omitempty" yaml:"i2c_address,omitempty"`
	Channel    int    `json:"channel" yaml:"channel"`
	SampleRate int    `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	MaxRaw     int    `json:"max_raw" yaml:"max_raw"`
	Sequence   []int  `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	PeriodMs   int    `json:"period_ms" yaml:"period_ms"`
}

type RelayConfig struct {
	Pin          string `json:"pin" yaml:"pin"`
	HalfPeriodMs int    `json:"half_period_ms" yaml:"half_period_ms"`
}

type NetworkConfig struct {
	Interface        string `json:"interface,omitempty" yaml:"interface,omitempty"`
	SSID             string `json:"ssid" yaml:"ssid"`
	Password         string `json:"password" yaml:"password"`
	AssociateCommand string `json:"associate_command,omitempty" yaml:"associate_command,omitempty"`
	PollMs           int    `json:"poll_ms" yaml:"poll_ms"`
}

type MQTTConfig struct {
	Server       string `json:"server" yaml:"server"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	Topic        string `json:"topic" yaml:"topic"`
	Protocol     string `json:"protocol" yaml:"protocol"`
	KeepAliveSec int    `json:"keep_alive_sec" yaml:"keep_alive_sec"`
}

// RetryConfig controls the broker reconnect loop. MaxAttempts 0 retries forever.
type RetryConfig struct {
	IntervalMs  int `json:"interval_ms" yaml:"interval_ms"`
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

type MetricsConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

type CollectorConfig struct {
	Database     string `json:"database" yaml:"database"`
	Listen       string `json:"listen" yaml:"listen"`
	HistoryLimit int    `json:"history_limit" yaml:"history_limit"`
}

type Config struct {
	Profile           string          `json:"profile" yaml:"profile"`
	LogLevel          string          `json:"log_level" yaml:"log_level"`
	Sensor            SensorConfig    `json:"sensor" yaml:"sensor"`
	Relay             RelayConfig     `json:"relay" yaml:"relay"`
	Network           NetworkConfig   `json:"network" yaml:"network"`
	MQTT              MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Retry             RetryConfig     `json:"retry" yaml:"retry"`
	PublishIntervalMs int             `json:"publish_interval_ms" yaml:"publish_interval_ms"`
	SupervisorMs      int             `json:"supervisor_ms" yaml:"supervisor_ms"`
	Metrics           MetricsConfig   `json:"metrics" yaml:"metrics"`
	Collector         CollectorConfig `json:"collector" yaml:"collector"`
}

// DefaultConfig mirrors the constants the device firmware was built with.
func DefaultConfig() Config {
	return Config{
		Profile:  ProfileMonitor,
		LogLevel: "info",
		Sensor: SensorConfig{
			Type:       "simulation",
			Pin:        "GPIO4",
			I2CBus:     "1",
			I2CAddress: 0x48,
			Channel:    0,
			SampleRate: 128,
			MaxRaw:     4095,
			PeriodMs:   5000,
		},
		Relay: RelayConfig{Pin: "GPIO2", HalfPeriodMs: 2500},
		Network: NetworkConfig{
			SSID:     "YOUR_SSID",
			Password: "YOUR_PASSWORD",
			PollMs:   500,
		},
		MQTT: MQTTConfig{
			Server:       "tcp://test.mosquitto.org:1883",
			ClientID:     "ESP32Client",
			Topic:        "esp32/humidity/project_se_lucas",
			Protocol:     ProtocolV311,
			KeepAliveSec: 15,
		},
		Retry:             RetryConfig{IntervalMs: 5000},
		PublishIntervalMs: 2000,
		SupervisorMs:      100,
		Collector: CollectorConfig{
			Database:     "humidity.db",
			Listen:       ":5000",
			HistoryLimit: 100,
		},
	}
}

func (c Config) PublishInterval() time.Duration    { return ms(c.PublishIntervalMs) }
func (c Config) SupervisorInterval() time.Duration { return ms(c.SupervisorMs) }
func (c RetryConfig) Interval() time.Duration      { return ms(c.IntervalMs) }
func (c NetworkConfig) Poll() time.Duration        { return ms(c.PollMs) }
func (c SensorConfig) Period() time.Duration       { return ms(c.PeriodMs) }
func (c RelayConfig) HalfPeriod() time.Duration    { return ms(c.HalfPeriodMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LoadFromFlags loads configuration from the process command line.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load reads a JSON or YAML file (optional, -config) and then applies flags.
// Flags override values present in the file.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("soil-moisture-mqtt", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagProfile := fs.String("profile", "", "profile: blinker|monitor|collector")
	flagLogLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	flagSensorType := fs.String("sensor-type", "", "sensor type: adc|iio|ads1115|simulation|sequence")
	flagSensorPin := fs.String("sensor-pin", "", "analog pin name (adc sensor)")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic")
	flagProtocol := fs.String("mqtt-protocol", "", "MQTT protocol version: 3.1.1|5")
	flagInterval := fs.Int("publish-interval-ms", -1, "Publish interval in ms")
	flagRetryInterval := fs.Int("retry-interval-ms", -1, "Broker reconnect interval in ms")
	flagRetryMax := fs.Int("retry-max-attempts", -1, "Broker reconnect attempts (0 = forever)")
	flagMetrics := fs.String("metrics-listen", "", "Metrics HTTP listen address (e.g. :9100)")
	flagCollectorDB := fs.String("collector-db", "", "Collector SQLite database path")
	flagCollectorListen := fs.String("collector-listen", "", "Collector API listen address")

	cfg := DefaultConfig()
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	setString(&cfg.Profile, *flagProfile)
	setString(&cfg.LogLevel, *flagLogLevel)
	setString(&cfg.Sensor.Type, *flagSensorType)
	setString(&cfg.Sensor.Pin, *flagSensorPin)
	setString(&cfg.Sensor.I2CBus, *flagI2CBus)
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.Sensor.I2CAddress = v
	}
	setString(&cfg.MQTT.Server, *flagMQTTServer)
	setString(&cfg.MQTT.Username, *flagMQTTUser)
	setString(&cfg.MQTT.Password, *flagMQTTPass)
	setString(&cfg.MQTT.ClientID, *flagClientID)
	setString(&cfg.MQTT.Topic, *flagTopic)
	setString(&cfg.MQTT.Protocol, *flagProtocol)
	if *flagInterval != -1 {
		cfg.PublishIntervalMs = *flagInterval
	}
	if *flagRetryInterval != -1 {
		cfg.Retry.IntervalMs = *flagRetryInterval
	}
	if *flagRetryMax != -1 {
		cfg.Retry.MaxAttempts = *flagRetryMax
	}
	setString(&cfg.Metrics.Listen, *flagMetrics)
	setString(&cfg.Collector.Database, *flagCollectorDB)
	setString(&cfg.Collector.Listen, *flagCollectorListen)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the values the profiles cannot run without.
func (c Config) Validate() error {
	switch c.Profile {
	case ProfileBlinker, ProfileMonitor, ProfileCollector:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	switch c.MQTT.Protocol {
	case ProtocolV311, ProtocolV5:
	default:
		return fmt.Errorf("unknown mqtt protocol %q (valid: 3.1.1, 5)", c.MQTT.Protocol)
	}
	if c.Sensor.MaxRaw <= 0 {
		return errors.New("sensor max_raw must be > 0")
	}
	if c.PublishIntervalMs <= 0 {
		return errors.New("publish-interval-ms must be > 0")
	}
	if c.Retry.IntervalMs <= 0 {
		return errors.New("retry-interval-ms must be > 0")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry-max-attempts must be >= 0")
	}
	if c.Network.PollMs <= 0 {
		return errors.New("network poll_ms must be > 0")
	}
	// the wire field is 16 bits
	if c.MQTT.KeepAliveSec < 0 || c.MQTT.KeepAliveSec > math.MaxUint16 {
		return fmt.Errorf("mqtt keep_alive_sec %d out of range 0..65535", c.MQTT.KeepAliveSec)
	}
	if c.MQTT.Server == "" || c.MQTT.Topic == "" {
		return errors.New("mqtt server and topic are required")
	}
	if c.Profile == ProfileBlinker && (c.Sensor.PeriodMs <= 0 || c.Relay.HalfPeriodMs <= 0) {
		return errors.New("sensor period_ms and relay half_period_ms must be > 0")
	}
	if c.Profile == ProfileMonitor && c.SupervisorMs <= 0 {
		return errors.New("supervisor_ms must be > 0")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}
