package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// ADS1115Source reads one single-ended channel of an ADS1115 over I2C and
// reports it on the 12-bit scale used by the humidity conversion.
type ADS1115Source struct {
	dev        *i2c.Dev
	bus        i2c.BusCloser
	channel    int
	sampleRate int
}

func NewADS1115Source(cfg config.SensorConfig) (Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	dev := &i2c.Dev{Addr: uint16(cfg.I2CAddress), Bus: bus}
	return &ADS1115Source{dev: dev, bus: bus, channel: cfg.Channel, sampleRate: cfg.SampleRate}, nil
}

func (s *ADS1115Source) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

func (s *ADS1115Source) ReadRaw() (int, error) {
	msb, lsb, err := s.configForChannel(s.channel, s.sampleRate)
	if err != nil {
		return 0, err
	}
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	// wait for the single-shot conversion
	time.Sleep(conversionDelay(s.sampleRate))
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	return to12Bit(int16(readBuf[0])<<8 | int16(readBuf[1])), nil
}

// to12Bit drops the sign and the three lowest bits of a conversion result.
// Single-ended inputs never go meaningfully negative; noise below ground reads 0.
func to12Bit(raw int16) int {
	if raw < 0 {
		return 0
	}
	return int(raw) >> 3
}

func conversionDelay(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	return time.Duration(int(1000.0/float64(sampleRate))+2) * time.Millisecond
}

// data rate field (bits 7:5) by samples per second
var dataRates = map[int]byte{8: 0x0, 16: 0x1, 32: 0x2, 64: 0x3, 128: 0x4, 250: 0x5, 475: 0x6, 860: 0x7}

// configForChannel builds the config register for a single-shot, single-ended
// conversion of AIN<channel> against GND at ±4.096V full scale.
func (s *ADS1115Source) configForChannel(channel, sampleRate int) (byte, byte, error) {
	if channel < 0 || channel > 3 {
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	dr, ok := dataRates[sampleRate]
	if !ok {
		dr = dataRates[128]
	}
	reg := uint16(0x8000)            // OS: start a conversion
	reg |= uint16(0x4+channel) << 12 // MUX: AINx vs GND
	reg |= uint16(0x1) << 9          // PGA: ±4.096V
	reg |= 1 << 8                    // MODE: single-shot
	reg |= uint16(dr) << 5           // DR
	reg |= 0x3                       // COMP_QUE: comparator off
	return byte(reg >> 8), byte(reg), nil
}
