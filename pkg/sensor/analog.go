package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// AnalogSource samples any periph.io ADC pin.
type AnalogSource struct {
	pin analog.PinADC
}

func NewAnalogSource(pin analog.PinADC) *AnalogSource { return &AnalogSource{pin: pin} }

// NewAnalogPinSource looks up a pin by name (e.g. "GPIO4") and requires it to
// be ADC capable on this host.
func NewAnalogPinSource(name string) (Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %q not found", name)
	}
	adc, ok := p.(analog.PinADC)
	if !ok {
		return nil, fmt.Errorf("pin %q has no ADC function", name)
	}
	return NewAnalogSource(adc), nil
}

func (s *AnalogSource) ReadRaw() (int, error) {
	sample, err := s.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("adc read: %w", err)
	}
	return int(sample.Raw), nil
}

func (s *AnalogSource) Close() error { return s.pin.Halt() }

const defaultIIODevice = "/sys/bus/iio/devices/iio:device0"

// IIOSource reads the Linux industrial I/O sysfs raw value of one channel.
type IIOSource struct {
	path string
}

// NewIIOSource accepts either the raw file itself or the device directory, in
// which case in_voltage<channel>_raw is used.
func NewIIOSource(path string, channel int) *IIOSource {
	if path == "" {
		path = defaultIIODevice
	}
	if !strings.HasSuffix(path, "_raw") {
		path = filepath.Join(path, fmt.Sprintf("in_voltage%d_raw", channel))
	}
	return &IIOSource{path: path}
}

var errEmptySample = errors.New("empty sample")

func (s *IIOSource) ReadRaw() (int, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("iio read: %w", err)
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return 0, fmt.Errorf("iio read %s: %w", s.path, errEmptySample)
	}
	v, err := strconv.Atoi(t)
	if err != nil {
		return 0, fmt.Errorf("iio parse %s: %w", s.path, err)
	}
	return v, nil
}

func (s *IIOSource) Close() error { return nil }
