package sensor

import (
	"fmt"
	"strings"

	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
)

// Percent maps a raw sample linearly onto 0..100.
func Percent(raw, maxRaw int) float64 {
	return float64(raw) / float64(maxRaw) * 100.0
}

// NewSource builds the analog source selected by cfg.Type.
func NewSource(cfg config.SensorConfig) (Source, error) {
	switch strings.ToLower(cfg.Type) {
	case "adc":
		return NewAnalogPinSource(cfg.Pin)
	case "iio":
		return NewIIOSource(cfg.IIOPath, cfg.Channel), nil
	case "ads1115":
		return NewADS1115Source(cfg)
	case "simulation", "":
		return NewFakeSource(cfg.MaxRaw), nil
	case "sequence":
		if len(cfg.Sequence) == 0 {
			return nil, fmt.Errorf("sequence sensor needs at least one sample")
		}
		return NewSequenceSource(cfg.Sequence...), nil
	default:
		return nil, fmt.Errorf("unknown sensor type %q", cfg.Type)
	}
}
