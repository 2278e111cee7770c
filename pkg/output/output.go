package output

import "github.com/ericogr/soil-moisture-mqtt/pkg/sensor"

// Output receives every reading of the blinker profile's sensor task.
type Output interface {
	Publish(sensor.Reading) error
	Close() error
}

// session implementations for the broker live in the mqtt subpackage
