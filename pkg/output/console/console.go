package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/output"
	"github.com/ericogr/soil-moisture-mqtt/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(r sensor.Reading) error {
	_, err := fmt.Fprintf(c.writer(), "%s raw=%d humidity=%.1f\n", r.Timestamp.Format(time.RFC3339), r.Raw, r.Humidity)
	return err
}

func (c *ConsoleOutput) writer() io.Writer {
	if c.w == nil {
		return os.Stdout
	}
	return c.w
}

func (c *ConsoleOutput) Close() error { return nil }
