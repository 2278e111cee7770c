// Package relay drives the relay (or LED) output of the blinker profile.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Output is the part of gpio.PinOut the blinker needs.
type Output interface {
	Out(l gpio.Level) error
}

// Open returns the named GPIO as an output. An empty name returns a
// LogOutput so the profile can run without hardware.
func Open(name string) (Output, error) {
	if name == "" {
		return &LogOutput{}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %q not found", name)
	}
	return p, nil
}

// LogOutput remembers the last level instead of touching hardware.
type LogOutput struct {
	mu    sync.Mutex
	level gpio.Level
}

func (o *LogOutput) Out(l gpio.Level) error {
	o.mu.Lock()
	o.level = l
	o.mu.Unlock()
	return nil
}

func (o *LogOutput) Level() gpio.Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Blinker toggles an output with a fixed half period: on for half, off for half.
type Blinker struct {
	out    Output
	half   time.Duration
	logger *zap.Logger
}

func NewBlinker(out Output, half time.Duration, logger *zap.Logger) *Blinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blinker{out: out, half: half, logger: logger}
}

// Run starts with the output low and toggles until ctx is cancelled. The
// output is driven low again on exit.
func (b *Blinker) Run(ctx context.Context) error {
	if err := b.out.Out(gpio.Low); err != nil {
		return fmt.Errorf("relay init: %w", err)
	}
	defer func() { _ = b.out.Out(gpio.Low) }()

	for {
		if err := b.set(gpio.High); err != nil {
			return err
		}
		if !sleepCtx(ctx, b.half) {
			return nil
		}
		if err := b.set(gpio.Low); err != nil {
			return err
		}
		if !sleepCtx(ctx, b.half) {
			return nil
		}
	}
}

func (b *Blinker) set(l gpio.Level) error {
	if err := b.out.Out(l); err != nil {
		b.logger.Error("relay write failed", zap.Bool("on", bool(l)), zap.Error(err))
		return fmt.Errorf("relay write: %w", err)
	}
	if l == gpio.High {
		b.logger.Info("relay on")
	} else {
		b.logger.Info("relay off")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
