package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio"
)

type recordingOutput struct {
	mu     sync.Mutex
	levels []gpio.Level
	stopAt int
	cancel context.CancelFunc
	err    error
}

func (r *recordingOutput) Out(l gpio.Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.levels = append(r.levels, l)
	if len(r.levels) == r.stopAt {
		r.cancel()
	}
	return nil
}

func TestBlinkerAlternates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &recordingOutput{stopAt: 5, cancel: cancel}
	b := NewBlinker(out, time.Millisecond, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blinker did not stop")
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	// initial low, then high/low pairs, then low on exit
	require.GreaterOrEqual(t, len(out.levels), 6)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High, gpio.Low}, out.levels[:5])
	assert.Equal(t, gpio.Low, out.levels[len(out.levels)-1])
}

func TestBlinkerWriteError(t *testing.T) {
	out := &recordingOutput{err: errors.New("gpio busy")}
	b := NewBlinker(out, time.Millisecond, nil)
	require.Error(t, b.Run(context.Background()))
}

func TestOpenEmptyNameIsLogOutput(t *testing.T) {
	out, err := Open("")
	require.NoError(t, err)
	lo, ok := out.(*LogOutput)
	require.True(t, ok)
	require.NoError(t, lo.Out(gpio.High))
	assert.Equal(t, gpio.High, lo.Level())
}
