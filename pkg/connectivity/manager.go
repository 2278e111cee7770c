// Package connectivity keeps the network link and the broker session alive.
//
// A Manager is the single owner of both links. Publishing and state checks
// are serialised behind one mutex and connect attempts behind another, so the
// supervisor loop and the publish cycle can share it from different goroutines.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrNotConnected     = errors.New("broker session not connected")
	ErrRetriesExhausted = errors.New("broker connect retries exhausted")
)

// Network is the physical/WiFi link.
type Network interface {
	Associated() bool
	Associate(ctx context.Context) error
}

// Session is a publish-capable broker session. Connect may run while another
// goroutine calls Connected or Publish.
type Session interface {
	Connect(ctx context.Context) error
	Connected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// RetryPolicy is a flat retry: the same Interval between every attempt.
// MaxAttempts 0 means retry until the context ends.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

type Options struct {
	NetworkPoll time.Duration
	Retry       RetryPolicy
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

type Manager struct {
	network Network
	session Session
	opts    Options
	logger  *zap.Logger

	// connMu serialises connect attempts; mu guards state and the session
	// calls other than Connect.
	connMu       sync.Mutex
	mu           sync.Mutex
	networkState State
	sessionState State

	sleep func(ctx context.Context, d time.Duration) bool
}

func New(network Network, session Session, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NetworkPoll <= 0 {
		opts.NetworkPoll = 500 * time.Millisecond
	}
	if opts.Retry.Interval <= 0 {
		opts.Retry.Interval = 5 * time.Second
	}
	return &Manager{
		network: network,
		session: session,
		opts:    opts,
		logger:  opts.Logger,
		sleep:   sleepCtx,
	}
}

// EnsureNetwork returns once the network is associated. It starts association
// if needed and polls at the configured interval; only ctx ends the wait.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	if m.network.Associated() {
		m.setNetwork(Connected)
		return nil
	}
	m.setNetwork(Disconnected)
	m.logger.Info("associating network")
	if err := m.network.Associate(ctx); err != nil {
		m.logger.Warn("network association failed to start", zap.Error(err))
	}
	for !m.network.Associated() {
		if !m.sleep(ctx, m.opts.NetworkPoll) {
			return ctx.Err()
		}
	}
	m.setNetwork(Connected)
	m.logger.Info("network associated")
	return nil
}

// EnsureBrokerSession returns nil immediately when the session is up.
// Otherwise it connects, waiting Retry.Interval after every failure.
func (m *Manager) EnsureBrokerSession(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.Connected() {
		return nil
	}
	for attempt := 1; ; attempt++ {
		m.opts.Metrics.ConnectAttempt()
		err := m.connect(ctx)
		if err == nil {
			m.logger.Info("broker session connected", zap.Int("attempt", attempt))
			return nil
		}
		m.opts.Metrics.ConnectFailed()
		m.logger.Error("broker connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", m.opts.Retry.Interval),
			zap.Error(err),
		)
		if m.opts.Retry.MaxAttempts > 0 && attempt >= m.opts.Retry.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if !m.sleep(ctx, m.opts.Retry.Interval) {
			return ctx.Err()
		}
	}
}

// connect runs with connMu held. mu is only taken to record the result, so
// status reads and the publish path are not stuck behind a slow dial.
func (m *Manager) connect(ctx context.Context) error {
	err := m.session.Connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.setSessionLocked(Disconnected)
		return err
	}
	m.setSessionLocked(Connected)
	return nil
}

// Pump refreshes both link states. Keep-alive traffic is handled by the MQTT
// client itself; Pump is where a silent drop becomes visible.
func (m *Manager) Pump() {
	if m.network.Associated() {
		m.setNetwork(Connected)
	} else {
		m.setNetwork(Disconnected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	up := m.session.Connected()
	if !up && m.sessionState == Connected {
		m.logger.Warn("broker session dropped")
	}
	if up {
		m.setSessionLocked(Connected)
	} else {
		m.setSessionLocked(Disconnected)
	}
}

// Connected reports whether the broker session is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	up := m.session.Connected()
	if !up {
		m.setSessionLocked(Disconnected)
	}
	return up
}

func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.Connected() {
		m.setSessionLocked(Disconnected)
		return ErrNotConnected
	}
	return m.session.Publish(ctx, topic, payload)
}

// Supervise is the main loop: keep the network and session up and pump, once
// per interval, until ctx is cancelled.
func (m *Manager) Supervise(ctx context.Context, interval time.Duration) error {
	for {
		if err := m.EnsureNetwork(ctx); err != nil {
			return ignoreCancel(ctx, err)
		}
		if err := m.EnsureBrokerSession(ctx); err != nil {
			return ignoreCancel(ctx, err)
		}
		m.Pump()
		if !m.sleep(ctx, interval) {
			return nil
		}
	}
}

func (m *Manager) NetworkState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkState
}

func (m *Manager) SessionState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionState
}

// Status is the link summary served on the health endpoint.
func (m *Manager) Status() map[string]string {
	return map[string]string{
		"network": m.NetworkState().String(),
		"broker":  m.SessionState().String(),
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setSessionLocked(Disconnected)
	return m.session.Close()
}

func (m *Manager) setNetwork(s State) {
	m.mu.Lock()
	m.networkState = s
	m.mu.Unlock()
	m.opts.Metrics.SetNetworkUp(s == Connected)
}

func (m *Manager) setSessionLocked(s State) {
	m.sessionState = s
	m.opts.Metrics.SetSessionUp(s == Connected)
}

// ignoreCancel drops errors caused by shutdown.
func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
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
