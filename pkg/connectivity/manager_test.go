package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	mu        sync.Mutex
	connected bool
	failures  int // connect attempts that fail before one succeeds
	connects  int
	published [][]byte
	pubErr    error
	closed    bool
}

func (f *fakeSession) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.failures {
		return errors.New("connection refused")
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeSession) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

// slowSession blocks in Connect until release is closed.
type slowSession struct {
	fakeSession
	entered chan struct{}
	release chan struct{}
}

func (s *slowSession) Connect(ctx context.Context) error {
	close(s.entered)
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeSession.Connect(ctx)
}

type fakeNetwork struct {
	mu         sync.Mutex
	upAfter    int // Associated() calls returning false before true
	calls      int
	associates int
}

func (n *fakeNetwork) Associated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.calls > n.upAfter
}

func (n *fakeNetwork) Associate(_ context.Context) error {
	n.mu.Lock()
	n.associates++
	n.mu.Unlock()
	return nil
}

// sleepRecorder replaces the manager's sleep and records requested durations.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err() == nil
}

func newTestManager(t *testing.T, n Network, s Session, retry RetryPolicy) (*Manager, *sleepRecorder, *metrics.Metrics) {
	t.Helper()
	met := metrics.New()
	m := New(n, s, Options{
		NetworkPoll: 500 * time.Millisecond,
		Retry:       retry,
		Logger:      zaptest.NewLogger(t),
		Metrics:     met,
	})
	rec := &sleepRecorder{}
	m.sleep = rec.sleep
	return m, rec, met
}

func TestEnsureBrokerSessionRetriesAtFixedInterval(t *testing.T) {
	sess := &fakeSession{failures: 3}
	m, rec, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: 5 * time.Second})

	require.NoError(t, m.EnsureBrokerSession(context.Background()))
	assert.Equal(t, 4, sess.connects)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, rec.slept)
	assert.Equal(t, Connected, m.SessionState())
}

func TestEnsureBrokerSessionIsIdempotentWhenConnected(t *testing.T) {
	sess := &fakeSession{}
	m, rec, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: time.Second})

	for i := 0; i < 5; i++ {
		require.NoError(t, m.EnsureBrokerSession(context.Background()))
	}
	assert.Equal(t, 1, sess.connects)
	assert.Empty(t, rec.slept)
}

func TestEnsureBrokerSessionMaxAttempts(t *testing.T) {
	sess := &fakeSession{failures: 100}
	m, rec, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: time.Second, MaxAttempts: 3})

	err := m.EnsureBrokerSession(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, sess.connects)
	// no sleep after the final attempt
	assert.Len(t, rec.slept, 2)
	assert.Equal(t, Disconnected, m.SessionState())
}

func TestEnsureBrokerSessionStopsOnCancel(t *testing.T) {
	sess := &fakeSession{failures: 100}
	m := New(StaticNetwork{}, sess, Options{Retry: RetryPolicy{Interval: time.Hour}, Logger: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.EnsureBrokerSession(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureBrokerSession did not return after cancel")
	}
}

func TestEnsureNetworkPolls(t *testing.T) {
	nw := &fakeNetwork{upAfter: 4}
	m, rec, _ := newTestManager(t, nw, &fakeSession{}, RetryPolicy{})

	require.NoError(t, m.EnsureNetwork(context.Background()))
	assert.Equal(t, 1, nw.associates)
	// first check, then three polls before the fifth call reports up
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}, rec.slept)
	assert.Equal(t, Connected, m.NetworkState())

	// already associated: no new association
	require.NoError(t, m.EnsureNetwork(context.Background()))
	assert.Equal(t, 1, nw.associates)
}

func TestPumpDetectsDrop(t *testing.T) {
	sess := &fakeSession{}
	m, _, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: time.Second})

	assert.Equal(t, Disconnected, m.SessionState())
	require.NoError(t, m.EnsureBrokerSession(context.Background()))
	m.Pump()
	assert.Equal(t, Connected, m.SessionState())

	sess.drop()
	m.Pump()
	assert.Equal(t, Disconnected, m.SessionState())
	assert.Equal(t, map[string]string{"network": "connected", "broker": "disconnected"}, m.Status())
}

func TestPublishWhenDisconnected(t *testing.T) {
	sess := &fakeSession{}
	m, _, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: time.Second})

	err := m.Publish(context.Background(), "t", []byte("x"))
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.EnsureBrokerSession(context.Background()))
	require.NoError(t, m.Publish(context.Background(), "t", []byte("x")))
	assert.Len(t, sess.published, 1)

	require.NoError(t, m.Close())
	assert.True(t, sess.closed)
}

func TestSuperviseReconnectsAfterDrop(t *testing.T) {
	sess := &fakeSession{}
	m, _, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	passes := 0
	m.sleep = func(ctx context.Context, _ time.Duration) bool {
		passes++
		switch passes {
		case 1:
			sess.drop()
		case 3:
			cancel()
		}
		return ctx.Err() == nil
	}

	require.NoError(t, m.Supervise(ctx, time.Millisecond))
	assert.Equal(t, 2, sess.connects)
	assert.Equal(t, Connected, m.SessionState())
}

func TestSlowConnectDoesNotBlockReaders(t *testing.T) {
	sess := &slowSession{entered: make(chan struct{}), release: make(chan struct{})}
	m, _, _ := newTestManager(t, StaticNetwork{}, sess, RetryPolicy{Interval: time.Second})

	done := make(chan error, 1)
	go func() { done <- m.EnsureBrokerSession(context.Background()) }()
	<-sess.entered

	read := make(chan map[string]string, 1)
	go func() {
		// the cycle and the health endpoint both go through these
		assert.False(t, m.Connected())
		assert.ErrorIs(t, m.Publish(context.Background(), "t", []byte("x")), ErrNotConnected)
		read <- m.Status()
	}()
	select {
	case st := <-read:
		assert.Equal(t, "disconnected", st["broker"])
	case <-time.After(2 * time.Second):
		t.Fatal("state reads blocked while connect was in progress")
	}

	close(sess.release)
	require.NoError(t, <-done)
	assert.True(t, m.Connected())
	assert.Equal(t, Connected, m.SessionState())
}
