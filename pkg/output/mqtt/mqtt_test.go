package mqtt

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/ericogr/soil-moisture-mqtt/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClientOptions(t *testing.T) {
	s := &Session{logger: zaptest.NewLogger(t)}
	opts := s.clientOptions(config.MQTTConfig{
		Server:       "tcp://broker.local:1884",
		ClientID:     "greenhouse-1",
		Username:     "user",
		Password:     "pass",
		KeepAliveSec: 15,
	})
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.local:1884", opts.Servers[0].Host)
	assert.Equal(t, "greenhouse-1", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry)
	assert.True(t, opts.CleanSession)
	assert.Equal(t, int64(15), opts.KeepAlive)
}

func TestClientOptionsDefaults(t *testing.T) {
	s := &Session{logger: zaptest.NewLogger(t)}
	opts := s.clientOptions(config.MQTTConfig{})
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "test.mosquitto.org:1883", opts.Servers[0].Host)
	assert.Equal(t, DefaultClientID, opts.ClientID)
}

func TestSessionPublishWhileDisconnected(t *testing.T) {
	s := NewSession(config.MQTTConfig{Server: "tcp://127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.False(t, s.Connected())
	err := s.Publish(context.Background(), "soil", []byte(`{"humidity": 1.0}`))
	require.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, s.Close())
}

func TestSessionConnectRefused(t *testing.T) {
	// grab a free port and close it so nothing is listening there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := NewSession(config.MQTTConfig{Server: "tcp://" + addr}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, s.Connect(ctx))
	assert.False(t, s.Connected())
}

func TestBrokerAddress(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		secure bool
		ok     bool
	}{
		{"tcp://test.mosquitto.org:1883", "test.mosquitto.org:1883", false, true},
		{"mqtt://broker.local", "broker.local:1883", false, true},
		{"mqtts://broker.local", "broker.local:8883", true, true},
		{"ssl://broker.local:9000", "broker.local:9000", true, true},
		{"ws://broker.local", "", false, false},
		{"tcp://", "", false, false},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		require.NoError(t, err)
		got, secure, err := brokerAddress(u)
		if (err == nil) != tt.ok {
			t.Fatalf("brokerAddress(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
			assert.Equal(t, tt.secure, secure, tt.in)
		}
	}
}

func TestSessionV5DialFailure(t *testing.T) {
	s := NewSessionV5(config.MQTTConfig{}, zaptest.NewLogger(t))
	dialErr := errors.New("network unreachable")
	s.dial = func(context.Context, *url.URL) (net.Conn, error) { return nil, dialErr }

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, dialErr)
	assert.False(t, s.Connected())
	require.ErrorIs(t, s.Publish(context.Background(), "soil", []byte("x")), ErrNotConnected)
	require.NoError(t, s.Close())
}

func TestSessionV5Defaults(t *testing.T) {
	s := NewSessionV5(config.MQTTConfig{}, nil)
	assert.Equal(t, DefaultServer, s.cfg.Server)
	assert.Equal(t, DefaultClientID, s.cfg.ClientID)
}
