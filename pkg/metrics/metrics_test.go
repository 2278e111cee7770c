package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveReading(45.5)
	m.ObserveReading(12.3)
	m.ReadFailed()
	m.Published()
	m.PublishFailed()
	m.PublishFailed()
	m.ConnectAttempt()
	m.ConnectFailed()
	m.SetSessionUp(true)
	m.SetNetworkUp(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.readings))
	assert.Equal(t, 12.3, testutil.ToFloat64(m.humidity))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionUp))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.networkUp))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReading(1)
		m.ReadFailed()
		m.Published()
		m.PublishFailed()
		m.ConnectAttempt()
		m.ConnectFailed()
		m.SetSessionUp(true)
		m.SetNetworkUp(true)
	})
}

func TestRouter(t *testing.T) {
	m := New()
	m.Published()
	srv := httptest.NewServer(NewRouter(m, func() map[string]string {
		return map[string]string{"broker": "connected"}
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "soil_publish_total 1"))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "connected", status["broker"])
}
