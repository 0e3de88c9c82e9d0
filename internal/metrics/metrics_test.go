package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	m.TransportOpened("producer")
	m.ProducerOpened("audio")
	m.ConsumerOpened("video")
	m.ConsumerClosed("video")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportsActive.WithLabelValues("producer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProducersActive.WithLabelValues("audio")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConsumersActive.WithLabelValues("video")))

	m.Request("produce", "ok")
	m.ObserveEngine("produce", time.Now())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("produce", "ok")))

	n, err := testutil.GatherAndCount(reg, "relay_sessions_active")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.TransportClosed("consumer")
		m.Request("x", "ok")
		m.ObserveEngine("x", time.Now())
	})
}
