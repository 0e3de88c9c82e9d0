package app

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
)

type fullSignal struct{}

func (fullSignal) TrySend(core.Frame) error { return fmt.Errorf("backpressure") }
func (fullSignal) Close()                   {}

func TestRegistry_OpenGetClose(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := NewRegistry(0, m)

	s, err := r.Open("a", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ClientID("a"), s.ID())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	_, err = r.Open("a", nil)
	require.ErrorIs(t, err, core.ErrDuplicateSession)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Get("b")
	require.ErrorIs(t, err, core.ErrUnknownSession)

	r.Close("a")
	assert.True(t, s.Closed())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))

	_, err = r.Get("a")
	require.ErrorIs(t, err, core.ErrUnknownSession)
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := NewRegistry(0, m)
	var calls atomic.Int32
	r.OnClose(func(s *core.Session) {
		calls.Add(1)
		s.Close()
	})

	_, err := r.Open("a", nil)
	require.NoError(t, err)
	r.Close("a")
	r.Close("a")
	r.Close("never-opened")

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
}

func TestRegistry_MaxSessions(t *testing.T) {
	r := NewRegistry(2, nil)
	_, err := r.Open("a", nil)
	require.NoError(t, err)
	_, err = r.Open("b", nil)
	require.NoError(t, err)

	_, err = r.Open("c", nil)
	require.ErrorIs(t, err, core.ErrTooManySessions)

	r.Close("a")
	_, err = r.Open("c", nil)
	require.NoError(t, err)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(0, nil)
	var sessions []*core.Session
	for i := range 20 {
		s, err := r.Open(domain.ClientID(fmt.Sprintf("c%d", i)), nil)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	for _, s := range sessions {
		assert.True(t, s.Closed())
	}
}

func TestRegistry_BroadcastFrom(t *testing.T) {
	r := NewRegistry(0, nil)
	_, err := r.Open("a", nil)
	require.NoError(t, err)
	_, err = r.Open("b", nil)
	require.NoError(t, err)
	slow, err := r.Open("c", fullSignal{})
	require.NoError(t, err)

	res := r.BroadcastFrom("a", "newProducer", map[string]string{"producerId": "p"})
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Same(t, slow, res.Dropped[0])
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(0, nil)
	_, err := r.Open("a", nil)
	require.NoError(t, err)
	_, err = r.Open("b", nil)
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	ids := []domain.ClientID{snap[0].ClientID, snap[1].ClientID}
	assert.ElementsMatch(t, []domain.ClientID{"a", "b"}, ids)
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("open")
	require.NoError(t, err)
	assert.True(t, p.AllowConsume("a", domain.ProducerInfo{ClientID: "a"}))

	p, err = PolicyByName("no_self")
	require.NoError(t, err)
	assert.False(t, p.AllowConsume("a", domain.ProducerInfo{ClientID: "a"}))
	assert.True(t, p.AllowConsume("b", domain.ProducerInfo{ClientID: "a"}))

	_, err = PolicyByName("friends")
	require.Error(t, err)
}
