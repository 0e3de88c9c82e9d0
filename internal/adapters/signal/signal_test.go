package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/engine"
	"github.com/dkeye/Relay/internal/engine/enginetest"
)

type testEnv struct {
	srv    *httptest.Server
	orch   *orch.Orchestrator
	router *enginetest.Router
}

func newTestEnv(t *testing.T, maxSessions int, mutate func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ReadLimit:           1 << 16,
		RequestTimeout:      2 * time.Second,
		MaxInflightRequests: 4,
	}
	if mutate != nil {
		mutate(cfg)
	}
	router := enginetest.NewRouter()
	o := orch.New(app.NewRegistry(maxSessions, nil), router, sfu.NewFanout(), nil)
	ctl := NewSignalWSController(o, cfg)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(context.Background(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, orch: o, router: router}
}

type message struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id"`
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data"`
	Error     *struct {
		Kind    string `json:"kind"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
	id string

	seq int

	mu   sync.Mutex
	msgs []message
	done chan struct{}
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	c := &testClient{t: t, ws: ws, done: make(chan struct{})}
	go c.readLoop()
	t.Cleanup(func() { _ = ws.Close() })

	welcome := c.await(func(m message) bool { return m.Type == "welcome" })
	var w struct {
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal(welcome.Data, &w))
	require.NotEmpty(t, w.ClientID)
	c.id = w.ClientID
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var m message
		if err := c.ws.ReadJSON(&m); err != nil {
			return
		}
		c.mu.Lock()
		c.msgs = append(c.msgs, m)
		c.mu.Unlock()
	}
}

func (c *testClient) find(pred func(message) bool) (message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if pred(m) {
			return m, true
		}
	}
	return message{}, false
}

func (c *testClient) await(pred func(message) bool) message {
	c.t.Helper()
	var got message
	require.Eventually(c.t, func() bool {
		var ok bool
		got, ok = c.find(pred)
		return ok
	}, 3*time.Second, 5*time.Millisecond)
	return got
}

func (c *testClient) send(typ string, data any) int {
	c.t.Helper()
	c.seq++
	req := map[string]any{"type": typ, "request_id": c.seq}
	if data != nil {
		req["data"] = data
	}
	require.NoError(c.t, c.ws.WriteJSON(req))
	return c.seq
}

func (c *testClient) call(typ string, data any) message {
	c.t.Helper()
	id := strconv.Itoa(c.send(typ, data))
	return c.await(func(m message) bool { return string(m.RequestID) == id })
}

func (c *testClient) ok(typ string, data any, out any) {
	c.t.Helper()
	m := c.call(typ, data)
	require.True(c.t, m.OK, "%s failed: %+v", typ, m.Error)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(m.Data, out))
	}
}

func (c *testClient) fail(typ string, data any, code string) message {
	c.t.Helper()
	m := c.call(typ, data)
	require.False(c.t, m.OK)
	require.NotNil(c.t, m.Error)
	assert.Equal(c.t, code, m.Error.Code)
	return m
}

func (c *testClient) noteCount(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == typ && m.RequestID == nil {
			n++
		}
	}
	return n
}

func dtlsData() map[string]any {
	return map[string]any{"dtlsParameters": enginetest.Dtls()}
}

func TestSignal_PublishSubscribe(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	a := env.dial(t)
	b := env.dial(t)

	var caps engine.RtpCapabilities
	a.ok("getRouterRtpCapabilities", nil, &caps)
	require.Len(t, caps.Codecs, 2)

	var tr struct {
		ID             string                `json:"id"`
		IceParameters  engine.IceParameters  `json:"iceParameters"`
		IceCandidates  []engine.IceCandidate `json:"iceCandidates"`
		DtlsParameters engine.DtlsParameters `json:"dtlsParameters"`
	}
	a.ok("createProducerTransport", nil, &tr)
	assert.NotEmpty(t, tr.ID)
	assert.NotEmpty(t, tr.IceParameters.UsernameFragment)
	assert.NotEmpty(t, tr.IceCandidates)
	assert.NotEmpty(t, tr.DtlsParameters.Fingerprints)

	a.ok("connectProducerTransport", dtlsData(), nil)

	var produced struct {
		ID string `json:"id"`
	}
	a.ok("produce", map[string]any{"kind": "audio", "rtpParameters": enginetest.OpusParameters()}, &produced)
	require.NotEmpty(t, produced.ID)

	note := b.await(func(m message) bool { return m.Type == "newProducer" })
	assert.Contains(t, string(note.Data), produced.ID)
	assert.Zero(t, a.noteCount("newProducer"), "owner is not told about its own producer")

	var list []map[string]any
	b.ok("listProducers", nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, produced.ID, list[0]["producerId"])
	assert.Equal(t, a.id, list[0]["clientId"])

	b.ok("createConsumerTransport", nil, nil)
	b.ok("connectConsumerTransport", dtlsData(), nil)

	var consumed struct {
		ID            string               `json:"id"`
		ProducerID    string               `json:"producerId"`
		Kind          string               `json:"kind"`
		RtpParameters engine.RtpParameters `json:"rtpParameters"`
		Paused        bool                 `json:"paused"`
	}
	b.ok("consume", map[string]any{"producerId": produced.ID, "rtpCapabilities": caps}, &consumed)
	assert.Equal(t, produced.ID, consumed.ProducerID)
	assert.Equal(t, "audio", consumed.Kind)
	assert.True(t, consumed.Paused)
	require.NotEmpty(t, consumed.RtpParameters.Codecs)

	b.ok("resumeConsumer", map[string]any{"consumerId": consumed.ID}, nil)

	// A leaves: B loses its consumer and hears about it
	require.NoError(t, a.ws.Close())
	b.await(func(m message) bool { return m.Type == "consumerClosed" })
	b.await(func(m message) bool { return m.Type == "producerClosed" })
	require.Eventually(t, func() bool { return env.orch.Registry.Len() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.router.OpenTransports(), "only B's transport remains")

	b.fail("resumeConsumer", map[string]any{"consumerId": consumed.ID}, "ConsumerNotFound")
}

func TestSignal_ConsumeIncompatible(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	a := env.dial(t)
	b := env.dial(t)

	a.ok("createProducerTransport", nil, nil)
	a.ok("connectProducerTransport", dtlsData(), nil)
	var produced struct {
		ID string `json:"id"`
	}
	a.ok("produce", map[string]any{"kind": "audio", "rtpParameters": enginetest.OpusParameters()}, &produced)

	b.ok("createConsumerTransport", nil, nil)
	b.ok("connectConsumerTransport", dtlsData(), nil)

	videoOnly := engine.RtpCapabilities{Codecs: []engine.RtpCodecCapability{{Kind: "video", MimeType: "video/VP8", ClockRate: 90000}}}
	var reply map[string]string
	b.ok("consume", map[string]any{"producerId": produced.ID, "rtpCapabilities": videoOnly}, &reply)
	assert.Equal(t, map[string]string{"error": "Cannot consume"}, reply)
}

func TestSignal_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	c := env.dial(t)

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	bad := c.await(func(m message) bool { return !m.OK && m.Error != nil && m.RequestID == nil })
	assert.Equal(t, "InvalidRequest", bad.Error.Code)
	assert.Equal(t, "ProtocolError", bad.Error.Kind)

	c.fail("teleport", nil, "InvalidRequest")

	m := c.fail("connectProducerTransport", dtlsData(), "TransportNotFound")
	assert.Equal(t, "NotFoundError", m.Error.Kind)

	c.fail("produce", map[string]any{"kind": "audio", "rtpParameters": enginetest.OpusParameters()}, "TransportNotConnected")
	c.fail("produce", map[string]any{"kind": "audio"}, "InvalidRequest")
	c.fail("createProducerTransport", map[string]any{"slot": "no spaces"}, "InvalidRequest")
	c.fail("consume", map[string]any{"producerId": "x"}, "InvalidRequest")
	c.fail("connectConsumerTransport", map[string]any{}, "InvalidRequest")

	c.ok("createProducerTransport", nil, nil)
	c.fail("createProducerTransport", nil, "TransportAlreadyExists")
	c.fail("connectProducerTransport", map[string]any{"dtlsParameters": engine.DtlsParameters{}}, "DtlsHandshakeFailed")
	c.ok("connectProducerTransport", dtlsData(), nil)
	c.fail("connectProducerTransport", dtlsData(), "AlreadyConnected")

	c.ok("createConsumerTransport", nil, nil)
	c.ok("connectConsumerTransport", dtlsData(), nil)
	c.fail("consume", map[string]any{"producerId": "nope", "rtpCapabilities": env.router.RtpCapabilities()}, "ProducerNotFound")

	// still connected after all of that
	c.ok("ping", nil, nil)
}

func TestSignal_RateLimited(t *testing.T) {
	env := newTestEnv(t, 0, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{RPS: 0.1, Burst: 1}
	})
	c := env.dial(t)

	c.ok("ping", nil, nil)
	c.fail("ping", nil, "RateLimited")
	c.fail("listProducers", nil, "RateLimited")
}

func TestSignal_TooManySessions(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.dial(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestSignal_DisconnectReleasesEngine(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	c := env.dial(t)
	c.ok("createProducerTransport", nil, nil)
	c.ok("createConsumerTransport", map[string]any{"slot": "screen"}, nil)
	require.Equal(t, 2, env.router.OpenTransports())

	require.NoError(t, c.ws.Close())
	require.Eventually(t, func() bool {
		return env.orch.Registry.Len() == 0 && env.router.OpenTransports() == 0
	}, 3*time.Second, 5*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	ctl := NewSignalWSController(nil, &config.Config{AllowedOrigins: []string{"https://meet.example.com", "localhost:3000"}})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, ctl.checkOrigin(req("https://meet.example.com")))
	assert.True(t, ctl.checkOrigin(req("http://localhost:3000")))
	assert.True(t, ctl.checkOrigin(req("")))
	assert.False(t, ctl.checkOrigin(req("https://evil.example.net")))

	open := NewSignalWSController(nil, &config.Config{})
	assert.True(t, open.checkOrigin(req("https://anywhere.example")))
}

func TestNewRequestLimiter(t *testing.T) {
	l := newRequestLimiter(config.RateLimitConfig{})
	for range 1000 {
		require.True(t, l.Allow())
	}

	l = newRequestLimiter(config.RateLimitConfig{RPS: 1, Burst: 2})
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
