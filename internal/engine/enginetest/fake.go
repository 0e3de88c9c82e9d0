// Package enginetest provides an in-memory routing engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/engine"
)

func DefaultCodecs() []engine.RtpCodecCapability {
	return []engine.RtpCodecCapability{
		{Kind: engine.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: engine.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000, Parameters: map[string]any{"x-google-start-bitrate": 1000}},
	}
}

// OpusParameters is what a browser typically sends for a microphone track.
func OpusParameters() engine.RtpParameters {
	return engine.RtpParameters{
		Mid:       "0",
		Codecs:    []engine.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []engine.RtpEncodingParameters{{Ssrc: 11111111}},
		Rtcp:      &engine.RtcpParameters{Cname: "fake"},
	}
}

// Dtls returns remote DTLS parameters that pass validation.
func Dtls() engine.DtlsParameters {
	return engine.DtlsParameters{
		Role:         engine.DtlsRoleClient,
		Fingerprints: []engine.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	}
}

type Router struct {
	caps engine.RtpCapabilities
	seq  atomic.Int64

	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	closed     bool

	// OnCreateTransport runs before a transport is allocated. A non-nil
	// error fails the call. Tests block in it to hold a request in flight.
	OnCreateTransport func(ctx context.Context) error
	// OnConnect overrides the DTLS check.
	OnConnect func(ctx context.Context, remote engine.DtlsParameters) error
}

func NewRouter() *Router {
	caps, err := engine.GenerateRouterRtpCapabilities(DefaultCodecs())
	if err != nil {
		panic(err)
	}
	return &Router{
		caps:       caps,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
}

func (r *Router) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, r.seq.Add(1))
}

func (r *Router) ID() string { return "router-fake" }

func (r *Router) RtpCapabilities() engine.RtpCapabilities { return r.caps }

func (r *Router) CanConsume(producerID string, caps engine.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return engine.CanConsume(p.consumable, caps)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, _ engine.WebRtcTransportOptions) (engine.Transport, error) {
	if r.OnCreateTransport != nil {
		if err := r.OnCreateTransport(ctx); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, engine.ErrRouterClosed
	}
	t := &Transport{id: r.nextID("transport"), router: r}
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	r.closed = true
	ts := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.Unlock()
	for _, t := range ts {
		_ = t.Close()
	}
	return nil
}

// OpenTransports counts transports that were created and not closed.
func (r *Router) OpenTransports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *Router) OpenProducers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

type Transport struct {
	id     string
	router *Router

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) IceParameters() engine.IceParameters {
	return engine.IceParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd-" + t.id, IceLite: true}
}

func (t *Transport) IceCandidates() []engine.IceCandidate {
	return []engine.IceCandidate{{
		Foundation: "1", Priority: 1076302079, Ip: "127.0.0.1", Address: "127.0.0.1",
		Protocol: "udp", Port: 10000, Type: "host",
	}}
}

func (t *Transport) DtlsParameters() engine.DtlsParameters {
	return engine.DtlsParameters{
		Role:         engine.DtlsRoleAuto,
		Fingerprints: []engine.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11"}},
	}
}

func (t *Transport) Connect(ctx context.Context, remote engine.DtlsParameters) error {
	if t.router.OnConnect != nil {
		if err := t.router.OnConnect(ctx, remote); err != nil {
			return err
		}
	} else if len(remote.Fingerprints) == 0 {
		return engine.ErrInvalidDtls
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrTransportClosed
	}
	if t.connected {
		return engine.ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(_ context.Context, opts engine.ProducerOptions) (engine.Producer, error) {
	if err := engine.ValidateRtpParameters(opts.Kind, opts.RtpParameters); err != nil {
		return nil, err
	}
	consumable, err := engine.ConsumableRtpParameters(opts.Kind, opts.RtpParameters, t.router.caps)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, engine.ErrTransportClosed
	}
	p := &Producer{id: t.router.nextID("producer"), kind: opts.Kind, params: opts.RtpParameters, consumable: consumable, router: t.router}
	t.producers = append(t.producers, p)
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts engine.ConsumerOptions) (engine.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[opts.ProducerId]
	t.router.mu.Unlock()
	if !ok {
		return nil, engine.ErrProducerNotFound
	}
	params, err := engine.ConsumerRtpParameters(p.consumable, opts.RtpCapabilities, 22222222)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, engine.ErrTransportClosed
	}
	c := &Consumer{id: t.router.nextID("consumer"), producerID: p.id, kind: p.kind, params: params}
	c.paused.Store(opts.Paused)
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	t.router.mu.Lock()
	delete(t.router.transports, t.id)
	t.router.mu.Unlock()
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Producer struct {
	id         string
	kind       engine.MediaKind
	params     engine.RtpParameters
	consumable engine.RtpParameters
	router     *Router
	closed     atomic.Bool
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() engine.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() engine.RtpParameters { return p.params }

func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()
	return nil
}

type Consumer struct {
	id         string
	producerID string
	kind       engine.MediaKind
	params     engine.RtpParameters
	paused     atomic.Bool
	closed     atomic.Bool
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producerID }
func (c *Consumer) Kind() engine.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() engine.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                        { return c.paused.Load() }

func (c *Consumer) Resume(context.Context) error {
	if c.closed.Load() {
		return engine.ErrConsumerClosed
	}
	c.paused.Store(false)
	return nil
}

func (c *Consumer) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Consumer) Closed() bool { return c.closed.Load() }
