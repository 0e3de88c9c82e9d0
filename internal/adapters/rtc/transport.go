package rtc

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/engine"
)

// Lock order: Transport.mu, then Router.mu, then Producer.mu.

type Transport struct {
	id     string
	router *Router

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams  engine.IceParameters
	candidates []engine.IceCandidate
	dtlsParams engine.DtlsParameters

	mu        sync.Mutex
	remote    *engine.DtlsParameters
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
}

var _ engine.Transport = (*Transport)(nil)

func newTransport(id string, r *Router) *Transport {
	return &Transport{
		id:        id,
		router:    r,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
}

func (t *Transport) ID() string                            { return t.id }
func (t *Transport) IceParameters() engine.IceParameters   { return t.iceParams }
func (t *Transport) IceCandidates() []engine.IceCandidate  { return t.candidates }
func (t *Transport) DtlsParameters() engine.DtlsParameters { return t.dtlsParams }

var fingerprintAlgorithms = map[string]bool{
	"sha-1": true, "sha-224": true, "sha-256": true, "sha-384": true, "sha-512": true,
}

func validateDtls(p engine.DtlsParameters) error {
	switch p.Role {
	case "", engine.DtlsRoleAuto, engine.DtlsRoleClient, engine.DtlsRoleServer:
	default:
		return engine.ErrInvalidDtls
	}
	if len(p.Fingerprints) == 0 {
		return engine.ErrInvalidDtls
	}
	for _, fp := range p.Fingerprints {
		if !fingerprintAlgorithms[strings.ToLower(fp.Algorithm)] || fp.Value == "" {
			return engine.ErrInvalidDtls
		}
	}
	return nil
}

// Connect validates and records the client's DTLS parameters. This engine
// only negotiates; it does not run the media plane.
func (t *Transport) Connect(_ context.Context, remote engine.DtlsParameters) error {
	if err := validateDtls(remote); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrTransportClosed
	}
	if t.remote != nil {
		return engine.ErrAlreadyConnected
	}
	t.remote = &remote
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
	p := &Producer{
		id:         uuid.NewString(),
		kind:       opts.Kind,
		params:     opts.RtpParameters,
		consumable: consumable,
		transport:  t,
		consumers:  make(map[string]*Consumer),
	}
	t.producers[p.id] = p
	t.router.addProducer(p)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts engine.ConsumerOptions) (engine.Consumer, error) {
	p, ok := t.router.producer(opts.ProducerId)
	if !ok {
		return nil, engine.ErrProducerNotFound
	}
	params, err := engine.ConsumerRtpParameters(p.consumable, opts.RtpCapabilities, rand.Uint32())
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, engine.ErrTransportClosed
	}
	c := &Consumer{
		id:        uuid.NewString(),
		producer:  p,
		transport: t,
		params:    params,
	}
	c.paused.Store(opts.Paused)
	if !p.attach(c) {
		return nil, engine.ErrProducerNotFound
	}
	t.consumers[c.id] = c
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	t.router.removeTransport(t.id)

	logger := log.With().Str("module", "rtc").Str("transport", t.id).Logger()
	if t.dtls != nil {
		if err := t.dtls.Stop(); err != nil {
			logger.Debug().Err(err).Msg("dtls stop")
		}
	}
	if t.ice != nil {
		if err := t.ice.Stop(); err != nil {
			logger.Debug().Err(err).Msg("ice stop")
		}
	}
	if t.gatherer != nil {
		if err := t.gatherer.Close(); err != nil {
			logger.Debug().Err(err).Msg("gatherer close")
		}
	}
	return nil
}

func (t *Transport) dropProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) dropConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

type Producer struct {
	id         string
	kind       engine.MediaKind
	params     engine.RtpParameters
	consumable engine.RtpParameters
	transport  *Transport

	mu        sync.Mutex
	closed    bool
	consumers map[string]*Consumer
}

var _ engine.Producer = (*Producer)(nil)

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() engine.MediaKind              { return p.kind }
func (p *Producer) RtpParameters() engine.RtpParameters { return p.params }

func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *Producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close also closes every consumer fed by p.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = nil
	p.mu.Unlock()

	p.transport.router.removeProducer(p.id)
	p.transport.dropProducer(p.id)
	for _, c := range consumers {
		_ = c.Close()
	}
	return nil
}

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	params    engine.RtpParameters

	paused atomic.Bool
	closed atomic.Bool
}

var _ engine.Consumer = (*Consumer)(nil)

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producer.id }
func (c *Consumer) Kind() engine.MediaKind              { return c.producer.kind }
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
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.producer.detach(c.id)
	c.transport.dropConsumer(c.id)
	return nil
}
