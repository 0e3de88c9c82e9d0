package rtc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/engine"
)

const defaultGatherTimeout = 5 * time.Second

type Router struct {
	id     string
	worker *Worker
	caps   engine.RtpCapabilities

	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	closed     bool
}

var _ engine.Router = (*Router)(nil)

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() engine.RtpCapabilities { return r.caps }

func (r *Router) CanConsume(producerID string, caps engine.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return engine.CanConsume(p.consumable, caps)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

// CreateWebRtcTransport gathers host candidates and prepares a DTLS
// certificate. It blocks until gathering completes or ctx expires.
func (r *Router) CreateWebRtcTransport(ctx context.Context, opts engine.WebRtcTransportOptions) (engine.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, engine.ErrRouterClosed
	}

	api := r.worker.api
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}

	timeout := r.worker.cfg.GatherTimeout
	if timeout <= 0 {
		timeout = defaultGatherTimeout
	}
	select {
	case <-done:
	case <-time.After(timeout):
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	local, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	gathered, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	candidates := selectCandidates(gathered, opts)
	if len(candidates) == 0 {
		_ = gatherer.Close()
		return nil, ErrNoCandidates
	}

	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}
	dtlsLocal, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	t := newTransport(uuid.NewString(), r)
	t.gatherer, t.ice, t.dtls = gatherer, ice, dtls
	t.iceParams = iceParameters(local)
	t.candidates = candidates
	t.dtlsParams = dtlsParameters(dtlsLocal)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, engine.ErrRouterClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	log.Debug().Str("module", "rtc").Str("transport", t.id).Int("candidates", len(candidates)).Msg("transport ready")
	return t, nil
}

// selectCandidates applies the per-transport protocol switches and the
// announced address, and orders UDP first when preferred.
func selectCandidates(gathered []webrtc.ICECandidate, opts engine.WebRtcTransportOptions) []engine.IceCandidate {
	var announced string
	if len(opts.ListenInfos) > 0 {
		announced = opts.ListenInfos[0].AnnouncedIp
	}
	out := make([]engine.IceCandidate, 0, len(gathered))
	for _, g := range gathered {
		switch g.Protocol {
		case webrtc.ICEProtocolUDP:
			if !opts.EnableUdp {
				continue
			}
		case webrtc.ICEProtocolTCP:
			if !opts.EnableTcp {
				continue
			}
		}
		c := iceCandidate(g)
		if announced != "" {
			c.Ip, c.Address = announced, announced
		}
		out = append(out, c)
	}
	if opts.PreferUdp {
		slices.SortStableFunc(out, func(a, b engine.IceCandidate) int {
			return protoRank(a.Protocol) - protoRank(b.Protocol)
		})
	}
	return out
}

func protoRank(p string) int {
	if p == "udp" {
		return 0
	}
	return 1
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ts := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.Unlock()

	for _, t := range ts {
		_ = t.Close()
	}
	if r.worker != nil {
		r.worker.removeRouter(r.id)
	}
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
	return nil
}
