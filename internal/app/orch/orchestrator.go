package orch

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/engine"
	"github.com/dkeye/Relay/internal/metrics"
)

// Orchestrator drives each session's negotiation against the shared router.
// Operations take the caller's *core.Session so a request that outlives its
// connection sees SessionClosed instead of an unrelated lookup miss.
type Orchestrator struct {
	Registry     *app.Registry
	Router       engine.Router
	Fanout       *sfu.Fanout
	Policy       app.ConsumePolicy
	Backpressure app.BackpressurePolicy
	Metrics      *metrics.Metrics

	TransportOptions engine.WebRtcTransportOptions
}

func New(reg *app.Registry, router engine.Router, fanout *sfu.Fanout, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		Registry:     reg,
		Router:       router,
		Fanout:       fanout,
		Policy:       app.OpenPolicy{},
		Backpressure: app.KickSlowPolicy{},
		Metrics:      m,
	}
	reg.OnClose(o.teardown)
	return o
}

// Connect opens the session of a freshly connected client.
func (o *Orchestrator) Connect(id domain.ClientID, signal core.SignalConnection) (*core.Session, error) {
	return o.Registry.Open(id, signal)
}

// Disconnect closes the session and releases all its engine objects.
func (o *Orchestrator) Disconnect(id domain.ClientID) {
	o.Registry.Close(id)
}

// RouterRtpCapabilities answers getRouterRtpCapabilities.
func (o *Orchestrator) RouterRtpCapabilities(sess *core.Session) (engine.RtpCapabilities, error) {
	if sess.Closed() {
		return engine.RtpCapabilities{}, core.ErrSessionClosed
	}
	return o.Router.RtpCapabilities(), nil
}

func (o *Orchestrator) teardown(sess *core.Session) {
	td := sess.Close()
	if td == nil {
		return
	}
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID())).Logger()

	for _, h := range td.Consumers {
		o.Fanout.Unsubscribe(h.Consumer.ProducerID(), h.Consumer.ID())
		o.closeConsumer(h)
	}
	for _, h := range td.Producers {
		o.closeProducer(h)
		o.unpublish(h.Producer.ID())
	}

	var wg conc.WaitGroup
	for _, h := range td.Transports {
		wg.Go(func() {
			start := time.Now()
			if err := h.Transport.Close(); err != nil {
				logger.Warn().Err(err).Str("transport", h.Transport.ID()).Msg("close transport")
			}
			o.Metrics.ObserveEngine("close_transport", start)
			o.Metrics.TransportClosed(string(h.Direction))
		})
	}
	wg.Wait()

	logger.Info().
		Int("transports", len(td.Transports)).
		Int("producers", len(td.Producers)).
		Int("consumers", len(td.Consumers)).
		Msg("session torn down")
}

func (o *Orchestrator) closeConsumer(h *core.ConsumerHandle) {
	if err := h.Consumer.Close(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("consumer", h.Consumer.ID()).Msg("close consumer")
	}
	o.Metrics.ConsumerClosed(string(h.Consumer.Kind()))
}

func (o *Orchestrator) closeProducer(h *core.ProducerHandle) {
	if err := h.Producer.Close(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("producer", h.Producer.ID()).Msg("close producer")
	}
	o.Metrics.ProducerClosed(string(h.Producer.Kind()))
}

// broadcast notifies everyone but from and applies the backpressure policy
// to clients that could not take the message.
func (o *Orchestrator) broadcast(from domain.ClientID, typ string, data any) {
	res := o.Registry.BroadcastFrom(from, typ, data)
	o.handleDropped(res.Dropped)
}

func (o *Orchestrator) notify(sess *core.Session, typ string, data any) {
	if err := sess.Notify(typ, data); err != nil {
		o.handleDropped([]*core.Session{sess})
	}
}

func (o *Orchestrator) handleDropped(dropped []*core.Session) {
	if o.Backpressure == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Backpressure.OnBackPressure(slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Msg("kicking slow client")
			if sig := slow.Signal(); sig != nil {
				// the connection's read loop ends and disconnects the session
				go sig.Close()
			}
		case app.NoAction:
		}
	}
}
