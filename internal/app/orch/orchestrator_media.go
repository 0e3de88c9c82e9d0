package orch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/engine"
)

// IncompatibleMessage is the consume reply when the client cannot decode
// any of the producer's codecs.
const IncompatibleMessage = "Cannot consume"

// ConsumeResult is either a consumer description or Incompatible.
type ConsumeResult struct {
	Incompatible  bool
	ID            string
	ProducerID    string
	Kind          engine.MediaKind
	RtpParameters engine.RtpParameters
	Paused        bool
}

// Produce publishes a stream on the connected producer transport of slot.
func (o *Orchestrator) Produce(ctx context.Context, sess *core.Session, slot domain.Slot, kind engine.MediaKind, params engine.RtpParameters) (string, error) {
	if !kind.Valid() {
		return "", core.ErrInvalidRequest.Withf("invalid kind %q", kind)
	}
	t, err := sess.ConnectedTransport(domain.DirectionProducer, slot)
	if err != nil {
		return "", err
	}

	start := time.Now()
	p, err := t.Produce(ctx, engine.ProducerOptions{
		Kind:          kind,
		RtpParameters: params,
		AppData:       map[string]string{"clientId": string(sess.ID())},
	})
	o.Metrics.ObserveEngine("produce", start)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Str("kind", string(kind)).Msg("produce")
		return "", core.ErrProduceFailed.WithCause(err)
	}

	if err := sess.AddProducer(slot, p); err != nil {
		_ = p.Close()
		return "", err
	}
	o.Metrics.ProducerOpened(string(kind))

	info := domain.ProducerInfo{ID: p.ID(), ClientID: sess.ID(), Kind: string(kind), Slot: slot, Since: time.Now()}
	o.Fanout.Publish(info)
	if sess.Closed() {
		// teardown ran between AddProducer and Publish and already closed p
		o.unpublish(p.ID())
		return "", core.ErrSessionClosed
	}

	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("producer", p.ID()).Str("kind", string(kind)).Msg("producing")
	o.broadcast(sess.ID(), "newProducer", info)
	return p.ID(), nil
}

// Consume subscribes sess to producerID on the connected consumer transport
// of slot. The consumer starts paused.
func (o *Orchestrator) Consume(ctx context.Context, sess *core.Session, slot domain.Slot, producerID string, caps engine.RtpCapabilities) (ConsumeResult, error) {
	t, err := sess.ConnectedTransport(domain.DirectionConsumer, slot)
	if err != nil {
		return ConsumeResult{}, err
	}
	pub, ok := o.Fanout.Lookup(producerID)
	if !ok {
		return ConsumeResult{}, core.ErrProducerNotFound.Withf("producer %q not found", producerID)
	}
	if o.Policy != nil && !o.Policy.AllowConsume(sess.ID(), pub) {
		return ConsumeResult{}, core.ErrForbidden.Withf("may not consume producer %q", producerID)
	}
	if !o.Router.CanConsume(producerID, caps) {
		log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("producer", producerID).Msg("incompatible capabilities")
		return ConsumeResult{Incompatible: true}, nil
	}

	start := time.Now()
	c, err := t.Consume(ctx, engine.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: caps,
		Paused:          true,
		AppData:         map[string]string{"clientId": string(sess.ID())},
	})
	o.Metrics.ObserveEngine("consume", start)
	switch {
	case errors.Is(err, engine.ErrProducerNotFound):
		return ConsumeResult{}, core.ErrProducerNotFound.WithCause(err)
	case errors.Is(err, engine.ErrCannotConsume):
		return ConsumeResult{Incompatible: true}, nil
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Str("producer", producerID).Msg("consume")
		return ConsumeResult{}, core.ErrConsumeFailed.WithCause(err)
	}

	if err := sess.AddConsumer(slot, c); err != nil {
		_ = c.Close()
		return ConsumeResult{}, err
	}
	o.Metrics.ConsumerOpened(string(c.Kind()))

	if err := o.Fanout.Subscribe(producerID, sess.ID(), c.ID()); err != nil {
		// producer closed after the lookup
		if h, ok := sess.RemoveConsumer(c.ID()); ok {
			o.closeConsumer(h)
		}
		return ConsumeResult{}, core.ErrProducerNotFound.Withf("producer %q closed", producerID)
	}

	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("producer", producerID).Str("consumer", c.ID()).Msg("consuming")
	return ConsumeResult{
		ID:            c.ID(),
		ProducerID:    producerID,
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
		Paused:        c.Paused(),
	}, nil
}

// ResumeConsumer starts media flow on a consumer created by Consume.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, sess *core.Session, consumerID string) error {
	h, err := sess.Consumer(consumerID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = h.Consumer.Resume(ctx)
	o.Metrics.ObserveEngine("resume_consumer", start)
	if err != nil {
		return core.ErrResumeFailed.WithCause(err)
	}
	o.Fanout.MarkActive(h.Consumer.ProducerID(), consumerID)
	return nil
}

// CloseProducer stops one of the session's own producers.
func (o *Orchestrator) CloseProducer(sess *core.Session, producerID string) error {
	if sess.Closed() {
		return core.ErrSessionClosed
	}
	h, ok := sess.RemoveProducer(producerID)
	if !ok {
		return core.ErrProducerNotFound.Withf("producer %q not found", producerID)
	}
	o.closeProducer(h)
	o.unpublish(producerID)
	return nil
}

// ListProducers returns the producers of every other client.
func (o *Orchestrator) ListProducers(sess *core.Session) ([]domain.ProducerInfo, error) {
	if sess.Closed() {
		return nil, core.ErrSessionClosed
	}
	return o.Fanout.List(sess.ID()), nil
}

// unpublish removes a producer from the index, closes the consumers fed by
// it and tells everybody.
func (o *Orchestrator) unpublish(producerID string) {
	info, subs, ok := o.Fanout.Unpublish(producerID)
	if !ok {
		return
	}
	for _, sub := range subs {
		sess, err := o.Registry.Get(sub.ClientID)
		if err != nil {
			continue
		}
		h, ok := sess.RemoveConsumer(sub.ConsumerID)
		if !ok {
			continue
		}
		o.closeConsumer(h)
		o.notify(sess, "consumerClosed", map[string]string{
			"consumerId": sub.ConsumerID,
			"producerId": producerID,
		})
	}
	o.broadcast(info.ClientID, "producerClosed", map[string]string{"producerId": producerID})
}
