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

// TransportInfo is what the client needs to build its side of a transport.
type TransportInfo struct {
	ID             string                `json:"id"`
	IceParameters  engine.IceParameters  `json:"iceParameters"`
	IceCandidates  []engine.IceCandidate `json:"iceCandidates"`
	DtlsParameters engine.DtlsParameters `json:"dtlsParameters"`
}

// CreateTransport allocates the (dir, slot) transport of sess. Exactly one of
// several concurrent calls for the same pair reaches the engine.
func (o *Orchestrator) CreateTransport(ctx context.Context, sess *core.Session, dir domain.Direction, slot domain.Slot) (TransportInfo, error) {
	if err := sess.ReserveTransport(dir, slot); err != nil {
		return TransportInfo{}, err
	}

	opts := o.TransportOptions
	opts.AppData = map[string]string{"clientId": string(sess.ID()), "direction": string(dir), "slot": string(slot)}

	start := time.Now()
	t, err := o.Router.CreateWebRtcTransport(ctx, opts)
	o.Metrics.ObserveEngine("create_transport", start)
	if err != nil {
		sess.ReleaseReservation(dir, slot)
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Str("direction", string(dir)).Msg("create transport")
		return TransportInfo{}, core.ErrTransportCreationFailed.WithCause(err)
	}

	if err := sess.CommitTransport(dir, slot, t); err != nil {
		// session went away while the engine was working
		_ = t.Close()
		return TransportInfo{}, err
	}
	o.Metrics.TransportOpened(string(dir))

	log.Info().Str("module", "orch").
		Str("sid", string(sess.ID())).
		Str("direction", string(dir)).
		Str("slot", string(slot)).
		Str("transport", t.ID()).
		Msg("transport created")

	return TransportInfo{
		ID:             t.ID(),
		IceParameters:  t.IceParameters(),
		IceCandidates:  t.IceCandidates(),
		DtlsParameters: t.DtlsParameters(),
	}, nil
}

// ConnectTransport hands the client's DTLS parameters to the engine.
func (o *Orchestrator) ConnectTransport(ctx context.Context, sess *core.Session, dir domain.Direction, slot domain.Slot, dtls engine.DtlsParameters) error {
	t, err := sess.BeginConnect(dir, slot)
	if err != nil {
		return err
	}

	start := time.Now()
	err = t.Connect(ctx, dtls)
	o.Metrics.ObserveEngine("connect_transport", start)
	if err != nil {
		if endErr := sess.EndConnect(dir, slot, false); endErr != nil {
			return endErr
		}
		if errors.Is(err, engine.ErrAlreadyConnected) {
			return core.ErrAlreadyConnected.WithCause(err)
		}
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Str("transport", t.ID()).Msg("connect transport")
		return core.ErrDtlsHandshakeFailed.WithCause(err)
	}
	if err := sess.EndConnect(dir, slot, true); err != nil {
		return err
	}

	log.Info().Str("module", "orch").
		Str("sid", string(sess.ID())).
		Str("direction", string(dir)).
		Str("transport", t.ID()).
		Msg("transport connected")
	return nil
}
