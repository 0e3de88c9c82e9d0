package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/engine"
)

type handlerFunc func(ctl *SignalWSController, ctx context.Context, sess *core.Session, data json.RawMessage) (any, error)

var handlers = map[string]handlerFunc{
	"getRouterRtpCapabilities": (*SignalWSController).handleRouterCapabilities,
	"createProducerTransport":  createTransport(domain.DirectionProducer),
	"createConsumerTransport":  createTransport(domain.DirectionConsumer),
	"connectProducerTransport": connectTransport(domain.DirectionProducer),
	"connectConsumerTransport": connectTransport(domain.DirectionConsumer),
	"produce":                  (*SignalWSController).handleProduce,
	"consume":                  (*SignalWSController).handleConsume,
	"resumeConsumer":           (*SignalWSController).handleResumeConsumer,
	"closeProducer":            (*SignalWSController).handleCloseProducer,
	"listProducers":            (*SignalWSController).handleListProducers,
	"ping":                     (*SignalWSController).handlePing,
}

func (ctl *SignalWSController) handle(ctx context.Context, sess *core.Session, req request) (any, error) {
	h, ok := handlers[req.Type]
	if !ok {
		return nil, core.ErrInvalidRequest.Withf("unknown method %q", req.Type)
	}
	return h(ctl, ctx, sess, req.Data)
}

// decode unmarshals an optional data object into v.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.ErrInvalidRequest.Withf("malformed data: %v", err)
	}
	return nil
}

func parseSlot(s string) (domain.Slot, error) {
	slot, err := domain.ParseSlot(s)
	if err != nil {
		return "", core.ErrInvalidRequest.Withf("%v", err)
	}
	return slot, nil
}

type slotData struct {
	Slot string `json:"slot"`
}

func (ctl *SignalWSController) handleRouterCapabilities(_ context.Context, sess *core.Session, _ json.RawMessage) (any, error) {
	return ctl.Orch.RouterRtpCapabilities(sess)
}

func createTransport(dir domain.Direction) handlerFunc {
	return func(ctl *SignalWSController, ctx context.Context, sess *core.Session, data json.RawMessage) (any, error) {
		var p slotData
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		slot, err := parseSlot(p.Slot)
		if err != nil {
			return nil, err
		}
		return ctl.Orch.CreateTransport(ctx, sess, dir, slot)
	}
}

func connectTransport(dir domain.Direction) handlerFunc {
	return func(ctl *SignalWSController, ctx context.Context, sess *core.Session, data json.RawMessage) (any, error) {
		var p struct {
			Slot           string                 `json:"slot"`
			DtlsParameters *engine.DtlsParameters `json:"dtlsParameters"`
		}
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if p.DtlsParameters == nil {
			return nil, core.ErrInvalidRequest.Withf("dtlsParameters required")
		}
		slot, err := parseSlot(p.Slot)
		if err != nil {
			return nil, err
		}
		if err := ctl.Orch.ConnectTransport(ctx, sess, dir, slot, *p.DtlsParameters); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, sess *core.Session, data json.RawMessage) (any, error) {
	var p struct {
		Slot          string                `json:"slot"`
		Kind          engine.MediaKind      `json:"kind"`
		RtpParameters *engine.RtpParameters `json:"rtpParameters"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.RtpParameters == nil {
		return nil, core.ErrInvalidRequest.Withf("rtpParameters required")
	}
	slot, err := parseSlot(p.Slot)
	if err != nil {
		return nil, err
	}
	id, err := ctl.Orch.Produce(ctx, sess, slot, p.Kind, *p.RtpParameters)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

type consumeReply struct {
	ID            string               `json:"id"`
	ProducerID    string               `json:"producerId"`
	Kind          engine.MediaKind     `json:"kind"`
	RtpParameters engine.RtpParameters `json:"rtpParameters"`
	Paused        bool                 `json:"paused"`
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, sess *core.Session, data json.RawMessage) (any, error) {
	var p struct {
		Slot            string                  `json:"slot"`
		ProducerID      string                  `json:"producerId"`
		RtpCapabilities *engine.RtpCapabilities `json:"rtpCapabilities"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.ProducerID == "" || p.RtpCapabilities == nil {
		return nil, core.ErrInvalidRequest.Withf("producerId and rtpCapabilities required")
	}
	slot, err := parseSlot(p.Slot)
	if err != nil {
		return nil, err
	}
	res, err := ctl.Orch.Consume(ctx, sess, slot, p.ProducerID, *p.RtpCapabilities)
	if err != nil {
		return nil, err
	}
	if res.Incompatible {
		return map[string]string{"error": orch.IncompatibleMessage}, nil
	}
	return consumeReply{
		ID:            res.ID,
		ProducerID:    res.ProducerID,
		Kind:          res.Kind,
		RtpParameters: res.RtpParameters,
		Paused:        res.Paused,
	}, nil
}

type idData struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}

func (ctl *SignalWSController) handleResumeConsumer(ctx context.Context, sess *core.Session, data json.RawMessage) (any, error) {
	var p idData
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.ConsumerID == "" {
		return nil, core.ErrInvalidRequest.Withf("consumerId required")
	}
	if err := ctl.Orch.ResumeConsumer(ctx, sess, p.ConsumerID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (ctl *SignalWSController) handleCloseProducer(_ context.Context, sess *core.Session, data json.RawMessage) (any, error) {
	var p idData
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.ProducerID == "" {
		return nil, core.ErrInvalidRequest.Withf("producerId required")
	}
	if err := ctl.Orch.CloseProducer(sess, p.ProducerID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (ctl *SignalWSController) handleListProducers(_ context.Context, sess *core.Session, _ json.RawMessage) (any, error) {
	list, err := ctl.Orch.ListProducers(sess)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.ProducerInfo{}
	}
	return list, nil
}
