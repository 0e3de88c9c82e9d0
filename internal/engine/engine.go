// Package engine is the facade over the media routing engine. Callers only
// see opaque ids and negotiation parameters; packet handling lives behind it.
package engine

//go:generate mockgen -destination=mock_engine.go -package=engine github.com/dkeye/Relay/internal/engine Router,Transport,Producer,Consumer

import (
	"context"
	"errors"
)

var (
	ErrRouterClosed     = errors.New("router closed")
	ErrTransportClosed  = errors.New("transport closed")
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrInvalidDtls      = errors.New("invalid dtls parameters")
	ErrProducerNotFound = errors.New("producer not found")
	ErrConsumerClosed   = errors.New("consumer closed")
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrCannotConsume    = errors.New("cannot consume")
)

// Worker owns routers. Died fires once if the engine fails fatally.
type Worker interface {
	CreateRouter(ctx context.Context, opts RouterOptions) (Router, error)
	Died() <-chan error
	Close() error
}

type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (Transport, error)
	Close() error
}

type Transport interface {
	ID() string
	IceParameters() IceParameters
	IceCandidates() []IceCandidate
	DtlsParameters() DtlsParameters
	Connect(ctx context.Context, remote DtlsParameters) error
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() MediaKind
	RtpParameters() RtpParameters
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Resume(ctx context.Context) error
	Close() error
}
