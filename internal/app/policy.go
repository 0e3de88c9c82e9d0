package app

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// ConsumePolicy decides whether a client may subscribe to a producer.
type ConsumePolicy interface {
	AllowConsume(consumer domain.ClientID, producer domain.ProducerInfo) bool
}

// OpenPolicy lets anyone consume any producer.
type OpenPolicy struct{}

func (OpenPolicy) AllowConsume(domain.ClientID, domain.ProducerInfo) bool { return true }

// NoSelfPolicy forbids consuming your own producers.
type NoSelfPolicy struct{}

func (NoSelfPolicy) AllowConsume(consumer domain.ClientID, producer domain.ProducerInfo) bool {
	return consumer != producer.ClientID
}

func PolicyByName(name string) (ConsumePolicy, error) {
	switch name {
	case "", "open":
		return OpenPolicy{}, nil
	case "no_self":
		return NoSelfPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown consume policy %q", name)
	}
}

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// BackpressurePolicy decides what happens to a client whose signaling
// buffer is full when a notification is pushed to it.
type BackpressurePolicy interface {
	OnBackPressure(sess *core.Session) BackpressureAction
}

// KickSlowPolicy disconnects clients that cannot keep up.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackPressure(*core.Session) BackpressureAction { return KickMember }
