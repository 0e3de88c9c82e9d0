package sfu

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/domain"
)

type SubscriberState int32

const (
	SubscriberPaused SubscriberState = iota // consumers start paused
	SubscriberActive
	SubscriberClosed
)

func (s SubscriberState) String() string {
	switch s {
	case SubscriberActive:
		return "active"
	case SubscriberClosed:
		return "closed"
	default:
		return "paused"
	}
}

// Subscriber is one consumer attached to a publication.
type Subscriber struct {
	ClientID   domain.ClientID
	ConsumerID string
	state      atomic.Int32 // Zero by default (SubscriberPaused)
}

func NewSubscriber(client domain.ClientID, consumerID string) *Subscriber {
	return &Subscriber{ClientID: client, ConsumerID: consumerID}
}

func (s *Subscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

func (s *Subscriber) MarkActive() {
	s.state.CompareAndSwap(int32(SubscriberPaused), int32(SubscriberActive))
}

func (s *Subscriber) MarkClosed() {
	s.state.Store(int32(SubscriberClosed))
}
