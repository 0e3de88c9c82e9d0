package sfu

import (
	"maps"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
)

// Publication is a live producer and the consumers fed from it.
type Publication struct {
	Info domain.ProducerInfo

	mu     sync.RWMutex
	subs   map[string]*Subscriber // by consumer id
	closed bool
}

func newPublication(info domain.ProducerInfo) *Publication {
	return &Publication{Info: info, subs: make(map[string]*Subscriber)}
}

func (p *Publication) add(sub *Subscriber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.subs[sub.ConsumerID] = sub
	return true
}

func (p *Publication) remove(consumerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[consumerID]; ok {
		sub.MarkClosed()
		delete(p.subs, consumerID)
	}
}

func (p *Publication) subscriber(consumerID string) (*Subscriber, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sub, ok := p.subs[consumerID]
	return sub, ok
}

// close marks every subscriber closed and hands them out.
func (p *Publication) close() []*Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	snapshot := make(map[string]*Subscriber, len(p.subs))
	maps.Copy(snapshot, p.subs)
	clear(p.subs)

	out := make([]*Subscriber, 0, len(snapshot))
	for _, sub := range snapshot {
		sub.MarkClosed()
		out = append(out, sub)
	}
	return out
}

func (p *Publication) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
