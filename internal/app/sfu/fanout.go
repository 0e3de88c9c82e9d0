package sfu

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/domain"
)

var ErrNoPublication = errors.New("no such publication")

// Fanout indexes live producers across all sessions and remembers which
// consumers hang off each, so closing a producer can close its consumers.
type Fanout struct {
	mu   sync.RWMutex
	pubs map[string]*Publication
}

func NewFanout() *Fanout {
	return &Fanout{pubs: make(map[string]*Publication)}
}

// Publish registers a producer. Publishing an existing id is a no-op.
func (f *Fanout) Publish(info domain.ProducerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pubs[info.ID]; ok {
		return
	}
	f.pubs[info.ID] = newPublication(info)
	log.Info().Str("module", "sfu").Str("sid", string(info.ClientID)).Str("producer", info.ID).Str("kind", info.Kind).Msg("published")
}

func (f *Fanout) Lookup(producerID string) (domain.ProducerInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pub, ok := f.pubs[producerID]
	if !ok {
		return domain.ProducerInfo{}, false
	}
	return pub.Info, true
}

// Subscribe attaches a consumer. It fails once the producer is unpublished,
// even if the caller looked it up a moment earlier.
func (f *Fanout) Subscribe(producerID string, client domain.ClientID, consumerID string) error {
	f.mu.RLock()
	pub, ok := f.pubs[producerID]
	f.mu.RUnlock()
	if !ok || !pub.add(NewSubscriber(client, consumerID)) {
		return ErrNoPublication
	}
	return nil
}

func (f *Fanout) Unsubscribe(producerID, consumerID string) {
	f.mu.RLock()
	pub, ok := f.pubs[producerID]
	f.mu.RUnlock()
	if ok {
		pub.remove(consumerID)
	}
}

// MarkActive flags a subscriber as resumed.
func (f *Fanout) MarkActive(producerID, consumerID string) {
	f.mu.RLock()
	pub, ok := f.pubs[producerID]
	f.mu.RUnlock()
	if !ok {
		return
	}
	if sub, ok := pub.subscriber(consumerID); ok {
		sub.MarkActive()
	}
}

// Unpublish removes a producer and returns the consumers that were
// attached to it. The bool is false if the producer was not published.
func (f *Fanout) Unpublish(producerID string) (domain.ProducerInfo, []*Subscriber, bool) {
	f.mu.Lock()
	pub, ok := f.pubs[producerID]
	if ok {
		delete(f.pubs, producerID)
	}
	f.mu.Unlock()
	if !ok {
		return domain.ProducerInfo{}, nil, false
	}
	subs := pub.close()
	log.Info().Str("module", "sfu").Str("producer", producerID).Int("subscribers", len(subs)).Msg("unpublished")
	return pub.Info, subs, true
}

// List returns every live producer not owned by except, oldest first.
func (f *Fanout) List(except domain.ClientID) []domain.ProducerInfo {
	f.mu.RLock()
	out := make([]domain.ProducerInfo, 0, len(f.pubs))
	for _, pub := range f.pubs {
		if pub.Info.ClientID != except {
			out = append(out, pub.Info)
		}
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pubs)
}
