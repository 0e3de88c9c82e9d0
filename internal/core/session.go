package core

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/engine"
)

// TrackState is the negotiation state of one (direction, slot) transport.
type TrackState int

const (
	TrackNone TrackState = iota
	TrackCreating
	TrackReady
	TrackConnecting
	TrackConnected
)

func (s TrackState) String() string {
	switch s {
	case TrackCreating:
		return "creating"
	case TrackReady:
		return "ready"
	case TrackConnecting:
		return "connecting"
	case TrackConnected:
		return "connected"
	default:
		return "none"
	}
}

type trackKey struct {
	dir  domain.Direction
	slot domain.Slot
}

type TransportHandle struct {
	Direction domain.Direction
	Slot      domain.Slot
	Transport engine.Transport
	state     TrackState
}

type ProducerHandle struct {
	Slot     domain.Slot
	Producer engine.Producer
	Since    time.Time
}

type ConsumerHandle struct {
	Slot     domain.Slot
	Consumer engine.Consumer
}

// Teardown is everything a session held at the moment it closed.
type Teardown struct {
	Transports []*TransportHandle
	Producers  []*ProducerHandle
	Consumers  []*ConsumerHandle
}

// Session is the per-client negotiation state. Every mutation goes through
// mu; engine calls happen outside of it between a begin and a commit step.
type Session struct {
	id        domain.ClientID
	signal    SignalConnection
	createdAt time.Time

	mu         sync.Mutex
	closed     bool
	transports map[trackKey]*TransportHandle
	producers  map[string]*ProducerHandle
	consumers  map[string]*ConsumerHandle
}

func NewSession(id domain.ClientID, signal SignalConnection) *Session {
	return &Session{
		id:         id,
		signal:     signal,
		createdAt:  time.Now(),
		transports: make(map[trackKey]*TransportHandle),
		producers:  make(map[string]*ProducerHandle),
		consumers:  make(map[string]*ConsumerHandle),
	}
}

func (s *Session) ID() domain.ClientID      { return s.id }
func (s *Session) Signal() SignalConnection { return s.signal }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ReserveTransport claims the (dir, slot) pair before the engine is asked
// for a transport, so a concurrent duplicate request fails fast.
func (s *Session) ReserveTransport(dir domain.Direction, slot domain.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	k := trackKey{dir, slot}
	if _, ok := s.transports[k]; ok {
		return ErrTransportAlreadyExists.Withf("%s transport %q already exists", dir, slot)
	}
	s.transports[k] = &TransportHandle{Direction: dir, Slot: slot, state: TrackCreating}
	return nil
}

// ReleaseReservation undoes ReserveTransport after an engine failure.
func (s *Session) ReleaseReservation(dir domain.Direction, slot domain.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trackKey{dir, slot}
	if h, ok := s.transports[k]; ok && h.state == TrackCreating {
		delete(s.transports, k)
	}
}

// CommitTransport stores t. On error the caller owns t and must close it.
func (s *Session) CommitTransport(dir domain.Direction, slot domain.Slot, t engine.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	h, ok := s.transports[trackKey{dir, slot}]
	if !ok || h.state != TrackCreating {
		return ErrSessionClosed
	}
	h.Transport = t
	h.state = TrackReady
	return nil
}

// BeginConnect moves a ready transport to connecting and hands it out.
func (s *Session) BeginConnect(dir domain.Direction, slot domain.Slot) (engine.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	h, ok := s.transports[trackKey{dir, slot}]
	if !ok || h.state == TrackCreating {
		return nil, ErrTransportNotFound.Withf("no %s transport %q", dir, slot)
	}
	if h.state != TrackReady {
		return nil, ErrAlreadyConnected.Withf("%s transport %q is %s", dir, slot, h.state)
	}
	h.state = TrackConnecting
	return h.Transport, nil
}

// EndConnect finishes BeginConnect. A failed connect returns the transport
// to ready so the client may retry with other parameters.
func (s *Session) EndConnect(dir domain.Direction, slot domain.Slot, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	h, found := s.transports[trackKey{dir, slot}]
	if !found || h.state != TrackConnecting {
		return ErrSessionClosed
	}
	if ok {
		h.state = TrackConnected
	} else {
		h.state = TrackReady
	}
	return nil
}

// ConnectedTransport returns the transport only if it finished connecting.
func (s *Session) ConnectedTransport(dir domain.Direction, slot domain.Slot) (engine.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	h, ok := s.transports[trackKey{dir, slot}]
	if !ok || h.state != TrackConnected {
		return nil, ErrTransportNotConnected.Withf("%s transport %q is not connected", dir, slot)
	}
	return h.Transport, nil
}

func (s *Session) TrackState(dir domain.Direction, slot domain.Slot) TrackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.transports[trackKey{dir, slot}]; ok {
		return h.state
	}
	return TrackNone
}

// AddProducer records p. On error the caller owns p and must close it.
func (s *Session) AddProducer(slot domain.Slot, p engine.Producer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.producers[p.ID()] = &ProducerHandle{Slot: slot, Producer: p, Since: time.Now()}
	return nil
}

func (s *Session) RemoveProducer(id string) (*ProducerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.producers[id]
	if ok {
		delete(s.producers, id)
	}
	return h, ok
}

// AddConsumer records c. On error the caller owns c and must close it.
func (s *Session) AddConsumer(slot domain.Slot, c engine.Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.consumers[c.ID()] = &ConsumerHandle{Slot: slot, Consumer: c}
	return nil
}

func (s *Session) Consumer(id string) (*ConsumerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	h, ok := s.consumers[id]
	if !ok {
		return nil, ErrConsumerNotFound.Withf("consumer %q not found", id)
	}
	return h, nil
}

func (s *Session) RemoveConsumer(id string) (*ConsumerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.consumers[id]
	if ok {
		delete(s.consumers, id)
	}
	return h, ok
}

// Close marks the session closed and hands every held handle to the caller
// for release. Only the first call returns a Teardown.
func (s *Session) Close() *Teardown {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	td := &Teardown{}
	for _, h := range s.consumers {
		td.Consumers = append(td.Consumers, h)
	}
	for _, h := range s.producers {
		td.Producers = append(td.Producers, h)
	}
	for _, h := range s.transports {
		// reservations still in flight are closed by their own commit step
		if h.Transport != nil {
			td.Transports = append(td.Transports, h)
		}
	}
	s.consumers = map[string]*ConsumerHandle{}
	s.producers = map[string]*ProducerHandle{}
	s.transports = map[trackKey]*TransportHandle{}
	return td
}

// Notify pushes a server-initiated message to the client.
func (s *Session) Notify(typ string, data any) error {
	if s.signal == nil {
		return nil
	}
	b, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: typ, Data: data})
	if err != nil {
		return err
	}
	return s.signal.TrySend(b)
}

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	ClientID   domain.ClientID `json:"clientId"`
	CreatedAt  time.Time       `json:"createdAt"`
	Closed     bool            `json:"closed"`
	Transports []TrackInfo     `json:"transports"`
	Producers  []string        `json:"producers"`
	Consumers  []string        `json:"consumers"`
}

type TrackInfo struct {
	ID        string           `json:"id,omitempty"`
	Direction domain.Direction `json:"direction"`
	Slot      domain.Slot      `json:"slot"`
	State     string           `json:"state"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ClientID:   s.id,
		CreatedAt:  s.createdAt,
		Closed:     s.closed,
		Transports: make([]TrackInfo, 0, len(s.transports)),
		Producers:  make([]string, 0, len(s.producers)),
		Consumers:  make([]string, 0, len(s.consumers)),
	}
	for k, h := range s.transports {
		ti := TrackInfo{Direction: k.dir, Slot: k.slot, State: h.state.String()}
		if h.Transport != nil {
			ti.ID = h.Transport.ID()
		}
		info.Transports = append(info.Transports, ti)
	}
	for id := range s.producers {
		info.Producers = append(info.Producers, id)
	}
	for id := range s.consumers {
		info.Consumers = append(info.Consumers, id)
	}
	sort.Slice(info.Transports, func(i, j int) bool {
		a, b := info.Transports[i], info.Transports[j]
		if a.Direction != b.Direction {
			return a.Direction > b.Direction
		}
		return a.Slot < b.Slot
	})
	sort.Strings(info.Producers)
	sort.Strings(info.Consumers)
	return info
}
