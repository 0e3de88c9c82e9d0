package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
)

// Registry maps connected clients to their sessions. It is the only
// process-wide mutable state besides the producer index.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ClientID]*core.Session

	maxSessions int
	metrics     *metrics.Metrics
	onClose     func(*core.Session)
}

// NewRegistry creates an empty registry. maxSessions <= 0 means unlimited.
func NewRegistry(maxSessions int, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions:    make(map[domain.ClientID]*core.Session),
		maxSessions: maxSessions,
		metrics:     m,
	}
}

// OnClose sets the teardown hook run synchronously by Close.
func (r *Registry) OnClose(fn func(*core.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = fn
}

func (r *Registry) Open(id domain.ClientID, signal core.SignalConnection) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, core.ErrDuplicateSession.Withf("session %s already exists", id)
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		log.Warn().Str("module", "app.registry").Str("sid", string(id)).Int("max", r.maxSessions).Msg("session cap reached")
		return nil, core.ErrTooManySessions
	}
	sess := core.NewSession(id, signal)
	r.sessions[id] = sess
	r.metrics.SessionOpened()
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Int("sessions", len(r.sessions)).Msg("opened session")
	return sess, nil
}

func (r *Registry) Get(id domain.ClientID) (*core.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	return nil, core.ErrUnknownSession.Withf("unknown session %s", id)
}

// Close removes the session and tears it down before returning.
// Closing an unknown or already closed session is a no-op.
func (r *Registry) Close(id domain.ClientID) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	onClose := r.onClose
	left := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.SessionClosed()
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Int("sessions", left).Msg("closed session")

	if onClose != nil {
		onClose(sess)
	} else {
		sess.Close()
	}
}

// CloseAll tears every session down concurrently; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]domain.ClientID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	p := pool.New().WithMaxGoroutines(16)
	for _, id := range ids {
		p.Go(func() { r.Close(id) })
	}
	p.Wait()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Others returns every session except the one for id.
func (r *Registry) Others(id domain.ClientID) []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.sessions))
	for sid, s := range r.sessions {
		if sid != id {
			out = append(out, s)
		}
	}
	return out
}

// BroadcastFrom sends a notification to everyone but the sender.
func (r *Registry) BroadcastFrom(from domain.ClientID, typ string, data any) core.PublishResult {
	res := core.PublishResult{}
	for _, s := range r.Others(from) {
		if err := s.Notify(typ, data); err != nil {
			res.Dropped = append(res.Dropped, s)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.registry").Str("from", string(from)).Str("type", typ).
		Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Snapshot is a read-only listing ordered by connect time.
func (r *Registry) Snapshot() []core.SessionInfo {
	r.mu.RLock()
	sessions := make([]*core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]core.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
