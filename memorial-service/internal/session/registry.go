package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"memorial-server/memorial-service/internal/metrics"
	"memorial-server/shared/models"

	"go.uber.org/zap"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 2 * time.Hour

// Factory builds and hydrates the session of identity.
type Factory func(ctx context.Context, identity models.Session) (*Session, error)

// Registry maps visitor namespaces to live sessions and evicts idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewRegistry(factory Factory, ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.Named("SessionRegistry"),
	}
}

// Open returns the session of identity, creating and hydrating it when absent.
// created is true for a new session.
func (r *Registry) Open(ctx context.Context, identity models.Session) (s *Session, created bool, err error) {
	key := identity.Namespace()
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		s.Touch(r.now())
		return s, false, nil
	}
	s, err = r.factory(ctx, identity)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start wizard session: %w", err)
	}
	s.Touch(r.now())
	r.sessions[key] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.logger.Info("Wizard session started", zap.String("session", key))
	return s, true, nil
}

// Get returns the live session of identity or models.ErrNotFound.
func (r *Registry) Get(identity models.Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity.Namespace()]
	if !ok {
		return nil, fmt.Errorf("wizard session: %w", models.ErrNotFound)
	}
	s.Touch(r.now())
	return s, nil
}

// Remove closes and forgets the session of identity.
func (r *Registry) Remove(identity models.Session) {
	r.mu.Lock()
	s, ok := r.sessions[identity.Namespace()]
	delete(r.sessions, identity.Namespace())
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the TTL. Sessions with an
// operation or upload in flight are kept.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	var evicted []*Session

	r.mu.Lock()
	for key, s := range r.sessions {
		if s.LastSeen().After(cutoff) || s.Busy() || s.Uploading() {
			continue
		}
		delete(r.sessions, key)
		evicted = append(evicted, s)
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range evicted {
		s.Close()
		r.logger.Info("Idle wizard session evicted", zap.String("session", s.Key()))
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll closes every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, key)
	}
	metrics.ActiveSessions.Set(0)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
