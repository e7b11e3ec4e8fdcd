// Package session holds the live wizard sessions of the service.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"memorial-server/memorial-service/internal/draft"
	"memorial-server/memorial-service/internal/uploads"
	"memorial-server/memorial-service/internal/wizard"
	"memorial-server/shared/models"
)

// Session bundles the per-visitor wizard components.
type Session struct {
	Identity  models.Session
	Store     *draft.Store
	Wizard    *wizard.Wizard
	Queue     *uploads.Queue
	Autosaver *draft.Autosaver

	busy      atomic.Bool
	lastSeen  atomic.Int64
	closeOnce sync.Once
}

// New assembles a session from already built components.
func New(identity models.Session, store *draft.Store, wz *wizard.Wizard, queue *uploads.Queue, autosaver *draft.Autosaver) *Session {
	s := &Session{
		Identity:  identity,
		Store:     store,
		Wizard:    wz,
		Queue:     queue,
		Autosaver: autosaver,
	}
	s.Touch(time.Now())
	return s
}

// Key is the registry key of the session.
func (s *Session) Key() string { return s.Identity.Namespace() }

// Exclusive runs fn unless another user-triggered operation is in flight,
// in which case it fails with models.ErrOperationInFlight without waiting.
func (s *Session) Exclusive(fn func() error) error {
	if !s.busy.CompareAndSwap(false, true) {
		return models.ErrOperationInFlight
	}
	defer s.busy.Store(false)
	s.Touch(time.Now())
	return fn()
}

// Busy reports whether an exclusive operation is running.
func (s *Session) Busy() bool { return s.busy.Load() }

// Touch records activity at t.
func (s *Session) Touch(t time.Time) { s.lastSeen.Store(t.UnixNano()) }

// LastSeen is the time of the last recorded activity.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Uploading reports whether the upload queue is draining.
func (s *Session) Uploading() bool {
	return s.Queue != nil && s.Queue.State() == uploads.Draining
}

// State is the wizard state with the upload flag filled in.
func (s *Session) State() wizard.State {
	st := s.Wizard.State()
	st.Uploading = s.Uploading()
	return st
}

// Close stops the autosave timer and aborts uploads. Safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Autosaver != nil {
			s.Autosaver.Stop()
		}
		if s.Queue != nil {
			s.Queue.Close()
		}
	})
}
