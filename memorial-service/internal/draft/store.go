// Package draft keeps the in-progress memorial of one wizard session and
// synchronises it to the remote store with a local fallback.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"memorial-server/memorial-service/internal/metrics"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	snapshotKeyPrefix = "memorial_draft:"
	remoteIDKeyPrefix = "memorial_draft_id:"
)

// SaveTarget names where an autosave landed.
type SaveTarget string

const (
	SavedRemote SaveTarget = "remote"
	SavedLocal  SaveTarget = "local"
	SavedNone   SaveTarget = "none"
)

// SaveResult describes one autosave. RemoteErr is set whenever the remote
// upsert failed, even if the local fallback succeeded.
type SaveResult struct {
	Target    SaveTarget `json:"target"`
	RemoteID  string     `json:"remoteId,omitempty"`
	RemoteErr error      `json:"-"`
}

// Store owns the draft of one session. Every read and write goes through its
// mutex, so request handlers and the upload drain goroutine can share it.
type Store struct {
	mu       sync.Mutex
	saveMu   sync.Mutex
	draft    *models.Draft
	remoteID string
	// published is set once the draft became a published memorial; remote
	// saves are refused from then on.
	published bool

	session   models.Session
	memorials interfaces.MemorialRepository
	fallback  interfaces.FallbackStore
	notifier  interfaces.Notifier
	policy    retry.Policy
	logger    *zap.Logger
}

// NewStore creates a store holding an empty draft until Hydrate runs.
func NewStore(
	session models.Session,
	memorials interfaces.MemorialRepository,
	fallback interfaces.FallbackStore,
	notifier interfaces.Notifier,
	policy retry.Policy,
	logger *zap.Logger,
) *Store {
	return &Store{
		draft:     models.NewDraft(),
		session:   session,
		memorials: memorials,
		fallback:  fallback,
		notifier:  notifier,
		policy:    policy,
		logger:    logger.Named("DraftStore").With(zap.String("session", session.Namespace())),
	}
}

func (s *Store) Session() models.Session { return s.session }

func (s *Store) snapshotKey() string { return snapshotKeyPrefix + s.session.Namespace() }
func (s *Store) remoteIDKey() string { return remoteIDKeyPrefix + s.session.Namespace() }

// Hydrate loads the draft: the cached remote record for a signed-in user
// first, then the local snapshot, then an empty draft.
func (s *Store) Hydrate(ctx context.Context) (*models.Draft, error) {
	d, source := s.loadRemote(ctx), "remote"
	if d == nil {
		var err error
		d, err = s.LoadLocalFallback(ctx)
		source = "local"
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				s.logger.Warn("Local draft snapshot unreadable, starting empty", zap.Error(err))
			}
			d, source = models.NewDraft(), "empty"
		}
	}

	s.mu.Lock()
	s.draft = d
	if d.ID != "" && source == "remote" {
		s.remoteID = d.ID
	}
	s.mu.Unlock()

	s.logger.Info("Draft hydrated", zap.String("source", source), zap.String("draftID", d.ID))
	return d.Clone(), nil
}

func (s *Store) loadRemote(ctx context.Context) *models.Draft {
	if !s.session.Authenticated() {
		return nil
	}
	cached, err := s.fallback.Get(ctx, s.remoteIDKey())
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("Failed to read cached draft id", zap.Error(err))
		}
		return nil
	}
	id, err := uuid.Parse(cached)
	if err != nil {
		s.logger.Warn("Cached draft id is not a uuid, dropping it", zap.String("cached", cached))
		_ = s.fallback.Remove(ctx, s.remoteIDKey())
		return nil
	}

	rec, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*models.MemorialRecord, error) {
		return s.memorials.GetByID(ctx, id, s.session.UserID)
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrForbidden) {
			s.logger.Warn("Cached draft no longer available to this user, dropping it", zap.String("draftID", cached), zap.Error(err))
			_ = s.fallback.Remove(ctx, s.remoteIDKey())
		} else {
			s.logger.Warn("Failed to fetch remote draft, trying local snapshot", zap.Error(err))
		}
		return nil
	}
	d, err := FromRecord(rec)
	if err != nil {
		s.logger.Error("Remote draft payload unreadable", zap.Error(err))
		return nil
	}
	return d
}

// Draft returns a copy of the current draft.
func (s *Store) Draft() *models.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// Snapshot is Draft; it lets the store serve as a publish source.
func (s *Store) Snapshot() *models.Draft { return s.Draft() }

// RemoteID returns the cached remote record id, or "".
func (s *Store) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// Mutate applies fn to the live draft under the lock. A failing fn leaves
// the draft untouched.
func (s *Store) Mutate(fn func(d *models.Draft) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.draft.Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.UpdatedAt = time.Now().UTC()
	s.draft = work
	return nil
}

// Autosave upserts the draft remotely and falls back to the local snapshot.
// It never fails the editing session; the outcome is reported in SaveResult
// and through the notifier.
func (s *Store) Autosave(ctx context.Context) SaveResult {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	log := s.logger
	if s.Published() {
		log.Debug("Autosave skipped, memorial already published")
		return SaveResult{Target: SavedNone, RemoteErr: models.ErrAlreadyPublished}
	}
	remoteID, err := s.saveRemote(ctx)
	if err == nil {
		metrics.AutosavesTotal.WithLabelValues(string(SavedRemote)).Inc()
		if rmErr := s.fallback.Remove(ctx, s.snapshotKey()); rmErr != nil {
			log.Debug("Failed to drop local snapshot after remote save", zap.Error(rmErr))
		}
		log.Debug("Draft saved remotely", zap.String("draftID", remoteID))
		return SaveResult{Target: SavedRemote, RemoteID: remoteID}
	}

	log.Warn("Remote autosave failed, falling back to local snapshot", zap.Error(err))
	if localErr := s.SaveLocalFallback(ctx); localErr != nil {
		metrics.AutosavesTotal.WithLabelValues(string(SavedNone)).Inc()
		log.Error("Local fallback save failed too", zap.Error(localErr))
		s.notify(ctx, models.LevelError, "We couldn't save your draft right now. Keep this page open and try again.")
		return SaveResult{Target: SavedNone, RemoteErr: err}
	}

	metrics.AutosavesTotal.WithLabelValues(string(SavedLocal)).Inc()
	msg := "Cloud sync is unavailable. Your draft was saved on this device."
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		msg = fmt.Sprintf("Your draft was saved on this device. Fix %s to sync it: %s.", vErr.Field, vErr.Message)
	case models.IsAuthorization(err):
		msg = "Sign in to save your draft to your account. It was saved on this device for now."
	}
	s.notify(ctx, models.LevelWarning, msg)
	return SaveResult{Target: SavedLocal, RemoteErr: err}
}

func (s *Store) saveRemote(ctx context.Context) (string, error) {
	if !s.session.Authenticated() {
		return "", models.ErrUnauthorized
	}
	rec, err := s.prepareRecord()
	if err != nil {
		return "", err
	}

	if rec.ID != uuid.Nil {
		err = retry.Run(ctx, s.policy, func(ctx context.Context) error {
			return s.memorials.Update(ctx, rec)
		})
		if err == nil {
			return rec.ID.String(), nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return "", fmt.Errorf("%w: %w", models.ErrPersistence, err)
		}
		s.logger.Warn("Cached draft vanished remotely, inserting a new one", zap.String("draftID", rec.ID.String()))
		rec.ID = uuid.Nil
	}

	rec.ID = uuid.New()
	if err := retry.Run(ctx, s.policy, func(ctx context.Context) error {
		return s.memorials.Create(ctx, rec)
	}); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	s.BindRemoteID(ctx, rec.ID.String())
	return rec.ID.String(), nil
}

// prepareRecord seals the password and builds the parent row from the live draft.
func (s *Store) prepareRecord() (*models.MemorialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed, err := SealSettings(s.draft.Settings)
	if err != nil {
		return nil, err
	}
	s.draft.Settings = sealed
	work := s.draft.Clone()
	if s.remoteID != "" {
		work.ID = s.remoteID
	}
	return ToRecord(work, s.session.UserID)
}

// BindRemoteID caches the remote id in memory, on the draft and in the fallback store.
func (s *Store) BindRemoteID(ctx context.Context, id string) {
	s.mu.Lock()
	s.remoteID = id
	s.draft.ID = id
	s.mu.Unlock()
	if err := s.fallback.Set(ctx, s.remoteIDKey(), id); err != nil {
		s.logger.Warn("Failed to cache remote draft id", zap.String("draftID", id), zap.Error(err))
	}
}

// SaveLocalFallback writes the whole draft as JSON to the fallback store.
func (s *Store) SaveLocalFallback(ctx context.Context) error {
	s.mu.Lock()
	payload, err := s.draft.Snapshot()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialise draft: %w", err)
	}
	return s.fallback.Set(ctx, s.snapshotKey(), string(payload))
}

// LoadLocalFallback reads the local snapshot. models.ErrNotFound when absent.
func (s *Store) LoadLocalFallback(ctx context.Context) (*models.Draft, error) {
	raw, err := s.fallback.Get(ctx, s.snapshotKey())
	if err != nil {
		return nil, err
	}
	d := models.NewDraft()
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		return nil, fmt.Errorf("failed to decode local draft snapshot: %w", err)
	}
	if d.Services == nil {
		d.Services = []models.Service{}
	}
	if d.Moments == nil {
		d.Moments = []models.Moment{}
	}
	return d, nil
}

// HoldSaves blocks autosaves until release is called. Publish holds it so a
// debounced save can neither interleave with nor follow the publish writes.
func (s *Store) HoldSaves() (release func()) {
	s.saveMu.Lock()
	return s.saveMu.Unlock
}

// Published reports whether ClearMarkers retired this draft.
func (s *Store) Published() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// ClearMarkers forgets the cached remote id and the local snapshot after a
// publish and retires the store: the in-memory draft is kept for the
// confirmation screen, but it is detached from the published row and never
// saved remotely again.
func (s *Store) ClearMarkers(ctx context.Context) error {
	s.mu.Lock()
	s.remoteID = ""
	s.draft.ID = ""
	s.published = true
	s.mu.Unlock()
	if err := s.fallback.Remove(ctx, s.remoteIDKey(), s.snapshotKey()); err != nil {
		return fmt.Errorf("failed to clear draft markers: %w", err)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, level models.NotificationLevel, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, models.Notification{
		Recipient: s.session.Namespace(),
		Kind:      models.KindToast,
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	})
}
