package service

import (
	"context"
	"errors"
	"time"

	"memorial-server/memorial-service/internal/assets"
	"memorial-server/memorial-service/internal/draft"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/memorial-service/internal/session"
	"memorial-server/memorial-service/internal/uploads"
	"memorial-server/memorial-service/internal/wizard"
	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"go.uber.org/zap"
)

// SessionDeps are the shared collaborators every wizard session is built from.
type SessionDeps struct {
	Memorials        interfaces.MemorialRepository
	Fallback         interfaces.FallbackStore
	Notifier         interfaces.Notifier
	Uploader         uploads.Uploader
	Previews         *uploads.PreviewRegistry
	Renderer         *wizard.Renderer
	Steps            []wizard.Step
	Limits           assets.Limits
	MaxBatchFiles    int
	MaxPendingBytes  int64
	AssetFolder      string
	AutosavePolicy   retry.Policy
	AutosaveDebounce time.Duration
	AutosaveTimeout  time.Duration
}

// NewSessionFactory returns the registry factory: it hydrates the draft and
// wires store, autosaver, upload queue and wizard of one visitor.
func NewSessionFactory(deps SessionDeps, logger *zap.Logger) session.Factory {
	log := logger.Named("SessionFactory")
	return func(ctx context.Context, identity models.Session) (*session.Session, error) {
		sessLog := logger.With(zap.String("session", identity.Namespace()))

		store := draft.NewStore(identity, deps.Memorials, deps.Fallback, deps.Notifier, deps.AutosavePolicy, sessLog)
		hydrated, err := store.Hydrate(ctx)
		if err != nil {
			return nil, err
		}
		if identity.Authenticated() && identity.ClientKey != "" && isBlank(hydrated) {
			adoptAnonymousDraft(ctx, store, identity, deps, log)
		}

		autosaver := draft.NewAutosaver(store, deps.AutosaveDebounce, deps.AutosaveTimeout, nil, sessLog)
		queue := uploads.NewQueue(uploads.QueueConfig{
			Recipient: identity.Namespace(),
			Folder:    deps.AssetFolder,
			Tags:      []string{"memorial-wizard"},
			Limits:    deps.Limits,

			MaxBatchFiles:   deps.MaxBatchFiles,
			MaxPendingBytes: deps.MaxPendingBytes,
		}, deps.Uploader, store, deps.Previews, deps.Notifier, sessLog)

		wz, err := wizard.New(deps.Steps, store, autosaver, deps.Renderer, sessLog)
		if err != nil {
			queue.Close()
			return nil, err
		}
		return session.New(identity, store, wz, queue, autosaver), nil
	}
}

func isBlank(d *models.Draft) bool {
	return d.ID == "" && d.DisplayName() == "" && len(d.Moments) == 0 && d.Story.ObituaryHTML == ""
}

// adoptAnonymousDraft carries the local snapshot a visitor built before
// signing in over to their account session.
func adoptAnonymousDraft(ctx context.Context, store *draft.Store, identity models.Session, deps SessionDeps, log *zap.Logger) {
	anon := draft.NewStore(models.Session{ClientKey: identity.ClientKey}, deps.Memorials, deps.Fallback, nil, deps.AutosavePolicy, log)
	snapshot, err := anon.LoadLocalFallback(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Warn("Failed to read anonymous draft snapshot", zap.Error(err))
		}
		return
	}
	snapshot.ID = ""
	if err := store.Mutate(func(d *models.Draft) error {
		*d = *snapshot
		return nil
	}); err != nil {
		log.Warn("Failed to adopt anonymous draft", zap.Error(err))
		return
	}
	if err := anon.ClearMarkers(ctx); err != nil {
		log.Warn("Failed to clear anonymous draft snapshot", zap.Error(err))
	}
	log.Info("Anonymous draft adopted after sign-in", zap.String("session", identity.Namespace()))
}
