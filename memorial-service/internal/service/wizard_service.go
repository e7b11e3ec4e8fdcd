package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-server/memorial-service/internal/assets"
	"memorial-server/memorial-service/internal/draft"
	"memorial-server/memorial-service/internal/publish"
	"memorial-server/memorial-service/internal/session"
	"memorial-server/memorial-service/internal/uploads"
	"memorial-server/memorial-service/internal/wizard"
	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"go.uber.org/zap"
)

// WizardService определяет операции мастера создания мемориала.
// Every mutating call is rejected with models.ErrOperationInFlight while
// another one of the same session is running.
type WizardService interface {
	Start(ctx context.Context, identity models.Session) (*wizard.State, error)
	State(ctx context.Context, identity models.Session) (*wizard.State, error)
	UpdateForm(ctx context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error)
	Next(ctx context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error)
	Previous(ctx context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error)
	Skip(ctx context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error)
	Upload(ctx context.Context, identity models.Session, files []assets.File) (*UploadResponse, error)
	ReorderMoments(ctx context.Context, identity models.Session, ids []string) (*wizard.State, error)
	EditMoment(ctx context.Context, identity models.Session, id string, edit wizard.MomentEdit) (*models.Moment, error)
	RemoveMoment(ctx context.Context, identity models.Session, id string) (*wizard.State, error)
	Save(ctx context.Context, identity models.Session) (*SaveResponse, error)
	Preview(ctx context.Context, identity models.Session) (string, error)
	Publish(ctx context.Context, identity models.Session) (*models.PublishedRecord, error)
}

// UploadResponse lists placeholders and rejections together with the new state.
type UploadResponse struct {
	uploads.EnqueueResult
	State wizard.State `json:"state"`
}

// SaveResponse reports where an explicit save landed.
type SaveResponse struct {
	draft.SaveResult
	State wizard.State `json:"state"`
}

type wizardServiceImpl struct {
	sessions  *session.Registry
	publisher *publish.Orchestrator
	assets    AssetService
	notifier  interfaces.Notifier
	logger    *zap.Logger
}

func NewWizardService(
	sessions *session.Registry,
	publisher *publish.Orchestrator,
	assetService AssetService,
	notifier interfaces.Notifier,
	logger *zap.Logger,
) WizardService {
	return &wizardServiceImpl{
		sessions:  sessions,
		publisher: publisher,
		assets:    assetService,
		notifier:  notifier,
		logger:    logger.Named("WizardService"),
	}
}

// Start гидрирует сессию или возвращает уже существующую.
func (s *wizardServiceImpl) Start(ctx context.Context, identity models.Session) (*wizard.State, error) {
	sess, created, err := s.sessions.Open(ctx, identity)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("Wizard started", zap.String("session", identity.Namespace()))
	}
	st := sess.State()
	return &st, nil
}

func (s *wizardServiceImpl) State(_ context.Context, identity models.Session) (*wizard.State, error) {
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return nil, err
	}
	st := sess.State()
	return &st, nil
}

func (s *wizardServiceImpl) UpdateForm(_ context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error) {
	return s.transition(identity, func(sess *session.Session) error {
		return sess.Wizard.UpdateForm(form)
	})
}

func (s *wizardServiceImpl) Next(_ context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error) {
	return s.transition(identity, func(sess *session.Session) error {
		return sess.Wizard.Next(form)
	})
}

func (s *wizardServiceImpl) Previous(_ context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error) {
	return s.transition(identity, func(sess *session.Session) error {
		return sess.Wizard.Previous(form)
	})
}

func (s *wizardServiceImpl) Skip(_ context.Context, identity models.Session, form *wizard.Form) (*wizard.State, error) {
	return s.transition(identity, func(sess *session.Session) error {
		return sess.Wizard.Skip(form)
	})
}

func (s *wizardServiceImpl) ReorderMoments(_ context.Context, identity models.Session, ids []string) (*wizard.State, error) {
	return s.transition(identity, func(sess *session.Session) error {
		return sess.Wizard.ReorderMoments(ids)
	})
}

// transition runs fn under the session busy guard and returns the new state.
func (s *wizardServiceImpl) transition(identity models.Session, fn func(sess *session.Session) error) (*wizard.State, error) {
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return nil, err
	}
	if err := sess.Exclusive(func() error { return fn(sess) }); err != nil {
		return nil, err
	}
	st := sess.State()
	return &st, nil
}

func (s *wizardServiceImpl) Upload(ctx context.Context, identity models.Session, files []assets.File) (*UploadResponse, error) {
	if len(files) == 0 {
		return nil, models.NewValidationError("files", "choose at least one photo or video")
	}
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return nil, err
	}
	var res *uploads.EnqueueResult
	if err := sess.Exclusive(func() error {
		var enqErr error
		res, enqErr = sess.Queue.Enqueue(ctx, files)
		return enqErr
	}); err != nil {
		return nil, err
	}
	return &UploadResponse{EnqueueResult: *res, State: sess.State()}, nil
}

func (s *wizardServiceImpl) EditMoment(_ context.Context, identity models.Session, id string, edit wizard.MomentEdit) (*models.Moment, error) {
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return nil, err
	}
	var m models.Moment
	if err := sess.Exclusive(func() error {
		var editErr error
		m, editErr = sess.Wizard.EditMoment(id, edit)
		return editErr
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

// RemoveMoment убирает момент из черновика и удаляет его файл из хранилища.
// A failed asset deletion does not undo the removal.
func (s *wizardServiceImpl) RemoveMoment(ctx context.Context, identity models.Session, id string) (*wizard.State, error) {
	return s.transition(identity, func(sess *session.Session) error {
		removed, err := sess.Wizard.RemoveMoment(id)
		if err != nil {
			return err
		}
		if removed.RemotePublicID == "" {
			return nil
		}
		log := s.logger.With(zap.String("session", identity.Namespace()), zap.String("publicID", removed.RemotePublicID))
		if !identity.Authenticated() {
			log.Info("Anonymous visitor removed an uploaded moment, asset kept")
			return nil
		}
		// the moment is gone from the draft already, so ownership is proven by the session itself
		if err := s.assets.DeleteOwned(ctx, identity, removed.RemotePublicID, assets.ResourceType(removed.Type), true); err != nil {
			log.Warn("Failed to delete asset of removed moment", zap.Error(err))
			s.toast(ctx, identity, models.LevelWarning, "The moment was removed, but its file could not be deleted yet.")
		}
		return nil
	})
}

// Save сохраняет черновик немедленно (кнопка «Сохранить черновик»).
func (s *wizardServiceImpl) Save(ctx context.Context, identity models.Session) (*SaveResponse, error) {
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return nil, err
	}
	var res draft.SaveResult
	if err := sess.Exclusive(func() error {
		if err := sess.Wizard.Collect(); err != nil {
			return err
		}
		res = sess.Autosaver.Flush(ctx)
		if errors.Is(res.RemoteErr, models.ErrAlreadyPublished) {
			return res.RemoteErr
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if res.Target == draft.SavedRemote {
		s.toast(ctx, identity, models.LevelSuccess, "Draft saved.")
	}
	return &SaveResponse{SaveResult: res, State: sess.State()}, nil
}

func (s *wizardServiceImpl) Preview(_ context.Context, identity models.Session) (string, error) {
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return "", err
	}
	return sess.Wizard.RenderPreview()
}

// Publish публикует мемориал; доступно только с последнего шага.
func (s *wizardServiceImpl) Publish(ctx context.Context, identity models.Session) (*models.PublishedRecord, error) {
	sess, err := s.sessions.Get(identity)
	if err != nil {
		return nil, err
	}
	var rec *models.PublishedRecord
	err = sess.Exclusive(func() error {
		if !sess.Wizard.AtFinalStep() {
			return models.ErrNotFinalStep
		}
		if err := sess.Wizard.Collect(); err != nil {
			return fmt.Errorf("failed to collect final step: %w", err)
		}
		sess.Autosaver.Cancel()
		var pubErr error
		rec, pubErr = s.publisher.Publish(ctx, sess.Store)
		if pubErr != nil {
			return pubErr
		}
		// Опубликованный черновик больше не сохраняется автоматически.
		sess.Autosaver.Stop()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *wizardServiceImpl) toast(ctx context.Context, identity models.Session, level models.NotificationLevel, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, models.Notification{
		Recipient: identity.Namespace(),
		Kind:      models.KindToast,
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	})
}
