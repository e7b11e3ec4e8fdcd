// Package publish turns a draft into a published memorial.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-server/memorial-service/internal/draft"
	"memorial-server/memorial-service/internal/metrics"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Source is the draft store as seen by the orchestrator. *draft.Store implements it.
type Source interface {
	Snapshot() *models.Draft
	Session() models.Session
	RemoteID() string
	BindRemoteID(ctx context.Context, id string)
	ClearMarkers(ctx context.Context) error
	HoldSaves() (release func())
	Published() bool
}

// Orchestrator validates a draft and writes the parent record and its
// child collections, each step with bounded retries.
type Orchestrator struct {
	memorials interfaces.MemorialRepository
	services  interfaces.ServiceRepository
	moments   interfaces.MomentRepository
	notifier  interfaces.Notifier
	policy    retry.Policy
	now       func() time.Time
	logger    *zap.Logger
}

func NewOrchestrator(
	memorials interfaces.MemorialRepository,
	services interfaces.ServiceRepository,
	moments interfaces.MomentRepository,
	notifier interfaces.Notifier,
	policy retry.Policy,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		memorials: memorials,
		services:  services,
		moments:   moments,
		notifier:  notifier,
		policy:    policy,
		now:       time.Now,
		logger:    logger.Named("PublishOrchestrator"),
	}
}

// Publish checks the draft locally, then upserts the parent as published,
// resolves its slug and replaces services and moments. On success the draft
// markers are cleared; on failure they are kept so the user can retry.
func (o *Orchestrator) Publish(ctx context.Context, src Source) (*models.PublishedRecord, error) {
	release := src.HoldSaves()
	defer release()
	if src.Published() {
		return nil, models.ErrAlreadyPublished
	}

	d := src.Snapshot()
	session := src.Session()
	log := o.logger.With(zap.String("session", session.Namespace()))

	if err := draft.ValidateForPublish(d, o.now()); err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		log.Info("Publish rejected by validation", zap.String("field", models.ValidationField(err)))
		return nil, err
	}
	if !session.Authenticated() {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: sign in to publish", models.ErrUnauthorized)
	}

	rec, err := o.buildRecord(d, src.RemoteID(), session.UserID)
	if err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	services, err := draft.ServiceRecords(d)
	if err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	moments := draft.MomentRecords(d)

	published, err := o.write(ctx, src, rec, services, moments, log)
	if err != nil {
		metrics.PublishTotal.WithLabelValues("failed").Inc()
		log.Error("Publish failed, draft markers kept for retry", zap.Error(err))
		o.notify(ctx, session, models.LevelError, failureMessage(err))
		return nil, err
	}

	if err := src.ClearMarkers(ctx); err != nil {
		log.Warn("Published, but failed to clear draft markers", zap.Error(err))
	}
	metrics.PublishTotal.WithLabelValues("success").Inc()
	log.Info("Memorial published", zap.String("memorialID", published.ID.String()), zap.String("slug", published.Slug))
	o.notify(ctx, session, models.LevelSuccess, "Your memorial is published.")
	return published, nil
}

func (o *Orchestrator) buildRecord(d *models.Draft, remoteID string, ownerID uuid.UUID) (*models.MemorialRecord, error) {
	sealed, err := draft.SealSettings(d.Settings)
	if err != nil {
		return nil, err
	}
	d.Settings = sealed
	if remoteID != "" {
		d.ID = remoteID
	}
	rec, err := draft.ToRecord(d, ownerID)
	if err != nil {
		return nil, err
	}
	rec.IsDraft = false
	rec.IsPublished = true
	return rec, nil
}

func (o *Orchestrator) write(
	ctx context.Context,
	src Source,
	rec *models.MemorialRecord,
	services []models.ServiceRecord,
	moments []models.MomentRecord,
	log *zap.Logger,
) (*models.PublishedRecord, error) {
	if err := o.upsert(ctx, src, rec, log); err != nil {
		return nil, stepError("save memorial", err)
	}
	log = log.With(zap.String("memorialID", rec.ID.String()))

	slug, err := o.resolveSlug(ctx, rec)
	if err != nil {
		return nil, stepError("assign address", err)
	}
	if err := retry.Run(ctx, o.policy, func(ctx context.Context) error {
		return o.services.Replace(ctx, rec.ID, rec.OwnerID, services)
	}); err != nil {
		return nil, stepError("save services", err)
	}
	log.Debug("Services replaced", zap.Int("count", len(services)))

	if err := retry.Run(ctx, o.policy, func(ctx context.Context) error {
		return o.moments.Replace(ctx, rec.ID, rec.OwnerID, moments)
	}); err != nil {
		return nil, stepError("save moments", err)
	}
	log.Debug("Moments replaced", zap.Int("count", len(moments)))

	return &models.PublishedRecord{ID: rec.ID, Slug: slug, IsPublished: true}, nil
}

// upsert updates the cached record or inserts a new one. A freshly inserted
// id is bound to the source at once so a retried publish updates it.
func (o *Orchestrator) upsert(ctx context.Context, src Source, rec *models.MemorialRecord, log *zap.Logger) error {
	if rec.ID != uuid.Nil {
		err := retry.Run(ctx, o.policy, func(ctx context.Context) error {
			return o.memorials.Update(ctx, rec)
		})
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		log.Warn("Cached draft vanished remotely, publishing as a new record", zap.String("draftID", rec.ID.String()))
	}
	rec.ID = uuid.New()
	if err := retry.Run(ctx, o.policy, func(ctx context.Context) error {
		return o.memorials.Create(ctx, rec)
	}); err != nil {
		return err
	}
	src.BindRemoteID(ctx, rec.ID.String())
	return nil
}

// resolveSlug keeps the slug of a republished record and otherwise asks the
// store for a unique one.
func (o *Orchestrator) resolveSlug(ctx context.Context, rec *models.MemorialRecord) (string, error) {
	return retry.Do(ctx, o.policy, func(ctx context.Context) (string, error) {
		current, err := o.memorials.GetByID(ctx, rec.ID, rec.OwnerID)
		if err != nil {
			return "", err
		}
		if current.Slug != nil && *current.Slug != "" {
			return *current.Slug, nil
		}
		slug, err := o.memorials.GenerateUniqueSlug(ctx, rec.FullName)
		if err != nil {
			return "", err
		}
		if err := o.memorials.SetSlug(ctx, rec.ID, rec.OwnerID, slug); err != nil {
			return "", err
		}
		return slug, nil
	})
}

func stepError(step string, err error) error {
	if models.IsAuthorization(err) || errors.Is(err, models.ErrTimeout) || errors.Is(err, models.ErrValidation) {
		return fmt.Errorf("publish step %q: %w", step, err)
	}
	return fmt.Errorf("%w: publish step %q: %w", models.ErrPersistence, step, err)
}

func failureMessage(err error) string {
	switch {
	case models.IsAuthorization(err):
		return "You are not allowed to publish this memorial. Please sign in again."
	case errors.Is(err, models.ErrTimeout):
		return "Publishing timed out. Your draft is safe, please try again."
	}
	return "We couldn't publish your memorial. Your draft is safe, please try again."
}

func (o *Orchestrator) notify(ctx context.Context, session models.Session, level models.NotificationLevel, msg string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, models.Notification{
		Recipient: session.Namespace(),
		Kind:      models.KindToast,
		Level:     level,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	})
}
