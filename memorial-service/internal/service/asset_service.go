package service

import (
	"context"
	"errors"
	"fmt"

	"memorial-server/memorial-service/internal/session"
	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"go.uber.org/zap"
)

// AssetDeleter is the asset client's privileged delete path.
type AssetDeleter interface {
	Delete(ctx context.Context, publicID, resourceType string) error
}

// AssetService удаляет загруженные файлы после повторной проверки владельца.
type AssetService interface {
	// Delete removes publicID if the caller owns it through a stored memorial
	// or through their live wizard draft.
	Delete(ctx context.Context, identity models.Session, publicID, resourceType string) error
	// DeleteOwned skips the lookup when ownership is already established.
	DeleteOwned(ctx context.Context, identity models.Session, publicID, resourceType string, owned bool) error
}

type assetServiceImpl struct {
	moments  interfaces.MomentRepository
	sessions *session.Registry
	deleter  AssetDeleter
	logger   *zap.Logger
}

func NewAssetService(moments interfaces.MomentRepository, sessions *session.Registry, deleter AssetDeleter, logger *zap.Logger) AssetService {
	return &assetServiceImpl{
		moments:  moments,
		sessions: sessions,
		deleter:  deleter,
		logger:   logger.Named("AssetService"),
	}
}

func (s *assetServiceImpl) Delete(ctx context.Context, identity models.Session, publicID, resourceType string) error {
	return s.DeleteOwned(ctx, identity, publicID, resourceType, false)
}

func (s *assetServiceImpl) DeleteOwned(ctx context.Context, identity models.Session, publicID, resourceType string, owned bool) error {
	if !identity.Authenticated() {
		return models.ErrUnauthorized
	}
	if publicID == "" {
		return models.NewValidationError("publicId", "asset id is required")
	}
	if resourceType == "" {
		resourceType = "image"
	}
	log := s.logger.With(zap.String("userID", identity.UserID.String()), zap.String("publicID", publicID))

	if !owned {
		if err := s.checkOwner(ctx, identity, publicID); err != nil {
			log.Warn("Asset deletion refused", zap.Error(err))
			return err
		}
	}
	if err := s.deleter.Delete(ctx, publicID, resourceType); err != nil {
		return err
	}
	log.Info("Asset deleted on behalf of owner")
	return nil
}

func (s *assetServiceImpl) checkOwner(ctx context.Context, identity models.Session, publicID string) error {
	if s.sessions != nil {
		if sess, err := s.sessions.Get(identity); err == nil {
			for _, m := range sess.Store.Draft().Moments {
				if m.RemotePublicID == publicID {
					return nil
				}
			}
		}
	}
	owner, err := s.moments.OwnerOfAsset(ctx, publicID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("asset %s: %w", publicID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to resolve asset owner: %w", err)
	}
	if owner != identity.UserID {
		return models.ErrForbidden
	}
	return nil
}
