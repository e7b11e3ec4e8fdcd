package interfaces

import (
	"context"

	"memorial-server/shared/models"

	"github.com/google/uuid"
)

//go:generate mockery --name MemorialRepository --output ./mocks --outpkg mocks --case=underscore
type MemorialRepository interface {
	// Create inserts a new memorial owned by rec.OwnerID.
	Create(ctx context.Context, rec *models.MemorialRecord) error
	// GetByID returns the memorial only if ownerID owns it.
	// ErrNotFound when absent, ErrForbidden when owned by someone else.
	GetByID(ctx context.Context, id, ownerID uuid.UUID) (*models.MemorialRecord, error)
	// Update rewrites every mutable column. It is scoped to rec.OwnerID and
	// fails with ErrForbidden instead of silently matching zero rows.
	Update(ctx context.Context, rec *models.MemorialRecord) error
	SetSlug(ctx context.Context, id, ownerID uuid.UUID, slug string) error
	// GenerateUniqueSlug calls the slug RPC of the store.
	GenerateUniqueSlug(ctx context.Context, displayName string) (string, error)
}

//go:generate mockery --name ServiceRepository --output ./mocks --outpkg mocks --case=underscore
type ServiceRepository interface {
	ListByMemorial(ctx context.Context, memorialID uuid.UUID) ([]models.ServiceRecord, error)
	// Replace swaps the whole collection in one transaction, after re-checking
	// that ownerID owns memorialID.
	Replace(ctx context.Context, memorialID, ownerID uuid.UUID, services []models.ServiceRecord) error
}

//go:generate mockery --name MomentRepository --output ./mocks --outpkg mocks --case=underscore
type MomentRepository interface {
	ListByMemorial(ctx context.Context, memorialID uuid.UUID) ([]models.MomentRecord, error)
	Replace(ctx context.Context, memorialID, ownerID uuid.UUID, moments []models.MomentRecord) error
	// OwnerOfAsset returns the owner of the memorial that references publicID.
	OwnerOfAsset(ctx context.Context, publicID string) (uuid.UUID, error)
}
