package mocks

import (
	"context"

	"memorial-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MemorialRepository is a testify mock of interfaces.MemorialRepository.
type MemorialRepository struct {
	mock.Mock
}

func (m *MemorialRepository) Create(ctx context.Context, rec *models.MemorialRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MemorialRepository) GetByID(ctx context.Context, id, ownerID uuid.UUID) (*models.MemorialRecord, error) {
	args := m.Called(ctx, id, ownerID)
	rec, _ := args.Get(0).(*models.MemorialRecord)
	return rec, args.Error(1)
}

func (m *MemorialRepository) Update(ctx context.Context, rec *models.MemorialRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MemorialRepository) SetSlug(ctx context.Context, id, ownerID uuid.UUID, slug string) error {
	args := m.Called(ctx, id, ownerID, slug)
	return args.Error(0)
}

func (m *MemorialRepository) GenerateUniqueSlug(ctx context.Context, displayName string) (string, error) {
	args := m.Called(ctx, displayName)
	return args.String(0), args.Error(1)
}

// ServiceRepository is a testify mock of interfaces.ServiceRepository.
type ServiceRepository struct {
	mock.Mock
}

func (m *ServiceRepository) ListByMemorial(ctx context.Context, memorialID uuid.UUID) ([]models.ServiceRecord, error) {
	args := m.Called(ctx, memorialID)
	recs, _ := args.Get(0).([]models.ServiceRecord)
	return recs, args.Error(1)
}

func (m *ServiceRepository) Replace(ctx context.Context, memorialID, ownerID uuid.UUID, services []models.ServiceRecord) error {
	args := m.Called(ctx, memorialID, ownerID, services)
	return args.Error(0)
}

// MomentRepository is a testify mock of interfaces.MomentRepository.
type MomentRepository struct {
	mock.Mock
}

func (m *MomentRepository) ListByMemorial(ctx context.Context, memorialID uuid.UUID) ([]models.MomentRecord, error) {
	args := m.Called(ctx, memorialID)
	recs, _ := args.Get(0).([]models.MomentRecord)
	return recs, args.Error(1)
}

func (m *MomentRepository) Replace(ctx context.Context, memorialID, ownerID uuid.UUID, moments []models.MomentRecord) error {
	args := m.Called(ctx, memorialID, ownerID, moments)
	return args.Error(0)
}

func (m *MomentRepository) OwnerOfAsset(ctx context.Context, publicID string) (uuid.UUID, error) {
	args := m.Called(ctx, publicID)
	owner, _ := args.Get(0).(uuid.UUID)
	return owner, args.Error(1)
}
