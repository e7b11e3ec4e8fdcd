package testsupport

import (
	"context"
	"testing"

	"memorial-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorials_CreatePublishedStampsPublishedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemorials()
	owner := uuid.New()

	published := models.MemorialRecord{OwnerID: owner, IsPublished: true}
	require.NoError(t, m.Create(ctx, &published))
	row, ok := m.Row(published.ID)
	require.True(t, ok)
	require.NotNil(t, row.PublishedAt)
	assert.Equal(t, row.CreatedAt, *row.PublishedAt)

	draftRec := models.MemorialRecord{OwnerID: owner, IsDraft: true}
	require.NoError(t, m.Create(ctx, &draftRec))
	row, _ = m.Row(draftRec.ID)
	assert.Nil(t, row.PublishedAt)
}

func TestChildren_ServiceViewChecksOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemorials()
	c := NewChildren(m)
	owner := uuid.New()
	rec := models.MemorialRecord{OwnerID: owner}
	require.NoError(t, m.Create(ctx, &rec))

	services := c.Services()
	require.NoError(t, services.Replace(ctx, rec.ID, owner, []models.ServiceRecord{{Type: models.ServiceFuneral}}))
	assert.ErrorIs(t, services.Replace(ctx, rec.ID, uuid.New(), nil), models.ErrForbidden)

	rows, err := services.ListByMemorial(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rec.ID, rows[0].MemorialID)
	assert.Equal(t, 1, c.Calls("ListServices"))
}
