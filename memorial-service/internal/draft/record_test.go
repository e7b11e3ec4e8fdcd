package draft

import (
	"encoding/json"
	"testing"

	"memorial-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDraft() *models.Draft {
	d := models.NewDraft()
	d.ID = uuid.New().String()
	d.Basic = models.BasicInfo{
		FirstName: "Jane",
		LastName:  "Doe",
		BirthDate: "1950-03-01",
		DeathDate: "2024-05-02",
	}
	d.Story.ObituaryHTML = "<p>Loved by many</p>"
	d.Services = []models.Service{
		{Type: models.ServiceFuneral, Date: "2024-05-10", LocationName: "St. Mary"},
		{Type: models.ServiceOther},
		{Type: models.ServiceMemorial, IsVirtual: true},
	}
	d.Moments = []models.Moment{
		{ID: "m1", Type: models.MomentPhoto, RemoteURL: "https://cdn/x.jpg", RemotePublicID: "memorials/x", DateTaken: "bad"},
		{ID: "m2", Type: models.MomentPhoto, Uploading: true, LocalURL: "/previews/abc"},
		{ID: "m3", Type: models.MomentVideo, RemoteURL: "https://cdn/y.mp4", RemotePublicID: "memorials/y", DateTaken: "2020-01-01"},
	}
	return d
}

func TestToRecord(t *testing.T) {
	owner := uuid.New()
	d := sampleDraft()

	rec, err := ToRecord(d, owner)
	require.NoError(t, err)

	assert.Equal(t, d.ID, rec.ID.String())
	assert.Equal(t, owner, rec.OwnerID)
	assert.Equal(t, "Jane Doe", rec.FullName)
	assert.Equal(t, "1950-03-01", models.FormatDate(rec.BirthDate))
	assert.True(t, rec.IsDraft)
	assert.Nil(t, rec.PasswordHash)

	var payload models.Draft
	require.NoError(t, json.Unmarshal(rec.DraftPayload, &payload))
	assert.Len(t, payload.Moments, 2, "in-flight uploads never reach the payload")
}

func TestToRecord_Rejections(t *testing.T) {
	d := sampleDraft()
	d.Basic.DeathDate = "02/05/2024"
	_, err := ToRecord(d, uuid.New())
	assert.Equal(t, "deathDate", models.ValidationField(err))

	d = sampleDraft()
	d.ID = "draft-1"
	_, err = ToRecord(d, uuid.New())
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestFromRecord(t *testing.T) {
	d := sampleDraft()
	rec, err := ToRecord(d, uuid.New())
	require.NoError(t, err)

	back, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, d.Basic.BirthDate, back.Basic.BirthDate)
	assert.Equal(t, rec.ID.String(), back.ID)

	t.Run("columns when payload is missing", func(t *testing.T) {
		hash := "$2a$hash"
		bare := &models.MemorialRecord{
			ID:           uuid.New(),
			FullName:     "John Roe",
			FirstName:    "John",
			Privacy:      models.PrivacyPrivate,
			PasswordHash: &hash,
		}
		got, err := FromRecord(bare)
		require.NoError(t, err)
		assert.Equal(t, "John Roe", got.Basic.FullName)
		assert.Equal(t, hash, got.Settings.PasswordHash)
		assert.NotNil(t, got.Moments)
		assert.NotNil(t, got.Services)
	})
}

func TestServiceRecords(t *testing.T) {
	rows, err := ServiceRecords(sampleDraft())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.ServiceFuneral, rows[0].Type)
	assert.Equal(t, 0, rows[0].Sequence)
	assert.True(t, rows[1].IsVirtual)
	assert.Equal(t, 1, rows[1].Sequence)

	d := sampleDraft()
	d.Services[0].Date = "tomorrow"
	_, err = ServiceRecords(d)
	assert.Equal(t, "services[0].date", models.ValidationField(err))
}

func TestMomentRecords(t *testing.T) {
	rows := MomentRecords(sampleDraft())
	require.Len(t, rows, 2)
	assert.Equal(t, "memorials/x", rows[0].PublicID)
	assert.Nil(t, rows[0].DateTaken)
	assert.Equal(t, "memorials/y", rows[1].PublicID)
	assert.Equal(t, 1, rows[1].Sequence)
	assert.Equal(t, "2020-01-01", models.FormatDate(rows[1].DateTaken))
}
