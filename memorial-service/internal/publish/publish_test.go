package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"memorial-server/memorial-service/internal/draft"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/memorial-service/internal/testsupport"
	"memorial-server/shared/interfaces/mocks"
	"memorial-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type PublishSuite struct {
	suite.Suite
	ctx       context.Context
	session   models.Session
	memorials *testsupport.Memorials
	children  *testsupport.Children
	fallback  *testsupport.Fallback
	notifier  *mocks.Notifier
	store     *draft.Store
	orch      *Orchestrator
}

func TestPublishSuite(t *testing.T) {
	suite.Run(t, new(PublishSuite))
}

func (s *PublishSuite) SetupTest() {
	s.ctx = context.Background()
	s.session = models.Session{UserID: uuid.New(), ClientKey: "c1"}
	s.memorials = testsupport.NewMemorials()
	s.children = testsupport.NewChildren(s.memorials)
	s.fallback = testsupport.NewFallback()
	s.notifier = &mocks.Notifier{}
	policy := retry.Policy{Attempts: 3, Timeout: time.Second}
	s.store = draft.NewStore(s.session, s.memorials, s.fallback, s.notifier, policy, zap.NewNop())
	s.orch = NewOrchestrator(s.memorials, s.children.Services(), s.children.Moments(), s.notifier, policy, zap.NewNop())
	s.orch.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
}

func (s *PublishSuite) fillJaneDoe() {
	s.Require().NoError(s.store.Mutate(func(d *models.Draft) error {
		d.Basic = models.BasicInfo{FullName: "Jane Doe", FirstName: "Jane", LastName: "Doe", BirthDate: "1950-01-01", DeathDate: "2020-06-15"}
		d.Settings.Privacy = models.PrivacyPublic
		return nil
	}))
}

func (s *PublishSuite) TestMissingNameMakesNoCalls() {
	s.Require().NoError(s.store.Mutate(func(d *models.Draft) error {
		d.Basic.BirthDate = "1950-01-01"
		return nil
	}))

	rec, err := s.orch.Publish(s.ctx, s.store)

	s.Nil(rec)
	s.ErrorIs(err, models.ErrValidation)
	s.Equal("name", models.ValidationField(err))
	s.Zero(s.memorials.TotalCalls())
	s.Zero(s.children.Calls("ReplaceServices"))
	s.Zero(s.children.Calls("ReplaceMoments"))
}

func (s *PublishSuite) TestPrivateWithoutPasswordMakesNoCalls() {
	s.fillJaneDoe()
	s.Require().NoError(s.store.Mutate(func(d *models.Draft) error {
		d.Settings = models.Settings{Privacy: models.PrivacyPrivate, Password: "123"}
		return nil
	}))

	_, err := s.orch.Publish(s.ctx, s.store)

	s.Equal("password", models.ValidationField(err))
	s.Zero(s.memorials.TotalCalls())
}

func (s *PublishSuite) TestAnonymousCannotPublish() {
	anon := models.Session{ClientKey: "anon"}
	store := draft.NewStore(anon, s.memorials, s.fallback, s.notifier, retry.Policy{}, zap.NewNop())
	s.Require().NoError(store.Mutate(func(d *models.Draft) error {
		d.Basic = models.BasicInfo{FullName: "Jane Doe", DeathDate: "2020-06-15"}
		return nil
	}))

	_, err := s.orch.Publish(s.ctx, store)

	s.ErrorIs(err, models.ErrUnauthorized)
	s.Zero(s.memorials.TotalCalls())
}

func (s *PublishSuite) TestJaneDoeEndToEnd() {
	s.fillJaneDoe()

	rec, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	s.NotEmpty(rec.Slug)
	s.Equal("jane-doe", rec.Slug)
	s.True(rec.IsPublished)

	row, ok := s.memorials.Row(rec.ID)
	s.Require().True(ok)
	s.True(row.IsPublished)
	s.False(row.IsDraft)
	s.NotNil(row.PublishedAt)
	s.Require().NotNil(row.Slug)
	s.Equal("jane-doe", *row.Slug)
	s.Equal(1, s.children.Calls("ReplaceServices"))
	s.Equal(1, s.children.Calls("ReplaceMoments"))

	s.Empty(s.store.RemoteID(), "markers are cleared after publish")
	toasts := s.notifier.OfKind(models.KindToast)
	s.Require().NotEmpty(toasts)
	s.Equal(models.LevelSuccess, toasts[len(toasts)-1].Level)
}

func (s *PublishSuite) TestSaveAfterPublishKeepsMemorialPublished() {
	s.fillJaneDoe()
	s.Require().Equal(draft.SavedRemote, s.store.Autosave(s.ctx).Target)
	rec, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Mutate(func(d *models.Draft) error {
		d.Basic.Headline = "edited after publish"
		return nil
	}))
	res := s.store.Autosave(s.ctx)

	s.Equal(draft.SavedNone, res.Target)
	s.ErrorIs(res.RemoteErr, models.ErrAlreadyPublished)
	s.Empty(s.store.Draft().ID)
	row, ok := s.memorials.Row(rec.ID)
	s.Require().True(ok)
	s.True(row.IsPublished)
	s.False(row.IsDraft)
	s.Empty(row.Headline)
	s.Equal(1, s.memorials.Count())

	_, err = s.orch.Publish(s.ctx, s.store)
	s.ErrorIs(err, models.ErrAlreadyPublished)
	s.Equal(1, s.memorials.Count())
}

func (s *PublishSuite) TestPublishWaitsForRunningAutosave() {
	s.fillJaneDoe()
	release := s.store.HoldSaves()
	published := make(chan error, 1)
	go func() {
		_, err := s.orch.Publish(s.ctx, s.store)
		published <- err
	}()

	select {
	case <-published:
		s.Fail("publish must wait for the save in progress")
	case <-time.After(50 * time.Millisecond):
	}
	release()

	s.Require().NoError(<-published)
	s.True(s.store.Published())
}

func (s *PublishSuite) TestUpdatesAutosavedDraftAndKeepsOrder() {
	s.fillJaneDoe()
	s.Require().NoError(s.store.Mutate(func(d *models.Draft) error {
		d.Services = []models.Service{
			{Type: models.ServiceVisitation, Date: "2020-06-20"},
			{Type: models.ServiceFuneral, Date: "2020-06-21"},
		}
		d.Moments = []models.Moment{
			{ID: "m1", Type: models.MomentPhoto, RemoteURL: "https://cdn/1.jpg", RemotePublicID: "p1"},
			{ID: "m2", Type: models.MomentPhoto, Uploading: true, LocalURL: "/previews/m2"},
			{ID: "m3", Type: models.MomentVideo, RemoteURL: "https://cdn/3.mp4", RemotePublicID: "p3"},
		}
		return nil
	}))
	saved := s.store.Autosave(s.ctx)
	s.Require().Equal(draft.SavedRemote, saved.Target)

	rec, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	s.Equal(saved.RemoteID, rec.ID.String())
	s.Equal(1, s.memorials.Calls("Create"), "the autosaved row is updated, not duplicated")
	s.Equal(1, s.memorials.Count())

	services, err := s.children.Services().ListByMemorial(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Require().Len(services, 2)
	s.Equal(models.ServiceVisitation, services[0].Type)
	s.Equal(1, services[1].Sequence)

	moments, err := s.children.Moments().ListByMemorial(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Require().Len(moments, 2, "in-flight uploads are dropped from publish")
	s.Equal("p1", moments[0].PublicID)
	s.Equal("p3", moments[1].PublicID)
}

func (s *PublishSuite) TestRepublishKeepsSlug() {
	s.fillJaneDoe()
	first, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	s.store.BindRemoteID(s.ctx, first.ID.String())
	second, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	s.Equal(first.Slug, second.Slug)
	s.Equal(1, s.memorials.Calls("GenerateUniqueSlug"))
}

func (s *PublishSuite) TestSecondMemorialGetsSuffixedSlug() {
	s.fillJaneDoe()
	_, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	other := draft.NewStore(s.session, s.memorials, testsupport.NewFallback(), s.notifier, retry.Policy{}, zap.NewNop())
	s.Require().NoError(other.Mutate(func(d *models.Draft) error {
		d.Basic = models.BasicInfo{FullName: "Jane Doe", DeathDate: "2021-01-01"}
		return nil
	}))
	rec, err := s.orch.Publish(s.ctx, other)
	s.Require().NoError(err)
	s.Equal("jane-doe-2", rec.Slug)
}

func (s *PublishSuite) TestTransientFailuresAreRetried() {
	s.fillJaneDoe()
	s.memorials.FailNext("Create", errors.New("connection reset"), errors.New("connection reset"))
	s.children.FailNext("ReplaceMoments", errors.New("deadlock detected"))

	rec, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)

	s.Equal(3, s.memorials.Calls("Create"))
	s.Equal(2, s.children.Calls("ReplaceMoments"))
	s.NotEmpty(rec.Slug)
}

func (s *PublishSuite) TestFailureKeepsMarkers() {
	s.fillJaneDoe()
	boom := errors.New("database unavailable")
	s.children.FailNext("ReplaceServices", boom, boom, boom)

	rec, err := s.orch.Publish(s.ctx, s.store)

	s.Nil(rec)
	s.ErrorIs(err, models.ErrPersistence)
	s.ErrorIs(err, boom)
	s.Equal(3, s.children.Calls("ReplaceServices"))
	s.Zero(s.children.Calls("ReplaceMoments"))

	remoteID := s.store.RemoteID()
	s.NotEmpty(remoteID, "the inserted parent stays bound for the retry")
	s.True(s.fallback.Has("memorial_draft_id:" + s.session.Namespace()))

	toasts := s.notifier.OfKind(models.KindToast)
	s.Require().NotEmpty(toasts)
	s.Equal(models.LevelError, toasts[len(toasts)-1].Level)

	retried, err := s.orch.Publish(s.ctx, s.store)
	s.Require().NoError(err)
	s.Equal(remoteID, retried.ID.String())
	s.Equal(1, s.memorials.Count())
}

func (s *PublishSuite) TestForeignRecordIsRejected() {
	s.fillJaneDoe()
	foreign := models.MemorialRecord{ID: uuid.New(), OwnerID: uuid.New(), FullName: "Other"}
	s.memorials.Put(foreign)
	s.store.BindRemoteID(s.ctx, foreign.ID.String())

	_, err := s.orch.Publish(s.ctx, s.store)

	s.ErrorIs(err, models.ErrForbidden)
	s.Equal(1, s.memorials.Calls("Update"))
	s.Zero(s.memorials.Calls("Create"))
	row, _ := s.memorials.Row(foreign.ID)
	s.Equal("Other", row.FullName)
}

func TestStepErrorClassification(t *testing.T) {
	assert.ErrorIs(t, stepError("x", errors.New("io")), models.ErrPersistence)
	assert.NotErrorIs(t, stepError("x", models.ErrForbidden), models.ErrPersistence)
	require.ErrorIs(t, stepError("x", models.ErrForbidden), models.ErrForbidden)
	assert.Contains(t, failureMessage(models.ErrTimeout), "timed out")
}
