package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"memorial-server/memorial-service/internal/assets"
	"memorial-server/memorial-service/internal/notify"
	"memorial-server/memorial-service/internal/publish"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/memorial-service/internal/service"
	"memorial-server/memorial-service/internal/session"
	"memorial-server/memorial-service/internal/testsupport"
	"memorial-server/memorial-service/internal/uploads"
	"memorial-server/memorial-service/internal/wizard"
	sharedModels "memorial-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testToken    = "valid-token"
	testClient   = "browser-key-1"
	testMaxFiles = 3
)

var testUserID = uuid.MustParse("6f1c2a7e-0d55-4a8e-9f3b-1c2d3e4f5a6b")

type stubVerifier struct{}

func (stubVerifier) VerifyToken(_ context.Context, token string) (*sharedModels.Claims, error) {
	if token != testToken {
		return nil, sharedModels.ErrTokenInvalid
	}
	return &sharedModels.Claims{UserID: testUserID, Email: "owner@example.com"}, nil
}

// gatedUploader holds every upload until release is closed.
type gatedUploader struct {
	release chan struct{}
}

func (u *gatedUploader) Upload(ctx context.Context, file assets.File, _ assets.Options) (*sharedModels.AssetDescriptor, error) {
	select {
	case <-u.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &sharedModels.AssetDescriptor{
		URL:          "https://cdn.example.com/" + file.Name,
		PublicID:     "memorials/" + file.Name,
		ResourceType: "image",
	}, nil
}

func (u *gatedUploader) Delete(context.Context, string, string) error { return nil }

type testServer struct {
	router   *gin.Engine
	registry *session.Registry
	previews *uploads.PreviewRegistry
	uploader *gatedUploader
	children *testsupport.Children
	memorial *testsupport.Memorials
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	memorials := testsupport.NewMemorials()
	children := testsupport.NewChildren(memorials)
	previews := uploads.NewPreviewRegistry("/api/v1/wizard/previews")
	uploader := &gatedUploader{release: make(chan struct{})}
	renderer, err := wizard.NewRenderer()
	require.NoError(t, err)
	hub := notify.NewHub(log)
	t.Cleanup(hub.Stop)

	factory := service.NewSessionFactory(service.SessionDeps{
		Memorials:        memorials,
		Fallback:         testsupport.NewFallback(),
		Notifier:         hub,
		Uploader:         uploader,
		Previews:         previews,
		Renderer:         renderer,
		Steps:            wizard.DefaultSteps(),
		Limits:           assets.Limits{MaxImageBytes: 1024, MaxVideoBytes: 4096, AllowedTypePrefixes: []string{"image/", "video/"}},
		MaxBatchFiles:    testMaxFiles,
		MaxPendingBytes:  1 << 20,
		AssetFolder:      "memorials",
		AutosavePolicy:   retry.Policy{Attempts: 1},
		AutosaveDebounce: time.Hour,
		AutosaveTimeout:  time.Second,
	}, log)
	registry := session.NewRegistry(factory, session.DefaultTTL, log)
	t.Cleanup(registry.CloseAll)

	orchestrator := publish.NewOrchestrator(memorials, children.Services(), children.Moments(), hub, retry.Policy{Attempts: 1}, log)
	assetService := service.NewAssetService(children.Moments(), registry, uploader, log)
	wizardService := service.NewWizardService(registry, orchestrator, assetService, hub, log)

	h := NewMemorialHandler(wizardService, assetService, previews, hub, stubVerifier{}, UploadLimits{
		MaxFileBytes:    4096,
		MaxFiles:        testMaxFiles,
		MaxRequestBytes: 64 << 10,
	}, log)
	router := gin.New()
	h.RegisterRoutes(router, nil)
	return &testServer{router: router, registry: registry, previews: previews, uploader: uploader, children: children, memorial: memorials}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func anon() map[string]string { return map[string]string{ClientKeyHeader: testClient} }

func signedIn() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestWizardRoutes_RequireIdentity(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "clientKey", decode[APIError](t, w).Field)

	w = s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, map[string]string{ClientKeyHeader: "bad key!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/wizard", nil, anon())
	assert.Equal(t, http.StatusNotFound, w.Code, "state before session start")
}

func TestWizardRoutes_StepFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, anon())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[wizard.State](t, w)
	assert.Equal(t, 1, st.Step)
	assert.Len(t, st.Steps, 6)

	w = s.do(t, http.MethodPost, "/api/v1/wizard/next", wizard.Form{Basic: &wizard.BasicForm{FirstName: "Jane"}}, anon())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "lastName", decode[APIError](t, w).Field)

	w = s.do(t, http.MethodPost, "/api/v1/wizard/skip", nil, anon())
	assert.Equal(t, http.StatusBadRequest, w.Code, "basic info cannot be skipped")

	w = s.do(t, http.MethodPost, "/api/v1/wizard/next", wizard.Form{Basic: &wizard.BasicForm{
		FirstName: "Jane", LastName: "Doe", BirthDate: "1950-03-04", DeathDate: "2024-01-10",
	}}, anon())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[wizard.State](t, w).Step)

	w = s.do(t, http.MethodPut, "/api/v1/wizard/form", wizard.Form{Story: &wizard.StoryForm{ObituaryHTML: "<p>Loved <script>x</script>gardens</p>"}}, anon())
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[wizard.State](t, w)
	assert.NotContains(t, st.Draft.Story.ObituaryHTML, "<script>")

	w = s.do(t, http.MethodPost, "/api/v1/wizard/previous", nil, anon())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[wizard.State](t, w).Step)

	w = s.do(t, http.MethodPost, "/api/v1/wizard/publish", nil, anon())
	assert.Equal(t, http.StatusBadRequest, w.Code, "publish outside the final step")

	w = s.do(t, http.MethodGet, "/api/v1/wizard/preview", nil, anon())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Jane Doe")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestWizardRoutes_SaveAnonymousFallsBackLocally(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, anon()).Code)

	w := s.do(t, http.MethodPost, "/api/v1/wizard/save", nil, anon())
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[map[string]any](t, w)
	assert.Equal(t, "local", res["target"])
	assert.Zero(t, s.memorial.Count())
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, data := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadFormField, name))
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestWizardRoutes_UploadServesPreviewUntilDone(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, signedIn()).Code)

	body, contentType := multipartBody(t, map[string][]byte{
		"garden.jpg": []byte("jpeg-bytes"),
		"huge.jpg":   make([]byte, 2048),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizard/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	res := decode[service.UploadResponse](t, w)
	require.Len(t, res.Accepted, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "huge.jpg", res.Rejected[0].FileName)
	placeholder := res.Accepted[0]
	assert.True(t, placeholder.Uploading)

	w = s.do(t, http.MethodGet, placeholder.LocalURL, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())

	close(s.uploader.release)
	sess, err := s.registry.Get(sharedModels.Session{UserID: testUserID})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.Queue.Wait(ctx))

	w = s.do(t, http.MethodGet, placeholder.LocalURL, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "preview revoked after upload")

	w = s.do(t, http.MethodPatch, "/api/v1/wizard/moments/"+placeholder.ID, map[string]string{"caption": "Spring"}, signedIn())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Spring", decode[sharedModels.Moment](t, w).Caption)

	w = s.do(t, http.MethodPut, "/api/v1/wizard/moments/order", reorderRequest{Order: []string{"unknown"}}, signedIn())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "order", decode[APIError](t, w).Field)

	w = s.do(t, http.MethodDelete, "/api/v1/wizard/moments/"+placeholder.ID, nil, signedIn())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[wizard.State](t, w).Draft.Moments)
}

func (s *testServer) postUpload(t *testing.T, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wizard/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(ClientKeyHeader, testClient)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestWizardRoutes_UploadLimits(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/wizard/session", nil, anon()).Code)

	t.Run("request body too large", func(t *testing.T) {
		w := s.postUpload(t, map[string][]byte{"big.jpg": make([]byte, 80<<10)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "files", decode[APIError](t, w).Field)
		assert.Zero(t, s.previews.Len())
	})

	t.Run("files over the per-request cap are rejected", func(t *testing.T) {
		files := make(map[string][]byte)
		for i := 0; i < testMaxFiles+2; i++ {
			files[fmt.Sprintf("photo-%d.jpg", i)] = []byte("jpeg-bytes")
		}
		w := s.postUpload(t, files)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		res := decode[service.UploadResponse](t, w)
		assert.Len(t, res.Accepted, testMaxFiles)
		require.Len(t, res.Rejected, 2)
		for _, r := range res.Rejected {
			assert.Contains(t, r.Message, fmt.Sprintf("Only %d files", testMaxFiles))
		}
		assert.Equal(t, testMaxFiles, s.previews.Len())
	})
}

func TestAssetRoutes_DeleteRequiresOwner(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	w := s.do(t, http.MethodDelete, "/api/v1/assets/memorials/x", nil, anon())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	memorialID := uuid.New()
	s.memorial.Put(sharedModels.MemorialRecord{ID: memorialID, OwnerID: uuid.New()})
	require.NoError(t, s.children.Moments().Replace(ctx, memorialID, s.mustOwner(memorialID), []sharedModels.MomentRecord{
		{ID: uuid.New(), MemorialID: memorialID, Type: sharedModels.MomentPhoto, PublicID: "memorials/x"},
	}))

	w = s.do(t, http.MethodDelete, "/api/v1/assets/memorials/x", nil, signedIn())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/assets/memorials/unknown", nil, signedIn())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func (s *testServer) mustOwner(id uuid.UUID) uuid.UUID {
	rec, _ := s.memorial.Row(id)
	return rec.OwnerID
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/ws", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/ws?token=nope", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &MemorialHandler{logger: zap.NewNop()}
	tests := []struct {
		err    error
		status int
		field  string
	}{
		{sharedModels.NewValidationError("birthDate", "birth date is in the future"), http.StatusBadRequest, "birthDate"},
		{fmt.Errorf("wrap: %w", sharedModels.ErrNotFinalStep), http.StatusBadRequest, ""},
		{sharedModels.ErrUnauthorized, http.StatusUnauthorized, ""},
		{fmt.Errorf("update: %w", sharedModels.ErrForbidden), http.StatusForbidden, ""},
		{sharedModels.ErrNotFound, http.StatusNotFound, ""},
		{sharedModels.ErrOperationInFlight, http.StatusConflict, ""},
		{sharedModels.ErrAlreadyPublished, http.StatusConflict, ""},
		{&assets.UploadError{File: "a.jpg", Reason: "down", Err: sharedModels.ErrUploadFailed}, http.StatusBadGateway, ""},
		{fmt.Errorf("publish: %w", sharedModels.ErrPersistence), http.StatusBadGateway, ""},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, ""},
		{errors.New("pq: connection refused to 10.0.0.5"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			h.handleServiceError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			body := decode[APIError](t, w)
			assert.Equal(t, tt.field, body.Field)
			assert.NotContains(t, body.Message, "10.0.0.5")
		})
	}
}
