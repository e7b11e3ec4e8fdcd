package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"memorial-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const okUploadBody = `{
	"secure_url": "https://res.example.com/demo/image/upload/v1/memorials/abc.jpg",
	"public_id": "memorials/abc",
	"resource_type": "image",
	"format": "jpg",
	"width": 800,
	"height": 600,
	"bytes": 4
}`

// fakeAssetAPI answers uploads with the scripted statuses, then 200.
func fakeAssetAPI(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "unsigned", r.FormValue("upload_preset"))
		assert.Equal(t, "memorials", r.FormValue("folder"))

		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			fmt.Fprintf(w, `{"error":{"message":"scripted failure %d"}}`, statuses[n-1])
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okUploadBody)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(srv *httptest.Server) *Client {
	store := NewCloudinaryStore(CloudinaryConfig{
		BaseURL:        srv.URL,
		CloudName:      "demo",
		UploadPreset:   "unsigned",
		Transformation: "c_fill,w_400",
	}, srv.Client(), zap.NewNop())
	return NewClient(store, ClientConfig{
		UploadAttempts: 3,
		UploadDelay:    time.Millisecond,
		DeleteAttempts: 2,
		Timeout:        time.Second,
	}, zap.NewNop())
}

var photoOpts = Options{Folder: "memorials", MaxSizeBytes: 1024, AllowedTypePrefixes: []string{"image/", "video/"}}

func TestUploadRetries(t *testing.T) {
	ctx := context.Background()
	photo := BytesFile("a.jpg", "image/jpeg", []byte("jpeg"))

	t.Run("two 500s then success returns the descriptor", func(t *testing.T) {
		srv, calls := fakeAssetAPI(t, http.StatusInternalServerError, http.StatusInternalServerError)
		desc, err := newTestClient(srv).Upload(ctx, photo, photoOpts)

		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
		assert.Equal(t, "memorials/abc", desc.PublicID)
		assert.Equal(t, 800, desc.Width)
		assert.Equal(t, "https://res.example.com/demo/image/upload/c_fill,w_400/v1/memorials/abc.jpg", desc.ThumbnailURL)
	})

	t.Run("400 is never retried", func(t *testing.T) {
		srv, calls := fakeAssetAPI(t, http.StatusBadRequest)
		_, err := newTestClient(srv).Upload(ctx, photo, photoOpts)

		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		assert.ErrorIs(t, err, models.ErrUploadFailed)
		var upErr *UploadError
		require.True(t, errors.As(err, &upErr))
		assert.Equal(t, "scripted failure 400", upErr.Reason)
	})

	t.Run("unstructured 4xx body is not shown to the user", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "<html><body>nginx: denied for 10.0.0.7 - контур</body></html>")
		}))
		t.Cleanup(srv.Close)

		_, err := newTestClient(srv).Upload(ctx, photo, photoOpts)

		var upErr *UploadError
		require.True(t, errors.As(err, &upErr))
		assert.Equal(t, "the media server rejected the file (status 403)", upErr.Reason)
		assert.NotContains(t, upErr.Reason, "nginx")
	})

	t.Run("exhausted retries surface UploadFailure", func(t *testing.T) {
		srv, calls := fakeAssetAPI(t, 502, 503, 500)
		_, err := newTestClient(srv).Upload(ctx, photo, photoOpts)

		assert.ErrorIs(t, err, models.ErrUploadFailed)
		assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	})
}

func TestUploadValidation(t *testing.T) {
	srv, calls := fakeAssetAPI(t)
	client := newTestClient(srv)

	tests := []struct {
		name string
		file File
	}{
		{"too large", BytesFile("big.jpg", "image/jpeg", make([]byte, 2048))},
		{"wrong type", BytesFile("doc.pdf", "application/pdf", []byte("pdf"))},
		{"empty", BytesFile("empty.png", "image/png", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Upload(context.Background(), tt.file, photoOpts)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, "file", models.ValidationField(err))
			assert.Contains(t, err.Error(), tt.file.Name)
		})
	}
	assert.Zero(t, atomic.LoadInt32(calls), "invalid files must not reach the network")
}

func TestLimitsOptionsFor(t *testing.T) {
	l := Limits{MaxImageBytes: 10, MaxVideoBytes: 100, AllowedTypePrefixes: []string{"image/"}}
	assert.Equal(t, int64(10), l.OptionsFor(BytesFile("a.png", "image/png", nil), "f", nil).MaxSizeBytes)
	assert.Equal(t, int64(100), l.OptionsFor(BytesFile("a.mp4", "video/mp4", nil), "f", nil).MaxSizeBytes)
}

func TestThumbnailURL(t *testing.T) {
	assert.Equal(t,
		"https://res/x/image/upload/w_200/v1/a.png",
		ThumbnailURL("https://res/x/image/upload/v1/a.png", "w_200", false))
	assert.Equal(t,
		"https://res/x/video/upload/w_200/v1/clip.jpg",
		ThumbnailURL("https://res/x/video/upload/v1/clip.mp4", "/w_200/", true))
	assert.Equal(t, "https://cdn/bucket/a.png", ThumbnailURL("https://cdn/bucket/a.png", "w_200", false))
	assert.Empty(t, ThumbnailURL("", "w_200", false))
}

func TestDestroy(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "/demo/video/destroy", r.URL.Path)
		assert.Equal(t, "memorials/abc", r.PostFormValue("public_id"))
		assert.Equal(t, "key", r.PostFormValue("api_key"))
		assert.Len(t, r.PostFormValue("signature"), 40)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"result":"not found"}`)
	}))
	defer srv.Close()

	store := NewCloudinaryStore(CloudinaryConfig{BaseURL: srv.URL, CloudName: "demo", APIKey: "key", APISecret: "secret"}, srv.Client(), zap.NewNop())
	client := NewClient(store, ClientConfig{DeleteAttempts: 2, Timeout: time.Second}, zap.NewNop())

	require.NoError(t, client.Delete(context.Background(), "memorials/abc", "video"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSignature(t *testing.T) {
	store := NewCloudinaryStore(CloudinaryConfig{APISecret: "abcd"}, nil, zap.NewNop())
	// sha1("public_id=sample&timestamp=1315060510abcd")
	assert.Equal(t, "c3470533147774275dd37996cc4d0e68fd03cd4f",
		store.sign(map[string]string{"timestamp": "1315060510", "public_id": "sample"}))
}
