// Package assets uploads wizard media to a remote object store and removes it again.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"memorial-server/shared/models"
)

// File is an uploaded file held by the service until the queue reaches it.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// BytesFile wraps an in-memory payload.
func BytesFile(name, contentType string, data []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// IsVideo reports whether the file is a video by MIME type.
func (f File) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(f.ContentType), "video/")
}

// Store is a remote object store for wizard media.
type Store interface {
	// Upload sends one file. Implementations return *StatusError for HTTP failures.
	Upload(ctx context.Context, file File, folder string, tags []string) (*models.AssetDescriptor, error)
	// Destroy removes the asset; resourceType is "image" or "video".
	Destroy(ctx context.Context, publicID, resourceType string) error
}

// StatusError carries the HTTP status of a failed store call so the client
// can tell client errors from server errors.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("asset store returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("asset store returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable is true for 5xx, 408 and 429.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

// ThumbnailURL inserts transformation after the first "/upload/" path segment.
// Video URLs get a .jpg extension so the CDN serves a poster frame.
func ThumbnailURL(url, transformation string, video bool) string {
	if url == "" {
		return ""
	}
	thumb := url
	if transformation != "" && strings.Contains(url, "/upload/") {
		thumb = strings.Replace(url, "/upload/", "/upload/"+strings.Trim(transformation, "/")+"/", 1)
	}
	if video {
		if ext := path.Ext(thumb); ext != "" {
			thumb = strings.TrimSuffix(thumb, ext) + ".jpg"
		} else {
			thumb += ".jpg"
		}
	}
	return thumb
}

// ResourceType maps a moment type to the store's resource type.
func ResourceType(t models.MomentType) string {
	if t == models.MomentVideo {
		return "video"
	}
	return "image"
}
