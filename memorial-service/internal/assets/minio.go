package assets

import (
	"context"
	"fmt"
	"path"
	"strings"

	"memorial-server/shared/models"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var _ Store = (*MinioStore)(nil)

// MinioConfig configures the S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// PublicURL is the externally reachable base, e.g. https://cdn.example.com.
	PublicURL string
	// Transformation is inserted into thumbnail URLs like for the HTTP API,
	// for deployments that front the bucket with an image proxy.
	Transformation string
}

// MinioStore keeps wizard media in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
	logger *zap.Logger
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")
	return &MinioStore{client: client, cfg: cfg, logger: logger.Named("MinioStore")}, nil
}

func (s *MinioStore) Upload(ctx context.Context, file File, folder string, tags []string) (*models.AssetDescriptor, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer src.Close()

	ext := strings.ToLower(path.Ext(file.Name))
	resourceType := "image"
	if file.IsVideo() {
		resourceType = "video"
	}
	// public id keeps the folder and resource type so Destroy can find the object
	publicID := path.Join(folder, resourceType, uuid.NewString())
	objectName := publicID + ext

	userTags := make(map[string]string, len(tags))
	for i, t := range tags {
		userTags[fmt.Sprintf("tag%d", i)] = t
	}
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, objectName, src, file.Size, minio.PutObjectOptions{
		ContentType: file.ContentType,
		UserTags:    userTags,
	})
	if err != nil {
		return nil, s.classify(err)
	}

	desc := &models.AssetDescriptor{
		URL:          fmt.Sprintf("%s/%s/%s", s.cfg.PublicURL, s.cfg.Bucket, objectName),
		PublicID:     objectName,
		ResourceType: resourceType,
		Format:       strings.TrimPrefix(ext, "."),
		Bytes:        info.Size,
	}
	// bucket objects have no poster frames, so videos keep their own URL
	desc.ThumbnailURL = ThumbnailURL(desc.URL, s.cfg.Transformation, false)
	s.logger.Debug("Object stored", zap.String("object", objectName), zap.Int64("bytes", info.Size))
	return desc, nil
}

func (s *MinioStore) Destroy(ctx context.Context, publicID, _ string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, publicID, minio.RemoveObjectOptions{})
	if err == nil || minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return s.classify(err)
}

// classify turns S3 error responses into StatusError so 4xx are not retried.
func (s *MinioStore) classify(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return fmt.Errorf("object store request failed: %w", err)
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: resp.Message}
}
