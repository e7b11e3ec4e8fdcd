package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"memorial-server/memorial-service/internal/metrics"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/shared/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options constrains a single upload.
type Options struct {
	Folder              string
	Tags                []string
	MaxSizeBytes        int64
	AllowedTypePrefixes []string
}

// Limits are the per-type size caps and accepted MIME prefixes.
type Limits struct {
	MaxImageBytes       int64
	MaxVideoBytes       int64
	AllowedTypePrefixes []string
}

// OptionsFor picks the size cap matching the file's media type.
func (l Limits) OptionsFor(file File, folder string, tags []string) Options {
	limit := l.MaxImageBytes
	if file.IsVideo() {
		limit = l.MaxVideoBytes
	}
	return Options{Folder: folder, Tags: tags, MaxSizeBytes: limit, AllowedTypePrefixes: l.AllowedTypePrefixes}
}

// UploadError is an upload that the store rejected or that ran out of retries.
// Reason is safe to show to the user.
type UploadError struct {
	File   string
	Reason string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %s", e.File, e.Reason)
}

func (e *UploadError) Unwrap() []error {
	return []error{models.ErrUploadFailed, e.Err}
}

// Client validates files and drives the store with bounded retries.
type Client struct {
	store         Store
	uploadPolicy  retry.Policy
	destroyPolicy retry.Policy
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// ClientConfig holds the retry bounds of the client.
type ClientConfig struct {
	UploadAttempts int
	UploadDelay    time.Duration
	DeleteAttempts int
	DeleteDelay    time.Duration
	Timeout        time.Duration
	// Limiter throttles outgoing uploads across all sessions; nil disables it.
	Limiter *rate.Limiter
}

func NewClient(store Store, cfg ClientConfig, logger *zap.Logger) *Client {
	log := logger.Named("AssetClient")
	return &Client{
		store: store,
		uploadPolicy: retry.Policy{
			Attempts: cfg.UploadAttempts,
			Delay:    cfg.UploadDelay,
			Timeout:  cfg.Timeout,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				metrics.UploadRetries.WithLabelValues("upload").Inc()
				log.Warn("Retrying upload", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			},
		},
		destroyPolicy: retry.Policy{
			Attempts: cfg.DeleteAttempts,
			Delay:    cfg.DeleteDelay,
			Timeout:  cfg.Timeout,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				metrics.UploadRetries.WithLabelValues("destroy").Inc()
				log.Warn("Retrying asset deletion", zap.Int("attempt", attempt), zap.Error(err))
			},
		},
		limiter: cfg.Limiter,
		logger:  log,
	}
}

// Validate checks size and MIME type without touching the network.
func Validate(file File, opts Options) error {
	if file.Size <= 0 {
		return models.NewValidationError("file", fmt.Sprintf("%s is empty", file.Name))
	}
	if opts.MaxSizeBytes > 0 && file.Size > opts.MaxSizeBytes {
		return models.NewValidationError("file", fmt.Sprintf("%s is too large (max %s)", file.Name, humanBytes(opts.MaxSizeBytes)))
	}
	if len(opts.AllowedTypePrefixes) > 0 {
		ct := strings.ToLower(file.ContentType)
		for _, prefix := range opts.AllowedTypePrefixes {
			if prefix != "" && strings.HasPrefix(ct, strings.ToLower(prefix)) {
				return nil
			}
		}
		return models.NewValidationError("file", fmt.Sprintf("%s has unsupported type %q", file.Name, file.ContentType))
	}
	return nil
}

// Upload validates file, then uploads it retrying transport and 5xx failures.
// 4xx responses fail at once.
func (c *Client) Upload(ctx context.Context, file File, opts Options) (*models.AssetDescriptor, error) {
	if err := Validate(file, opts); err != nil {
		return nil, err
	}
	log := c.logger.With(zap.String("file", file.Name), zap.String("contentType", file.ContentType))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &UploadError{File: file.Name, Reason: "upload was cancelled", Err: err}
		}
	}

	desc, err := retry.Do(ctx, c.uploadPolicy, func(ctx context.Context) (*models.AssetDescriptor, error) {
		d, err := c.store.Upload(ctx, file, opts.Folder, opts.Tags)
		return d, classify(err)
	})
	if err != nil {
		log.Error("Upload failed", zap.Error(err))
		return nil, &UploadError{File: file.Name, Reason: reason(err), Err: err}
	}
	metrics.UploadBytes.Observe(float64(file.Size))
	log.Info("Upload completed", zap.String("publicID", desc.PublicID))
	return desc, nil
}

// Delete removes an asset with its own, smaller retry bound.
func (c *Client) Delete(ctx context.Context, publicID, resourceType string) error {
	err := retry.Run(ctx, c.destroyPolicy, func(ctx context.Context) error {
		return classify(c.store.Destroy(ctx, publicID, resourceType))
	})
	if err != nil {
		c.logger.Error("Asset deletion failed", zap.String("publicID", publicID), zap.Error(err))
		return &UploadError{File: publicID, Reason: reason(err), Err: err}
	}
	c.logger.Info("Asset deleted", zap.String("publicID", publicID))
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return retry.Permanent(err)
	}
	return err
}

func reason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, models.ErrTimeout):
		return "the media server did not respond in time"
	case errors.As(err, &statusErr) && statusErr.StatusCode < 500 && statusErr.Body != "":
		return statusErr.Body
	case errors.As(err, &statusErr) && statusErr.StatusCode < 500:
		return fmt.Sprintf("the media server rejected the file (status %d)", statusErr.StatusCode)
	case errors.As(err, &statusErr):
		return "the media server is unavailable, please try again later"
	case errors.Is(err, context.Canceled):
		return "upload was cancelled"
	}
	return "network error while contacting the media server"
}

func humanBytes(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
