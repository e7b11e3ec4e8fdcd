// Package uploads sequences the media uploads of one wizard session.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"memorial-server/memorial-service/internal/assets"
	"memorial-server/memorial-service/internal/metrics"
	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QueueState is the drain loop state. Only one drain loop runs per queue.
type QueueState int

const (
	Idle QueueState = iota
	Draining
)

func (s QueueState) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// TaskState tracks one file through the queue.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskUploading TaskState = "uploading"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Task is one pending upload. It is dropped once resolved.
type Task struct {
	MomentID string
	File     assets.File
	Options  assets.Options
	State    TaskState
}

// Uploader is the asset client as seen by the queue.
type Uploader interface {
	Upload(ctx context.Context, file assets.File, opts assets.Options) (*models.AssetDescriptor, error)
	Delete(ctx context.Context, publicID, resourceType string) error
}

// DraftTarget receives placeholder and settled moments. *draft.Store implements it.
type DraftTarget interface {
	Mutate(fn func(d *models.Draft) error) error
}

// Rejection reports a file refused before upload.
type Rejection struct {
	FileName string `json:"fileName"`
	Message  string `json:"message"`
}

// EnqueueResult lists the placeholders added to the draft and the files refused.
type EnqueueResult struct {
	Accepted []models.Moment `json:"accepted"`
	Rejected []Rejection     `json:"rejected"`
}

// QueueConfig carries the per-session settings of a queue.
// MaxBatchFiles caps the files considered from one Enqueue call and
// MaxPendingBytes the bytes buffered by queued and in-flight uploads;
// zero disables a cap.
type QueueConfig struct {
	Recipient       string
	Folder          string
	Tags            []string
	Limits          assets.Limits
	MaxBatchFiles   int
	MaxPendingBytes int64
}

var errMomentGone = errors.New("placeholder moment was removed")

// Queue uploads files strictly in enqueue order. A failed item removes its
// placeholder and never stops the batch.
type Queue struct {
	mu        sync.Mutex
	state     QueueState
	pending   []*Task
	buffered  int64
	total     int
	processed int
	succeeded int
	failed    int
	idle      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	cfg      QueueConfig
	uploader Uploader
	target   DraftTarget
	previews *PreviewRegistry
	notifier interfaces.Notifier
	logger   *zap.Logger
}

func NewQueue(
	cfg QueueConfig,
	uploader Uploader,
	target DraftTarget,
	previews *PreviewRegistry,
	notifier interfaces.Notifier,
	logger *zap.Logger,
) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		state:    Idle,
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		uploader: uploader,
		target:   target,
		previews: previews,
		notifier: notifier,
		logger:   logger.Named("UploadQueue").With(zap.String("session", cfg.Recipient)),
	}
}

// State returns Idle or Draining.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Pending is the number of files not yet picked up by the drain loop.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue validates files, adds a placeholder moment for each accepted one
// and starts the drain loop unless it is already running.
// Invalid files are rejected at once with a per-file notification.
func (q *Queue) Enqueue(ctx context.Context, files []assets.File) (*EnqueueResult, error) {
	res := &EnqueueResult{Accepted: []models.Moment{}, Rejected: []Rejection{}}
	tasks := make([]*Task, 0, len(files))

	for i, f := range files {
		if q.cfg.MaxBatchFiles > 0 && i >= q.cfg.MaxBatchFiles {
			q.reject(ctx, res, f, fmt.Sprintf("Only %d files can be uploaded at once.", q.cfg.MaxBatchFiles))
			continue
		}
		opts := q.cfg.Limits.OptionsFor(f, q.cfg.Folder, q.cfg.Tags)
		if err := assets.Validate(f, opts); err != nil {
			msg := err.Error()
			var vErr *models.ValidationError
			if errors.As(err, &vErr) {
				msg = vErr.Message
			}
			q.reject(ctx, res, f, msg)
			continue
		}
		if !q.reserve(f.Size) {
			q.reject(ctx, res, f, "Too many uploads are in progress. Wait for them to finish and try again.")
			continue
		}

		id := uuid.NewString()
		momentType := models.MomentPhoto
		if f.IsVideo() {
			momentType = models.MomentVideo
		}
		res.Accepted = append(res.Accepted, models.Moment{
			ID:        id,
			Type:      momentType,
			FileName:  f.Name,
			Uploading: true,
			LocalURL:  q.previews.Create(id, f),
		})
		tasks = append(tasks, &Task{MomentID: id, File: f, Options: opts, State: TaskQueued})
	}

	if len(tasks) == 0 {
		return res, nil
	}
	if err := q.target.Mutate(func(d *models.Draft) error {
		d.Moments = append(d.Moments, res.Accepted...)
		return nil
	}); err != nil {
		for _, t := range tasks {
			q.previews.Revoke(t.MomentID)
			q.release(t.File.Size)
		}
		return nil, fmt.Errorf("failed to add placeholders: %w", err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, tasks...)
	q.total += len(tasks)
	if q.state == Idle {
		q.state = Draining
		q.idle = make(chan struct{})
		go q.drain()
	}
	q.mu.Unlock()

	q.logger.Info("Files enqueued", zap.Int("accepted", len(tasks)), zap.Int("rejected", len(res.Rejected)))
	return res, nil
}

// Buffered is the number of bytes held by queued and in-flight uploads.
func (q *Queue) Buffered() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffered
}

func (q *Queue) reserve(size int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cfg.MaxPendingBytes > 0 && q.buffered+size > q.cfg.MaxPendingBytes {
		return false
	}
	q.buffered += size
	return true
}

func (q *Queue) release(size int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buffered -= size
}

func (q *Queue) reject(ctx context.Context, res *EnqueueResult, f assets.File, msg string) {
	res.Rejected = append(res.Rejected, Rejection{FileName: f.Name, Message: msg})
	metrics.UploadsTotal.WithLabelValues("rejected").Inc()
	q.notify(ctx, models.Notification{Kind: models.KindUploadRejected, Level: models.LevelWarning, Message: msg})
}

// Wait blocks until the queue is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts the upload in flight; remaining items fail and are removed.
func (q *Queue) Close() {
	q.cancel()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			summary := models.UploadBatchSummary{Succeeded: q.succeeded, Failed: q.failed}
			q.total, q.processed, q.succeeded, q.failed = 0, 0, 0, 0
			q.mu.Unlock()

			q.notifySummary(summary)

			q.mu.Lock()
			if len(q.pending) > 0 {
				q.mu.Unlock()
				continue
			}
			q.state = Idle
			close(q.idle)
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		ok := q.process(task)

		q.mu.Lock()
		q.buffered -= task.File.Size
		q.processed++
		if ok {
			q.succeeded++
		} else {
			q.failed++
		}
		progress := models.UploadProgress{
			Current: q.processed,
			Total:   q.total,
			Percent: q.processed * 100 / q.total,
			File:    task.File.Name,
		}
		q.mu.Unlock()

		q.notify(q.ctx, models.Notification{Kind: models.KindUploadProgress, Level: models.LevelInfo, Progress: &progress,
			Message: fmt.Sprintf("Uploaded %d of %d", progress.Current, progress.Total)})
	}
}

func (q *Queue) process(task *Task) bool {
	defer q.previews.Revoke(task.MomentID)
	log := q.logger.With(zap.String("momentID", task.MomentID), zap.String("file", task.File.Name))

	task.State = TaskUploading
	desc, err := q.uploader.Upload(q.ctx, task.File, task.Options)
	if err != nil {
		task.State = TaskFailed
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		q.removePlaceholder(task.MomentID, log)

		msg := fmt.Sprintf("Could not upload %s.", task.File.Name)
		var upErr *assets.UploadError
		if errors.As(err, &upErr) && upErr.Reason != "" {
			msg = fmt.Sprintf("Could not upload %s: %s", task.File.Name, upErr.Reason)
		}
		q.notify(q.ctx, models.Notification{Kind: models.KindUploadRejected, Level: models.LevelError, Message: msg})
		log.Warn("Queue item failed, continuing with the next one", zap.Error(err))
		return false
	}

	err = q.target.Mutate(func(d *models.Draft) error {
		i := d.MomentIndex(task.MomentID)
		if i < 0 {
			return errMomentGone
		}
		m := &d.Moments[i]
		m.RemoteURL = desc.URL
		m.ThumbnailURL = desc.ThumbnailURL
		m.RemotePublicID = desc.PublicID
		m.Uploading = false
		m.LocalURL = ""
		return nil
	})
	if errors.Is(err, errMomentGone) {
		// removed by the user while uploading; the asset is orphaned
		log.Info("Placeholder removed during upload, deleting the asset", zap.String("publicID", desc.PublicID))
		if delErr := q.uploader.Delete(q.ctx, desc.PublicID, desc.ResourceType); delErr != nil {
			log.Warn("Failed to delete orphaned asset", zap.Error(delErr))
		}
		task.State = TaskFailed
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return false
	}
	if err != nil {
		log.Error("Failed to fold upload into draft", zap.Error(err))
		task.State = TaskFailed
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		return false
	}

	task.State = TaskSucceeded
	metrics.UploadsTotal.WithLabelValues("success").Inc()
	return true
}

func (q *Queue) removePlaceholder(id string, log *zap.Logger) {
	err := q.target.Mutate(func(d *models.Draft) error {
		i := d.MomentIndex(id)
		if i < 0 {
			return errMomentGone
		}
		d.Moments = append(d.Moments[:i], d.Moments[i+1:]...)
		return nil
	})
	if err != nil && !errors.Is(err, errMomentGone) {
		log.Error("Failed to remove placeholder", zap.Error(err))
	}
}

func (q *Queue) notifySummary(s models.UploadBatchSummary) {
	level := models.LevelSuccess
	if s.Failed > 0 {
		level = models.LevelWarning
	}
	q.notify(q.ctx, models.Notification{
		Kind:    models.KindUploadBatch,
		Level:   level,
		Message: fmt.Sprintf("%d uploaded, %d failed", s.Succeeded, s.Failed),
		Summary: &s,
	})
	q.logger.Info("Upload batch finished", zap.Int("succeeded", s.Succeeded), zap.Int("failed", s.Failed))
}

func (q *Queue) notify(ctx context.Context, n models.Notification) {
	if q.notifier == nil {
		return
	}
	n.Recipient = q.cfg.Recipient
	n.CreatedAt = time.Now().UTC()
	q.notifier.Notify(context.WithoutCancel(ctx), n)
}
