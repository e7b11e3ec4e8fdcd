package interfaces

import "context"

// FallbackStore is the degraded-mode key/value cache for draft snapshots and
// the cached remote draft id. Get returns models.ErrNotFound for missing keys.
type FallbackStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}
