package uploads

import (
	"strings"
	"sync"

	"memorial-server/memorial-service/internal/assets"
)

// PreviewRegistry holds the bytes of in-flight uploads so the browser can
// render a placeholder before the remote URL exists. Every URL it hands out
// must be revoked once the upload resolves.
type PreviewRegistry struct {
	mu      sync.RWMutex
	baseURL string
	files   map[string]assets.File
}

func NewPreviewRegistry(baseURL string) *PreviewRegistry {
	return &PreviewRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		files:   make(map[string]assets.File),
	}
}

// Create registers file under id and returns its local URL.
func (r *PreviewRegistry) Create(id string, file assets.File) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[id] = file
	return r.URL(id)
}

// URL is the local URL of id, whether or not it is registered.
func (r *PreviewRegistry) URL(id string) string {
	return r.baseURL + "/" + id
}

// Get returns the registered file.
func (r *PreviewRegistry) Get(id string) (assets.File, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	return f, ok
}

// Revoke frees the preview. Revoking an unknown id is a no-op.
func (r *PreviewRegistry) Revoke(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
}

// Len is the number of live previews.
func (r *PreviewRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}
