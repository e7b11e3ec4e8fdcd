// Package testsupport provides in-memory collaborators for the wizard's tests.
package testsupport

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/google/uuid"
)

var (
	_ interfaces.MemorialRepository = (*Memorials)(nil)
	_ interfaces.ServiceRepository  = serviceView{}
	_ interfaces.MomentRepository   = (*Children)(nil)
	_ interfaces.FallbackStore      = (*Fallback)(nil)
)

// Memorials is an owner-scoped in-memory memorial table.
type Memorials struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]models.MemorialRecord
	calls    map[string]int
	failures map[string][]error
}

func NewMemorials() *Memorials {
	return &Memorials{
		rows:     make(map[uuid.UUID]models.MemorialRecord),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// FailNext queues errors returned by the next calls of method, one per call.
func (m *Memorials) FailNext(method string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], errs...)
}

// Calls returns how often method ran.
func (m *Memorials) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls is the number of calls over all methods.
func (m *Memorials) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Count is the number of stored rows.
func (m *Memorials) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Row returns a stored row regardless of owner.
func (m *Memorials) Row(id uuid.UUID) (models.MemorialRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

// Put stores rec as is.
func (m *Memorials) Put(rec models.MemorialRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.ID] = rec
}

func (m *Memorials) enter(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if queued := m.failures[method]; len(queued) > 0 {
		m.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *Memorials) Create(_ context.Context, rec *models.MemorialRecord) error {
	if err := m.enter("Create"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := m.rows[rec.ID]; exists {
		return fmt.Errorf("duplicate memorial %s", rec.ID)
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.IsPublished && rec.PublishedAt == nil {
		rec.PublishedAt = &now
	}
	m.rows[rec.ID] = *rec
	return nil
}

func (m *Memorials) GetByID(_ context.Context, id, ownerID uuid.UUID) (*models.MemorialRecord, error) {
	if err := m.enter("GetByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}
	return &r, nil
}

func (m *Memorials) Update(_ context.Context, rec *models.MemorialRecord) error {
	if err := m.enter("Update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[rec.ID]
	if !ok {
		return models.ErrNotFound
	}
	if existing.OwnerID != rec.OwnerID {
		return models.ErrForbidden
	}
	updated := *rec
	updated.CreatedAt = existing.CreatedAt
	updated.Slug = existing.Slug
	updated.UpdatedAt = time.Now().UTC()
	if updated.IsPublished && existing.PublishedAt == nil {
		now := updated.UpdatedAt
		updated.PublishedAt = &now
	} else {
		updated.PublishedAt = existing.PublishedAt
	}
	m.rows[rec.ID] = updated
	return nil
}

func (m *Memorials) SetSlug(_ context.Context, id, ownerID uuid.UUID, slug string) error {
	if err := m.enter("SetSlug"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return models.ErrNotFound
	}
	if r.OwnerID != ownerID {
		return models.ErrForbidden
	}
	r.Slug = &slug
	m.rows[id] = r
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func (m *Memorials) GenerateUniqueSlug(_ context.Context, displayName string) (string, error) {
	if err := m.enter("GenerateUniqueSlug"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	base := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(displayName), "-"), "-")
	if base == "" {
		base = "memorial"
	}
	taken := make(map[string]bool, len(m.rows))
	for _, r := range m.rows {
		if r.Slug != nil {
			taken[*r.Slug] = true
		}
	}
	candidate := base
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return candidate, nil
}

// Children stores services and moments keyed by memorial, checking ownership
// against the Memorials table like the transactional repositories do.
type Children struct {
	mu        sync.Mutex
	memorials *Memorials
	services  map[uuid.UUID][]models.ServiceRecord
	moments   map[uuid.UUID][]models.MomentRecord
	calls     map[string]int
	failures  map[string][]error
}

func NewChildren(memorials *Memorials) *Children {
	return &Children{
		memorials: memorials,
		services:  make(map[uuid.UUID][]models.ServiceRecord),
		moments:   make(map[uuid.UUID][]models.MomentRecord),
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
	}
}

// Services exposes the service-repository view.
func (c *Children) Services() interfaces.ServiceRepository { return serviceView{c} }

// Moments exposes the moment-repository view.
func (c *Children) Moments() interfaces.MomentRepository { return c }

func (c *Children) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

func (c *Children) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Children) enter(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	if queued := c.failures[method]; len(queued) > 0 {
		c.failures[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (c *Children) checkOwner(memorialID, ownerID uuid.UUID) error {
	r, ok := c.memorials.Row(memorialID)
	if !ok {
		return models.ErrNotFound
	}
	if r.OwnerID != ownerID {
		return models.ErrForbidden
	}
	return nil
}

func (c *Children) ListByMemorial(_ context.Context, memorialID uuid.UUID) ([]models.MomentRecord, error) {
	if err := c.enter("ListMoments"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.MomentRecord{}, c.moments[memorialID]...), nil
}

func (c *Children) Replace(_ context.Context, memorialID, ownerID uuid.UUID, moments []models.MomentRecord) error {
	if err := c.enter("ReplaceMoments"); err != nil {
		return err
	}
	if err := c.checkOwner(memorialID, ownerID); err != nil {
		return err
	}
	rows := make([]models.MomentRecord, len(moments))
	for i, m := range moments {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.MemorialID = memorialID
		m.Sequence = i
		rows[i] = m
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moments[memorialID] = rows
	return nil
}

func (c *Children) OwnerOfAsset(_ context.Context, publicID string) (uuid.UUID, error) {
	if err := c.enter("OwnerOfAsset"); err != nil {
		return uuid.Nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for memorialID, rows := range c.moments {
		for _, r := range rows {
			if r.PublicID == publicID {
				if rec, ok := c.memorials.Row(memorialID); ok {
					return rec.OwnerID, nil
				}
			}
		}
	}
	return uuid.Nil, models.ErrNotFound
}

type serviceView struct{ c *Children }

func (v serviceView) ListByMemorial(_ context.Context, memorialID uuid.UUID) ([]models.ServiceRecord, error) {
	if err := v.c.enter("ListServices"); err != nil {
		return nil, err
	}
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return append([]models.ServiceRecord{}, v.c.services[memorialID]...), nil
}

func (v serviceView) Replace(_ context.Context, memorialID, ownerID uuid.UUID, services []models.ServiceRecord) error {
	if err := v.c.enter("ReplaceServices"); err != nil {
		return err
	}
	if err := v.c.checkOwner(memorialID, ownerID); err != nil {
		return err
	}
	rows := make([]models.ServiceRecord, len(services))
	for i, s := range services {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.MemorialID = memorialID
		s.Sequence = i
		rows[i] = s
	}
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	v.c.services[memorialID] = rows
	return nil
}

// Fallback is a map-backed FallbackStore.
type Fallback struct {
	mu     sync.Mutex
	values map[string]string
	SetErr error
	GetErr error
}

func NewFallback() *Fallback {
	return &Fallback{values: make(map[string]string)}
}

func (f *Fallback) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return "", f.GetErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", models.ErrNotFound
	}
	return v, nil
}

func (f *Fallback) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	f.values[key] = value
	return nil
}

func (f *Fallback) Remove(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

// Has reports whether key is stored.
func (f *Fallback) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

// Value returns the stored value of key.
func (f *Fallback) Value(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}
