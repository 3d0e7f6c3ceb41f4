package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tus-upload-server/backend/internal/models"
)

// MemoryRepository keeps sessions in a map. Suitable for single-process
// deployments and tests; contents are lost on restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	uploads map[string]*models.Upload
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		uploads: make(map[string]*models.Upload),
	}
}

func (r *MemoryRepository) FindByID(_ context.Context, uploadID string) (*models.Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.uploads[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepository) FindExpired(_ context.Context, now time.Time) ([]*models.Upload, error) {
	return r.filter(func(u *models.Upload) bool { return u.IsExpired(now) }), nil
}

func (r *MemoryRepository) FindIncomplete(_ context.Context) ([]*models.Upload, error) {
	return r.filter(func(u *models.Upload) bool { return !u.Completed }), nil
}

func (r *MemoryRepository) filter(keep func(*models.Upload) bool) []*models.Upload {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*models.Upload
	for _, u := range r.uploads {
		if keep(u) {
			list = append(list, u.Clone())
		}
	}

	// Sort by CreateTime asc for stable output
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreateTime.Before(list[j].CreateTime)
	})
	return list
}

func (r *MemoryRepository) Save(_ context.Context, u *models.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.uploads[u.UploadID]
	switch {
	case u.Version == 0 && exists:
		return ErrConflict
	case u.Version != 0 && (!exists || stored.Version != u.Version):
		return ErrConflict
	}

	u.Version++
	r.uploads[u.UploadID] = u.Clone()
	return nil
}

func (r *MemoryRepository) Remove(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.uploads, uploadID)
	return nil
}

// Len returns the number of stored sessions.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.uploads)
}

func (r *MemoryRepository) Close() error { return nil }
