package profiles

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/server/models"
)

// MemoryRepository is an in-memory implementation used in tests.
// Compare-and-swap semantics match the Postgres implementation.
type MemoryRepository struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: make(map[string]*models.Profile)}
}

func cloneProfile(p *models.Profile) *models.Profile {
	c := *p
	c.AllocatedMediaIDs = slices.Clone(p.AllocatedMediaIDs)
	c.ActiveMediaIDs = slices.Clone(p.ActiveMediaIDs)
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, profile *models.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.ID]; ok {
		return common.ErrConflict
	}
	c := cloneProfile(profile)
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ActiveMediaIDs == nil {
		c.ActiveMediaIDs = []string{}
	}
	r.profiles[profile.ID] = c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, profileID string) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[profileID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Profile
	for _, p := range r.profiles {
		if p.UserID == userID {
			result = append(result, cloneProfile(p))
		}
	}
	slices.SortFunc(result, func(a, b *models.Profile) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) CompareAndSwapActive(ctx context.Context, profileID string, expected, next []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[profileID]
	if !ok {
		return false, nil
	}
	if !slices.Equal(p.ActiveMediaIDs, expected) {
		return false, nil
	}
	p.ActiveMediaIDs = slices.Clone(next)
	if p.ActiveMediaIDs == nil {
		p.ActiveMediaIDs = []string{}
	}
	p.UpdatedAt = time.Now()
	return true, nil
}
