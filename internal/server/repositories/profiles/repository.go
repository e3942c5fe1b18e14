package profiles

import (
	"context"

	"github.com/vibeapp/mediavault/internal/server/models"
)

// Repository persists profiles and their media id pools.
type Repository interface {
	// Create inserts a new profile. Returns common.ErrConflict if a profile
	// with the same id already exists.
	Create(ctx context.Context, profile *models.Profile) error
	// Get returns the profile by id. Returns common.ErrNotFound if missing.
	Get(ctx context.Context, profileID string) (*models.Profile, error)
	// ListByUser returns all profiles owned by userID.
	ListByUser(ctx context.Context, userID string) ([]*models.Profile, error)
	// CompareAndSwapActive replaces the active media id list with next only
	// if the stored list still equals expected. Returns false when the
	// stored list changed concurrently.
	CompareAndSwapActive(ctx context.Context, profileID string, expected, next []string) (bool, error)
}
