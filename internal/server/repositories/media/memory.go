package media

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/server/models"
)

type recordKey struct {
	profileID string
	mediaID   string
}

// MemoryRepository is an in-memory implementation used in tests. Conditional
// write semantics match the Postgres implementation.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[recordKey]*models.MediaRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]*models.MediaRecord)}
}

func cloneRecord(r *models.MediaRecord) *models.MediaRecord {
	c := *r
	if r.UploadedAt != nil {
		t := *r.UploadedAt
		c.UploadedAt = &t
	}
	return &c
}

func (r *MemoryRepository) TryInsertPending(ctx context.Context, rec *models.MediaRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey{rec.ProfileID, rec.MediaID}
	if _, ok := r.records[key]; ok {
		return false, nil
	}
	c := cloneRecord(rec)
	c.Status = models.StatusPending
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.records[key] = c
	return true, nil
}

func (r *MemoryRepository) DeleteExpiredPending(ctx context.Context, profileID, mediaID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey{profileID, mediaID}
	rec, ok := r.records[key]
	if !ok || rec.Status != models.StatusPending || !now.After(rec.ExpiresAt) {
		return false, nil
	}
	delete(r.records, key)
	return true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, profileID, mediaID string) (*models.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey{profileID, mediaID}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepository) ListByProfile(ctx context.Context, profileID string) ([]*models.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.MediaRecord
	for key, rec := range r.records {
		if key.profileID == profileID {
			result = append(result, cloneRecord(rec))
		}
	}
	slices.SortFunc(result, func(a, b *models.MediaRecord) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) MarkProcessing(ctx context.Context, profileID, mediaID string, actualSize int64, etag string, uploadedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey{profileID, mediaID}]
	if !ok || rec.Status != models.StatusPending || uploadedAt.After(rec.ExpiresAt) {
		return false, nil
	}
	rec.Status = models.StatusProcessing
	rec.ActualSize = actualSize
	rec.StorageETag = etag
	t := uploadedAt
	rec.UploadedAt = &t
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepository) MarkReady(ctx context.Context, profileID, mediaID string, width, height int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey{profileID, mediaID}]
	if !ok || rec.Status != models.StatusProcessing {
		return false, nil
	}
	rec.Status = models.StatusReady
	rec.ActualWidth = width
	rec.ActualHeight = height
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepository) MarkError(ctx context.Context, profileID, mediaID, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey{profileID, mediaID}]
	if !ok || (rec.Status != models.StatusPending && rec.Status != models.StatusProcessing) {
		return false, nil
	}
	rec.Status = models.StatusError
	rec.ErrorMsg = msg
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, profileID, mediaID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey{profileID, mediaID}
	if _, ok := r.records[key]; !ok {
		return false, nil
	}
	delete(r.records, key)
	return true, nil
}
