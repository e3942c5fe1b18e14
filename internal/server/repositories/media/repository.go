package media

import (
	"context"
	"time"

	"github.com/vibeapp/mediavault/internal/server/models"
)

// Repository persists media records. Slot claims and status transitions are
// conditional writes; the boolean result reports whether the condition held.
type Repository interface {
	// TryInsertPending claims a media slot by inserting a pending record.
	// Returns false when a record for (profileID, mediaID) already exists.
	TryInsertPending(ctx context.Context, rec *models.MediaRecord) (bool, error)
	// DeleteExpiredPending removes a pending record whose upload window
	// closed before now. Returns false if no such record was removed.
	DeleteExpiredPending(ctx context.Context, profileID, mediaID string, now time.Time) (bool, error)
	// Get returns the record. Returns common.ErrNotFound if missing.
	Get(ctx context.Context, profileID, mediaID string) (*models.MediaRecord, error)
	// ListByProfile returns all records of the profile ordered by display_order.
	ListByProfile(ctx context.Context, profileID string) ([]*models.MediaRecord, error)
	// MarkProcessing moves a pending, unexpired record to processing and
	// stores the upload result. Returns false when the record is not in a
	// state that permits the transition.
	MarkProcessing(ctx context.Context, profileID, mediaID string, actualSize int64, etag string, uploadedAt time.Time) (bool, error)
	// MarkReady moves a processing record to ready with its measured dimensions.
	MarkReady(ctx context.Context, profileID, mediaID string, width, height int) (bool, error)
	// MarkError moves a pending or processing record to error.
	MarkError(ctx context.Context, profileID, mediaID, msg string) (bool, error)
	// Delete removes the record. Returns false if it did not exist.
	Delete(ctx context.Context, profileID, mediaID string) (bool, error)
}
