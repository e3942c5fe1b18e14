package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/dbx"
	"github.com/vibeapp/mediavault/internal/server/models"
)

// PostgresRepository implements media record storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `media_id, profile_id, user_id, status, storage_key,
	media_type, declared_size, declared_width, declared_height,
	actual_size, actual_width, actual_height,
	storage_etag, display_order, error_msg,
	expires_at, uploaded_at, created_at, updated_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (*models.MediaRecord, error) {
	var rec models.MediaRecord
	err := row.Scan(
		&rec.MediaID, &rec.ProfileID, &rec.UserID, &rec.Status, &rec.StorageKey,
		&rec.MediaType, &rec.DeclaredSize, &rec.DeclaredWidth, &rec.DeclaredHeight,
		&rec.ActualSize, &rec.ActualWidth, &rec.ActualHeight,
		&rec.StorageETag, &rec.DisplayOrder, &rec.ErrorMsg,
		&rec.ExpiresAt, &rec.UploadedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TryInsertPending claims the (profile_id, media_id) slot. The primary key
// constraint makes the claim linearizable: of N concurrent inserts exactly
// one succeeds.
func (r *PostgresRepository) TryInsertPending(ctx context.Context, rec *models.MediaRecord) (bool, error) {
	query := `
		INSERT INTO media_records
			(media_id, profile_id, user_id, status, storage_key,
			 media_type, declared_size, declared_width, declared_height,
			 display_order, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (profile_id, media_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.MediaID, rec.ProfileID, rec.UserID, models.StatusPending, rec.StorageKey,
		rec.MediaType, rec.DeclaredSize, rec.DeclaredWidth, rec.DeclaredHeight,
		rec.DisplayOrder, rec.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) DeleteExpiredPending(ctx context.Context, profileID, mediaID string, now time.Time) (bool, error) {
	query := `
		DELETE FROM media_records
		WHERE profile_id = $1 AND media_id = $2 AND status = $3 AND expires_at < $4
	`
	res, err := r.db.ExecContext(ctx, query, profileID, mediaID, models.StatusPending, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, profileID, mediaID string) (*models.MediaRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM media_records WHERE profile_id = $1 AND media_id = $2`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, profileID, mediaID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListByProfile(ctx context.Context, profileID string) ([]*models.MediaRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM media_records WHERE profile_id = $1 ORDER BY display_order, created_at`

	rows, err := r.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MarkProcessing(ctx context.Context, profileID, mediaID string, actualSize int64, etag string, uploadedAt time.Time) (bool, error) {
	query := `
		UPDATE media_records
		SET status = $1, actual_size = $2, storage_etag = $3, uploaded_at = $4, updated_at = now()
		WHERE profile_id = $5 AND media_id = $6 AND status = $7 AND expires_at >= $8
	`
	res, err := r.db.ExecContext(ctx, query,
		models.StatusProcessing, actualSize, etag, uploadedAt,
		profileID, mediaID, models.StatusPending, uploadedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) MarkReady(ctx context.Context, profileID, mediaID string, width, height int) (bool, error) {
	query := `
		UPDATE media_records
		SET status = $1, actual_width = $2, actual_height = $3, updated_at = now()
		WHERE profile_id = $4 AND media_id = $5 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		models.StatusReady, width, height, profileID, mediaID, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) MarkError(ctx context.Context, profileID, mediaID, msg string) (bool, error) {
	query := `
		UPDATE media_records
		SET status = $1, error_msg = $2, updated_at = now()
		WHERE profile_id = $3 AND media_id = $4 AND status IN ($5, $6)
	`
	res, err := r.db.ExecContext(ctx, query,
		models.StatusError, msg, profileID, mediaID, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, profileID, mediaID string) (bool, error) {
	query := `DELETE FROM media_records WHERE profile_id = $1 AND media_id = $2`

	res, err := r.db.ExecContext(ctx, query, profileID, mediaID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
