package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vibeapp/mediavault/internal/common"
	"github.com/vibeapp/mediavault/internal/dbx"
	"github.com/vibeapp/mediavault/internal/server/models"
)

// PostgresRepository implements profile storage over a dbx.DBTX (*sql.DB or *sql.Tx).
// Media id pools are stored as JSONB arrays; the compare-and-swap on
// active_media_ids relies on jsonb equality in the UPDATE condition.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// marshalIDs renders the id list as a JSON text parameter. The queries cast
// it to jsonb; passing []byte would go over the wire as bytea.
func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanIDs(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = []string{}
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (r *PostgresRepository) Create(ctx context.Context, profile *models.Profile) error {
	allocated, err := marshalIDs(profile.AllocatedMediaIDs)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	active, err := marshalIDs(profile.ActiveMediaIDs)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `
		INSERT INTO profiles (id, user_id, allocated_media_ids, active_media_ids)
		VALUES ($1, $2, $3::jsonb, $4::jsonb)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, profile.ID, profile.UserID, allocated, active)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Get(ctx context.Context, profileID string) (*models.Profile, error) {
	query := `
		SELECT id, user_id, allocated_media_ids, active_media_ids, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	var (
		profile   models.Profile
		allocated []byte
		active    []byte
	)
	err := r.db.QueryRowContext(ctx, query, profileID).Scan(
		&profile.ID, &profile.UserID, &allocated, &active, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := scanIDs(allocated, &profile.AllocatedMediaIDs); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	if err := scanIDs(active, &profile.ActiveMediaIDs); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	return &profile, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Profile, error) {
	query := `
		SELECT id, user_id, allocated_media_ids, active_media_ids, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Profile
	for rows.Next() {
		var (
			item      models.Profile
			allocated []byte
			active    []byte
		)
		if err := rows.Scan(&item.ID, &item.UserID, &allocated, &active, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if err := scanIDs(allocated, &item.AllocatedMediaIDs); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
		if err := scanIDs(active, &item.ActiveMediaIDs); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CompareAndSwapActive(ctx context.Context, profileID string, expected, next []string) (bool, error) {
	expectedJSON, err := marshalIDs(expected)
	if err != nil {
		return false, fmt.Errorf("marshal error: %w", err)
	}
	nextJSON, err := marshalIDs(next)
	if err != nil {
		return false, fmt.Errorf("marshal error: %w", err)
	}

	query := `
		UPDATE profiles
		SET active_media_ids = $1::jsonb, updated_at = now()
		WHERE id = $2 AND active_media_ids = $3::jsonb
	`
	res, err := r.db.ExecContext(ctx, query, nextJSON, profileID, expectedJSON)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
