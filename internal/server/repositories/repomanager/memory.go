package repomanager

import (
	"context"
	"database/sql"

	"github.com/vibeapp/mediavault/internal/dbx"
	"github.com/vibeapp/mediavault/internal/server/repositories/media"
	"github.com/vibeapp/mediavault/internal/server/repositories/profiles"
)

// MemoryRepositoryManager vends shared in-memory repositories. Used in tests;
// the DBTX argument is ignored.
type MemoryRepositoryManager struct {
	profiles *profiles.MemoryRepository
	media    *media.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		profiles: profiles.NewMemoryRepository(),
		media:    media.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) Profiles(db dbx.DBTX) profiles.Repository {
	return m.profiles
}

func (m *MemoryRepositoryManager) Media(db dbx.DBTX) media.Repository {
	return m.media
}

func (m *MemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}
