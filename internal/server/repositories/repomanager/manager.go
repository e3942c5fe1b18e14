package repomanager

import (
	"context"
	"database/sql"

	"github.com/vibeapp/mediavault/internal/dbx"
	"github.com/vibeapp/mediavault/internal/server/repositories/media"
	"github.com/vibeapp/mediavault/internal/server/repositories/profiles"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Profiles(db dbx.DBTX) profiles.Repository
	Media(db dbx.DBTX) media.Repository
}
