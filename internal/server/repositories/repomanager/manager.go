package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/members"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/sessions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Sessions(db dbx.DBTX) sessions.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	Members(db dbx.DBTX) members.Repository
}
