package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/members"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/sessions"
)

// InMemoryRepositoryManager hands out the same process-local repositories
// regardless of the DBTX it is given. Pair it with dbx.LockingTxRunner.
type InMemoryRepositoryManager struct {
	sessions *sessions.MemoryRepository
	chunks   *chunks.MemoryRepository
	members  *members.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		sessions: sessions.NewMemoryRepository(),
		chunks:   chunks.NewMemoryRepository(),
		members:  members.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *InMemoryRepositoryManager) Sessions(dbx.DBTX) sessions.Repository { return m.sessions }

func (m *InMemoryRepositoryManager) Chunks(dbx.DBTX) chunks.Repository { return m.chunks }

func (m *InMemoryRepositoryManager) Members(dbx.DBTX) members.Repository { return m.members }
