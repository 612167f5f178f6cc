package chunks

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const upsertQ = `(?s)^\s*INSERT\s+INTO\s+upload_chunks\b.*ON\s+CONFLICT\s*\(session_id,\s*chunk_number\)\s*DO\s+UPDATE\s+SET\b.*RETURNING\s+id,\s*created_at\s*$`

func TestUpsert_NewRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(upsertQ).
		WithArgs("c1", "s1", 2, int64(5), "abc", "completed", "sessions/s1/chunk_000002", nil, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("c1", now))

	c := &models.Chunk{ID: "c1", SessionID: "s1", ChunkNumber: 2, Size: 5, Checksum: "abc",
		Status: models.ChunkStatusCompleted, StorageKey: "sessions/s1/chunk_000002", UpdatedAt: now}
	if err := repo.Upsert(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsert_ExistingRowKeepsIdentity(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(upsertQ).
		WithArgs("c-new", "s1", 1, int64(3), "def", "completed", "k", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("c-orig", created))

	c := &models.Chunk{ID: "c-new", SessionID: "s1", ChunkNumber: 1, Size: 3, Checksum: "def",
		Status: models.ChunkStatusCompleted, StorageKey: "k", UpdatedAt: time.Now(),
		SecurityMetadata: &models.SecurityReport{RiskLevel: models.RiskMedium, Warnings: []string{"Executable file detected"}}}
	if err := repo.Upsert(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != "c-orig" || !c.CreatedAt.Equal(created) {
		t.Fatalf("identity not written back: %+v", c)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(upsertQ).WillReturnError(errors.New("boom"))
	if err := repo.Upsert(context.Background(), &models.Chunk{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestListBySession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	cols := []string{"id", "session_id", "chunk_number", "size", "checksum", "status", "storage_key",
		"security_metadata", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("c1", "s1", 1, int64(4), "aa", "completed", "k1", nil, now, now).
		AddRow("c2", "s1", 2, int64(4), "bb", "completed", "k2",
			[]byte(`{"risk_level":"medium","safe":true,"warnings":["Executable file detected"]}`), now, now)

	mock.ExpectQuery(`(?s)FROM\s+upload_chunks\s+WHERE\s+session_id=\$1\s+ORDER\s+BY\s+chunk_number$`).
		WithArgs("s1").WillReturnRows(rows)

	got, err := repo.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(got))
	}
	if got[0].SecurityMetadata != nil {
		t.Fatalf("chunk 1 should have no report")
	}
	if got[1].SecurityMetadata == nil || got[1].SecurityMetadata.RiskLevel != models.RiskMedium {
		t.Fatalf("chunk 2 report not decoded: %+v", got[1].SecurityMetadata)
	}
}

func TestListBySession_BadReport(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "session_id", "chunk_number", "size", "checksum", "status", "storage_key",
		"security_metadata", "created_at", "updated_at"}).
		AddRow("c1", "s1", 1, int64(4), "aa", "completed", "k1", []byte(`{`), now, now)
	mock.ExpectQuery(`FROM\s+upload_chunks`).WithArgs("s1").WillReturnRows(rows)

	if _, err := repo.ListBySession(context.Background(), "s1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCountCompleted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+count\(\*\)\s+FROM\s+upload_chunks\s+WHERE\s+session_id=\$1\s+AND\s+status='completed'`).
		WithArgs("s1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountCompleted(context.Background(), "s1")
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestDeleteBySession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+upload_chunks\s+WHERE\s+session_id=\$1`).
		WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteBySession(context.Background(), "s1")
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestUpsert_MissingSessionIsNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(upsertQ).WillReturnError(&pgconn.PgError{Code: "23503"})

	err := repo.Upsert(context.Background(), &models.Chunk{ID: "c1", SessionID: "gone", ChunkNumber: 1})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "session_id", "chunk_number", "size", "checksum", "status", "storage_key",
		"security_metadata", "created_at", "updated_at"}).
		AddRow("c1", "s1", 2, int64(4), "aa", "completed", "sessions/s1/chunk_000002_x", nil, now, now)
	mock.ExpectQuery(`FROM\s+upload_chunks\s+WHERE\s+session_id=\$1\s+AND\s+chunk_number=\$2`).
		WithArgs("s1", 2).WillReturnRows(rows)

	c, err := repo.Get(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.StorageKey != "sessions/s1/chunk_000002_x" || c.Status != models.ChunkStatusCompleted {
		t.Fatalf("unexpected chunk: %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+upload_chunks`).WithArgs("s1", 9).WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "s1", 9); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}
