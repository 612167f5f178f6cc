package members

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_CanUpload(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	q := `(?s)SELECT\s+EXISTS.*FROM\s+workspace_members.*role\s+IN\s+\('owner',\s+'collaborator'\)`
	mock.ExpectQuery(q).WithArgs("w1", "u1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("w1", "u2").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(q).WithArgs("w1", "u3").WillReturnError(errors.New("boom"))

	ok, err := repo.CanUpload(context.Background(), "w1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CanUpload(context.Background(), "w1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.CanUpload(context.Background(), "w1", "u3")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Add(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+workspace_members.*ON\s+CONFLICT\s*\(workspace_id,\s*user_id\)`).
		WithArgs("w1", "u1", "owner").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresRepository(db).Add(context.Background(), "w1", "u1", models.RoleOwner))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_Roles(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Add(ctx, "w1", "owner", models.RoleOwner))
	require.NoError(t, r.Add(ctx, "w1", "collab", models.RoleCollaborator))
	require.NoError(t, r.Add(ctx, "w1", "viewer", models.RoleViewer))

	for user, want := range map[string]bool{"owner": true, "collab": true, "viewer": false, "stranger": false} {
		got, err := r.CanUpload(ctx, "w1", user)
		require.NoError(t, err)
		assert.Equal(t, want, got, user)
	}
	got, _ := r.CanUpload(ctx, "w2", "owner")
	assert.False(t, got)
}
