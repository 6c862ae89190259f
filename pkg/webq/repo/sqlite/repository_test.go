package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/repo/repotest"
	storagememory "github.com/tendant/webq/pkg/webq/storage/memory"
)

func newTestRepository(t *testing.T, opts ...Option) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "webq.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestHandleSQLiteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, webq.ErrDuplicateKey},
		{"foreign key violation", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, webq.ErrNotFound},
		{"not null violation", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, webq.ErrValidation},
		{"no rows", sql.ErrNoRows, webq.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, handleSQLiteError("insert file", tt.err), tt.want)
		})
	}

	assert.Equal(t, "file_name", notNullColumn("NOT NULL constraint failed: user_files.file_name"))
	assert.Equal(t, "record", notNullColumn("constraint failed"))
}

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (webq.Repository, []webq.Option) {
		return newTestRepository(t), nil
	})
}

func TestRepository_ExternalContent(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (webq.Repository, []webq.Option) {
		return newTestRepository(t, WithExternalContent()), []webq.Option{webq.WithBlobStore(storagememory.New())}
	})
}

func TestRepository_InMemory(t *testing.T) {
	repo, err := Open(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Ping(context.Background()))
	svc, err := webq.New(repo)
	require.NoError(t, err)
	_, err = svc.Users.Ensure(context.Background(), "alice")
	require.NoError(t, err)
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db, err := OpenConnection(filepath.Join(t.TempDir(), "webq.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db))
}

func TestRepository_ContentRowsAreReleased(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	svc, err := webq.New(repo)
	require.NoError(t, err)

	user, err := svc.Users.Ensure(ctx, "alice")
	require.NoError(t, err)
	id, err := svc.UserFiles.Save(ctx, &webq.UserFile{FileInfo: webq.FileInfo{
		FileName: "a.xml",
		Content:  webq.NewContent([]byte("<a/>")),
	}}, user.Key())
	require.NoError(t, err)

	update := &webq.UserFile{FileInfo: webq.FileInfo{ID: id, FileName: "a.xml", Content: webq.NewContent([]byte("<b/>"))}}
	require.NoError(t, svc.UserFiles.Update(ctx, update, user.Key()))

	var count int
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contents").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, svc.Users.Remove(ctx, user.ID))
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contents").Scan(&count))
	assert.Zero(t, count)
}
