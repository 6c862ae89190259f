package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/repo/internal/tables"
)

// Repository implements webq.Repository on SQLite. Content bodies live in the
// contents table unless external content is configured.
type Repository struct {
	db       *sql.DB
	external bool
}

// Option configures the repository
type Option func(*Repository)

// WithExternalContent leaves content bodies to a webq.BlobStore.
func WithExternalContent() Option {
	return func(r *Repository) {
		r.external = true
	}
}

// New wraps an open, migrated database.
func New(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open opens the database at path, applies migrations and returns the repository.
func Open(path string, opts ...Option) (*Repository, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, opts...), nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InTx runs fn in one database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx webq.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return handleSQLiteError("begin", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(ctx, &sqliteTx{tx: tx, external: r.external}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return handleSQLiteError("commit", err)
	}
	return nil
}

func handleSQLiteError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", operation, webq.ErrDuplicateKey)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: referenced record: %w", operation, webq.ErrNotFound)
		case sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%s: %w", operation, &webq.ValidationError{
				Field:   notNullColumn(sqliteErr.Error()),
				Code:    webq.CodeRequired,
				Message: "required field is missing",
			})
		}
		if strings.Contains(sqliteErr.Error(), "no such table") {
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, webq.ErrNotFound)
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// notNullColumn reads the column out of "NOT NULL constraint failed: table.column".
func notNullColumn(msg string) string {
	_, qualified, ok := strings.Cut(msg, "constraint failed: ")
	if !ok {
		return "record"
	}
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

type sqliteTx struct {
	tx       *sql.Tx
	external bool
}

func (t *sqliteTx) insert(ctx context.Context, operation, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, handleSQLiteError(operation, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, handleSQLiteError(operation, err)
	}
	return id, nil
}

func (t *sqliteTx) exec(ctx context.Context, operation, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, handleSQLiteError(operation, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, handleSQLiteError(operation, err)
	}
	return n, nil
}

// File operations

func (t *sqliteTx) InsertFile(ctx context.Context, row *webq.FileRow) (int64, error) {
	table, err := tables.Files(row.Kind)
	if err != nil {
		return 0, err
	}
	query, args, err := table.Insert(row, tables.Question)
	if err != nil {
		return 0, err
	}
	return t.insert(ctx, "insert file", query, args...)
}

func (t *sqliteTx) GetFile(ctx context.Context, kind webq.FileKind, id int64) (*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?1", table.SelectList(), table.Name)
	row, err := table.Scan(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, handleSQLiteError("get file", err)
	}
	return row, nil
}

func (t *sqliteTx) GetScopedFile(ctx context.Context, kind webq.FileKind, id int64, scope string) (*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", webq.ErrNotFound)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?1 AND %s = ?2",
		table.SelectList(), table.Name, table.ScopeColumn)
	row, err := table.Scan(t.tx.QueryRowContext(ctx, query, id, scopeArg))
	if err != nil {
		return nil, handleSQLiteError("get file", err)
	}
	return row, nil
}

func (t *sqliteTx) queryFiles(ctx context.Context, table *tables.FileTable, operation, query string, args ...any) ([]*webq.FileRow, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, handleSQLiteError(operation, err)
	}
	defer rows.Close()

	var result []*webq.FileRow
	for rows.Next() {
		row, err := table.Scan(rows)
		if err != nil {
			return nil, handleSQLiteError(operation, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, handleSQLiteError(operation, err)
	}
	return result, nil
}

func (t *sqliteTx) ListFiles(ctx context.Context, kind webq.FileKind, scope string) ([]*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?1 ORDER BY created_at, id",
		table.SelectList(), table.Name, table.ScopeColumn)
	return t.queryFiles(ctx, table, "list files", query, scopeArg)
}

func (t *sqliteTx) UpdateFile(ctx context.Context, row *webq.FileRow, withContent bool) (int64, error) {
	table, err := tables.Files(row.Kind)
	if err != nil {
		return 0, err
	}
	query, args, err := table.Update(row, withContent, tables.Question)
	if err != nil {
		return 0, err
	}
	return t.exec(ctx, "update file", query, args...)
}

func (t *sqliteTx) DeleteFiles(ctx context.Context, kind webq.FileKind, scope string, ids []int64) ([]*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil || len(ids) == 0 {
		return nil, nil
	}
	args := []any{scopeArg}
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		marks[i] = tables.Question(i + 2)
	}
	where := fmt.Sprintf("%s = ?1 AND id IN (%s)", table.ScopeColumn, strings.Join(marks, ", "))
	return t.deleteWhere(ctx, table, "delete files", where, args...)
}

func (t *sqliteTx) DeleteScope(ctx context.Context, kind webq.FileKind, scope string) ([]*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, nil
	}
	return t.deleteWhere(ctx, table, "delete scope", table.ScopeColumn+" = ?1", scopeArg)
}

// deleteWhere reads the matching rows before deleting them, since RETURNING
// rows carry no declared column types for the driver to convert timestamps.
func (t *sqliteTx) deleteWhere(ctx context.Context, table *tables.FileTable, operation, where string, args ...any) ([]*webq.FileRow, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at, id", table.SelectList(), table.Name, where)
	removed, err := t.queryFiles(ctx, table, operation, query, args...)
	if err != nil || len(removed) == 0 {
		return nil, err
	}
	if _, err := t.exec(ctx, operation, fmt.Sprintf("DELETE FROM %s WHERE %s", table.Name, where), args...); err != nil {
		return nil, err
	}
	return removed, nil
}

func (t *sqliteTx) Rescope(ctx context.Context, kind webq.FileKind, oldScope, newScope string) error {
	table, err := tables.Files(kind)
	if err != nil {
		return err
	}
	oldArg, err := table.ScopeArg(oldScope)
	if err != nil {
		return err
	}
	newArg, err := table.ScopeArg(newScope)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET %s = ?1 WHERE %s = ?2", table.Name, table.ScopeColumn, table.ScopeColumn)
	_, err = t.exec(ctx, "rescope files", query, newArg, oldArg)
	return err
}

func (t *sqliteTx) SetDownloaded(ctx context.Context, kind webq.FileKind, id int64, at time.Time) (int64, error) {
	if kind != webq.FileKindUser {
		return 0, fmt.Errorf("%s files have no download time", kind)
	}
	return t.exec(ctx, "set downloaded", "UPDATE user_files SET downloaded_at = ?1 WHERE id = ?2", at, id)
}

// Owner operations

func (t *sqliteTx) InsertOwner(ctx context.Context, row *webq.OwnerRow) (int64, error) {
	table, err := tables.Owners(row.Kind)
	if err != nil {
		return 0, err
	}
	query, args := table.Insert(row, tables.Question)
	return t.insert(ctx, "insert owner", query, args...)
}

func (t *sqliteTx) GetOwner(ctx context.Context, kind webq.OwnerKind, id int64) (*webq.OwnerRow, error) {
	table, err := tables.Owners(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?1", table.SelectList(), table.Name)
	row, err := table.Scan(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, handleSQLiteError("get owner", err)
	}
	return row, nil
}

func (t *sqliteTx) GetOwnerByKey(ctx context.Context, kind webq.OwnerKind, key string) (*webq.OwnerRow, error) {
	table, err := tables.Owners(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?1", table.SelectList(), table.Name, table.KeyColumn)
	row, err := table.Scan(t.tx.QueryRowContext(ctx, query, key))
	if err != nil {
		return nil, handleSQLiteError("get owner", err)
	}
	return row, nil
}

func (t *sqliteTx) ListOwners(ctx context.Context, kind webq.OwnerKind) ([]*webq.OwnerRow, error) {
	table, err := tables.Owners(kind)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at, id", table.SelectList(), table.Name))
	if err != nil {
		return nil, handleSQLiteError("list owners", err)
	}
	defer rows.Close()

	var result []*webq.OwnerRow
	for rows.Next() {
		row, err := table.Scan(rows)
		if err != nil {
			return nil, handleSQLiteError("list owners", err)
		}
		result = append(result, row)
	}
	return result, handleSQLiteError("list owners", rows.Err())
}

func (t *sqliteTx) UpdateOwner(ctx context.Context, row *webq.OwnerRow) error {
	table, err := tables.Owners(row.Kind)
	if err != nil {
		return err
	}
	query, args := table.Update(row, tables.Question)
	n, err := t.exec(ctx, "update owner", query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update owner %d: %w", row.ID, webq.ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) DeleteOwner(ctx context.Context, kind webq.OwnerKind, id int64) error {
	table, err := tables.Owners(kind)
	if err != nil {
		return err
	}
	n, err := t.exec(ctx, "delete owner", fmt.Sprintf("DELETE FROM %s WHERE id = ?1", table.Name), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete owner %d: %w", id, webq.ErrNotFound)
	}
	return nil
}

// Content operations

func (t *sqliteTx) LargeObjects() webq.ContentStore {
	if t.external {
		return nil
	}
	return &blobTable{tx: t}
}

func (t *sqliteTx) NextContentRef(ctx context.Context) (webq.ContentRef, error) {
	ref, err := t.insert(ctx, "next content ref", "INSERT INTO content_refs DEFAULT VALUES")
	return webq.ContentRef(ref), err
}

// blobTable keeps bodies in the contents table of the current transaction.
type blobTable struct {
	tx *sqliteTx
}

func (b *blobTable) Create(ctx context.Context, r io.Reader, size int64) (webq.ContentRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if int64(len(data)) != size {
		return 0, fmt.Errorf("store content: read %d of %d bytes", len(data), size)
	}
	ref, err := b.tx.insert(ctx, "store content", "INSERT INTO contents (data) VALUES (?1)", data)
	return webq.ContentRef(ref), err
}

func (b *blobTable) Open(ctx context.Context, ref webq.ContentRef) (io.ReadCloser, error) {
	var data []byte
	err := b.tx.tx.QueryRowContext(ctx, "SELECT data FROM contents WHERE ref = ?1", int64(ref)).Scan(&data)
	if err != nil {
		return nil, handleSQLiteError("read content", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *blobTable) Delete(ctx context.Context, ref webq.ContentRef) error {
	_, err := b.tx.exec(ctx, "delete content", "DELETE FROM contents WHERE ref = ?1", int64(ref))
	return err
}
