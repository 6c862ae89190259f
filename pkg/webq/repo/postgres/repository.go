package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/repo/internal/tables"
)

// Repository implements webq.Repository using PostgreSQL. Content bodies are
// stored as large objects unless external content is configured.
type Repository struct {
	pool     *pgxpool.Pool
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

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InTx runs fn in one database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx webq.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, external: r.external})
	})
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %s: %w", operation, pgErr.ConstraintName, webq.ErrDuplicateKey)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record: %w", operation, webq.ErrNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: %w", operation, &webq.ValidationError{
				Field:   pgErr.ColumnName,
				Code:    webq.CodeRequired,
				Message: "required field is missing",
			})
		case "42704": // undefined_object, a missing large object
			return fmt.Errorf("%s: %w", operation, webq.ErrNotFound)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, webq.ErrNotFound)
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

type pgTx struct {
	tx       pgx.Tx
	external bool
}

// File operations

func (t *pgTx) InsertFile(ctx context.Context, row *webq.FileRow) (int64, error) {
	table, err := tables.Files(row.Kind)
	if err != nil {
		return 0, err
	}
	query, args, err := table.Insert(row, tables.Dollar)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := t.tx.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, handlePostgresError("insert file", err)
	}
	return id, nil
}

func (t *pgTx) GetFile(ctx context.Context, kind webq.FileKind, id int64) (*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", table.SelectList(), table.Name)
	row, err := table.Scan(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, handlePostgresError("get file", err)
	}
	return row, nil
}

func (t *pgTx) GetScopedFile(ctx context.Context, kind webq.FileKind, id int64, scope string) (*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", webq.ErrNotFound)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 AND %s = $2",
		table.SelectList(), table.Name, table.ScopeColumn)
	row, err := table.Scan(t.tx.QueryRow(ctx, query, id, scopeArg))
	if err != nil {
		return nil, handlePostgresError("get file", err)
	}
	return row, nil
}

func (t *pgTx) queryFiles(ctx context.Context, table *tables.FileTable, operation, query string, args ...any) ([]*webq.FileRow, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError(operation, err)
	}
	defer rows.Close()

	var result []*webq.FileRow
	for rows.Next() {
		row, err := table.Scan(rows)
		if err != nil {
			return nil, handlePostgresError(operation, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError(operation, err)
	}
	return result, nil
}

func (t *pgTx) ListFiles(ctx context.Context, kind webq.FileKind, scope string) ([]*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY created_at, id",
		table.SelectList(), table.Name, table.ScopeColumn)
	return t.queryFiles(ctx, table, "list files", query, scopeArg)
}

func (t *pgTx) UpdateFile(ctx context.Context, row *webq.FileRow, withContent bool) (int64, error) {
	table, err := tables.Files(row.Kind)
	if err != nil {
		return 0, err
	}
	query, args, err := table.Update(row, withContent, tables.Dollar)
	if err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, handlePostgresError("update file", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteFiles(ctx context.Context, kind webq.FileKind, scope string, ids []int64) ([]*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND id = ANY($2) RETURNING %s",
		table.Name, table.ScopeColumn, table.SelectList())
	return t.queryFiles(ctx, table, "delete files", query, scopeArg, ids)
}

func (t *pgTx) DeleteScope(ctx context.Context, kind webq.FileKind, scope string) ([]*webq.FileRow, error) {
	table, err := tables.Files(kind)
	if err != nil {
		return nil, err
	}
	scopeArg, err := table.ScopeArg(scope)
	if err != nil {
		return nil, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING %s",
		table.Name, table.ScopeColumn, table.SelectList())
	return t.queryFiles(ctx, table, "delete scope", query, scopeArg)
}

func (t *pgTx) Rescope(ctx context.Context, kind webq.FileKind, oldScope, newScope string) error {
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
	query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2", table.Name, table.ScopeColumn, table.ScopeColumn)
	if _, err := t.tx.Exec(ctx, query, newArg, oldArg); err != nil {
		return handlePostgresError("rescope files", err)
	}
	return nil
}

func (t *pgTx) SetDownloaded(ctx context.Context, kind webq.FileKind, id int64, at time.Time) (int64, error) {
	if kind != webq.FileKindUser {
		return 0, fmt.Errorf("%s files have no download time", kind)
	}
	tag, err := t.tx.Exec(ctx, "UPDATE user_files SET downloaded_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return 0, handlePostgresError("set downloaded", err)
	}
	return tag.RowsAffected(), nil
}

// Owner operations

func (t *pgTx) InsertOwner(ctx context.Context, row *webq.OwnerRow) (int64, error) {
	table, err := tables.Owners(row.Kind)
	if err != nil {
		return 0, err
	}
	query, args := table.Insert(row, tables.Dollar)
	var id int64
	if err := t.tx.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, handlePostgresError("insert owner", err)
	}
	return id, nil
}

func (t *pgTx) GetOwner(ctx context.Context, kind webq.OwnerKind, id int64) (*webq.OwnerRow, error) {
	table, err := tables.Owners(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", table.SelectList(), table.Name)
	row, err := table.Scan(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, handlePostgresError("get owner", err)
	}
	return row, nil
}

func (t *pgTx) GetOwnerByKey(ctx context.Context, kind webq.OwnerKind, key string) (*webq.OwnerRow, error) {
	table, err := tables.Owners(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", table.SelectList(), table.Name, table.KeyColumn)
	row, err := table.Scan(t.tx.QueryRow(ctx, query, key))
	if err != nil {
		return nil, handlePostgresError("get owner", err)
	}
	return row, nil
}

func (t *pgTx) ListOwners(ctx context.Context, kind webq.OwnerKind) ([]*webq.OwnerRow, error) {
	table, err := tables.Owners(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at, id", table.SelectList(), table.Name)
	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, handlePostgresError("list owners", err)
	}
	defer rows.Close()

	var result []*webq.OwnerRow
	for rows.Next() {
		row, err := table.Scan(rows)
		if err != nil {
			return nil, handlePostgresError("list owners", err)
		}
		result = append(result, row)
	}
	return result, handlePostgresError("list owners", rows.Err())
}

func (t *pgTx) UpdateOwner(ctx context.Context, row *webq.OwnerRow) error {
	table, err := tables.Owners(row.Kind)
	if err != nil {
		return err
	}
	query, args := table.Update(row, tables.Dollar)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return handlePostgresError("update owner", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update owner %d: %w", row.ID, webq.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteOwner(ctx context.Context, kind webq.OwnerKind, id int64) error {
	table, err := tables.Owners(kind)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", table.Name), id)
	if err != nil {
		return handlePostgresError("delete owner", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete owner %d: %w", id, webq.ErrNotFound)
	}
	return nil
}

// Content operations

func (t *pgTx) LargeObjects() webq.ContentStore {
	if t.external {
		return nil
	}
	return &largeObjects{los: t.tx.LargeObjects()}
}

func (t *pgTx) NextContentRef(ctx context.Context) (webq.ContentRef, error) {
	var ref int64
	if err := t.tx.QueryRow(ctx, "SELECT nextval('content_refs')").Scan(&ref); err != nil {
		return 0, handlePostgresError("next content ref", err)
	}
	return webq.ContentRef(ref), nil
}

// largeObjects keeps bodies as PostgreSQL large objects bound to the transaction.
type largeObjects struct {
	los pgx.LargeObjects
}

func oid(ref webq.ContentRef) (uint32, error) {
	if ref <= 0 || ref > webq.ContentRef(^uint32(0)) {
		return 0, fmt.Errorf("content ref %d is not a large object id", ref)
	}
	return uint32(ref), nil
}

func (l *largeObjects) Create(ctx context.Context, r io.Reader, size int64) (webq.ContentRef, error) {
	id, err := l.los.Create(ctx, 0)
	if err != nil {
		return 0, handlePostgresError("create large object", err)
	}
	obj, err := l.los.Open(ctx, id, pgx.LargeObjectModeWrite)
	if err != nil {
		return 0, handlePostgresError("open large object", err)
	}
	written, err := io.Copy(obj, r)
	if closeErr := obj.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, handlePostgresError("write large object", err)
	}
	if written != size {
		return 0, fmt.Errorf("write large object: wrote %d of %d bytes", written, size)
	}
	return webq.ContentRef(id), nil
}

func (l *largeObjects) Open(ctx context.Context, ref webq.ContentRef) (io.ReadCloser, error) {
	id, err := oid(ref)
	if err != nil {
		return nil, err
	}
	obj, err := l.los.Open(ctx, id, pgx.LargeObjectModeRead)
	if err != nil {
		return nil, handlePostgresError("open large object", err)
	}
	return obj, nil
}

func (l *largeObjects) Delete(ctx context.Context, ref webq.ContentRef) error {
	id, err := oid(ref)
	if err != nil {
		return err
	}
	return handlePostgresError("unlink large object", l.los.Unlink(ctx, id))
}
