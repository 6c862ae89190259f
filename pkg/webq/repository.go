package webq

import (
	"context"
	"io"
	"time"
)

// Repository persists file records, owner entries and (optionally) content bodies.
type Repository interface {
	// InTx runs fn inside one transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit of work handed out by Repository.InTx.
type Tx interface {
	// File record operations. Scoped lookups return ErrNotFound on owner mismatch.
	InsertFile(ctx context.Context, row *FileRow) (int64, error)
	GetFile(ctx context.Context, kind FileKind, id int64) (*FileRow, error)
	GetScopedFile(ctx context.Context, kind FileKind, id int64, scope string) (*FileRow, error)
	ListFiles(ctx context.Context, kind FileKind, scope string) ([]*FileRow, error)
	// UpdateFile writes the metadata columns, and ContentRef/SizeInBytes/FileName when
	// withContent is set. It returns the number of affected rows.
	UpdateFile(ctx context.Context, row *FileRow, withContent bool) (int64, error)
	// DeleteFiles removes the listed ids that belong to scope and returns the removed rows.
	DeleteFiles(ctx context.Context, kind FileKind, scope string, ids []int64) ([]*FileRow, error)
	// DeleteScope removes every file of scope and returns the removed rows.
	DeleteScope(ctx context.Context, kind FileKind, scope string) ([]*FileRow, error)
	// Rescope moves every file of oldScope to newScope.
	Rescope(ctx context.Context, kind FileKind, oldScope, newScope string) error
	SetDownloaded(ctx context.Context, kind FileKind, id int64, at time.Time) (int64, error)

	// Owner entry operations
	InsertOwner(ctx context.Context, row *OwnerRow) (int64, error)
	GetOwner(ctx context.Context, kind OwnerKind, id int64) (*OwnerRow, error)
	GetOwnerByKey(ctx context.Context, kind OwnerKind, key string) (*OwnerRow, error)
	ListOwners(ctx context.Context, kind OwnerKind) ([]*OwnerRow, error)
	UpdateOwner(ctx context.Context, row *OwnerRow) error
	DeleteOwner(ctx context.Context, kind OwnerKind, id int64) error

	// LargeObjects returns the content store bound to this transaction, or nil when
	// content lives outside the database.
	LargeObjects() ContentStore
	// NextContentRef allocates a ref for a body kept in an external BlobStore.
	NextContentRef(ctx context.Context) (ContentRef, error)
}

// ContentStore keeps binary bodies addressed by ContentRef.
type ContentStore interface {
	// Create streams size bytes from r into a new body and returns its ref
	Create(ctx context.Context, r io.Reader, size int64) (ContentRef, error)

	// Open streams the body of ref
	Open(ctx context.Context, ref ContentRef) (io.ReadCloser, error)

	// Delete removes the body of ref
	Delete(ctx context.Context, ref ContentRef) error
}

// BlobStore is an object store for content bodies kept outside the database.
type BlobStore interface {
	// Put stores the object at key, replacing any previous value
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get streams the object at key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key
	Delete(ctx context.Context, key string) error
}
