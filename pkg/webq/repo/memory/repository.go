package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/tendant/webq/pkg/webq"
)

// Repository implements webq.Repository using in-memory storage. Transactions are
// serialized and roll back by restoring a snapshot.
type Repository struct {
	mu       sync.Mutex
	st       *state
	external bool
}

type state struct {
	files     map[webq.FileKind]map[int64]webq.FileRow
	owners    map[webq.OwnerKind]map[int64]webq.OwnerRow
	bodies    map[webq.ContentRef][]byte
	nextFile  int64
	nextOwner int64
	nextRef   int64
}

func newState() *state {
	return &state{
		files: map[webq.FileKind]map[int64]webq.FileRow{
			webq.FileKindUser:    {},
			webq.FileKindProject: {},
		},
		owners: map[webq.OwnerKind]map[int64]webq.OwnerRow{
			webq.OwnerKindUser:    {},
			webq.OwnerKindProject: {},
		},
		bodies: make(map[webq.ContentRef][]byte),
	}
}

func (s *state) clone() *state {
	c := &state{
		files:     make(map[webq.FileKind]map[int64]webq.FileRow, len(s.files)),
		owners:    make(map[webq.OwnerKind]map[int64]webq.OwnerRow, len(s.owners)),
		bodies:    maps.Clone(s.bodies),
		nextFile:  s.nextFile,
		nextOwner: s.nextOwner,
		nextRef:   s.nextRef,
	}
	for k, m := range s.files {
		c.files[k] = maps.Clone(m)
	}
	for k, m := range s.owners {
		c.owners[k] = maps.Clone(m)
	}
	return c
}

// Option configures the repository
type Option func(*Repository)

// WithExternalContent makes the repository keep no bodies itself, so a
// webq.BlobStore has to be configured for content.
func WithExternalContent() Option {
	return func(r *Repository) {
		r.external = true
	}
}

// New creates a new in-memory repository
func New(opts ...Option) *Repository {
	r := &Repository{st: newState()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InTx runs fn under the repository lock and discards its changes when it fails.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx webq.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.st.clone()
	tx := &tx{st: r.st, external: r.external}
	if err := fn(ctx, tx); err != nil {
		r.st = snapshot
		return err
	}
	return nil
}

type tx struct {
	st       *state
	external bool
}

// File operations

func (t *tx) InsertFile(ctx context.Context, row *webq.FileRow) (int64, error) {
	t.st.nextFile++
	stored := *row
	stored.ID = t.st.nextFile
	t.st.files[row.Kind][stored.ID] = stored
	return stored.ID, nil
}

func (t *tx) GetFile(ctx context.Context, kind webq.FileKind, id int64) (*webq.FileRow, error) {
	row, ok := t.st.files[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s file %d: %w", kind, id, webq.ErrNotFound)
	}
	return &row, nil
}

func (t *tx) GetScopedFile(ctx context.Context, kind webq.FileKind, id int64, scope string) (*webq.FileRow, error) {
	row, ok := t.st.files[kind][id]
	if !ok || row.Scope != scope {
		return nil, fmt.Errorf("%s file %d: %w", kind, id, webq.ErrNotFound)
	}
	return &row, nil
}

func (t *tx) ListFiles(ctx context.Context, kind webq.FileKind, scope string) ([]*webq.FileRow, error) {
	var result []*webq.FileRow
	for _, row := range t.st.files[kind] {
		if row.Scope == scope {
			rowCopy := row
			result = append(result, &rowCopy)
		}
	}
	sortFiles(result)
	return result, nil
}

func sortFiles(rows []*webq.FileRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

func (t *tx) UpdateFile(ctx context.Context, row *webq.FileRow, withContent bool) (int64, error) {
	current, ok := t.st.files[row.Kind][row.ID]
	if !ok || current.Scope != row.Scope {
		return 0, nil
	}
	current.Title = row.Title
	current.Description = row.Description
	current.XMLSchemaURL = row.XMLSchemaURL
	current.UserName = row.UserName
	current.NewXMLFileName = row.NewXMLFileName
	current.EmptyInstanceURL = row.EmptyInstanceURL
	current.Active = row.Active
	current.MainForm = row.MainForm
	current.UpdatedAt = row.UpdatedAt
	if withContent {
		current.FileName = row.FileName
		current.SizeInBytes = row.SizeInBytes
		current.ContentRef = row.ContentRef
	}
	t.st.files[row.Kind][row.ID] = current
	return 1, nil
}

func (t *tx) DeleteFiles(ctx context.Context, kind webq.FileKind, scope string, ids []int64) ([]*webq.FileRow, error) {
	var removed []*webq.FileRow
	for _, id := range ids {
		row, ok := t.st.files[kind][id]
		if !ok || row.Scope != scope {
			continue
		}
		delete(t.st.files[kind], id)
		removed = append(removed, &row)
	}
	return removed, nil
}

func (t *tx) DeleteScope(ctx context.Context, kind webq.FileKind, scope string) ([]*webq.FileRow, error) {
	var removed []*webq.FileRow
	for id, row := range t.st.files[kind] {
		if row.Scope == scope {
			delete(t.st.files[kind], id)
			rowCopy := row
			removed = append(removed, &rowCopy)
		}
	}
	sortFiles(removed)
	return removed, nil
}

func (t *tx) Rescope(ctx context.Context, kind webq.FileKind, oldScope, newScope string) error {
	for id, row := range t.st.files[kind] {
		if row.Scope == oldScope {
			row.Scope = newScope
			t.st.files[kind][id] = row
		}
	}
	return nil
}

func (t *tx) SetDownloaded(ctx context.Context, kind webq.FileKind, id int64, at time.Time) (int64, error) {
	row, ok := t.st.files[kind][id]
	if !ok {
		return 0, nil
	}
	row.DownloadedAt = &at
	t.st.files[kind][id] = row
	return 1, nil
}

// Owner operations

func (t *tx) InsertOwner(ctx context.Context, row *webq.OwnerRow) (int64, error) {
	if t.keyTaken(row.Kind, row.ExternalKey, 0) {
		return 0, fmt.Errorf("%s %q: %w", row.Kind, row.ExternalKey, webq.ErrDuplicateKey)
	}
	t.st.nextOwner++
	stored := *row
	stored.ID = t.st.nextOwner
	t.st.owners[row.Kind][stored.ID] = stored
	return stored.ID, nil
}

func (t *tx) keyTaken(kind webq.OwnerKind, key string, self int64) bool {
	for id, row := range t.st.owners[kind] {
		if row.ExternalKey == key && id != self {
			return true
		}
	}
	return false
}

func (t *tx) GetOwner(ctx context.Context, kind webq.OwnerKind, id int64) (*webq.OwnerRow, error) {
	row, ok := t.st.owners[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", kind, id, webq.ErrNotFound)
	}
	return &row, nil
}

func (t *tx) GetOwnerByKey(ctx context.Context, kind webq.OwnerKind, key string) (*webq.OwnerRow, error) {
	for _, row := range t.st.owners[kind] {
		if row.ExternalKey == key {
			rowCopy := row
			return &rowCopy, nil
		}
	}
	return nil, fmt.Errorf("%s %q: %w", kind, key, webq.ErrNotFound)
}

func (t *tx) ListOwners(ctx context.Context, kind webq.OwnerKind) ([]*webq.OwnerRow, error) {
	result := make([]*webq.OwnerRow, 0, len(t.st.owners[kind]))
	for _, row := range t.st.owners[kind] {
		rowCopy := row
		result = append(result, &rowCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *tx) UpdateOwner(ctx context.Context, row *webq.OwnerRow) error {
	current, ok := t.st.owners[row.Kind][row.ID]
	if !ok {
		return fmt.Errorf("%s %d: %w", row.Kind, row.ID, webq.ErrNotFound)
	}
	if t.keyTaken(row.Kind, row.ExternalKey, row.ID) {
		return fmt.Errorf("%s %q: %w", row.Kind, row.ExternalKey, webq.ErrDuplicateKey)
	}
	current.ExternalKey = row.ExternalKey
	current.Description = row.Description
	t.st.owners[row.Kind][row.ID] = current
	return nil
}

func (t *tx) DeleteOwner(ctx context.Context, kind webq.OwnerKind, id int64) error {
	if _, ok := t.st.owners[kind][id]; !ok {
		return fmt.Errorf("%s %d: %w", kind, id, webq.ErrNotFound)
	}
	delete(t.st.owners[kind], id)
	return nil
}

// Content operations

func (t *tx) LargeObjects() webq.ContentStore {
	if t.external {
		return nil
	}
	return t
}

func (t *tx) NextContentRef(ctx context.Context) (webq.ContentRef, error) {
	t.st.nextRef++
	return webq.ContentRef(t.st.nextRef), nil
}

func (t *tx) Create(ctx context.Context, r io.Reader, size int64) (webq.ContentRef, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return 0, err
	}
	if int64(len(data)) != size {
		return 0, fmt.Errorf("short content: read %d of %d bytes", len(data), size)
	}
	ref, _ := t.NextContentRef(ctx)
	t.st.bodies[ref] = data
	return ref, nil
}

func (t *tx) Open(ctx context.Context, ref webq.ContentRef) (io.ReadCloser, error) {
	data, ok := t.st.bodies[ref]
	if !ok {
		return nil, fmt.Errorf("content %d: %w", ref, webq.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (t *tx) Delete(ctx context.Context, ref webq.ContentRef) error {
	delete(t.st.bodies, ref)
	return nil
}

// ContentCount reports how many bodies the repository holds.
func (r *Repository) ContentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.st.bodies)
}
