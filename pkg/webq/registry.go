package webq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// ownerRegistry is the shared implementation behind Projects and Users.
type ownerRegistry struct {
	uow      *unitOfWork
	kind     OwnerKind
	fileKind FileKind
	keyField string
	cache    *ownerCache
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time
}

func newOwnerRegistry(repo Repository, kind OwnerKind, o *options) *ownerRegistry {
	r := &ownerRegistry{
		uow:    o.unitOfWork(repo),
		kind:   kind,
		cache:  newOwnerCache(kind, o.cacheSize, o.cacheTTL),
		events: o.events,
		logger: o.logger,
		now:    o.now,
	}
	switch kind {
	case OwnerKindProject:
		r.fileKind, r.keyField = FileKindProject, "project_id"
	default:
		r.fileKind, r.keyField = FileKindUser, "user_id"
	}
	return r
}

// fileScope returns the scope string under which the owner's files are stored.
func (r *ownerRegistry) fileScope(row *OwnerRow) string {
	if r.kind == OwnerKindProject {
		return strconv.FormatInt(row.ID, 10)
	}
	return row.ExternalKey
}

func (r *ownerRegistry) resolve(ctx context.Context, key string) (*OwnerRow, error) {
	if row, ok := r.cache.get(key); ok {
		return row, nil
	}
	var row *OwnerRow
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		row, err = w.tx.GetOwnerByKey(ctx, r.kind, key)
		return err
	})
	if err != nil {
		return nil, storageErr("resolve owner", err)
	}
	r.cache.set(row)
	return row, nil
}

func (r *ownerRegistry) get(ctx context.Context, id int64) (*OwnerRow, error) {
	var row *OwnerRow
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		row, err = w.tx.GetOwner(ctx, r.kind, id)
		return err
	})
	if err != nil {
		return nil, storageErr("get owner", err)
	}
	return row, nil
}

func (r *ownerRegistry) list(ctx context.Context) ([]*OwnerRow, error) {
	var rows []*OwnerRow
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		rows, err = w.tx.ListOwners(ctx, r.kind)
		return err
	})
	if err != nil {
		return nil, storageErr("list owners", err)
	}
	return rows, nil
}

func (r *ownerRegistry) create(ctx context.Context, row *OwnerRow) error {
	if err := validateOwnerKey(r.keyField, row.ExternalKey); err != nil {
		return err
	}
	if err := checkLength("description", row.Description, MaxDescriptionLength); err != nil {
		return err
	}
	row.ID = 0
	row.Kind = r.kind
	row.CreatedAt = r.now()
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		if err := r.checkFree(ctx, w.tx, row.ExternalKey, 0); err != nil {
			return err
		}
		id, err := w.tx.InsertOwner(ctx, row)
		if err != nil {
			return err
		}
		row.ID = id
		return nil
	})
	if err != nil {
		return storageErr("create owner", r.duplicate(err, row.ExternalKey))
	}
	return nil
}

// checkFree fails when key is registered to another entry than self.
func (r *ownerRegistry) checkFree(ctx context.Context, tx Tx, key string, self int64) error {
	existing, err := tx.GetOwnerByKey(ctx, r.kind, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return &DuplicateKeyError{Field: r.keyField, Key: key}
	}
	return nil
}

// duplicate turns a bare unique constraint failure into a DuplicateKeyError.
func (r *ownerRegistry) duplicate(err error, key string) error {
	var dup *DuplicateKeyError
	if errors.Is(err, ErrDuplicateKey) && !errors.As(err, &dup) {
		return &DuplicateKeyError{Field: r.keyField, Key: key}
	}
	return err
}

func (r *ownerRegistry) rename(ctx context.Context, id int64, newKey string) error {
	if err := validateOwnerKey(r.keyField, newKey); err != nil {
		return err
	}
	var oldKey string
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		current, err := w.tx.GetOwner(ctx, r.kind, id)
		if err != nil {
			return err
		}
		oldKey = current.ExternalKey
		if oldKey == newKey {
			return nil
		}
		if err := r.checkFree(ctx, w.tx, newKey, id); err != nil {
			return err
		}
		oldScope := r.fileScope(current)
		current.ExternalKey = newKey
		if err := w.tx.UpdateOwner(ctx, current); err != nil {
			return err
		}
		if newScope := r.fileScope(current); newScope != oldScope {
			if err := w.tx.Rescope(ctx, r.fileKind, oldScope, newScope); err != nil {
				return fmt.Errorf("rescope files: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("rename owner", r.duplicate(err, newKey))
	}
	r.cache.remove(oldKey)
	return nil
}

func (r *ownerRegistry) describe(ctx context.Context, id int64, description string) error {
	if err := checkLength("description", description, MaxDescriptionLength); err != nil {
		return err
	}
	var key string
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		current, err := w.tx.GetOwner(ctx, r.kind, id)
		if err != nil {
			return err
		}
		key = current.ExternalKey
		current.Description = description
		return w.tx.UpdateOwner(ctx, current)
	})
	if err != nil {
		return storageErr("describe owner", err)
	}
	r.cache.remove(key)
	return nil
}

// remove deletes the entry together with every file it owns.
func (r *ownerRegistry) remove(ctx context.Context, id int64) error {
	var removed *OwnerRow
	err := r.uow.run(ctx, func(ctx context.Context, w *work) error {
		current, err := w.tx.GetOwner(ctx, r.kind, id)
		if err != nil {
			return err
		}
		rows, err := w.tx.DeleteScope(ctx, r.fileKind, r.fileScope(current))
		if err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		for _, row := range rows {
			if err := w.releaseContent(ctx, row.ContentRef); err != nil {
				return fmt.Errorf("release content: %w", err)
			}
		}
		if err := w.tx.DeleteOwner(ctx, r.kind, id); err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		return storageErr("remove owner", err)
	}
	r.cache.remove(removed.ExternalKey)
	if err := r.events.OwnerRemoved(ctx, r.kind, removed.ExternalKey); err != nil {
		r.logger.Warn("owner removed event failed", "kind", r.kind, "key", removed.ExternalKey, "error", err)
	}
	return nil
}

// Projects is the registry of project folders.
type Projects struct {
	reg *ownerRegistry
}

// NewProjects creates the project registry on top of repo
func NewProjects(repo Repository, opts ...Option) *Projects {
	return &Projects{reg: newOwnerRegistry(repo, OwnerKindProject, buildOptions(opts))}
}

func projectFromRow(row *OwnerRow) *Project {
	return &Project{
		ID:          row.ID,
		ProjectID:   row.ExternalKey,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		key:         ProjectKey{id: row.ID},
	}
}

// Resolve looks a project up by its external id
func (p *Projects) Resolve(ctx context.Context, projectID string) (*Project, error) {
	row, err := p.reg.resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectFromRow(row), nil
}

// Get looks a project up by its internal id
func (p *Projects) Get(ctx context.Context, id int64) (*Project, error) {
	row, err := p.reg.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return projectFromRow(row), nil
}

// Create registers a new project and fills in its id and creation time
func (p *Projects) Create(ctx context.Context, project *Project) (int64, error) {
	if project == nil {
		return 0, &ValidationError{Field: "project", Code: CodeRequired}
	}
	row := &OwnerRow{ExternalKey: project.ProjectID, Description: project.Description}
	if err := p.reg.create(ctx, row); err != nil {
		return 0, err
	}
	project.ID = row.ID
	project.CreatedAt = row.CreatedAt
	project.key = ProjectKey{id: row.ID}
	return row.ID, nil
}

// Rename changes the external id of a project. Its files stay attached.
func (p *Projects) Rename(ctx context.Context, id int64, newProjectID string) error {
	return p.reg.rename(ctx, id, newProjectID)
}

// UpdateDescription replaces the description of a project
func (p *Projects) UpdateDescription(ctx context.Context, id int64, description string) error {
	return p.reg.describe(ctx, id, description)
}

// Remove deletes a project with all of its files
func (p *Projects) Remove(ctx context.Context, id int64) error {
	return p.reg.remove(ctx, id)
}

// List returns every project in creation order
func (p *Projects) List(ctx context.Context) ([]*Project, error) {
	rows, err := p.reg.list(ctx)
	if err != nil {
		return nil, err
	}
	projects := make([]*Project, len(rows))
	for i, row := range rows {
		projects[i] = projectFromRow(row)
	}
	return projects, nil
}

// Users is the registry of file owning users.
type Users struct {
	reg *ownerRegistry
}

// NewUsers creates the user registry on top of repo
func NewUsers(repo Repository, opts ...Option) *Users {
	return &Users{reg: newOwnerRegistry(repo, OwnerKindUser, buildOptions(opts))}
}

func userFromRow(row *OwnerRow) *User {
	return &User{ID: row.ID, UserID: row.ExternalKey, CreatedAt: row.CreatedAt, key: UserKey{userID: row.ExternalKey}}
}

// Resolve looks a user up by external id
func (u *Users) Resolve(ctx context.Context, userID string) (*User, error) {
	row, err := u.reg.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userFromRow(row), nil
}

// Get looks a user up by internal id
func (u *Users) Get(ctx context.Context, id int64) (*User, error) {
	row, err := u.reg.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return userFromRow(row), nil
}

// Create registers a new user
func (u *Users) Create(ctx context.Context, user *User) (int64, error) {
	if user == nil {
		return 0, &ValidationError{Field: "user", Code: CodeRequired}
	}
	row := &OwnerRow{ExternalKey: user.UserID}
	if err := u.reg.create(ctx, row); err != nil {
		return 0, err
	}
	user.ID = row.ID
	user.CreatedAt = row.CreatedAt
	user.key = UserKey{userID: row.ExternalKey}
	return row.ID, nil
}

// Ensure resolves userID, registering it on first use.
func (u *Users) Ensure(ctx context.Context, userID string) (*User, error) {
	user, err := u.Resolve(ctx, userID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return user, err
	}
	user = &User{UserID: userID}
	if _, err := u.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// registered concurrently
			return u.Resolve(ctx, userID)
		}
		return nil, err
	}
	return user, nil
}

// Rename changes the external id of a user and moves the user's files with it
func (u *Users) Rename(ctx context.Context, id int64, newUserID string) error {
	return u.reg.rename(ctx, id, newUserID)
}

// Remove deletes a user with all of the user's files
func (u *Users) Remove(ctx context.Context, id int64) error {
	return u.reg.remove(ctx, id)
}

// List returns every user in registration order
func (u *Users) List(ctx context.Context) ([]*User, error) {
	rows, err := u.reg.list(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]*User, len(rows))
	for i, row := range rows {
		users[i] = userFromRow(row)
	}
	return users, nil
}
