package webq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// FileRepository is the owner scoped storage contract shared by every file variant.
type FileRepository[K comparable, F any] interface {
	// Save stores a new file for owner and returns its id. Content that is not
	// loaded fails with ErrContentNotLoaded unless the record is empty.
	Save(ctx context.Context, file *F, owner K) (int64, error)

	// FileByID returns the metadata of a file regardless of owner
	FileByID(ctx context.Context, id int64) (*F, error)

	// FileContentBy returns the file with its content loaded when it belongs to owner
	FileContentBy(ctx context.Context, id int64, owner K) (*F, error)

	// AllFilesFor lists the files of owner without content
	AllFilesFor(ctx context.Context, owner K) ([]*F, error)

	// Update changes a file of owner. Content is replaced only when it is loaded.
	Update(ctx context.Context, file *F, owner K) error

	// Remove deletes the listed files of owner and returns how many were removed
	Remove(ctx context.Context, owner K, ids ...int64) (int, error)
}

// fileMapping binds one file variant to the shared storage algorithm.
type fileMapping[K comparable, F any] interface {
	kind() FileKind
	scope(owner K) (string, error)
	info(file *F) *FileInfo
	toRow(file *F) *FileRow
	fromRow(row *FileRow) (*F, error)
}

// FileStore implements FileRepository for one file variant.
type FileStore[K comparable, F any] struct {
	uow            *unitOfWork
	mapping        fileMapping[K, F]
	maxContentSize int64
	events         EventSink
	logger         *slog.Logger
	now            func() time.Time
}

var (
	_ FileRepository[UserKey, UserFile]       = (*FileStore[UserKey, UserFile])(nil)
	_ FileRepository[ProjectKey, ProjectFile] = (*FileStore[ProjectKey, ProjectFile])(nil)
)

func newFileStore[K comparable, F any](repo Repository, mapping fileMapping[K, F], o *options) *FileStore[K, F] {
	return &FileStore[K, F]{
		uow:            o.unitOfWork(repo),
		mapping:        mapping,
		maxContentSize: o.maxContentSize,
		events:         o.events,
		logger:         o.logger,
		now:            o.now,
	}
}

func (s *FileStore[K, F]) Save(ctx context.Context, file *F, owner K) (int64, error) {
	if file == nil {
		return 0, &ValidationError{Field: "file", Code: CodeRequired}
	}
	scope, err := s.mapping.scope(owner)
	if err != nil {
		return 0, err
	}
	info := s.mapping.info(file)
	data, loaded := info.Content.Bytes()
	if !loaded && (info.Content.state == contentLazy || info.SizeInBytes > 0) {
		// the record carries a body that is not held in memory
		return 0, ErrContentNotLoaded
	}

	row := s.mapping.toRow(file)
	now := s.now()
	row.ID = 0
	row.Kind = s.mapping.kind()
	row.Scope = scope
	row.SizeInBytes = int64(len(data))
	row.CreatedAt = now
	row.UpdatedAt = now
	row.DownloadedAt = nil
	if err := validateRow(row, true, s.maxContentSize); err != nil {
		return 0, err
	}

	err = s.uow.run(ctx, func(ctx context.Context, w *work) error {
		ref, err := w.putContent(ctx, data)
		if err != nil {
			return fmt.Errorf("store content: %w", err)
		}
		row.ContentRef = ref
		id, err := w.tx.InsertFile(ctx, row)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
		row.ID = id
		return nil
	})
	if err != nil {
		return 0, storageErr("save", err)
	}

	if err := s.refresh(file, row); err != nil {
		return 0, err
	}
	if err := s.events.FileSaved(ctx, row.Kind, scope, row.ID); err != nil {
		s.logger.Warn("file saved event failed", "file_id", row.ID, "error", err)
	}
	return row.ID, nil
}

// refresh copies the stored state of row back into file, keeping its content.
func (s *FileStore[K, F]) refresh(file *F, row *FileRow) error {
	content := s.mapping.info(file).Content
	stored, err := s.mapping.fromRow(row)
	if err != nil {
		return err
	}
	*file = *stored
	s.mapping.info(file).Content = content
	return nil
}

func (s *FileStore[K, F]) FileByID(ctx context.Context, id int64) (*F, error) {
	return s.fileByID(ctx, id, closedScope())
}

func (s *FileStore[K, F]) fileByID(ctx context.Context, id int64, sc *scope) (*F, error) {
	var row *FileRow
	err := s.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		row, err = w.tx.GetFile(ctx, s.mapping.kind(), id)
		return err
	})
	if err != nil {
		return nil, storageErr("file by id", err)
	}
	return s.withLazyContent(row, sc)
}

func (s *FileStore[K, F]) FileContentBy(ctx context.Context, id int64, owner K) (*F, error) {
	scope, err := s.mapping.scope(owner)
	if err != nil {
		return nil, err
	}
	row, data, err := s.loadContent(ctx, id, scope)
	if err != nil {
		return nil, err
	}
	file, err := s.mapping.fromRow(row)
	if err != nil {
		return nil, err
	}
	s.mapping.info(file).Content = NewContent(data)
	return file, nil
}

func (s *FileStore[K, F]) loadContent(ctx context.Context, id int64, scope string) (*FileRow, []byte, error) {
	var (
		row  *FileRow
		data []byte
	)
	err := s.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		row, err = w.tx.GetScopedFile(ctx, s.mapping.kind(), id, scope)
		if err != nil {
			return err
		}
		data, err = w.readContent(ctx, row.ContentRef)
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, storageErr("file content", err)
	}
	return row, data, nil
}

func (s *FileStore[K, F]) AllFilesFor(ctx context.Context, owner K) ([]*F, error) {
	return s.allFilesFor(ctx, owner, closedScope())
}

func (s *FileStore[K, F]) allFilesFor(ctx context.Context, owner K, sc *scope) ([]*F, error) {
	scope, err := s.mapping.scope(owner)
	if err != nil {
		return nil, err
	}
	var rows []*FileRow
	err = s.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		rows, err = w.tx.ListFiles(ctx, s.mapping.kind(), scope)
		return err
	})
	if err != nil {
		return nil, storageErr("list files", err)
	}
	files := make([]*F, 0, len(rows))
	for _, row := range rows {
		file, err := s.withLazyContent(row, sc)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

// withLazyContent maps row and binds its content to sc. A closed scope yields
// detached content.
func (s *FileStore[K, F]) withLazyContent(row *FileRow, sc *scope) (*F, error) {
	file, err := s.mapping.fromRow(row)
	if err != nil {
		return nil, err
	}
	if sc.isClosed() {
		return file, nil
	}
	id, scope := row.ID, row.Scope
	s.mapping.info(file).Content = lazyContent(sc, func(ctx context.Context) ([]byte, error) {
		_, data, err := s.loadContent(ctx, id, scope)
		return data, err
	})
	return file, nil
}

func (s *FileStore[K, F]) Update(ctx context.Context, file *F, owner K) error {
	if file == nil {
		return &ValidationError{Field: "file", Code: CodeRequired}
	}
	scope, err := s.mapping.scope(owner)
	if err != nil {
		return err
	}
	info := s.mapping.info(file)
	if info.IsNew() {
		return &ValidationError{Field: "id", Code: CodeRequired, Message: "file has not been saved"}
	}
	data, withContent := info.Content.Bytes()

	row := s.mapping.toRow(file)
	row.ID = info.ID
	row.Kind = s.mapping.kind()
	row.Scope = scope
	row.UpdatedAt = s.now()
	if withContent {
		row.SizeInBytes = int64(len(data))
	}
	if err := validateRow(row, withContent, s.maxContentSize); err != nil {
		return err
	}

	var stored *FileRow
	err = s.uow.run(ctx, func(ctx context.Context, w *work) error {
		current, err := w.tx.GetScopedFile(ctx, row.Kind, row.ID, scope)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if withContent {
			ref, err := w.putContent(ctx, data)
			if err != nil {
				return fmt.Errorf("store content: %w", err)
			}
			row.ContentRef = ref
		}
		n, err := w.tx.UpdateFile(ctx, row, withContent)
		if err != nil {
			return fmt.Errorf("update file: %w", err)
		}
		if n == 0 {
			if withContent {
				return w.releaseContent(ctx, row.ContentRef)
			}
			return nil
		}
		if withContent {
			if err := w.releaseContent(ctx, current.ContentRef); err != nil {
				return fmt.Errorf("release content: %w", err)
			}
		} else {
			row.FileName = current.FileName
			row.SizeInBytes = current.SizeInBytes
			row.ContentRef = current.ContentRef
		}
		row.CreatedAt = current.CreatedAt
		row.DownloadedAt = current.DownloadedAt
		stored = row
		return nil
	})
	if err != nil {
		return storageErr("update", err)
	}
	if stored == nil {
		s.logger.Debug("update skipped, file not owned", "kind", row.Kind, "file_id", row.ID)
		return nil
	}

	if err := s.refresh(file, stored); err != nil {
		return err
	}
	if err := s.events.FileUpdated(ctx, stored.Kind, scope, stored.ID, withContent); err != nil {
		s.logger.Warn("file updated event failed", "file_id", stored.ID, "error", err)
	}
	return nil
}

func (s *FileStore[K, F]) Remove(ctx context.Context, owner K, ids ...int64) (int, error) {
	scope, err := s.mapping.scope(owner)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var removed []*FileRow
	err = s.uow.run(ctx, func(ctx context.Context, w *work) error {
		var err error
		removed, err = w.tx.DeleteFiles(ctx, s.mapping.kind(), scope, ids)
		if err != nil {
			return fmt.Errorf("delete files: %w", err)
		}
		for _, row := range removed {
			if err := w.releaseContent(ctx, row.ContentRef); err != nil {
				return fmt.Errorf("release content: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("remove", err)
	}
	if len(removed) > 0 {
		removedIDs := make([]int64, len(removed))
		for i, row := range removed {
			removedIDs[i] = row.ID
		}
		if err := s.events.FilesRemoved(ctx, s.mapping.kind(), scope, removedIDs); err != nil {
			s.logger.Warn("files removed event failed", "error", err)
		}
	}
	return len(removed), nil
}

// UserFiles stores the XML documents uploaded by users.
type UserFiles struct {
	*FileStore[UserKey, UserFile]
}

// NewUserFiles creates the user file repository on top of repo
func NewUserFiles(repo Repository, opts ...Option) *UserFiles {
	return &UserFiles{newFileStore[UserKey, UserFile](repo, userFileMapping{}, buildOptions(opts))}
}

// MarkDownloaded records that the owner downloaded the file. It returns
// ErrNotFound when the file does not belong to owner.
func (u *UserFiles) MarkDownloaded(ctx context.Context, id int64, owner UserKey) error {
	scope, err := u.mapping.scope(owner)
	if err != nil {
		return err
	}
	at := u.now()
	err = u.uow.run(ctx, func(ctx context.Context, w *work) error {
		if _, err := w.tx.GetScopedFile(ctx, FileKindUser, id, scope); err != nil {
			return err
		}
		_, err := w.tx.SetDownloaded(ctx, FileKindUser, id, at)
		return err
	})
	return storageErr("mark downloaded", err)
}

// ProjectFiles stores the form templates of projects.
type ProjectFiles struct {
	*FileStore[ProjectKey, ProjectFile]
}

// NewProjectFiles creates the project file repository on top of repo
func NewProjectFiles(repo Repository, opts ...Option) *ProjectFiles {
	return &ProjectFiles{newFileStore[ProjectKey, ProjectFile](repo, projectFileMapping{}, buildOptions(opts))}
}

func infoRow(info *FileInfo) *FileRow {
	return &FileRow{
		ID:           info.ID,
		Title:        info.Title,
		FileName:     info.FileName,
		Description:  info.Description,
		XMLSchemaURL: info.XMLSchemaURL,
		UserName:     info.UserName,
		SizeInBytes:  info.SizeInBytes,
		CreatedAt:    info.CreatedAt,
		UpdatedAt:    info.UpdatedAt,
	}
}

func rowInfo(row *FileRow) FileInfo {
	return FileInfo{
		ID:           row.ID,
		Title:        row.Title,
		FileName:     row.FileName,
		Description:  row.Description,
		XMLSchemaURL: row.XMLSchemaURL,
		UserName:     row.UserName,
		SizeInBytes:  row.SizeInBytes,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

type userFileMapping struct{}

func (userFileMapping) kind() FileKind { return FileKindUser }

func (userFileMapping) scope(owner UserKey) (string, error) {
	if owner.userID == "" {
		return "", &ValidationError{Field: "owner", Code: CodeInvalid, Message: "unresolved user key"}
	}
	return owner.userID, nil
}

func (userFileMapping) info(file *UserFile) *FileInfo { return &file.FileInfo }

func (userFileMapping) toRow(file *UserFile) *FileRow {
	return infoRow(&file.FileInfo)
}

func (userFileMapping) fromRow(row *FileRow) (*UserFile, error) {
	return &UserFile{
		FileInfo:     rowInfo(row),
		UserID:       row.Scope,
		DownloadedAt: row.DownloadedAt,
	}, nil
}

type projectFileMapping struct{}

func (projectFileMapping) kind() FileKind { return FileKindProject }

func (projectFileMapping) scope(owner ProjectKey) (string, error) {
	if owner.id <= 0 {
		return "", &ValidationError{Field: "owner", Code: CodeInvalid, Message: "unresolved project key"}
	}
	return owner.String(), nil
}

func (projectFileMapping) info(file *ProjectFile) *FileInfo { return &file.FileInfo }

func (projectFileMapping) toRow(file *ProjectFile) *FileRow {
	row := infoRow(&file.FileInfo)
	row.Active = file.Active
	row.MainForm = file.MainForm
	row.NewXMLFileName = file.NewXMLFileName
	row.EmptyInstanceURL = file.EmptyInstanceURL
	return row
}

func (projectFileMapping) fromRow(row *FileRow) (*ProjectFile, error) {
	projectID, err := strconv.ParseInt(row.Scope, 10, 64)
	if err != nil {
		return nil, storageErr("map project file", fmt.Errorf("bad project scope %q: %w", row.Scope, err))
	}
	return &ProjectFile{
		FileInfo:         rowInfo(row),
		ProjectID:        projectID,
		Active:           row.Active,
		MainForm:         row.MainForm,
		NewXMLFileName:   row.NewXMLFileName,
		EmptyInstanceURL: row.EmptyInstanceURL,
	}, nil
}
