package webq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service bundles the registries and file repositories behind one entry point.
type Service struct {
	Projects     *Projects
	Users        *Users
	ProjectFiles *ProjectFiles
	UserFiles    *UserFiles

	converter      Converter
	maxContentSize int64
	logger         *slog.Logger
}

// New wires a Service on top of repo.
func New(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	o := buildOptions(opts)
	return &Service{
		Projects:     &Projects{reg: newOwnerRegistry(repo, OwnerKindProject, o)},
		Users:        &Users{reg: newOwnerRegistry(repo, OwnerKindUser, o)},
		ProjectFiles: &ProjectFiles{newFileStore[ProjectKey, ProjectFile](repo, projectFileMapping{}, o)},
		UserFiles:    &UserFiles{newFileStore[UserKey, UserFile](repo, userFileMapping{}, o)},
		converter:      o.converter,
		maxContentSize: o.maxContentSize,
		logger:         o.logger,
	}, nil
}

// MaxContentSize returns the largest accepted file body in bytes, or zero or less
// when bodies are not limited.
func (s *Service) MaxContentSize() int64 {
	return s.maxContentSize
}

// DownloadUserFile returns the file with content and records the download.
func (s *Service) DownloadUserFile(ctx context.Context, user UserKey, id int64) (*UserFile, error) {
	file, err := s.UserFiles.FileContentBy(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if err := s.UserFiles.MarkDownloaded(ctx, id, user); err != nil {
		s.logger.Error("failed to record download", "file_id", id, "error", err)
	}
	return file, nil
}

// DownloadProjectFile resolves the project by its external id and returns the file with content.
func (s *Service) DownloadProjectFile(ctx context.Context, projectID string, id int64) (*ProjectFile, error) {
	project, err := s.Projects.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.ProjectFiles.FileContentBy(ctx, id, project.Key())
}

// ConvertUserFile renders a file of user with the given conversion. The
// conversion is checked against the file's schema before its content is read.
func (s *Service) ConvertUserFile(ctx context.Context, user UserKey, fileID int64, conversionID int) (*Rendition, error) {
	if s.converter == nil {
		return nil, fmt.Errorf("no converter configured: %w", ErrConversionNotApplicable)
	}
	scope, err := s.UserFiles.mapping.scope(user)
	if err != nil {
		return nil, err
	}
	meta, err := s.UserFiles.FileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if meta.UserID != scope {
		return nil, fmt.Errorf("user file %d: %w", fileID, ErrNotFound)
	}
	if !offers(s.converter.ConversionsFor(meta.XMLSchemaURL), conversionID) {
		return nil, &ConversionError{ConversionID: conversionID, Err: ErrConversionNotApplicable}
	}

	file, err := s.UserFiles.FileContentBy(ctx, fileID, user)
	if err != nil {
		return nil, err
	}
	data, _ := file.Content.Bytes()
	return s.converter.Convert(ctx, ConversionSource{
		FileName:     file.FileName,
		XMLSchemaURL: file.XMLSchemaURL,
		Content:      data,
	}, conversionID)
}

func offers(convs []Conversion, conversionID int) bool {
	for _, c := range convs {
		if c.ID == conversionID {
			return true
		}
	}
	return false
}

// AvailableConversions lists the conversions offered for files of schema.
func (s *Service) AvailableConversions(schema string) []Conversion {
	if s.converter == nil {
		return nil
	}
	return s.converter.ConversionsFor(schema)
}
