package webq

import (
	"context"
	"log/slog"
)

// EventSink receives lifecycle events after the change has committed.
type EventSink interface {
	// FileSaved is fired when a file is created
	FileSaved(ctx context.Context, kind FileKind, scope string, id int64) error

	// FileUpdated is fired when an update changed a file
	FileUpdated(ctx context.Context, kind FileKind, scope string, id int64, withContent bool) error

	// FilesRemoved is fired when files are deleted
	FilesRemoved(ctx context.Context, kind FileKind, scope string, ids []int64) error

	// OwnerRemoved is fired when a project or user is deleted together with its files
	OwnerRemoved(ctx context.Context, kind OwnerKind, key string) error
}

// NoopEventSink ignores every event
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) FileSaved(ctx context.Context, kind FileKind, scope string, id int64) error {
	return nil
}

func (n *NoopEventSink) FileUpdated(ctx context.Context, kind FileKind, scope string, id int64, withContent bool) error {
	return nil
}

func (n *NoopEventSink) FilesRemoved(ctx context.Context, kind FileKind, scope string, ids []int64) error {
	return nil
}

func (n *NoopEventSink) OwnerRemoved(ctx context.Context, kind OwnerKind, key string) error {
	return nil
}

// LoggingEventSink writes every event to a structured logger
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates an event sink that logs at info level
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) FileSaved(ctx context.Context, kind FileKind, scope string, id int64) error {
	l.logger.InfoContext(ctx, "file saved", "kind", kind, "owner", scope, "file_id", id)
	return nil
}

func (l *LoggingEventSink) FileUpdated(ctx context.Context, kind FileKind, scope string, id int64, withContent bool) error {
	l.logger.InfoContext(ctx, "file updated", "kind", kind, "owner", scope, "file_id", id, "with_content", withContent)
	return nil
}

func (l *LoggingEventSink) FilesRemoved(ctx context.Context, kind FileKind, scope string, ids []int64) error {
	l.logger.InfoContext(ctx, "files removed", "kind", kind, "owner", scope, "file_ids", ids)
	return nil
}

func (l *LoggingEventSink) OwnerRemoved(ctx context.Context, kind OwnerKind, key string) error {
	l.logger.InfoContext(ctx, "owner removed", "kind", kind, "key", key)
	return nil
}
