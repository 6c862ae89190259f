package webq

import "context"

// Session is a read scope over a file store. Files read through an open session
// carry lazy content that can be loaded until Close is called.
type Session[K comparable, F any] struct {
	store *FileStore[K, F]
	scope *scope
}

// Session opens a new read scope
func (s *FileStore[K, F]) Session() *Session[K, F] {
	return &Session[K, F]{store: s, scope: newScope()}
}

// AllFilesFor lists the files of owner with lazy content
func (s *Session[K, F]) AllFilesFor(ctx context.Context, owner K) ([]*F, error) {
	return s.store.allFilesFor(ctx, owner, s.scope)
}

// FileByID returns a file with lazy content regardless of owner
func (s *Session[K, F]) FileByID(ctx context.Context, id int64) (*F, error) {
	return s.store.fileByID(ctx, id, s.scope)
}

// FileContentBy returns the file with its content loaded when it belongs to owner
func (s *Session[K, F]) FileContentBy(ctx context.Context, id int64, owner K) (*F, error) {
	return s.store.FileContentBy(ctx, id, owner)
}

// Close ends the scope. Content that was not loaded yet becomes unavailable.
func (s *Session[K, F]) Close() {
	s.scope.close()
}
