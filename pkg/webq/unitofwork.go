package webq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// unitOfWork runs one repository transaction and keeps an external BlobStore in
// step with it: bodies written by a rolled back transaction are removed, bodies
// released by a committed one are removed after the commit.
type unitOfWork struct {
	repo   Repository
	blobs  BlobStore
	logger *slog.Logger
}

type work struct {
	tx       Tx
	blobs    BlobStore
	created  []ContentRef
	released []ContentRef
}

func (u *unitOfWork) run(ctx context.Context, fn func(ctx context.Context, w *work) error) error {
	var w *work
	err := u.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		w = &work{tx: tx, blobs: u.blobs}
		return fn(ctx, w)
	})
	if w == nil {
		return err
	}
	if err != nil {
		u.discard(ctx, w.created)
		return err
	}
	u.discard(ctx, w.released)
	return nil
}

// discard deletes external bodies that no committed row references any more.
func (u *unitOfWork) discard(ctx context.Context, refs []ContentRef) {
	if u.blobs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if err := u.blobs.Delete(ctx, blobKey(ref)); err != nil && !errors.Is(err, ErrNotFound) {
			u.logger.Error("failed to delete orphaned content", "ref", ref, "error", err)
		}
	}
}

// putContent stores data as a new body. Empty content gets no body.
func (w *work) putContent(ctx context.Context, data []byte) (ContentRef, error) {
	if len(data) == 0 {
		return 0, nil
	}
	size := int64(len(data))
	if lo := w.tx.LargeObjects(); lo != nil {
		return lo.Create(ctx, bytes.NewReader(data), size)
	}
	if w.blobs == nil {
		return 0, errors.New("no content store configured")
	}
	ref, err := w.tx.NextContentRef(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate content ref: %w", err)
	}
	if err := w.blobs.Put(ctx, blobKey(ref), bytes.NewReader(data), size); err != nil {
		return 0, err
	}
	w.created = append(w.created, ref)
	return ref, nil
}

func (w *work) readContent(ctx context.Context, ref ContentRef) ([]byte, error) {
	if ref == 0 {
		return []byte{}, nil
	}
	var (
		rc  io.ReadCloser
		err error
	)
	if lo := w.tx.LargeObjects(); lo != nil {
		rc, err = lo.Open(ctx, ref)
	} else if w.blobs != nil {
		rc, err = w.blobs.Get(ctx, blobKey(ref))
	} else {
		return nil, errors.New("no content store configured")
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// releaseContent drops the body of ref. Database large objects go away with the
// transaction; external bodies are deleted once it commits.
func (w *work) releaseContent(ctx context.Context, ref ContentRef) error {
	if ref == 0 {
		return nil
	}
	if lo := w.tx.LargeObjects(); lo != nil {
		return lo.Delete(ctx, ref)
	}
	w.released = append(w.released, ref)
	return nil
}

func blobKey(ref ContentRef) string {
	return fmt.Sprintf("content/%d", ref)
}
