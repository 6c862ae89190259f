package webq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/repo/memory"
)

// testClock advances by one second on every call.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newService(t *testing.T, opts ...webq.Option) (*webq.Service, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	svc, err := webq.New(repo, append([]webq.Option{webq.WithClock(newTestClock().Now)}, opts...)...)
	require.NoError(t, err)
	return svc, repo
}

func createUser(t *testing.T, svc *webq.Service, userID string) webq.UserKey {
	t.Helper()
	user, err := svc.Users.Ensure(context.Background(), userID)
	require.NoError(t, err)
	return user.Key()
}

func createProject(t *testing.T, svc *webq.Service, projectID string) webq.ProjectKey {
	t.Helper()
	project := &webq.Project{ProjectID: projectID}
	_, err := svc.Projects.Create(context.Background(), project)
	require.NoError(t, err)
	return project.Key()
}

func userFile(name, body string) *webq.UserFile {
	return &webq.UserFile{FileInfo: webq.FileInfo{
		FileName: name,
		Title:    "title of " + name,
		Content:  webq.NewContent([]byte(body)),
	}}
}

var errInjected = errors.New("injected failure")

// failingRepo wraps a repository and fails the first matching tx operation.
type failingRepo struct {
	webq.Repository
	failInsert bool
	failUpdate bool
}

func (r *failingRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx webq.Tx) error) error {
	return r.Repository.InTx(ctx, func(ctx context.Context, tx webq.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, repo: r})
	})
}

type failingTx struct {
	webq.Tx
	repo *failingRepo
}

func (t *failingTx) InsertFile(ctx context.Context, row *webq.FileRow) (int64, error) {
	if t.repo.failInsert {
		return 0, errInjected
	}
	return t.Tx.InsertFile(ctx, row)
}

func (t *failingTx) UpdateFile(ctx context.Context, row *webq.FileRow, withContent bool) (int64, error) {
	if t.repo.failUpdate {
		return 0, errInjected
	}
	return t.Tx.UpdateFile(ctx, row, withContent)
}

// recordingSink collects lifecycle events.
type recordingSink struct {
	webq.NoopEventSink
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) record(e string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) FileSaved(ctx context.Context, kind webq.FileKind, scope string, id int64) error {
	s.record("saved:" + string(kind))
	return nil
}

func (s *recordingSink) FileUpdated(ctx context.Context, kind webq.FileKind, scope string, id int64, withContent bool) error {
	s.record("updated:" + string(kind))
	return nil
}

func (s *recordingSink) FilesRemoved(ctx context.Context, kind webq.FileKind, scope string, ids []int64) error {
	s.record("removed:" + string(kind))
	return errors.New("sink failures are ignored")
}

func (s *recordingSink) OwnerRemoved(ctx context.Context, kind webq.OwnerKind, key string) error {
	s.record("owner_removed:" + string(kind))
	return nil
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}
