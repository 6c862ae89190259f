// Package repotest holds the behavior every webq.Repository backend must show.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
)

// Factory returns a fresh, empty repository and the service options it needs.
type Factory func(t *testing.T) (webq.Repository, []webq.Option)

var errRollback = errors.New("rollback")

// Run exercises newRepo through the public webq API and through raw transactions.
func Run(t *testing.T, newRepo Factory) {
	newService := func(t *testing.T) (webq.Repository, *webq.Service) {
		repo, opts := newRepo(t)
		svc, err := webq.New(repo, opts...)
		require.NoError(t, err)
		return repo, svc
	}

	t.Run("SaveAndFetch", func(t *testing.T) {
		_, svc := newService(t)
		ctx := context.Background()
		user, err := svc.Users.Ensure(ctx, "alice")
		require.NoError(t, err)

		file := &webq.UserFile{FileInfo: webq.FileInfo{
			FileName:     "report.xml",
			Title:        "Report",
			XMLSchemaURL: "http://example.com/report.xsd",
			Content:      webq.NewContent([]byte("Hello world!")),
		}}
		id, err := svc.UserFiles.Save(ctx, file, user.Key())
		require.NoError(t, err)

		got, err := svc.UserFiles.FileContentBy(ctx, id, user.Key())
		require.NoError(t, err)
		assert.Equal(t, "report.xml", got.FileName)
		assert.Equal(t, "Report", got.Title)
		assert.Equal(t, "http://example.com/report.xsd", got.XMLSchemaURL)
		assert.Equal(t, int64(12), got.SizeInBytes)
		assert.Equal(t, "alice", got.UserID)
		assert.Nil(t, got.DownloadedAt)
		data, _ := got.Content.Bytes()
		assert.Equal(t, "Hello world!", string(data))
		assert.WithinDuration(t, file.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("Isolation", func(t *testing.T) {
		_, svc := newService(t)
		ctx := context.Background()
		alice, err := svc.Users.Ensure(ctx, "alice")
		require.NoError(t, err)
		bob, err := svc.Users.Ensure(ctx, "bob")
		require.NoError(t, err)

		id, err := svc.UserFiles.Save(ctx, &webq.UserFile{FileInfo: webq.FileInfo{
			FileName: "a.xml",
			Content:  webq.NewContent([]byte("<a/>")),
		}}, alice.Key())
		require.NoError(t, err)

		_, err = svc.UserFiles.FileContentBy(ctx, id, bob.Key())
		assert.ErrorIs(t, err, webq.ErrNotFound)
		n, err := svc.UserFiles.Remove(ctx, bob.Key(), id)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("UpdateModes", func(t *testing.T) {
		_, svc := newService(t)
		ctx := context.Background()
		project := &webq.Project{ProjectID: "survey"}
		_, err := svc.Projects.Create(ctx, project)
		require.NoError(t, err)

		id, err := svc.ProjectFiles.Save(ctx, &webq.ProjectFile{FileInfo: webq.FileInfo{
			FileName: "form.xml",
			Content:  webq.NewContent([]byte("<form/>")),
		}, Active: true}, project.Key())
		require.NoError(t, err)

		meta := &webq.ProjectFile{FileInfo: webq.FileInfo{ID: id, FileName: "ignored.xml", Title: "t"}, MainForm: true}
		require.NoError(t, svc.ProjectFiles.Update(ctx, meta, project.Key()))
		got, err := svc.ProjectFiles.FileContentBy(ctx, id, project.Key())
		require.NoError(t, err)
		assert.Equal(t, "form.xml", got.FileName)
		assert.Equal(t, "t", got.Title)
		assert.True(t, got.MainForm)
		assert.False(t, got.Active)
		data, _ := got.Content.Bytes()
		assert.Equal(t, "<form/>", string(data))

		withContent := &webq.ProjectFile{FileInfo: webq.FileInfo{
			ID:       id,
			FileName: "form-v2.xml",
			Content:  webq.NewContent([]byte("<form version=\"2\"/>")),
		}}
		require.NoError(t, svc.ProjectFiles.Update(ctx, withContent, project.Key()))
		got, err = svc.ProjectFiles.FileContentBy(ctx, id, project.Key())
		require.NoError(t, err)
		assert.Equal(t, "form-v2.xml", got.FileName)
		data, _ = got.Content.Bytes()
		assert.Equal(t, "<form version=\"2\"/>", string(data))
		assert.Equal(t, int64(len(data)), got.SizeInBytes)
	})

	t.Run("ListAndLazyLoad", func(t *testing.T) {
		_, svc := newService(t)
		ctx := context.Background()
		user, err := svc.Users.Ensure(ctx, "alice")
		require.NoError(t, err)

		var ids []int64
		for _, body := range []string{"<one/>", "<two/>", ""} {
			id, err := svc.UserFiles.Save(ctx, &webq.UserFile{FileInfo: webq.FileInfo{
				FileName: "f.xml",
				Content:  webq.NewContent([]byte(body)),
			}}, user.Key())
			require.NoError(t, err)
			ids = append(ids, id)
		}

		session := svc.UserFiles.Session()
		files, err := session.AllFilesFor(ctx, user.Key())
		require.NoError(t, err)
		require.Len(t, files, 3)
		for i, f := range files {
			assert.Equal(t, ids[i], f.ID)
		}
		data, err := files[1].Content.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "<two/>", string(data))
		data, err = files[2].Content.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, data)
		session.Close()

		_, err = files[0].Content.Load(ctx)
		assert.ErrorIs(t, err, webq.ErrContentNotLoaded)
	})

	t.Run("DownloadTime", func(t *testing.T) {
		_, svc := newService(t)
		ctx := context.Background()
		user, err := svc.Users.Ensure(ctx, "alice")
		require.NoError(t, err)
		id, err := svc.UserFiles.Save(ctx, &webq.UserFile{FileInfo: webq.FileInfo{
			FileName: "a.xml",
			Content:  webq.NewContent([]byte("<a/>")),
		}}, user.Key())
		require.NoError(t, err)

		_, err = svc.DownloadUserFile(ctx, user.Key(), id)
		require.NoError(t, err)
		got, err := svc.UserFiles.FileByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got.DownloadedAt)
	})

	t.Run("OwnerLifecycle", func(t *testing.T) {
		_, svc := newService(t)
		ctx := context.Background()
		project := &webq.Project{ProjectID: "survey", Description: "d"}
		_, err := svc.Projects.Create(ctx, project)
		require.NoError(t, err)

		_, err = svc.Projects.Create(ctx, &webq.Project{ProjectID: "survey"})
		assert.ErrorIs(t, err, webq.ErrDuplicateKey)

		_, err = svc.ProjectFiles.Save(ctx, &webq.ProjectFile{FileInfo: webq.FileInfo{
			FileName: "form.xml",
			Content:  webq.NewContent([]byte("<form/>")),
		}}, project.Key())
		require.NoError(t, err)

		require.NoError(t, svc.Projects.Rename(ctx, project.ID, "survey-2"))
		files, err := svc.ProjectFiles.AllFilesFor(ctx, project.Key())
		require.NoError(t, err)
		assert.Len(t, files, 1)

		user, err := svc.Users.Ensure(ctx, "alice")
		require.NoError(t, err)
		id, err := svc.UserFiles.Save(ctx, &webq.UserFile{FileInfo: webq.FileInfo{
			FileName: "a.xml",
			Content:  webq.NewContent([]byte("<a/>")),
		}}, user.Key())
		require.NoError(t, err)
		require.NoError(t, svc.Users.Rename(ctx, user.ID, "alice2"))
		renamed, err := svc.Users.Resolve(ctx, "alice2")
		require.NoError(t, err)
		_, err = svc.UserFiles.FileContentBy(ctx, id, renamed.Key())
		require.NoError(t, err)

		require.NoError(t, svc.Projects.Remove(ctx, project.ID))
		_, err = svc.Projects.Get(ctx, project.ID)
		assert.ErrorIs(t, err, webq.ErrNotFound)

		projects, err := svc.Projects.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, projects)
	})

	t.Run("Rollback", func(t *testing.T) {
		repo, _ := newService(t)
		ctx := context.Background()
		err := repo.InTx(ctx, func(ctx context.Context, tx webq.Tx) error {
			_, err := tx.InsertOwner(ctx, &webq.OwnerRow{Kind: webq.OwnerKindUser, ExternalKey: "ghost", CreatedAt: time.Now().UTC()})
			require.NoError(t, err)
			return errRollback
		})
		require.ErrorIs(t, err, errRollback)

		err = repo.InTx(ctx, func(ctx context.Context, tx webq.Tx) error {
			_, err := tx.GetOwnerByKey(ctx, webq.OwnerKindUser, "ghost")
			return err
		})
		assert.ErrorIs(t, err, webq.ErrNotFound)
	})

	t.Run("UniqueConstraint", func(t *testing.T) {
		repo, _ := newService(t)
		ctx := context.Background()
		insert := func() error {
			return repo.InTx(ctx, func(ctx context.Context, tx webq.Tx) error {
				_, err := tx.InsertOwner(ctx, &webq.OwnerRow{Kind: webq.OwnerKindProject, ExternalKey: "dup", CreatedAt: time.Now().UTC()})
				return err
			})
		}
		require.NoError(t, insert())
		assert.ErrorIs(t, insert(), webq.ErrDuplicateKey)
	})
}
