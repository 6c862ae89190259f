package webq_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
)

func TestProjects_CreateAndResolve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	project := &webq.Project{ProjectID: "survey", Description: "Yearly survey"}
	id, err := svc.Projects.Create(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, id, project.ID)
	assert.False(t, project.CreatedAt.IsZero())

	got, err := svc.Projects.Resolve(ctx, "survey")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Yearly survey", got.Description)
	assert.Equal(t, project.Key(), got.Key())

	byID, err := svc.Projects.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "survey", byID.ProjectID)

	_, err = svc.Projects.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, webq.ErrNotFound)
}

func TestProjects_Duplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	createProject(t, svc, "survey")
	second := createProject(t, svc, "census")

	_, err := svc.Projects.Create(ctx, &webq.Project{ProjectID: "survey"})
	require.ErrorIs(t, err, webq.ErrDuplicateKey)
	var dup *webq.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "project_id", dup.Field)
	assert.Equal(t, "survey", dup.Key)

	err = svc.Projects.Rename(ctx, second.ID(), "survey")
	assert.ErrorIs(t, err, webq.ErrDuplicateKey)

	require.NoError(t, svc.Projects.Rename(ctx, second.ID(), "census"), "renaming to the same key is a no-op")
}

func TestProjects_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Projects.Create(ctx, &webq.Project{ProjectID: "  "})
	var verr *webq.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, webq.CodeRequired, verr.Code)

	_, err = svc.Projects.Create(ctx, &webq.Project{ProjectID: strings.Repeat("p", 256)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, webq.CodeTooLong, verr.Code)

	_, err = svc.Projects.Create(ctx, &webq.Project{ProjectID: "ok", Description: strings.Repeat("d", 2001)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
}

func TestProjects_RenameKeepsFiles(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	key := createProject(t, svc, "survey")

	id, err := svc.ProjectFiles.Save(ctx, &webq.ProjectFile{FileInfo: webq.FileInfo{
		FileName: "form.xml",
		Content:  webq.NewContent([]byte("<form/>")),
	}}, key)
	require.NoError(t, err)

	require.NoError(t, svc.Projects.Rename(ctx, key.ID(), "survey-2024"))
	require.NoError(t, svc.Projects.UpdateDescription(ctx, key.ID(), "renamed"))

	_, err = svc.Projects.Resolve(ctx, "survey")
	assert.ErrorIs(t, err, webq.ErrNotFound)

	file, err := svc.DownloadProjectFile(ctx, "survey-2024", id)
	require.NoError(t, err)
	data, _ := file.Content.Bytes()
	assert.Equal(t, "<form/>", string(data))

	project, err := svc.Projects.Get(ctx, key.ID())
	require.NoError(t, err)
	assert.Equal(t, "renamed", project.Description)
}

func TestProjects_RemoveCascades(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	svc, repo := newService(t, webq.WithEventSink(sink))
	survey := createProject(t, svc, "survey")
	census := createProject(t, svc, "census")

	for _, key := range []webq.ProjectKey{survey, survey, census} {
		_, err := svc.ProjectFiles.Save(ctx, &webq.ProjectFile{FileInfo: webq.FileInfo{
			FileName: "form.xml",
			Content:  webq.NewContent([]byte("<form/>")),
		}}, key)
		require.NoError(t, err)
	}
	require.Equal(t, 3, repo.ContentCount())

	require.NoError(t, svc.Projects.Remove(ctx, survey.ID()))
	assert.Equal(t, 1, repo.ContentCount())

	_, err := svc.Projects.Get(ctx, survey.ID())
	assert.ErrorIs(t, err, webq.ErrNotFound)
	assert.ErrorIs(t, svc.Projects.Remove(ctx, survey.ID()), webq.ErrNotFound)

	files, err := svc.ProjectFiles.AllFilesFor(ctx, census)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	projects, err := svc.Projects.List(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "census", projects[0].ProjectID)

	assert.Contains(t, sink.Events(), "owner_removed:project")
}

func TestUsers_EnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.Users.Ensure(ctx, "alice")
	require.NoError(t, err)
	second, err := svc.Users.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.Users.Ensure(ctx, "")
	assert.ErrorIs(t, err, webq.ErrValidation)

	users, err := svc.Users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestUsers_RenameMovesFiles(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")
	createUser(t, svc, "bob")

	id, err := svc.UserFiles.Save(ctx, userFile("a.xml", "<a/>"), alice)
	require.NoError(t, err)

	user, err := svc.Users.Resolve(ctx, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Users.Rename(ctx, user.ID, "bob"), webq.ErrDuplicateKey)
	require.NoError(t, svc.Users.Rename(ctx, user.ID, "alice.smith"))

	renamed, err := svc.Users.Resolve(ctx, "alice.smith")
	require.NoError(t, err)

	_, err = svc.UserFiles.FileContentBy(ctx, id, alice)
	assert.ErrorIs(t, err, webq.ErrNotFound, "the old key no longer owns the file")

	file, err := svc.UserFiles.FileContentBy(ctx, id, renamed.Key())
	require.NoError(t, err)
	assert.Equal(t, "alice.smith", file.UserID)
}

func TestUsers_RemoveCascades(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)
	alice := createUser(t, svc, "alice")
	_, err := svc.UserFiles.Save(ctx, userFile("a.xml", "<a/>"), alice)
	require.NoError(t, err)

	user, err := svc.Users.Resolve(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Users.Remove(ctx, user.ID))
	assert.Zero(t, repo.ContentCount())

	files, err := svc.UserFiles.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOwnerCache_InvalidatedOnRename(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, webq.WithOwnerCache(16, time.Minute))
	key := createProject(t, svc, "survey")

	p, err := svc.Projects.Resolve(ctx, "survey")
	require.NoError(t, err)
	assert.Equal(t, key.ID(), p.ID)
	_, err = svc.Projects.Resolve(ctx, "survey")
	require.NoError(t, err)

	require.NoError(t, svc.Projects.Rename(ctx, key.ID(), "renamed"))
	_, err = svc.Projects.Resolve(ctx, "survey")
	assert.ErrorIs(t, err, webq.ErrNotFound)

	require.NoError(t, svc.Projects.Remove(ctx, key.ID()))
	_, err = svc.Projects.Resolve(ctx, "renamed")
	assert.ErrorIs(t, err, webq.ErrNotFound)
}
