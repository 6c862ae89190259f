package webq_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/repo/memory"
	storagememory "github.com/tendant/webq/pkg/webq/storage/memory"
)

func TestUserFiles_SaveAndFetch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")

	file := userFile("report.xml", "Hello world!")
	file.ID = 99
	file.SizeInBytes = 1
	id, err := svc.UserFiles.Save(ctx, file, alice)
	require.NoError(t, err)
	assert.NotEqual(t, int64(99), id, "caller supplied id is ignored")
	assert.Equal(t, id, file.ID)
	assert.Equal(t, int64(12), file.SizeInBytes)
	assert.Equal(t, "alice", file.UserID)
	assert.False(t, file.CreatedAt.IsZero())

	got, err := svc.UserFiles.FileContentBy(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, "report.xml", got.FileName)
	assert.Equal(t, "title of report.xml", got.Title)
	assert.Equal(t, int64(12), got.SizeInBytes)
	data, ok := got.Content.Bytes()
	require.True(t, ok)
	assert.Equal(t, "Hello world!", string(data))
	assert.Equal(t, got.SizeInBytes, int64(len(data)))
}

func TestUserFiles_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")
	bob := createUser(t, svc, "bob")

	id, err := svc.UserFiles.Save(ctx, userFile("a.xml", "<a/>"), alice)
	require.NoError(t, err)

	_, err = svc.UserFiles.FileContentBy(ctx, id, bob)
	assert.ErrorIs(t, err, webq.ErrNotFound)

	files, err := svc.UserFiles.AllFilesFor(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, files)

	n, err := svc.UserFiles.Remove(ctx, bob, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	foreign := &webq.UserFile{FileInfo: webq.FileInfo{ID: id, FileName: "x.xml", Title: "hijacked"}}
	require.NoError(t, svc.UserFiles.Update(ctx, foreign, bob))

	got, err := svc.UserFiles.FileContentBy(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, "title of a.xml", got.Title)
}

func TestUserFiles_FileByIDIgnoresOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")

	id, err := svc.UserFiles.Save(ctx, userFile("a.xml", "<a/>"), alice)
	require.NoError(t, err)

	got, err := svc.UserFiles.FileByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.False(t, got.Content.IsLoaded())

	_, err = svc.UserFiles.FileByID(ctx, id+100)
	assert.ErrorIs(t, err, webq.ErrNotFound)
}

func TestUserFiles_MetadataUpdateKeepsContent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")

	file := userFile("report.xml", "Hello world!")
	id, err := svc.UserFiles.Save(ctx, file, alice)
	require.NoError(t, err)
	createdAt := file.CreatedAt

	update := &webq.UserFile{FileInfo: webq.FileInfo{
		ID:          id,
		FileName:    "renamed.xml",
		Title:       "new title",
		Description: "described",
	}}
	require.NoError(t, svc.UserFiles.Update(ctx, update, alice))

	got, err := svc.UserFiles.FileContentBy(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, "described", got.Description)
	assert.Equal(t, "report.xml", got.FileName, "file name travels with the content")
	assert.Equal(t, int64(12), got.SizeInBytes)
	data, _ := got.Content.Bytes()
	assert.Equal(t, "Hello world!", string(data))
	assert.Equal(t, createdAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(createdAt))

	assert.Equal(t, "report.xml", update.FileName, "caller copy reflects the stored state")
	assert.Equal(t, int64(12), update.SizeInBytes)
}

func TestUserFiles_ContentUpdate(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)
	alice := createUser(t, svc, "alice")

	id, err := svc.UserFiles.Save(ctx, userFile("report.xml", "Hello world!"), alice)
	require.NoError(t, err)

	update := userFile("report-v2.xml", "<data>changed</data>")
	update.ID = id
	require.NoError(t, svc.UserFiles.Update(ctx, update, alice))

	got, err := svc.UserFiles.FileContentBy(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, "report-v2.xml", got.FileName)
	assert.Equal(t, int64(len("<data>changed</data>")), got.SizeInBytes)
	data, _ := got.Content.Bytes()
	assert.Equal(t, "<data>changed</data>", string(data))
	assert.Equal(t, 1, repo.ContentCount(), "replaced body is released")
}

func TestUserFiles_EmptyContent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)
	alice := createUser(t, svc, "alice")

	id, err := svc.UserFiles.Save(ctx, userFile("empty.xml", ""), alice)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.ContentCount())

	got, err := svc.UserFiles.FileContentBy(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
	data, ok := got.Content.Bytes()
	assert.True(t, ok, "zero length content is still loaded")
	assert.Empty(t, data)
}

func TestUserFiles_AllFilesForIsOrderedAndDetached(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")

	var ids []int64
	for _, name := range []string{"one.xml", "two.xml", "three.xml"} {
		id, err := svc.UserFiles.Save(ctx, userFile(name, "<"+name+"/>"), alice)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	files, err := svc.UserFiles.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for i, f := range files {
		assert.Equal(t, ids[i], f.ID)
		assert.False(t, f.Content.IsLoaded())
		_, err := f.Content.Load(ctx)
		assert.ErrorIs(t, err, webq.ErrContentNotLoaded)
		assert.Positive(t, f.SizeInBytes)
	}
}

func TestSession_LazyContent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")

	id, err := svc.UserFiles.Save(ctx, userFile("report.xml", "Hello world!"), alice)
	require.NoError(t, err)
	_, err = svc.UserFiles.Save(ctx, userFile("other.xml", "<other/>"), alice)
	require.NoError(t, err)

	session := svc.UserFiles.Session()
	files, err := session.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, files, 2)

	first := files[0]
	assert.Equal(t, id, first.ID)
	assert.False(t, first.Content.IsLoaded())
	data, err := first.Content.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", string(data))
	assert.True(t, first.Content.IsLoaded())

	byID, err := session.FileByID(ctx, id)
	require.NoError(t, err)

	session.Close()

	data, err = first.Content.Load(ctx)
	require.NoError(t, err, "already loaded content survives the session")
	assert.Equal(t, "Hello world!", string(data))

	_, err = files[1].Content.Load(ctx)
	assert.ErrorIs(t, err, webq.ErrContentNotLoaded)
	_, err = byID.Content.Load(ctx)
	assert.ErrorIs(t, err, webq.ErrContentNotLoaded)
}

func TestUserFiles_RemoveIsScoped(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	svc, repo := newService(t, webq.WithEventSink(sink))
	alice := createUser(t, svc, "alice")
	bob := createUser(t, svc, "bob")

	a1, err := svc.UserFiles.Save(ctx, userFile("a1.xml", "<a1/>"), alice)
	require.NoError(t, err)
	a2, err := svc.UserFiles.Save(ctx, userFile("a2.xml", "<a2/>"), alice)
	require.NoError(t, err)
	b1, err := svc.UserFiles.Save(ctx, userFile("b1.xml", "<b1/>"), bob)
	require.NoError(t, err)

	n, err := svc.UserFiles.Remove(ctx, alice, a1, b1, 12345)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	files, err := svc.UserFiles.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, a2, files[0].ID)

	_, err = svc.UserFiles.FileContentBy(ctx, b1, bob)
	assert.NoError(t, err)
	assert.Equal(t, 2, repo.ContentCount())

	n, err = svc.UserFiles.Remove(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Contains(t, sink.Events(), "removed:user")
}

func TestUserFiles_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, webq.WithMaxContentSize(16))
	alice := createUser(t, svc, "alice")

	tests := []struct {
		name  string
		file  *webq.UserFile
		field string
		code  string
	}{
		{"missing file name", userFile("", "<a/>"), "file_name", webq.CodeRequired},
		{"long file name", userFile(strings.Repeat("n", 256), "<a/>"), "file_name", webq.CodeTooLong},
		{"too large", userFile("big.xml", strings.Repeat("x", 17)), "content", webq.CodeTooLarge},
		{"long description", func() *webq.UserFile {
			f := userFile("d.xml", "<a/>")
			f.Description = strings.Repeat("d", 2001)
			return f
		}(), "description", webq.CodeTooLong},
		{"long title", func() *webq.UserFile {
			f := userFile("t.xml", "<a/>")
			f.Title = strings.Repeat("t", 256)
			return f
		}(), "title", webq.CodeTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UserFiles.Save(ctx, tt.file, alice)
			require.ErrorIs(t, err, webq.ErrValidation)
			var verr *webq.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.code, verr.Code)
		})
	}

	files, err := svc.UserFiles.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUserFiles_ZeroKeyIsRejected(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.UserFiles.Save(context.Background(), userFile("a.xml", "<a/>"), webq.UserKey{})
	assert.ErrorIs(t, err, webq.ErrValidation)
	_, err = svc.ProjectFiles.AllFilesFor(context.Background(), webq.ProjectKey{})
	assert.ErrorIs(t, err, webq.ErrValidation)
}

func TestOwnerKeys_OnlyFromRegistry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")
	survey := createProject(t, svc, "survey")

	id, err := svc.UserFiles.Save(ctx, userFile("report.xml", "Hello world!"), alice)
	require.NoError(t, err)

	handBuilt := (&webq.User{ID: 1, UserID: "alice"}).Key()
	_, err = svc.UserFiles.FileContentBy(ctx, id, handBuilt)
	assert.ErrorIs(t, err, webq.ErrValidation)
	_, err = svc.UserFiles.Save(ctx, userFile("b.xml", "<b/>"), handBuilt)
	assert.ErrorIs(t, err, webq.ErrValidation)

	_, err = svc.ProjectFiles.Save(ctx, &webq.ProjectFile{FileInfo: webq.FileInfo{
		FileName: "form.xml",
		Content:  webq.NewContent([]byte("<form/>")),
	}}, (&webq.Project{ID: survey.ID(), ProjectID: "survey"}).Key())
	var verr *webq.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "owner", verr.Field)

	resolved, err := svc.Users.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, resolved.Key())
	got, err := svc.UserFiles.FileContentBy(ctx, id, resolved.Key())
	require.NoError(t, err)
	data, _ := got.Content.Bytes()
	assert.Equal(t, "Hello world!", string(data))
}

func TestUserFiles_SaveRejectsUnloadedContent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)
	alice := createUser(t, svc, "alice")

	id, err := svc.UserFiles.Save(ctx, userFile("report.xml", "Hello world!"), alice)
	require.NoError(t, err)

	session := svc.UserFiles.Session()
	defer session.Close()
	files, err := session.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, files, 1)

	lazyCopy := *files[0]
	_, err = svc.UserFiles.Save(ctx, &lazyCopy, alice)
	assert.ErrorIs(t, err, webq.ErrContentNotLoaded)

	detached, err := svc.UserFiles.FileByID(ctx, id)
	require.NoError(t, err)
	_, err = svc.UserFiles.Save(ctx, detached, alice)
	assert.ErrorIs(t, err, webq.ErrContentNotLoaded)

	files, err = svc.UserFiles.AllFilesFor(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, 1, repo.ContentCount())

	// a record without a body is still an empty file
	emptyID, err := svc.UserFiles.Save(ctx, &webq.UserFile{FileInfo: webq.FileInfo{FileName: "empty.xml"}}, alice)
	require.NoError(t, err)
	empty, err := svc.UserFiles.FileByID(ctx, emptyID)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestUserFiles_MarkDownloaded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")
	bob := createUser(t, svc, "bob")

	file := userFile("a.xml", "<a/>")
	id, err := svc.UserFiles.Save(ctx, file, alice)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.UserFiles.MarkDownloaded(ctx, id, bob), webq.ErrNotFound)
	require.NoError(t, svc.UserFiles.MarkDownloaded(ctx, id, alice))

	got, err := svc.UserFiles.FileByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.DownloadedAt)
	assert.Equal(t, file.UpdatedAt, got.UpdatedAt, "download does not touch the update time")
}

func TestProjectFiles_SettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	project := createProject(t, svc, "survey")
	other := createProject(t, svc, "other")

	file := &webq.ProjectFile{
		FileInfo: webq.FileInfo{
			FileName:     "form.xml",
			Title:        "Survey form",
			XMLSchemaURL: "http://example.com/schema.xsd",
			Content:      webq.NewContent([]byte("<form/>")),
		},
		Active:           true,
		MainForm:         true,
		NewXMLFileName:   "instance.xml",
		EmptyInstanceURL: "http://example.com/empty.xml",
	}
	id, err := svc.ProjectFiles.Save(ctx, file, project)
	require.NoError(t, err)
	assert.Equal(t, project.ID(), file.ProjectID)

	got, err := svc.ProjectFiles.FileContentBy(ctx, id, project)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.True(t, got.MainForm)
	assert.Equal(t, "instance.xml", got.NewXMLFileName)
	assert.Equal(t, "http://example.com/empty.xml", got.EmptyInstanceURL)
	assert.Equal(t, "http://example.com/schema.xsd", got.XMLSchemaURL)

	_, err = svc.ProjectFiles.FileContentBy(ctx, id, other)
	assert.ErrorIs(t, err, webq.ErrNotFound)

	got.Content = webq.Content{}
	got.Active = false
	got.MainForm = false
	require.NoError(t, svc.ProjectFiles.Update(ctx, got, project))

	updated, err := svc.ProjectFiles.FileContentBy(ctx, id, project)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.False(t, updated.MainForm)
	data, _ := updated.Content.Bytes()
	assert.Equal(t, "<form/>", string(data))
}

func TestFileStore_FailedSaveLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	blobs := storagememory.New()
	base := memory.New(memory.WithExternalContent())
	repo := &failingRepo{Repository: base}
	svc, err := webq.New(repo, webq.WithBlobStore(blobs))
	require.NoError(t, err)
	alice := createUser(t, svc, "alice")

	repo.failInsert = true
	_, err = svc.UserFiles.Save(ctx, userFile("a.xml", "<a/>"), alice)
	require.ErrorIs(t, err, errInjected)
	assert.ErrorIs(t, err, webq.ErrStorage)
	assert.Zero(t, blobs.Len(), "body of the failed save is removed")

	repo.failInsert = false
	id, err := svc.UserFiles.Save(ctx, userFile("a.xml", "<a/>"), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.Len())

	repo.failUpdate = true
	update := userFile("b.xml", "<b/>")
	update.ID = id
	require.Error(t, svc.UserFiles.Update(ctx, update, alice))
	assert.Equal(t, 1, blobs.Len(), "body of the failed update is removed")

	got, err := svc.UserFiles.FileContentBy(ctx, id, alice)
	require.NoError(t, err)
	data, _ := got.Content.Bytes()
	assert.Equal(t, "<a/>", string(data), "old content is intact")
	assert.Equal(t, "a.xml", got.FileName)

	repo.failUpdate = false
	require.NoError(t, svc.UserFiles.Update(ctx, update, alice))
	assert.Equal(t, 1, blobs.Len(), "replaced body is deleted after commit")

	n, err := svc.UserFiles.Remove(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, blobs.Len())
}
