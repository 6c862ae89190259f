package webq_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/repo/memory"
	storagememory "github.com/tendant/webq/pkg/webq/storage/memory"
)

type fakeConverter struct {
	calls  int
	source webq.ConversionSource
}

func (f *fakeConverter) Convert(ctx context.Context, src webq.ConversionSource, conversionID int) (*webq.Rendition, error) {
	f.calls++
	f.source = src
	return &webq.Rendition{Data: []byte("<html/>"), ContentType: "text/html", FileName: "report.html"}, nil
}

func (f *fakeConverter) ConversionsFor(schema string) []webq.Conversion {
	if schema == "" {
		return nil
	}
	return []webq.Conversion{{ID: 1, Name: "HTML", Schema: schema}}
}

// countingBlobs counts body reads.
type countingBlobs struct {
	*storagememory.Backend
	gets atomic.Int32
}

func (c *countingBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	c.gets.Add(1)
	return c.Backend.Get(ctx, key)
}

func TestNew_RequiresRepository(t *testing.T) {
	_, err := webq.New(nil)
	assert.Error(t, err)
}

func TestService_DownloadUserFile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	alice := createUser(t, svc, "alice")
	bob := createUser(t, svc, "bob")

	id, err := svc.UserFiles.Save(ctx, userFile("report.xml", "Hello world!"), alice)
	require.NoError(t, err)

	_, err = svc.DownloadUserFile(ctx, bob, id)
	assert.ErrorIs(t, err, webq.ErrNotFound)

	file, err := svc.DownloadUserFile(ctx, alice, id)
	require.NoError(t, err)
	data, _ := file.Content.Bytes()
	assert.Equal(t, "Hello world!", string(data))

	stored, err := svc.UserFiles.FileByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, stored.DownloadedAt)
}

func TestService_DownloadProjectFile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	survey := createProject(t, svc, "survey")
	createProject(t, svc, "census")

	id, err := svc.ProjectFiles.Save(ctx, &webq.ProjectFile{FileInfo: webq.FileInfo{
		FileName: "form.xml",
		Content:  webq.NewContent([]byte("<form/>")),
	}}, survey)
	require.NoError(t, err)

	_, err = svc.DownloadProjectFile(ctx, "census", id)
	assert.ErrorIs(t, err, webq.ErrNotFound)
	_, err = svc.DownloadProjectFile(ctx, "nope", id)
	assert.ErrorIs(t, err, webq.ErrNotFound)

	file, err := svc.DownloadProjectFile(ctx, "survey", id)
	require.NoError(t, err)
	assert.Equal(t, survey.ID(), file.ProjectID)
}

func TestService_ConvertUserFile(t *testing.T) {
	ctx := context.Background()
	conv := &fakeConverter{}
	svc, _ := newService(t, webq.WithConverter(conv))
	alice := createUser(t, svc, "alice")
	bob := createUser(t, svc, "bob")

	file := userFile("report.xml", "Hello world!")
	file.XMLSchemaURL = "http://example.com/s.xsd"
	id, err := svc.UserFiles.Save(ctx, file, alice)
	require.NoError(t, err)

	_, err = svc.ConvertUserFile(ctx, bob, id, 1)
	assert.ErrorIs(t, err, webq.ErrNotFound)
	assert.Zero(t, conv.calls)

	out, err := svc.ConvertUserFile(ctx, alice, id, 1)
	require.NoError(t, err)
	assert.Equal(t, "text/html", out.ContentType)
	assert.Equal(t, "report.xml", conv.source.FileName)
	assert.Equal(t, "http://example.com/s.xsd", conv.source.XMLSchemaURL)
	assert.Equal(t, "Hello world!", string(conv.source.Content))

	assert.Len(t, svc.AvailableConversions("http://example.com/s.xsd"), 1)
}

func TestService_ConvertChecksApplicabilityFirst(t *testing.T) {
	ctx := context.Background()
	conv := &fakeConverter{}
	blobs := &countingBlobs{Backend: storagememory.New()}
	svc, err := webq.New(memory.New(memory.WithExternalContent()), webq.WithBlobStore(blobs), webq.WithConverter(conv))
	require.NoError(t, err)
	alice, err := svc.Users.Ensure(ctx, "alice")
	require.NoError(t, err)
	bob, err := svc.Users.Ensure(ctx, "bob")
	require.NoError(t, err)

	noSchema, err := svc.UserFiles.Save(ctx, userFile("plain.xml", "<plain/>"), alice.Key())
	require.NoError(t, err)
	withSchema := userFile("report.xml", "Hello world!")
	withSchema.XMLSchemaURL = "http://example.com/s.xsd"
	id, err := svc.UserFiles.Save(ctx, withSchema, alice.Key())
	require.NoError(t, err)

	_, err = svc.ConvertUserFile(ctx, alice.Key(), noSchema, 1)
	assert.ErrorIs(t, err, webq.ErrConversionNotApplicable)
	_, err = svc.ConvertUserFile(ctx, alice.Key(), id, 2)
	var cerr *webq.ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 2, cerr.ConversionID)
	assert.ErrorIs(t, err, webq.ErrConversionNotApplicable)

	_, err = svc.ConvertUserFile(ctx, bob.Key(), id, 1)
	assert.ErrorIs(t, err, webq.ErrNotFound)
	_, err = svc.ConvertUserFile(ctx, alice.Key(), 999, 1)
	assert.ErrorIs(t, err, webq.ErrNotFound)

	assert.Zero(t, blobs.gets.Load(), "no body is read for rejected conversions")
	assert.Zero(t, conv.calls)

	_, err = svc.ConvertUserFile(ctx, alice.Key(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), blobs.gets.Load())
	assert.Equal(t, "Hello world!", string(conv.source.Content))
}

func TestService_ConvertWithoutConverter(t *testing.T) {
	svc, err := webq.New(memory.New())
	require.NoError(t, err)
	_, err = svc.ConvertUserFile(context.Background(), webq.UserKey{}, 1, 1)
	assert.ErrorIs(t, err, webq.ErrConversionNotApplicable)
	assert.Empty(t, svc.AvailableConversions("x"))
}
