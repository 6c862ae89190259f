package convert_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/convert"
)

const reportSchema = "http://example.com/report.xsd"

func testCatalog(t *testing.T) *convert.Catalog {
	t.Helper()
	catalog, err := convert.NewCatalog(
		webq.Conversion{ID: 1, Name: "HTML", Schema: reportSchema, ResultType: "text/html"},
		webq.Conversion{ID: 2, Name: "Other", Schema: "http://example.com/other.xsd"},
	)
	require.NoError(t, err)
	return catalog
}

func source() webq.ConversionSource {
	return webq.ConversionSource{
		FileName:     "report.xml",
		XMLSchemaURL: reportSchema,
		Content:      []byte("<report>Hello world!</report>"),
	}
}

func TestDispatcher_Convert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convert", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, reportSchema, r.FormValue("schema"))
		assert.Equal(t, "1", r.FormValue("conversion"))

		f, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "report.xml", header.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "<report>Hello world!</report>", string(body))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>Hello world!</html>"))
	}))
	defer server.Close()

	d := convert.NewDispatcher(testCatalog(t), convert.NewHTTPEngine(server.URL+"/", server.Client()))
	out, err := d.Convert(context.Background(), source(), 1)
	require.NoError(t, err)
	assert.Equal(t, "<html>Hello world!</html>", string(out.Data))
	assert.Equal(t, "text/html; charset=utf-8", out.ContentType)
	assert.Equal(t, "report.html", out.FileName)
}

func TestDispatcher_DispositionFileName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="summary.pdf"`)
		w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	d := convert.NewDispatcher(testCatalog(t), convert.NewHTTPEngine(server.URL, nil))
	out, err := d.Convert(context.Background(), source(), 1)
	require.NoError(t, err)
	assert.Equal(t, "summary.pdf", out.FileName)
}

func TestDispatcher_NotApplicableNeverCallsEngine(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("unexpected"))
	}))
	defer server.Close()

	d := convert.NewDispatcher(testCatalog(t), convert.NewHTTPEngine(server.URL, nil))

	_, err := d.Convert(context.Background(), source(), 2)
	assert.ErrorIs(t, err, webq.ErrConversionNotApplicable, "schema mismatch")

	_, err = d.Convert(context.Background(), source(), 99)
	assert.ErrorIs(t, err, webq.ErrConversionNotApplicable, "unknown id")

	var convErr *webq.ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, 99, convErr.ConversionID)
	assert.Zero(t, calls.Load())
}

func TestDispatcher_EngineFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
		}},
		{"bad content type", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "///")
			w.Write([]byte("x"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			d := convert.NewDispatcher(testCatalog(t), convert.NewHTTPEngine(server.URL, nil))
			_, err := d.Convert(context.Background(), source(), 1)
			require.ErrorIs(t, err, webq.ErrConversionFailed)
			var convErr *webq.ConversionError
			assert.ErrorAs(t, err, &convErr)
		})
	}
}

func TestDispatcher_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	d := convert.NewDispatcher(testCatalog(t), convert.NewHTTPEngine(url, nil))
	_, err := d.Convert(context.Background(), source(), 1)
	assert.ErrorIs(t, err, webq.ErrConversionFailed)
}

func TestDispatcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d := convert.NewDispatcher(testCatalog(t), convert.NewHTTPEngine(server.URL, nil),
		convert.WithTimeout(50*time.Millisecond))
	_, err := d.Convert(context.Background(), source(), 1)
	assert.ErrorIs(t, err, webq.ErrConversionTimeout)
	assert.NotErrorIs(t, err, webq.ErrConversionFailed)
}

type engineFunc func(ctx context.Context, req convert.EngineRequest) (*convert.EngineResult, error)

func (f engineFunc) Render(ctx context.Context, req convert.EngineRequest) (*convert.EngineResult, error) {
	return f(ctx, req)
}

func TestDispatcher_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := engineFunc(func(ctx context.Context, req convert.EngineRequest) (*convert.EngineResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	d := convert.NewDispatcher(testCatalog(t), engine)
	_, err := d.Convert(ctx, source(), 1)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NotErrorIs(t, err, webq.ErrConversionTimeout)
}

func TestDispatcher_ResultTypeFallback(t *testing.T) {
	engine := engineFunc(func(ctx context.Context, req convert.EngineRequest) (*convert.EngineResult, error) {
		return &convert.EngineResult{Data: []byte("<p/>")}, nil
	})

	d := convert.NewDispatcher(testCatalog(t), engine)
	out, err := d.Convert(context.Background(), source(), 1)
	require.NoError(t, err)
	assert.Equal(t, "text/html", out.ContentType)
	assert.Equal(t, "report.html", out.FileName)

	assert.Len(t, d.ConversionsFor(reportSchema), 1)
}
