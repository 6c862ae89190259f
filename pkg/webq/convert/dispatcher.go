package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/webq/pkg/webq"
)

// DefaultTimeout bounds one engine call.
const DefaultTimeout = 30 * time.Second

// Dispatcher checks conversions against the catalog and forwards them to the engine.
type Dispatcher struct {
	catalog *Catalog
	engine  Engine
	timeout time.Duration
	logger  *slog.Logger
}

var _ webq.Converter = (*Dispatcher)(nil)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTimeout sets the per call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Dispatcher) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Dispatcher) {
		c.logger = logger
	}
}

// NewDispatcher creates a dispatcher over catalog and engine
func NewDispatcher(catalog *Catalog, engine Engine, opts ...Option) *Dispatcher {
	if catalog == nil {
		catalog = &Catalog{byID: map[int]webq.Conversion{}}
	}
	d := &Dispatcher{
		catalog: catalog,
		engine:  engine,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ConversionsFor lists the conversions accepting schema
func (d *Dispatcher) ConversionsFor(schema string) []webq.Conversion {
	return d.catalog.ConversionsFor(schema)
}

// Convert renders src with the conversion identified by conversionID. Results are
// never cached and failed calls are not retried.
func (d *Dispatcher) Convert(ctx context.Context, src webq.ConversionSource, conversionID int) (*webq.Rendition, error) {
	label := strconv.Itoa(conversionID)
	conv, ok := d.catalog.Lookup(conversionID)
	if !ok || conv.Schema != src.XMLSchemaURL {
		conversionsTotal.WithLabelValues(label, resultNotApplicable).Inc()
		return nil, &webq.ConversionError{ConversionID: conversionID, Err: webq.ErrConversionNotApplicable}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	res, err := d.engine.Render(callCtx, EngineRequest{Conversion: conv, Source: src})
	conversionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case ctx.Err() != nil:
			conversionsTotal.WithLabelValues(label, resultCanceled).Inc()
			return nil, fmt.Errorf("conversion %d: %w", conversionID, ctx.Err())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			conversionsTotal.WithLabelValues(label, resultTimeout).Inc()
			d.logger.Error("conversion timed out", "conversion", conversionID, "timeout", d.timeout)
			return nil, &webq.ConversionError{ConversionID: conversionID, Err: webq.ErrConversionTimeout}
		}
		conversionsTotal.WithLabelValues(label, resultFailed).Inc()
		d.logger.Error("conversion failed", "conversion", conversionID, "error", err)
		return nil, &webq.ConversionError{ConversionID: conversionID, Err: fmt.Errorf("%w: %w", webq.ErrConversionFailed, err)}
	}

	rendition, err := d.rendition(src, conv, res)
	if err != nil {
		conversionsTotal.WithLabelValues(label, resultFailed).Inc()
		d.logger.Error("conversion returned an unusable response", "conversion", conversionID, "error", err)
		return nil, &webq.ConversionError{ConversionID: conversionID, Err: fmt.Errorf("%w: %w", webq.ErrConversionFailed, err)}
	}
	conversionsTotal.WithLabelValues(label, resultOK).Inc()
	return rendition, nil
}

func (d *Dispatcher) rendition(src webq.ConversionSource, conv webq.Conversion, res *EngineResult) (*webq.Rendition, error) {
	if res == nil || len(res.Data) == 0 {
		return nil, errors.New("empty response")
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = conv.ResultType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("bad content type %q: %w", contentType, err)
	}

	name := dispositionFileName(res.ContentDisposition)
	if name == "" {
		name = strings.TrimSuffix(src.FileName, path.Ext(src.FileName)) + extensionFor(mediaType)
	}
	return &webq.Rendition{Data: res.Data, ContentType: contentType, FileName: name}, nil
}

func dispositionFileName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	return path.Base(name)
}

var knownExtensions = map[string]string{
	"text/html":          ".html",
	"application/pdf":    ".pdf",
	"application/xml":    ".xml",
	"text/xml":           ".xml",
	"application/json":   ".json",
	"text/csv":           ".csv",
	"text/plain":         ".txt",
	"application/rtf":    ".rtf",
	"application/msword": ".doc",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.oasis.opendocument.text":                                   ".odt",
	"application/vnd.oasis.opendocument.spreadsheet":                            ".ods",
}

func extensionFor(mediaType string) string {
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
