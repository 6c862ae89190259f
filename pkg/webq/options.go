package webq

import (
	"log/slog"
	"time"
)

// DefaultMaxContentSize caps a single file body.
const DefaultMaxContentSize int64 = 50 << 20

type options struct {
	blobs          BlobStore
	maxContentSize int64
	events         EventSink
	logger         *slog.Logger
	now            func() time.Time
	cacheSize      int
	cacheTTL       time.Duration
	converter      Converter
}

// Option configures file stores, registries and the Service.
type Option func(*options)

// WithBlobStore keeps content bodies in an external object store instead of the database
func WithBlobStore(store BlobStore) Option {
	return func(o *options) {
		o.blobs = store
	}
}

// WithMaxContentSize sets the largest accepted body in bytes; zero or less disables the check
func WithMaxContentSize(n int64) Option {
	return func(o *options) {
		o.maxContentSize = n
	}
}

// WithEventSink sets the lifecycle event sink
func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		o.events = sink
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithOwnerCache caches resolved owner entries
func WithOwnerCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithConverter sets the conversion dispatcher used by the Service
func WithConverter(c Converter) Option {
	return func(o *options) {
		o.converter = c
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		maxContentSize: DefaultMaxContentSize,
		events:         NewNoopEventSink(),
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *options) unitOfWork(repo Repository) *unitOfWork {
	return &unitOfWork{repo: repo, blobs: o.blobs, logger: o.logger}
}
