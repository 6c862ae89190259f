package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/convert"
	"github.com/tendant/webq/pkg/webq/repo/memory"
	repopg "github.com/tendant/webq/pkg/webq/repo/postgres"
	reposqlite "github.com/tendant/webq/pkg/webq/repo/sqlite"
	fsstorage "github.com/tendant/webq/pkg/webq/storage/fs"
	memorystorage "github.com/tendant/webq/pkg/webq/storage/memory"
	s3storage "github.com/tendant/webq/pkg/webq/storage/s3"
)

// Database types.
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Content store types. StoreDatabase keeps bodies inside the repository itself.
const (
	StoreDatabase = "database"
	StoreMemory   = "memory"
	StoreFS       = "fs"
	StoreS3       = "s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: DatabaseMemory,
		AutoMigrate:  true,
		ContentStore: ContentStoreConfig{
			Type:     StoreDatabase,
			Settings: map[string]string{},
		},
		ConversionTimeout:  convert.DefaultTimeout,
		MaxContentSize:     webq.DefaultMaxContentSize,
		OwnerCacheSize:     1024,
		OwnerCacheTTL:      5 * time.Minute,
		EnableEventLogging: true,
	}
}

// ServerConfig holds everything needed to assemble a webq.Service.
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	DatabaseType string // memory, postgres, sqlite
	DatabaseURL  string // postgres DSN or sqlite path
	AutoMigrate  bool

	ContentStore ContentStoreConfig

	ConverterURL      string
	ConversionTimeout time.Duration
	CatalogFile       string

	MaxContentSize int64
	OwnerCacheSize int
	OwnerCacheTTL  time.Duration

	EnableEventLogging bool
}

// ContentStoreConfig selects where file bodies live.
type ContentStoreConfig struct {
	Type     string
	Settings map[string]string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case DatabaseMemory:
	case DatabasePostgres, DatabaseSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when using %s", c.DatabaseType)
		}
	default:
		return fmt.Errorf("database_type must be 'memory', 'postgres' or 'sqlite', got %q", c.DatabaseType)
	}

	switch c.ContentStore.Type {
	case StoreDatabase, StoreMemory:
	case StoreFS:
		if c.ContentStore.Settings["base_dir"] == "" {
			return errors.New("fs content store requires base_dir")
		}
	case StoreS3:
		if c.ContentStore.Settings["bucket"] == "" {
			return errors.New("s3 content store requires bucket")
		}
	default:
		return fmt.Errorf("unsupported content store type: %s", c.ContentStore.Type)
	}

	if c.CatalogFile != "" && c.ConverterURL == "" {
		return errors.New("converter_url is required when a conversion catalog is configured")
	}
	if c.ConverterURL != "" && c.CatalogFile == "" {
		return errors.New("conversion catalog is required when converter_url is set")
	}
	if c.ConversionTimeout < 0 {
		return errors.New("conversion timeout cannot be negative")
	}
	if c.OwnerCacheSize < 0 {
		return errors.New("owner cache size cannot be negative")
	}

	return nil
}

// BuildService assembles the service. The returned cleanup releases database handles.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (*webq.Service, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	external := c.ContentStore.Type != StoreDatabase
	repo, closeRepo, err := c.buildRepository(ctx, logger, external)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}
	cleanups = append(cleanups, closeRepo)

	options := []webq.Option{
		webq.WithLogger(logger),
		webq.WithMaxContentSize(c.MaxContentSize),
	}

	if external {
		store, err := c.buildContentStore(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to build content store %s: %w", c.ContentStore.Type, err)
		}
		options = append(options, webq.WithBlobStore(store))
	}

	if c.EnableEventLogging {
		options = append(options, webq.WithEventSink(webq.NewLoggingEventSink(logger)))
	}

	if c.OwnerCacheSize > 0 {
		options = append(options, webq.WithOwnerCache(c.OwnerCacheSize, c.OwnerCacheTTL))
	}

	if c.ConverterURL != "" {
		catalog, err := convert.LoadCatalog(c.CatalogFile)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		engine := convert.NewHTTPEngine(c.ConverterURL, nil)
		dispatcher := convert.NewDispatcher(catalog, engine,
			convert.WithTimeout(c.ConversionTimeout),
			convert.WithLogger(logger),
		)
		options = append(options, webq.WithConverter(dispatcher))
		logger.Info("conversion dispatcher configured",
			slog.String("converter_url", c.ConverterURL),
			slog.Int("conversions", catalog.Len()),
		)
	}

	svc, err := webq.New(repo, options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func (c *ServerConfig) buildRepository(ctx context.Context, logger *slog.Logger, external bool) (webq.Repository, func(), error) {
	switch c.DatabaseType {
	case DatabaseMemory:
		var opts []memory.Option
		if external {
			opts = append(opts, memory.WithExternalContent())
		}
		return memory.New(opts...), func() {}, nil

	case DatabasePostgres:
		if c.AutoMigrate {
			if err := repopg.Migrate(c.DatabaseURL, logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := repopg.Connect(ctx, c.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		var opts []repopg.Option
		if external {
			opts = append(opts, repopg.WithExternalContent())
		}
		return repopg.NewWithPool(pool, opts...), pool.Close, nil

	case DatabaseSQLite:
		var opts []reposqlite.Option
		if external {
			opts = append(opts, reposqlite.WithExternalContent())
		}
		var (
			repo *reposqlite.Repository
			err  error
		)
		if c.AutoMigrate {
			repo, err = reposqlite.Open(c.DatabaseURL, opts...)
		} else {
			db, openErr := reposqlite.OpenConnection(c.DatabaseURL)
			if openErr != nil {
				return nil, nil, openErr
			}
			repo, err = reposqlite.New(db, opts...), nil
		}
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				logger.Warn("failed to close sqlite database", "err", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// Migrate applies the schema migrations of the configured database. Memory needs none.
func (c *ServerConfig) Migrate(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	switch c.DatabaseType {
	case DatabasePostgres:
		return repopg.Migrate(c.DatabaseURL, logger)
	case DatabaseSQLite:
		db, err := reposqlite.OpenConnection(c.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := reposqlite.MigrateUp(db); err != nil {
			return err
		}
		logger.Info("migrations applied", "database", c.DatabaseURL)
		return nil
	default:
		return nil
	}
}

func (c *ServerConfig) buildContentStore(ctx context.Context) (webq.BlobStore, error) {
	settings := c.ContentStore.Settings
	switch c.ContentStore.Type {
	case StoreMemory:
		return memorystorage.New(), nil

	case StoreFS:
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(settings, "base_dir", "./data/content"),
		})

	case StoreS3:
		return s3storage.New(ctx, s3storage.Config{
			Region:                 getString(settings, "region", "us-east-1"),
			Bucket:                 getString(settings, "bucket", ""),
			Prefix:                 getString(settings, "prefix", ""),
			AccessKeyID:            getString(settings, "access_key_id", ""),
			SecretAccessKey:        getString(settings, "secret_access_key", ""),
			Endpoint:               getString(settings, "endpoint", ""),
			UsePathStyle:           getBool(settings, "use_path_style", false),
			EnableSSE:              getBool(settings, "enable_sse", false),
			SSEAlgorithm:           getString(settings, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(settings, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(settings, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported content store type: %s", c.ContentStore.Type)
	}
}

func getString(settings map[string]string, key, defaultValue string) string {
	if v, ok := settings[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

func getBool(settings map[string]string, key string, defaultValue bool) bool {
	if v, ok := settings[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
