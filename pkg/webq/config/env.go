package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
//	PORT               server port (default "8080")
//	ENVIRONMENT        runtime environment (default "development")
//	DATABASE_URL       "memory", "postgres://...", "postgresql://..." or "sqlite://path"
//	STORAGE_URL        "database" (default), "memory://", "file:///dir" or
//	                   "s3://bucket?region=..&endpoint=..&prefix=..&path_style=true"
//	CONVERTER_URL      base URL of the conversion engine
//	CONVERSION_TIMEOUT duration, e.g. "30s"
//	CONVERSION_CATALOG path to the TOML conversion catalog
//	MAX_CONTENT_SIZE   largest accepted body in bytes
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}
		return applyConverterEnv(prefix, c)
	}
}

func applyDatabaseEnv(prefix string, c *ServerConfig) error {
	dbURL, ok := lookupEnv(prefix, "DATABASE_URL")
	if !ok || dbURL == "" {
		return nil
	}

	switch {
	case dbURL == "memory":
		c.DatabaseType = DatabaseMemory
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		c.DatabaseType = DatabasePostgres
		c.DatabaseURL = dbURL
	case strings.HasPrefix(dbURL, "sqlite://"):
		path := strings.TrimPrefix(dbURL, "sqlite://")
		if path == "" {
			return fmt.Errorf("sqlite path cannot be empty in DATABASE_URL")
		}
		c.DatabaseType = DatabaseSQLite
		c.DatabaseURL = path
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...' or 'sqlite://...')", dbURL)
	}
	return nil
}

func applyStorageEnv(prefix string, c *ServerConfig) error {
	storageURL, ok := lookupEnv(prefix, "STORAGE_URL")
	if !ok || storageURL == "" {
		return nil
	}

	switch {
	case storageURL == StoreDatabase:
		c.ContentStore = ContentStoreConfig{Type: StoreDatabase, Settings: map[string]string{}}
	case storageURL == "memory" || storageURL == "memory://":
		c.ContentStore = ContentStoreConfig{Type: StoreMemory, Settings: map[string]string{}}
	case strings.HasPrefix(storageURL, "file://"):
		path := strings.TrimPrefix(storageURL, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.ContentStore = ContentStoreConfig{Type: StoreFS, Settings: map[string]string{"base_dir": path}}
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(storageURL, c)
	default:
		return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'database', 'memory://', 'file://...' or 's3://...')", storageURL)
	}
	return nil
}

// applyS3Storage reads s3://bucket?region=..&endpoint=..&prefix=..&path_style=..
func applyS3Storage(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	settings := map[string]string{
		"bucket": u.Host,
		"region": "us-east-1",
	}
	q := u.Query()
	for param, key := range map[string]string{
		"region":     "region",
		"endpoint":   "endpoint",
		"prefix":     "prefix",
		"path_style": "use_path_style",
		"create":     "create_bucket_if_not_exist",
	} {
		if v := q.Get(param); v != "" {
			settings[key] = v
		}
	}

	if v, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && v != "" {
		settings["access_key_id"] = v
	}
	if v, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && v != "" {
		settings["secret_access_key"] = v
	}
	if v, ok := os.LookupEnv("AWS_REGION"); ok && v != "" && q.Get("region") == "" {
		settings["region"] = v
	}

	c.ContentStore = ContentStoreConfig{Type: StoreS3, Settings: settings}
	return nil
}

func applyConverterEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "CONVERTER_URL"); ok && v != "" {
		c.ConverterURL = v
	}
	if v, ok := lookupEnv(prefix, "CONVERSION_CATALOG"); ok && v != "" {
		c.CatalogFile = v
	}

	if v, ok := lookupEnv(prefix, "CONVERSION_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration for %sCONVERSION_TIMEOUT: %w", prefix, err)
		}
		c.ConversionTimeout = d
	}

	n, ok, err := parseInt64Env(prefix, "MAX_CONTENT_SIZE")
	if err != nil {
		return err
	}
	if ok {
		c.MaxContentSize = n
	}
	return nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseInt64Env(prefix, key string) (int64, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
