package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the record store. url is a postgres DSN or a sqlite path.
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case DatabaseMemory:
			url = ""
		case DatabasePostgres, DatabaseSQLite:
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'postgres' or 'sqlite', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithAutoMigrate toggles schema migrations when the service is built
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithContentStore selects where file bodies live.
func WithContentStore(storeType string, settings map[string]string) Option {
	return func(c *ServerConfig) error {
		switch storeType {
		case StoreDatabase, StoreMemory, StoreFS, StoreS3:
		default:
			return fmt.Errorf("unsupported content store type: %s", storeType)
		}
		copied := make(map[string]string, len(settings))
		for k, v := range settings {
			copied[k] = v
		}
		c.ContentStore = ContentStoreConfig{Type: storeType, Settings: copied}
		return nil
	}
}

// WithConverter points the dispatcher at a conversion engine. A zero timeout keeps the default.
func WithConverter(url string, timeout time.Duration) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("converter URL cannot be empty")
		}
		if timeout < 0 {
			return fmt.Errorf("conversion timeout cannot be negative")
		}
		c.ConverterURL = url
		if timeout > 0 {
			c.ConversionTimeout = timeout
		}
		return nil
	}
}

// WithCatalogFile sets the TOML conversion catalog
func WithCatalogFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return fmt.Errorf("catalog path cannot be empty")
		}
		c.CatalogFile = path
		return nil
	}
}

// WithMaxContentSize caps uploaded bodies; zero or less disables the check
func WithMaxContentSize(n int64) Option {
	return func(c *ServerConfig) error {
		c.MaxContentSize = n
		return nil
	}
}

// WithOwnerCache sizes the owner resolve cache; size 0 disables it
func WithOwnerCache(size int, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if size < 0 {
			return fmt.Errorf("owner cache size cannot be negative")
		}
		c.OwnerCacheSize = size
		c.OwnerCacheTTL = ttl
		return nil
	}
}

// WithEventLogging enables or disables the logging event sink
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}
