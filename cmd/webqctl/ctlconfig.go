package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tendant/webq/pkg/webq/config"
)

// fileConfig is the TOML layout of the webqctl configuration file.
type fileConfig struct {
	Database     databaseSection     `toml:"database"`
	ContentStore contentStoreSection `toml:"content_store"`
	Converter    converterSection    `toml:"converter"`
	MaxContent   int64               `toml:"max_content_size,omitempty"`
}

type databaseSection struct {
	Type string `toml:"type"` // memory, postgres or sqlite
	URL  string `toml:"url,omitempty"`
}

type contentStoreSection struct {
	Type     string            `toml:"type"` // database, memory, fs or s3
	Settings map[string]string `toml:"settings,omitempty"`
}

type converterSection struct {
	URL     string `toml:"url,omitempty"`
	Catalog string `toml:"catalog,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
}

func decodeConfig(r io.Reader) (*fileConfig, error) {
	var cfg fileConfig
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// readConfig reads path. A missing file yields an empty configuration.
func readConfig(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := decodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// options turns the file settings into config options. Environment overrides are
// appended after these by the caller.
func (c *fileConfig) options() ([]config.Option, error) {
	var opts []config.Option
	if c.Database.Type != "" {
		opts = append(opts, config.WithDatabase(c.Database.Type, c.Database.URL))
	}
	if c.ContentStore.Type != "" {
		opts = append(opts, config.WithContentStore(c.ContentStore.Type, c.ContentStore.Settings))
	}
	if c.Converter.URL != "" {
		var timeout time.Duration
		if c.Converter.Timeout != "" {
			d, err := time.ParseDuration(c.Converter.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid converter timeout: %w", err)
			}
			timeout = d
		}
		opts = append(opts, config.WithConverter(c.Converter.URL, timeout))
	}
	if c.Converter.Catalog != "" {
		opts = append(opts, config.WithCatalogFile(c.Converter.Catalog))
	}
	if c.MaxContent != 0 {
		opts = append(opts, config.WithMaxContentSize(c.MaxContent))
	}
	return opts, nil
}
