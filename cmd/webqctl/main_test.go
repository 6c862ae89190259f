package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/webq/pkg/webq/config"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := decodeConfig(strings.NewReader(`
max_content_size = 2048

[database]
type = "sqlite"
url = "/var/lib/webq/webq.db"

[content_store]
type = "fs"
[content_store.settings]
base_dir = "/var/lib/webq/content"

[converter]
url = "http://converter:8080"
catalog = "/etc/webq/conversions.toml"
timeout = "45s"
`))
	require.NoError(t, err)

	opts, err := cfg.options()
	require.NoError(t, err)
	loaded, err := config.Load(opts...)
	require.NoError(t, err)

	assert.Equal(t, config.DatabaseSQLite, loaded.DatabaseType)
	assert.Equal(t, "/var/lib/webq/webq.db", loaded.DatabaseURL)
	assert.Equal(t, config.StoreFS, loaded.ContentStore.Type)
	assert.Equal(t, "/var/lib/webq/content", loaded.ContentStore.Settings["base_dir"])
	assert.Equal(t, "http://converter:8080", loaded.ConverterURL)
	assert.Equal(t, 45*time.Second, loaded.ConversionTimeout)
	assert.Equal(t, int64(2048), loaded.MaxContentSize)
}

func TestDecodeConfig_BadTimeout(t *testing.T) {
	cfg, err := decodeConfig(strings.NewReader("[converter]\nurl = \"http://c\"\ntimeout = \"soon\"\n"))
	require.NoError(t, err)
	_, err = cfg.options()
	assert.Error(t, err)
}

func TestReadConfig_Missing(t *testing.T) {
	cfg, err := readConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommands_ProjectFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "webq.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
[database]
type = "sqlite"
url = "`+filepath.ToSlash(filepath.Join(dir, "webq.db"))+`"
`), 0o644))
	formPath := filepath.Join(dir, "household.xml")
	require.NoError(t, os.WriteFile(formPath, []byte("<household/>"), 0o644))

	assert.Contains(t, run(t, "--config", configPath, "migrate"), "up to date")
	assert.Contains(t, run(t, "--config", configPath, "project", "add", "census", "-d", "Census forms"), "Project census created")
	assert.Contains(t, run(t, "--config", configPath, "project", "ls"), "census\tCensus forms")

	out := run(t, "--config", configPath, "file", "put", "census", formPath, "--main-form")
	assert.Contains(t, out, "Stored household.xml as file 1")

	assert.Contains(t, run(t, "--config", configPath, "file", "ls", "census"), "household.xml")
	assert.Equal(t, "<household/>", run(t, "--config", configPath, "file", "get", "census", "1"))

	run(t, "--config", configPath, "project", "rename", "census", "census-2024")
	assert.Contains(t, run(t, "--config", configPath, "file", "ls", "census-2024"), "household.xml")

	assert.Contains(t, run(t, "--config", configPath, "file", "rm", "census-2024", "1", "7"), "Removed 1 of 2 files")
	assert.Contains(t, run(t, "--config", configPath, "project", "rm", "census-2024"), "removed")
}
