package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
database:
  url: /tmp/news.db
crawl:
  lookback: 720h
  sub_window: weekly
sources:
  - name: telex
    kind: archive
    base_url: https://telex.hu
    listing_url: https://telex.hu/archivum?oldal={PAGE}
    article_pattern: 'https?://telex\.hu/(?:[a-z0-9\-]+/)?(20\d{2})/([01]\d)/([0-3]\d)/[^"''<>\s]+'
    pagination: page
    section_labels: true
  - name: hvg
    kind: sitemap
    sitemaps: [https://hvg.hu/sitemap.xml]
    disabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/tmp/news.db", cfg.Database.URL)
	assert.Equal(t, 720*time.Hour, cfg.Crawl.Lookback)
	assert.Equal(t, "weekly", cfg.Crawl.SubWindow)
	assert.Equal(t, uint32(5), cfg.Crawl.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Crawl.InitialBackoff)
	assert.Equal(t, 20*time.Second, cfg.Downloader.Timeout)

	require.Len(t, cfg.Sources, 2)
	assert.True(t, cfg.Sources[0].SectionLabels)
	assert.Equal(t, []string{"https://hvg.hu/sitemap.xml"}, cfg.Sources[1].Sitemaps)

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 1)
	assert.Equal(t, "telex", enabled[0].Name)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: mysql\nsources:\n  - name: a\n    kind: archive\n"))
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Load(writeConfig(t, "log:\n  level: info\n"))
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = Load(writeConfig(t, "sources:\n  - name: a\n    kind: archive\n  - name: a\n    kind: sitemap\n"))
	assert.Error(t, err)
}
