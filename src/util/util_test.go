package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewyi/newscrawler/src/enum"
)

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase scheme and host", "HTTPS://Telex.HU/belfold/2024/01/02/cikk", "https://telex.hu/belfold/2024/01/02/cikk"},
		{"trailing slash", "https://444.hu/2024/01/02/cikk/", "https://444.hu/2024/01/02/cikk"},
		{"root slash", "https://444.hu/", "https://444.hu"},
		{"tracking params", "https://hvg.hu/itthon/20240102_x?utm_source=fb&utm_medium=social&fbclid=abc", "https://hvg.hu/itthon/20240102_x"},
		{"keeps and sorts real params", "https://index.hu/a?p=2&utm_campaign=x&id=7", "https://index.hu/a?id=7&p=2"},
		{"drops fragment", "https://index.hu/a#comments", "https://index.hu/a"},
		{"drops default port", "http://index.hu:80/a", "http://index.hu/a"},
		{"keeps other port", "http://index.hu:8080/a", "http://index.hu:8080/a"},
		{"ipv6 host", "https://[2001:DB8::1]:443/cikk/", "https://[2001:db8::1]/cikk"},
		{"ipv6 host with port", "http://[::1]:8080/a?utm_source=x", "http://[::1]:8080/a"},
		{"drops user info", "https://user:pw@index.hu/a", "https://index.hu/a"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CanonicalURL(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestCanonicalURL_Invalid(t *testing.T) {
	for _, in := range []string{"", "/relative/path", "mailto:someone@example.com", "ftp://example.com/x"} {
		_, err := CanonicalURL(in)
		assert.Error(t, err, in)
	}
}

func TestSectionOf(t *testing.T) {
	assert.Equal(t, "belfold", SectionOf("https://telex.hu/belfold/2025/01/02/cikk"))
	assert.Equal(t, "", SectionOf("https://444.hu/2025/01/02/cikk"))
	assert.Equal(t, "", SectionOf("https://444.hu/cikk"))
	assert.Equal(t, "", SectionOf("https://444.hu/"))
}

func TestNormalizeLabels(t *testing.T) {
	assert.Equal(t, []string{"belfold", "politika"}, NormalizeLabels([]string{" Politika", "belfold", "", "POLITIKA"}))
	assert.Empty(t, NormalizeLabels(nil))

	long := strings.Repeat("é", enum.MaxLabelBytes/2+1)
	assert.Equal(t, []string{"sport"}, NormalizeLabels([]string{long, "Sp\xffort"}))
}

func TestResolveURL(t *testing.T) {
	got, err := ResolveURL("https://444.hu/archivum?page=2", "/2024/01/02/cikk")
	require.NoError(t, err)
	assert.Equal(t, "https://444.hu/2024/01/02/cikk", got)
}

func TestReadConfig_DefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

	var out struct {
		Log struct {
			Level  string `mapstructure:"level"`
			Format string `mapstructure:"format"`
		} `mapstructure:"log"`
	}
	err := ReadConfig(path, map[string]interface{}{"log.format": "json", "log.level": "info"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "warn", out.Log.Level)
	assert.Equal(t, "json", out.Log.Format)
}
