package analyzer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewyi/newscrawler/src/entity"
)

const listingHTML = `<html><body>
<nav><a href="/rovat/belfold">Belföld</a><a href="#top">top</a><a href="javascript:void(0)">x</a></nav>
<ul>
  <li><a href="/2024/03/02/masodik-cikk">Második   cikk</a></li>
  <li><a href="https://444.hu/2024/03/01/elso-cikk#comments">Első cikk</a></li>
  <li><a href="/2024/03/02/masodik-cikk">dup</a></li>
  <li><a href="https://other.example/2024/03/01/x">foreign</a></li>
</ul>
</body></html>`

func TestSimpleAnalyzer_Analyze(t *testing.T) {
	pattern := regexp.MustCompile(`^https://444\.hu/(20\d{2})/(\d{2})/(\d{2})/`)
	a := NewSimpleAnalyzer(pattern)

	links, err := a.Analyze(entity.Page{URL: "https://444.hu/archivum?page=1", Content: []byte(listingHTML)})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "https://444.hu/2024/03/02/masodik-cikk", links[0].URL)
	assert.Equal(t, "Második cikk", links[0].Text)
	assert.Equal(t, "https://444.hu/2024/03/01/elso-cikk", links[1].URL)
}

func TestSimpleAnalyzer_NoPattern(t *testing.T) {
	a := NewSimpleAnalyzer(nil)
	links, err := a.Analyze(entity.Page{URL: "https://444.hu/", Content: []byte(listingHTML)})
	require.NoError(t, err)
	// belfold, masodik, elso, other.example
	assert.Len(t, links, 4)
}
