package adapter

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewyi/newscrawler/src/config"
	"github.com/andrewyi/newscrawler/src/downloader"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// site 记录请求路径的测试站点
type site struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newSite(t *testing.T, mux *http.ServeMux) *site {
	s := &site{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.RequestURI())
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *site) requested(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r == uri {
			return true
		}
	}
	return false
}

func newDownloader() downloader.Downloader {
	return downloader.NewSimpleDownloader(downloader.Options{Timeout: 5 * time.Second})
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func listingHTML(hrefs ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><a href=\"/impresszum\">impresszum</a>")
	for _, h := range hrefs {
		fmt.Fprintf(&sb, "<a href=%q>story</a>", h)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func collect(t *testing.T, a Adapter, w entity.CrawlWindow) ([]entity.RawArticleRef, error) {
	t.Helper()
	var refs []entity.RawArticleRef
	for ref, err := range a.ListCandidates(context.Background(), w) {
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func urls(refs []entity.RawArticleRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.URL)
	}
	return out
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Kinds(), KindArchive)
	assert.Contains(t, Kinds(), KindSitemap)

	_, err := New(config.Source{Name: "x", Kind: "rss"}, newDownloader(), nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(config.Source{Name: "x", Kind: KindArchive}, newDownloader(), nil)
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = New(config.Source{Name: "x", Kind: KindSitemap}, newDownloader(), nil)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestDateFromURL(t *testing.T) {
	a, err := NewArchive(config.Source{
		Name:           "telex",
		ListingURL:     "https://telex.hu/archivum",
		ArticlePattern: `/(\d{4})/(\d{2})/(\d{2})/[a-z-]+$`,
	}, newDownloader(), nil)
	require.NoError(t, err)
	pattern := a.(*archiveAdapter).pattern

	got := dateFromURL(pattern, "https://telex.hu/belfold/2020/02/29/leap")
	require.NotNil(t, got)
	assert.Equal(t, day(2020, 2, 29), *got)
	assert.Nil(t, dateFromURL(pattern, "https://telex.hu/belfold/2021/02/29/leap"))
	assert.Nil(t, dateFromURL(pattern, "https://telex.hu/belfold/story"))

	compact := dateFromURL(regexp.MustCompile(`/(\d{8})/`), "https://hvg.hu/itthon/20200105/story")
	require.NotNil(t, compact)
	assert.Equal(t, day(2020, 1, 5), *compact)
}

func TestArchive_PagedEarlyStop(t *testing.T) {
	mux := http.NewServeMux()
	pages := map[string][]string{
		"1": {"/belfold/2020/03/05/a", "/belfold/2020/03/01/b"},
		"2": {"/sport/2020/02/20/c", "/belfold/2020/01/10/d"},
		"3": {"/belfold/2019/12/01/e"},
		"4": {"/belfold/2019/11/01/f"},
	}
	mux.HandleFunc("/archivum", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, listingHTML(pages[r.URL.Query().Get("oldal")]...))
	})
	srv := newSite(t, mux)

	a, err := NewArchive(config.Source{
		Name:           "telex",
		ListingURL:     srv.URL + "/archivum?oldal={PAGE}",
		ArticlePattern: `/(\d{4})/(\d{2})/(\d{2})/[a-z-]+$`,
		SectionLabels:  true,
		Labels:         []string{"Hírek"},
	}, newDownloader(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, enum.OrderReverseChronological, a.Descriptor().Order)

	refs, err := collect(t, a, entity.CrawlWindow{Source: "telex", Start: day(2020, 2, 1), End: day(2020, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/belfold/2020/03/05/a",
		srv.URL + "/belfold/2020/03/01/b",
		srv.URL + "/sport/2020/02/20/c",
		srv.URL + "/belfold/2020/01/10/d",
		srv.URL + "/belfold/2019/12/01/e",
	}, urls(refs))
	assert.False(t, srv.requested("/archivum?oldal=4"))

	require.NotNil(t, refs[2].PublishedHint)
	assert.Equal(t, day(2020, 2, 20), *refs[2].PublishedHint)
	assert.Equal(t, []string{"hírek", "sport"}, refs[2].Labels)
	assert.Equal(t, "telex", refs[2].Source)
}

func TestArchive_ConsumerStops(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/archivum", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML("/belfold/2020/03/05/a", "/belfold/2020/03/04/b"))
	})
	srv := newSite(t, mux)
	a, err := NewArchive(config.Source{
		Name:           "telex",
		ListingURL:     srv.URL + "/archivum?oldal={PAGE}",
		ArticlePattern: `/(\d{4})/(\d{2})/(\d{2})/[a-z-]+$`,
	}, newDownloader(), quietLogger())
	require.NoError(t, err)

	n := 0
	for _, err := range a.ListCandidates(context.Background(), entity.CrawlWindow{Start: day(2020, 1, 1), End: day(2020, 4, 1)}) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.False(t, srv.requested("/archivum?oldal=2"))
}

func TestArchive_Daily(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/archivum/2020/01/01", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML("/cikk/ujev", "/cikk/tuzijatek"))
	})
	mux.HandleFunc("/archivum/2020/01/03", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML("/cikk/harmadik-nap", "/cikk/ujev"))
	})
	srv := newSite(t, mux)

	a, err := NewArchive(config.Source{
		Name:           "hvg",
		ListingURL:     srv.URL + "/archivum/{YYYY}/{MM}/{DD}",
		Pagination:     PaginationDaily,
		ArticlePattern: `/cikk/[a-z-]+$`,
	}, newDownloader(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, enum.OrderUnordered, a.Descriptor().Order)

	refs, err := collect(t, a, entity.CrawlWindow{Start: day(2020, 1, 1).Add(6 * time.Hour), End: day(2020, 1, 4)})
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/cikk/ujev",
		srv.URL + "/cikk/tuzijatek",
		srv.URL + "/cikk/harmadik-nap",
		srv.URL + "/cikk/ujev",
	}, urls(refs))
	// url中没有日期时使用列表页的日期
	require.NotNil(t, refs[2].PublishedHint)
	assert.Equal(t, day(2020, 1, 3), *refs[2].PublishedHint)
	assert.True(t, srv.requested("/archivum/2020/01/02"))
}

func TestArchive_MonthlyNewestFirst(t *testing.T) {
	var hrefs []string
	// 侧栏中的最新文章
	hrefs = append(hrefs, "/hirek/2020/02/15/friss")
	for d := 31; d >= 1; d-- {
		hrefs = append(hrefs, fmt.Sprintf("/hirek/2020/01/%02d/cikk", d))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/archivum/2020/01", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML(hrefs...))
	})
	srv := newSite(t, mux)

	a, err := NewArchive(config.Source{
		Name:           "444",
		ListingURL:     srv.URL + "/archivum/{YYYY}/{MM}",
		Pagination:     PaginationMonthly,
		ArticlePattern: `/(\d{4})/(\d{2})/(\d{2})/[a-z]+$`,
	}, newDownloader(), quietLogger())
	require.NoError(t, err)

	refs, err := collect(t, a, entity.CrawlWindow{Start: day(2020, 1, 6), End: day(2020, 1, 13)})
	require.NoError(t, err)
	var want []string
	for d := 6; d <= 12; d++ {
		want = append(want, fmt.Sprintf("%s/hirek/2020/01/%02d/cikk", srv.URL, d))
	}
	assert.Equal(t, want, urls(refs))
}

func TestArchive_TruncatedAtMaxPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/archivum", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("oldal")
		switch page {
		case "1":
			fmt.Fprint(w, listingHTML("/belfold/2020/02/20/a"))
		default:
			fmt.Fprint(w, listingHTML("/belfold/2020/02/1"+page+"/b"))
		}
	})
	srv := newSite(t, mux)
	a, err := NewArchive(config.Source{
		Name:           "telex",
		ListingURL:     srv.URL + "/archivum?oldal={PAGE}",
		ArticlePattern: `/(\d{4})/(\d{2})/(\d{2})/[a-z-]+$`,
		MaxPages:       2,
	}, newDownloader(), quietLogger())
	require.NoError(t, err)

	refs, err := collect(t, a, entity.CrawlWindow{Start: day(2020, 2, 1), End: day(2020, 3, 1)})
	assert.ErrorIs(t, err, ErrListingTruncated)
	assert.Len(t, refs, 2)
	assert.False(t, isRetryable(err))
	assert.False(t, srv.requested("/archivum?oldal=3"))
}

func TestArchive_Periods(t *testing.T) {
	w := entity.CrawlWindow{Start: day(2019, 12, 15), End: day(2020, 2, 1)}
	assert.Equal(t, []time.Time{day(2019, 12, 1), day(2020, 1, 1)}, periods(PaginationMonthly, w))
	assert.Len(t, periods(PaginationDaily, w), 48)
}

func TestArchive_ListingError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/archivum", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := newSite(t, mux)
	a, err := NewArchive(config.Source{
		Name:           "telex",
		ListingURL:     srv.URL + "/archivum?oldal={PAGE}",
		ArticlePattern: `/(\d{4})/(\d{2})/(\d{2})/[a-z-]+$`,
	}, newDownloader(), quietLogger())
	require.NoError(t, err)

	_, err = collect(t, a, entity.CrawlWindow{Start: day(2020, 1, 1), End: day(2020, 2, 1)})
	var fe *entity.FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
}

func TestArchive_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/belfold/2020/01/01/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><article><p>hello</p></article></body></html>")
	})
	mux.HandleFunc("/belfold/2020/01/01/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})
	srv := newSite(t, mux)
	a, err := NewArchive(config.Source{
		Name:            "telex",
		ListingURL:      srv.URL + "/archivum",
		ArticlePattern:  `/(\d{4})/(\d{2})/(\d{2})/[a-z-]+$`,
		ContentSelector: "div.article-html-content",
	}, newDownloader(), quietLogger())
	require.NoError(t, err)

	ref := entity.RawArticleRef{Source: "telex", URL: srv.URL + "/belfold/2020/01/01/a"}
	raw, err := a.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, ref, raw.Ref)
	assert.Equal(t, ref.URL, raw.FinalURL)
	assert.Contains(t, raw.HTML, "<p>hello</p>")
	assert.Equal(t, "div.article-html-content", raw.ContentSelector)

	_, err = a.Fetch(context.Background(), entity.RawArticleRef{URL: srv.URL + "/belfold/2020/01/01/empty"})
	var fe *entity.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, entity.FetchParseFailure, fe.Kind)
	assert.False(t, fe.Retryable)
}

const sitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/sitemap-2019.xml</loc><lastmod>2019-12-31</lastmod></sitemap>
  <sitemap><loc>%[1]s/sitemap-2020-01.xml.gz</loc><lastmod>2020-01-31T10:00:00+01:00</lastmod></sitemap>
  <sitemap><loc>%[1]s/sitemap-news.xml</loc></sitemap>
</sitemapindex>`

const urlsetMonthly = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/itthon/20200105_valasztas</loc><lastmod>2020-01-05T08:00:00Z</lastmod></url>
  <url><loc>%[1]s/tag/valasztas</loc><lastmod>2020-01-05</lastmod></url>
  <url><loc>%[1]s/itthon/datum_nelkul</loc></url>
</urlset>`

const urlsetNews = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:news="http://www.google.com/schemas/sitemap-news/0.9">
  <url>
    <loc>%[1]s/sport/foci</loc>
    <lastmod>2020-01-20T00:00:00Z</lastmod>
    <news:news><news:publication_date>2020-01-10T12:30:00+00:00</news:publication_date></news:news>
  </url>
  <url><loc>%[1]s/itthon/20200105_valasztas</loc></url>
</urlset>`

func gzipped(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSitemap_Index(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, sitemapIndex, base)
	})
	mux.HandleFunc("/sitemap-2020-01.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-gzip")
		w.Write(gzipped(t, fmt.Sprintf(urlsetMonthly, base)))
	})
	mux.HandleFunc("/sitemap-news.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprintf(w, urlsetNews, base)
	})
	srv := newSite(t, mux)
	base = srv.URL

	a, err := NewSitemap(config.Source{
		Name:          "hvg",
		Sitemaps:      []string{srv.URL + "/sitemap.xml"},
		SectionLabels: true,
	}, newDownloader(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, enum.OrderUnordered, a.Descriptor().Order)

	refs, err := collect(t, a, entity.CrawlWindow{Start: day(2020, 1, 1), End: day(2020, 2, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/itthon/20200105_valasztas",
		srv.URL + "/itthon/datum_nelkul",
		srv.URL + "/sport/foci",
	}, urls(refs))
	assert.False(t, srv.requested("/sitemap-2019.xml"))

	require.NotNil(t, refs[0].PublishedHint)
	assert.Equal(t, time.Date(2020, 1, 5, 8, 0, 0, 0, time.UTC), *refs[0].PublishedHint)
	assert.Nil(t, refs[1].PublishedHint)
	require.NotNil(t, refs[2].PublishedHint)
	assert.Equal(t, time.Date(2020, 1, 10, 12, 30, 0, 0, time.UTC), *refs[2].PublishedHint)
	assert.Equal(t, []string{"sport"}, refs[2].Labels)
}

func TestSitemap_RobotsFallback(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "User-agent: *\nDisallow: /admin\n\nSitemap: %s/sitemap-news.xml\n", base)
	})
	mux.HandleFunc("/sitemap-news.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, urlsetNews, base)
	})
	srv := newSite(t, mux)
	base = srv.URL

	a, err := NewSitemap(config.Source{
		Name:     "hvg",
		Sitemaps: []string{srv.URL + "/missing-sitemap.xml"},
	}, newDownloader(), quietLogger())
	require.NoError(t, err)

	refs, err := collect(t, a, entity.CrawlWindow{Start: day(2020, 1, 1), End: day(2020, 2, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/sport/foci", srv.URL + "/itthon/20200105_valasztas"}, urls(refs))
	assert.True(t, srv.requested("/robots.txt"))
}

func TestSitemap_RetryableError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := newSite(t, mux)

	a, err := NewSitemap(config.Source{Name: "hvg", Sitemaps: []string{srv.URL + "/sitemap.xml"}}, newDownloader(), quietLogger())
	require.NoError(t, err)

	_, err = collect(t, a, entity.CrawlWindow{Start: day(2020, 1, 1), End: day(2020, 2, 1)})
	assert.True(t, isRetryable(err))
	assert.False(t, srv.requested("/robots.txt"))
}
