package adapter

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/araddon/dateparse"
	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/andrewyi/newscrawler/src/config"
	"github.com/andrewyi/newscrawler/src/downloader"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
)

const (
	KindSitemap = "sitemap"

	// sitemap index的最大嵌套深度
	maxSitemapDepth = 3
	// 解压后的sitemap大小上限
	maxSitemapBytes = 64 << 20
)

// 标签页、作者页、栏目页等不是文章
var defaultExclude = []string{
	"/tag/", "/author/", "/category/", "/cimke/", "/szerzo/",
	"/tema/", "/kategoria/", "/rovat/",
}

func init() {
	Register(KindSitemap, NewSitemap)
}

// sitemapAdapter 通过xml sitemap发现文章，条目没有顺序保证
// 配置的sitemap以不可重试的错误失败时，改用robots.txt中声明的sitemap
type sitemapAdapter struct {
	desc          Descriptor
	sitemaps      []string
	pattern       *regexp.Regexp
	exclude       []string
	sectionLabels bool
	labels        []string

	downloader downloader.Downloader
	logger     *logrus.Logger
}

func NewSitemap(cfg config.Source, d downloader.Downloader, logger *logrus.Logger) (Adapter, error) {
	if len(cfg.Sitemaps) == 0 {
		return nil, fmt.Errorf("%w: source %s: sitemaps is required", ErrBadConfig, cfg.Name)
	}
	var pattern *regexp.Regexp
	if cfg.ArticlePattern != "" {
		var err error
		if pattern, err = regexp.Compile(cfg.ArticlePattern); err != nil {
			return nil, fmt.Errorf("%w: source %s: %v", ErrBadConfig, cfg.Name, err)
		}
	}
	exclude := cfg.Exclude
	if len(exclude) == 0 {
		exclude = defaultExclude
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &sitemapAdapter{
		desc: Descriptor{
			Name:            cfg.Name,
			Kind:            KindSitemap,
			BaseURL:         cfg.BaseURL,
			ContentSelector: cfg.ContentSelector,
			Order:           enum.OrderUnordered,
		},
		sitemaps:      cfg.Sitemaps,
		pattern:       pattern,
		exclude:       exclude,
		sectionLabels: cfg.SectionLabels,
		labels:        cfg.Labels,
		downloader:    d,
		logger:        logger,
	}, nil
}

func (a *sitemapAdapter) Descriptor() Descriptor {
	return a.desc
}

func (a *sitemapAdapter) accept(u string) bool {
	if a.pattern != nil && !a.pattern.MatchString(u) {
		return false
	}
	for _, ex := range a.exclude {
		if strings.Contains(u, ex) {
			return false
		}
	}
	return true
}

// load 下载并解析sitemap，.gz内容自动解压
func (a *sitemapAdapter) load(ctx context.Context, u string) (*xmlquery.Node, error) {
	page, err := a.downloader.Download(ctx, u)
	if err != nil {
		return nil, err
	}
	var r io.Reader = bytes.NewReader(page.Content)
	if bytes.HasPrefix(page.Content, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, entity.NewParseFailure(u, err)
		}
		defer gz.Close()
		r = io.LimitReader(gz, maxSitemapBytes)
	}
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, entity.NewParseFailure(u, err)
	}
	return doc, nil
}

// robotsSitemaps robots.txt中Sitemap:声明的地址
func (a *sitemapAdapter) robotsSitemaps(ctx context.Context, sitemapURL string) ([]string, error) {
	u, err := url.Parse(sitemapURL)
	if err != nil || u.Host == "" {
		return nil, entity.NewParseFailure(sitemapURL, fmt.Errorf("bad sitemap url: %v", err))
	}
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	page, err := a.downloader.Download(ctx, robotsURL)
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromBytes(page.Content)
	if err != nil {
		return nil, entity.NewParseFailure(robotsURL, err)
	}
	return data.Sitemaps, nil
}

func childText(n *xmlquery.Node, expr string) string {
	c := xmlquery.FindOne(n, expr)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.InnerText())
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// 忽略命名空间前缀，按本地名匹配
const (
	xpathSitemap         = "//*[local-name()='sitemap']"
	xpathURL             = "//*[local-name()='url']"
	xpathLoc             = "*[local-name()='loc']"
	xpathLastmod         = "*[local-name()='lastmod']"
	xpathPublicationDate = "*[local-name()='news']/*[local-name()='publication_date']"
)

// sitemapListing 一次ListCandidates调用的状态
type sitemapListing struct {
	a       *sitemapAdapter
	w       entity.CrawlWindow
	yield   func(entity.RawArticleRef, error) bool
	visited map[string]struct{}
	seen    map[string]struct{}
}

func (a *sitemapAdapter) ListCandidates(ctx context.Context, w entity.CrawlWindow) iter.Seq2[entity.RawArticleRef, error] {
	return func(yield func(entity.RawArticleRef, error) bool) {
		l := &sitemapListing{
			a:       a,
			w:       w,
			yield:   yield,
			visited: make(map[string]struct{}),
			seen:    make(map[string]struct{}),
		}
		for _, root := range a.sitemaps {
			stopped, err := l.walk(ctx, root, 0)
			if stopped {
				return
			}
			if err == nil {
				continue
			}
			if isRetryable(err) || ctx.Err() != nil {
				yield(entity.RawArticleRef{}, err)
				return
			}
			a.logger.WithError(err).WithField("sitemap", root).Warn("sitemap unusable, falling back to robots.txt")
			if l.fallback(ctx, root) {
				return
			}
		}
	}
}

// fallback 返回true表示迭代已结束
func (l *sitemapListing) fallback(ctx context.Context, root string) bool {
	alternatives, err := l.a.robotsSitemaps(ctx, root)
	if err != nil {
		if isRetryable(err) || ctx.Err() != nil {
			l.yield(entity.RawArticleRef{}, err)
			return true
		}
		l.a.logger.WithError(err).WithField("sitemap", root).Warn("robots.txt unusable")
		return false
	}
	for _, alt := range alternatives {
		stopped, err := l.walk(ctx, alt, 0)
		if stopped {
			return true
		}
		if err != nil {
			if isRetryable(err) || ctx.Err() != nil {
				l.yield(entity.RawArticleRef{}, err)
				return true
			}
			l.a.logger.WithError(err).WithField("sitemap", alt).Warn("robots.txt sitemap unusable")
		}
	}
	return false
}

// walk 返回stopped=true表示调用方不再需要更多结果
func (l *sitemapListing) walk(ctx context.Context, u string, depth int) (bool, error) {
	if _, ok := l.visited[u]; ok {
		return false, nil
	}
	l.visited[u] = struct{}{}

	doc, err := l.a.load(ctx, u)
	if err != nil {
		return false, err
	}

	if children := xmlquery.Find(doc, xpathSitemap); len(children) > 0 {
		if depth >= maxSitemapDepth {
			return false, nil
		}
		for _, sm := range children {
			loc := childText(sm, xpathLoc)
			if loc == "" {
				continue
			}
			if lm := parseDate(childText(sm, xpathLastmod)); lm != nil && lm.Before(l.w.Start) {
				continue
			}
			stopped, err := l.walk(ctx, loc, depth+1)
			if stopped {
				return true, nil
			}
			if err != nil {
				if isRetryable(err) || ctx.Err() != nil {
					return false, err
				}
				l.a.logger.WithError(err).WithField("sitemap", loc).Warn("child sitemap skipped")
			}
		}
		return false, nil
	}

	entries := xmlquery.Find(doc, xpathURL)
	if len(entries) == 0 && xmlquery.FindOne(doc, "/*[local-name()='urlset']") == nil {
		return false, entity.NewParseFailure(u, fmt.Errorf("neither sitemapindex nor urlset"))
	}
	for _, e := range entries {
		loc := childText(e, xpathLoc)
		if loc == "" || !l.a.accept(loc) {
			continue
		}
		if _, ok := l.seen[loc]; ok {
			continue
		}
		l.seen[loc] = struct{}{}

		hint := parseDate(childText(e, xpathPublicationDate))
		if hint == nil {
			hint = parseDate(childText(e, xpathLastmod))
		}
		ref := entity.RawArticleRef{
			Source:        l.a.desc.Name,
			URL:           loc,
			PublishedHint: hint,
			Labels:        refLabels(l.a.labels, l.a.sectionLabels, loc),
		}
		if !l.yield(ref, nil) {
			return true, nil
		}
	}
	return false, nil
}

func (a *sitemapAdapter) Fetch(ctx context.Context, ref entity.RawArticleRef) (entity.RawArticle, error) {
	return fetchPage(ctx, a.downloader, ref, a.desc.ContentSelector)
}
