package adapter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/analyzer"
	"github.com/andrewyi/newscrawler/src/config"
	"github.com/andrewyi/newscrawler/src/downloader"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
	"github.com/andrewyi/newscrawler/src/util"
)

const (
	KindArchive = "archive"

	PaginationPage    = "page"
	PaginationMonthly = "monthly"
	PaginationDaily   = "daily"

	defaultMaxPages          = 50
	defaultMaxPagesPerPeriod = 20
)

// ErrListingTruncated 翻到max_pages时最后一页仍有窗口内的文章，窗口没有被完整覆盖
var ErrListingTruncated = errors.New("listing truncated at max pages")

func init() {
	Register(KindArchive, NewArchive)
}

// archiveAdapter 通过存档列表页发现文章
//   - page: 第1..N页，新文章在前
//   - monthly/daily: 每月/每天一个列表页（可再分页），按月/日依次列出
//     列表页内的顺序不可信（新文章在前、侧栏推荐等），只保证落在窗口内，声明为无序
//
// 列表url模板支持 {PAGE} {YYYY} {MM} {DD}（两位补零）以及 {M} {D}（不补零）
// 文章url正则的前三个分组为年/月/日，或者唯一的分组为YYYYMMDD
type archiveAdapter struct {
	desc          Descriptor
	listingURL    string
	pattern       *regexp.Regexp
	maxPages      int
	paged         bool
	sectionLabels bool
	labels        []string

	downloader downloader.Downloader
	analyzer   analyzer.Analyzer
	logger     *logrus.Logger
}

func NewArchive(cfg config.Source, d downloader.Downloader, logger *logrus.Logger) (Adapter, error) {
	if cfg.ListingURL == "" {
		return nil, fmt.Errorf("%w: source %s: listing_url is required", ErrBadConfig, cfg.Name)
	}
	if cfg.ArticlePattern == "" {
		return nil, fmt.Errorf("%w: source %s: article_pattern is required", ErrBadConfig, cfg.Name)
	}
	pattern, err := regexp.Compile(cfg.ArticlePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %v", ErrBadConfig, cfg.Name, err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	pagination := cfg.Pagination
	if pagination == "" {
		pagination = PaginationPage
	}
	var order enum.Order
	switch pagination {
	case PaginationPage:
		order = enum.OrderReverseChronological
	case PaginationMonthly, PaginationDaily:
		order = enum.OrderUnordered
	default:
		return nil, fmt.Errorf("%w: source %s: unknown pagination %q", ErrBadConfig, cfg.Name, pagination)
	}

	maxPages := cfg.MaxPages
	switch {
	case !strings.Contains(cfg.ListingURL, "{PAGE}"):
		maxPages = 1
	case maxPages > 0:
	case pagination == PaginationPage:
		maxPages = defaultMaxPages
	default:
		maxPages = defaultMaxPagesPerPeriod
	}

	return &archiveAdapter{
		desc: Descriptor{
			Name:            cfg.Name,
			Kind:            KindArchive,
			BaseURL:         cfg.BaseURL,
			ContentSelector: cfg.ContentSelector,
			Pagination:      pagination,
			Order:           order,
		},
		listingURL:    cfg.ListingURL,
		pattern:       pattern,
		maxPages:      maxPages,
		paged:         strings.Contains(cfg.ListingURL, "{PAGE}"),
		sectionLabels: cfg.SectionLabels,
		labels:        cfg.Labels,
		downloader:    d,
		analyzer:      analyzer.NewSimpleAnalyzer(pattern),
		logger:        logger,
	}, nil
}

func (a *archiveAdapter) Descriptor() Descriptor {
	return a.desc
}

func expandListingURL(tmpl string, page int, day time.Time) string {
	return strings.NewReplacer(
		"{PAGE}", strconv.Itoa(page),
		"{YYYY}", day.Format("2006"),
		"{MM}", day.Format("01"),
		"{DD}", day.Format("02"),
		"{M}", strconv.Itoa(int(day.Month())),
		"{D}", strconv.Itoa(day.Day()),
	).Replace(tmpl)
}

// dateFromURL 从文章url中解析发布日期，解析不出时返回nil
func dateFromURL(pattern *regexp.Regexp, u string) *time.Time {
	m := pattern.FindStringSubmatch(u)
	var t time.Time
	switch {
	case len(m) >= 4:
		y, err1 := strconv.Atoi(m[1])
		mo, err2 := strconv.Atoi(m[2])
		d, err3 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil || err3 != nil || mo < 1 || mo > 12 || d < 1 || d > 31 {
			return nil
		}
		t = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		if t.Day() != d {
			return nil
		}
	case len(m) == 2 && len(m[1]) == 8:
		var err error
		if t, err = time.Parse("20060102", m[1]); err != nil {
			return nil
		}
	default:
		return nil
	}
	return &t
}

func refLabels(fixed []string, section bool, u string) []string {
	labels := append([]string(nil), fixed...)
	if section {
		if s := util.SectionOf(u); s != "" {
			labels = append(labels, s)
		}
	}
	return util.NormalizeLabels(labels)
}

func (a *archiveAdapter) ref(u string, fallback *time.Time) entity.RawArticleRef {
	hint := dateFromURL(a.pattern, u)
	if hint == nil {
		hint = fallback
	}
	return entity.RawArticleRef{
		Source:        a.desc.Name,
		URL:           u,
		PublishedHint: hint,
		Labels:        refLabels(a.labels, a.sectionLabels, u),
	}
}

func (a *archiveAdapter) listPage(ctx context.Context, u string) ([]analyzer.Link, error) {
	a.logger.WithField("source", a.desc.Name).WithField("url", u).Debug("listing page")
	page, err := a.downloader.Download(ctx, u)
	if err != nil {
		return nil, err
	}
	return a.analyzer.Analyze(page)
}

func (a *archiveAdapter) ListCandidates(ctx context.Context, w entity.CrawlWindow) iter.Seq2[entity.RawArticleRef, error] {
	return func(yield func(entity.RawArticleRef, error) bool) {
		if a.desc.Pagination == PaginationPage {
			a.listPaged(ctx, w, yield)
			return
		}
		a.listPeriodic(ctx, w, yield)
	}
}

func (a *archiveAdapter) truncated(w entity.CrawlWindow, period time.Time) error {
	a.logger.WithField("source", a.desc.Name).WithField("window_start", w.Start).
		WithField("period", period).WithField("max_pages", a.maxPages).Warn("listing reached max pages")
	return fmt.Errorf("%w: source %s, %d pages", ErrListingTruncated, a.desc.Name, a.maxPages)
}

func (a *archiveAdapter) listPaged(ctx context.Context, w entity.CrawlWindow, yield func(entity.RawArticleRef, error) bool) {
	seen := make(map[string]struct{})
	for page := 1; page <= a.maxPages; page++ {
		links, err := a.listPage(ctx, expandListingURL(a.listingURL, page, w.Start))
		if err != nil {
			if page > 1 && isNotFound(err) {
				return
			}
			yield(entity.RawArticleRef{}, err)
			return
		}

		fresh, recent := 0, false
		for _, l := range links {
			if _, ok := seen[l.URL]; ok {
				continue
			}
			seen[l.URL] = struct{}{}
			fresh++
			ref := a.ref(l.URL, nil)
			if ref.PublishedHint == nil || !ref.PublishedHint.Before(w.Start) {
				recent = true
			}
			if !yield(ref, nil) {
				return
			}
		}
		if fresh == 0 || (page > 1 && !recent) {
			return
		}
		if page == a.maxPages && a.paged {
			yield(entity.RawArticleRef{}, a.truncated(w, w.Start))
			return
		}
	}
}

// periods 与窗口重叠的每个月/每天的起点
func periods(pagination string, w entity.CrawlWindow) []time.Time {
	start := w.Start.UTC()
	var (
		cur  time.Time
		next func(time.Time) time.Time
	)
	if pagination == PaginationMonthly {
		cur = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	} else {
		cur = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	}
	var out []time.Time
	for ; cur.Before(w.End); cur = next(cur) {
		out = append(out, cur)
	}
	return out
}

// listPeriodic 逐个月/日收集列表页，丢弃窗口外的链接后按日期排序输出
func (a *archiveAdapter) listPeriodic(ctx context.Context, w entity.CrawlWindow, yield func(entity.RawArticleRef, error) bool) {
	// 日期提示只精确到天
	from := w.Start.UTC().Truncate(24 * time.Hour)
	for _, day := range periods(a.desc.Pagination, w) {
		var fallback *time.Time
		if a.desc.Pagination == PaginationDaily {
			d := day
			fallback = &d
		}

		var (
			refs      []entity.RawArticleRef
			truncated error
		)
		seen := make(map[string]struct{})
		for page := 1; page <= a.maxPages; page++ {
			links, err := a.listPage(ctx, expandListingURL(a.listingURL, page, day))
			if err != nil {
				if isNotFound(err) {
					// 该月/日没有存档页
					break
				}
				yield(entity.RawArticleRef{}, err)
				return
			}
			fresh := 0
			for _, l := range links {
				if _, ok := seen[l.URL]; ok {
					continue
				}
				seen[l.URL] = struct{}{}
				fresh++
				ref := a.ref(l.URL, fallback)
				if h := ref.PublishedHint; h != nil && (h.Before(from) || !h.Before(w.End)) {
					continue
				}
				refs = append(refs, ref)
			}
			if fresh == 0 {
				break
			}
			if page == a.maxPages && a.paged {
				truncated = a.truncated(w, day)
			}
		}

		sort.SliceStable(refs, func(i, j int) bool {
			return hintOr(refs[i], day).Before(hintOr(refs[j], day))
		})
		for _, ref := range refs {
			if !yield(ref, nil) {
				return
			}
		}
		if truncated != nil {
			yield(entity.RawArticleRef{}, truncated)
			return
		}
	}
}

func hintOr(ref entity.RawArticleRef, fallback time.Time) time.Time {
	if ref.PublishedHint == nil {
		return fallback
	}
	return *ref.PublishedHint
}

func (a *archiveAdapter) Fetch(ctx context.Context, ref entity.RawArticleRef) (entity.RawArticle, error) {
	return fetchPage(ctx, a.downloader, ref, a.desc.ContentSelector)
}
