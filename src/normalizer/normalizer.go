// Package normalizer 将adapter抓到的原始html转为统一的Article
// 正文优先使用adapter提供的content selector，找不到时依次尝试通用的正文容器
package normalizer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/cespare/xxhash/v2"

	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
	"github.com/andrewyi/newscrawler/src/util"
)

var ErrURLTooLong = errors.New("canonical url too long")

// NormalizationError 缺少必需字段（标题或正文）时返回，这类文章直接丢弃
type NormalizationError struct {
	URL   string
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %s: %s: %v", e.URL, e.Field, e.Err)
	}
	return fmt.Sprintf("normalize %s: missing %s", e.URL, e.Field)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

var (
	fallbackRoots = []string{"article", `[itemprop="articleBody"]`, "main"}

	boilerplate = strings.Join([]string{
		"script", "style", "noscript", "template", "nav", "header", "footer", "aside", "form",
		"iframe", "svg", "button", "figure figcaption",
		`[class*="advert"]`, `[id*="advert"]`, `[class*="banner"]`, `[class*="share"]`,
		`[class*="related"]`, `[class*="newsletter"]`, `[class*="cookie"]`,
		`[class~="ad"]`, `[class~="ads"]`, `[id^="ad-"]`, `[class^="ad-"]`,
	}, ", ")

	paragraphs = "p, li, h2, h3, blockquote"
)

// Normalize 纯函数：不访问网络，不依赖外部状态
func Normalize(raw entity.RawArticle) (entity.Article, error) {
	pageURL := raw.FinalURL
	if pageURL == "" {
		pageURL = raw.Ref.URL
	}

	// downloader已按charset转码，这里兜底替换残留的非法utf-8字节，数据库拒绝写入非法编码
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(strings.ToValidUTF8(raw.HTML, "\uFFFD")))
	if err != nil {
		return entity.Article{}, &NormalizationError{URL: pageURL, Field: "html", Err: err}
	}

	canonical, err := canonicalURL(doc, pageURL)
	if err != nil {
		return entity.Article{}, &NormalizationError{URL: pageURL, Field: "url", Err: err}
	}
	if len(canonical) > enum.MaxURLBytes {
		return entity.Article{}, &NormalizationError{URL: pageURL, Field: "url", Err: ErrURLTooLong}
	}

	title := extractTitle(doc)
	if title == "" {
		return entity.Article{}, &NormalizationError{URL: canonical, Field: "title"}
	}

	published := extractPublished(doc)
	if published == nil {
		published = raw.Ref.PublishedHint
	}
	if published != nil {
		utc := published.UTC()
		published = &utc
	}

	labels := append([]string{}, raw.Ref.Labels...)
	doc.Find(`meta[property="article:section"], meta[property="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			labels = append(labels, v)
		}
	})

	// 元数据读取完成后再删除页面框架部分
	doc.Find(boilerplate).Remove()
	body := extractBody(doc, raw.ContentSelector)
	if body == "" {
		return entity.Article{}, &NormalizationError{URL: canonical, Field: "body"}
	}

	return entity.Article{
		Source:       raw.Ref.Source,
		CanonicalURL: canonical,
		ContentHash:  ContentHash(body),
		Title:        title,
		Body:         body,
		PublishedAt:  published,
		Labels:       util.NormalizeLabels(labels),
	}, nil
}

// ContentHash 正文做大小写折叠和空白合并后的xxhash，用于识别换了url重新发布的同一篇文章
func ContentHash(body string) string {
	normalized := strings.ToLower(collapse(body))
	return strconv.FormatUint(xxhash.Sum64String(normalized), 16)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// 只有在同一个host下时才信任rel=canonical，防止聚合页把文章指向别的站点
func canonicalURL(doc *goquery.Document, pageURL string) (string, error) {
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		if abs, err := util.ResolveURL(pageURL, href); err == nil {
			pageHost, _ := util.GetDomain(pageURL)
			canonicalHost, _ := util.GetDomain(abs)
			if pageHost != "" && pageHost == canonicalHost {
				if c, err := util.CanonicalURL(abs); err == nil {
					return c, nil
				}
			}
		}
	}
	return util.CanonicalURL(pageURL)
}

func extractTitle(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if v = collapse(v); v != "" {
			return v
		}
	}
	if v := collapse(doc.Find("h1").First().Text()); v != "" {
		return v
	}
	return collapse(doc.Find("title").First().Text())
}

func extractPublished(doc *goquery.Document) *time.Time {
	var candidates []string
	if v, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find(`[itemprop="datePublished"]`).First().Attr("content"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if t, err := dateparse.ParseIn(c, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

func extractBody(doc *goquery.Document, contentSelector string) string {
	var root *goquery.Selection
	var selectors []string
	for _, s := range strings.Split(contentSelector, ",") {
		if s = strings.TrimSpace(s); s != "" {
			selectors = append(selectors, s)
		}
	}
	selectors = append(selectors, fallbackRoots...)
	for _, sel := range selectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			root = found
			break
		}
	}
	if root == nil {
		root = doc.Find("body").First()
	}

	var parts []string
	root.Find(paragraphs).Each(func(_ int, s *goquery.Selection) {
		// 嵌套的li/p只取最内层，避免重复
		if s.Find(paragraphs).Length() > 0 {
			return
		}
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapse(root.Text())
	}
	return strings.Join(parts, "\n")
}
