// 提取a标签中href属性的值，并补全域名
// 可选的pattern用于过滤出文章链接
package analyzer

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/util"
)

type SimpleAnalyzer struct {
	pattern *regexp.Regexp
}

// pattern为nil时返回所有链接
func NewSimpleAnalyzer(pattern *regexp.Regexp) Analyzer {
	return &SimpleAnalyzer{
		pattern: pattern,
	}
}

func (a *SimpleAnalyzer) Analyze(page entity.Page) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Content))
	if err != nil {
		return nil, entity.NewParseFailure(page.URL, err)
	}

	base := page.FinalURL
	if base == "" {
		base = page.URL
	}

	var (
		links []Link
		seen  = make(map[string]struct{})
	)
	doc.Find("a[href]").Each(func(index int, element *goquery.Selection) {
		href, _ := element.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		abs, err := util.ResolveURL(base, href)
		if err != nil {
			return
		}
		if i := strings.IndexByte(abs, '#'); i >= 0 {
			abs = abs[:i]
		}
		if a.pattern != nil && !a.pattern.MatchString(abs) {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, Link{URL: abs, Text: strings.Join(strings.Fields(element.Text()), " ")})
	})
	return links, nil
}
