package analyzer

import (
	"github.com/andrewyi/newscrawler/src/entity"
)

// Link listing页面中解析出的文章链接
type Link struct {
	URL  string
	Text string
}

// Analyzer 从listing页面中提取链接，结果已转为绝对url并去重，保持页面中出现的顺序
type Analyzer interface {
	Analyze(entity.Page) ([]Link, error)
}
