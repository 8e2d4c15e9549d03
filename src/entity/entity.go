package entity

import (
	"time"

	"github.com/andrewyi/newscrawler/src/enum"
)

// Article 入库的文章，ID由repository在首次插入时分配
type Article struct {
	ID           int64
	Source       string
	CanonicalURL string
	ContentHash  string
	Title        string
	Body         string
	PublishedAt  *time.Time
	FetchedAt    time.Time
	Labels       []string
}

// CrawlWindow 一个source的一段抓取时间范围，左闭右开 [Start, End)
type CrawlWindow struct {
	Source string
	Start  time.Time
	End    time.Time
}

func (w CrawlWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// RawArticleRef adapter listing阶段产出的候选文章
type RawArticleRef struct {
	Source string
	URL    string
	// PublishedHint 从url或sitemap中得到的发布时间，可能为空
	PublishedHint *time.Time
	Labels        []string
}

// RawArticle adapter fetch得到的原始内容
type RawArticle struct {
	Ref             RawArticleRef
	FinalURL        string
	HTML            string
	ContentSelector string
}

// Page 下载器返回的内容
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Content     []byte
}

// CrawlProgress 每个source的抓取进度，用于断点续抓
type CrawlProgress struct {
	Source        string
	HighWaterMark time.Time
	LastFetchedAt time.Time
}

// UpsertResult repository upsert的返回
type UpsertResult struct {
	ID      int64
	Outcome enum.Outcome
}
