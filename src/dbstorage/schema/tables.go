// 数据库表
// articles为唯一的事实来源，postings/article_labels是可以从articles重建的派生数据
// 时间统一存为unix秒，避免不同driver对datetime的处理差异
package schema

type Article struct {
	ID           int64  `xorm:"bigint pk autoincr 'id'"`
	Source       string `xorm:"varchar(64) notnull index 'source'"`
	CanonicalURL string `xorm:"varchar(2048) notnull unique(uk_canonical_url) 'canonical_url'"`
	ContentHash  string `xorm:"varchar(32) notnull index 'content_hash'"`
	Title        string `xorm:"text 'title'"`
	Body         string `xorm:"text 'body'"`
	PublishedAt  *int64 `xorm:"bigint null index 'published_at'"`
	FetchedAt    int64  `xorm:"bigint notnull 'fetched_at'"`
	CreatedAt    int64  `xorm:"created notnull 'created_at'"`
	UpdatedAt    int64  `xorm:"updated notnull 'updated_at'"`
}

func (a *Article) TableName() string {
	return "articles"
}

type ArticleLabel struct {
	ArticleID int64  `xorm:"bigint pk notnull 'article_id'"`
	Label     string `xorm:"varchar(128) pk notnull index 'label'"`
}

func (l *ArticleLabel) TableName() string {
	return "article_labels"
}

// Posting 倒排索引：token -> (article_id, 词频)
type Posting struct {
	Token     string `xorm:"varchar(128) pk notnull 'token'"`
	ArticleID int64  `xorm:"bigint pk notnull index 'article_id'"`
	TF        int    `xorm:"int notnull 'tf'"`
}

func (p *Posting) TableName() string {
	return "postings"
}

// CrawlProgress 每个source的抓取进度
// HighWaterMark为已完整处理的时间点，LastFetchedAt为该source最近一次入库时间
type CrawlProgress struct {
	Source        string `xorm:"varchar(64) pk notnull 'source'"`
	HighWaterMark int64  `xorm:"bigint notnull 'high_water_mark'"`
	LastFetchedAt int64  `xorm:"bigint notnull 'last_fetched_at'"`
	UpdatedAt     int64  `xorm:"updated notnull 'updated_at'"`
}

func (p *CrawlProgress) TableName() string {
	return "crawl_progress"
}

type IndexMeta struct {
	Name  string `xorm:"varchar(64) pk notnull 'name'"`
	Value string `xorm:"varchar(255) notnull 'value'"`
}

func (m *IndexMeta) TableName() string {
	return "index_meta"
}

func All() []interface{} {
	return []interface{}{
		new(Article),
		new(ArticleLabel),
		new(Posting),
		new(CrawlProgress),
		new(IndexMeta),
	}
}
