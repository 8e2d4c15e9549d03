// Package search 基于posting表的关键词/日期/label检索
// 只读articles、article_labels、postings三张表，每次查询在一个事务内完成，结果为一致的快照
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
	"github.com/andrewyi/newscrawler/src/metrics"
	"github.com/andrewyi/newscrawler/src/tokenizer"
	"github.com/andrewyi/newscrawler/src/util"
)

const (
	InvalidFilter = "invalid_filter"

	SnippetWords = 30

	// 一次label查询的id个数，避免超过sqlite的参数个数上限
	labelBatch = 500
)

// QueryError 查询参数错误，直接返回给调用方，不重试
type QueryError struct {
	Kind    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func invalidFilter(format string, args ...interface{}) error {
	return &QueryError{Kind: InvalidFilter, Message: fmt.Sprintf(format, args...)}
}

// IsQueryError 判断是否为调用方参数错误
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// Query 各条件之间为与关系；Labels、Sources命中任意一个即可
// From、To均为闭区间，没有published_at的文章不会命中日期条件
// Limit为0表示不限制条数
type Query struct {
	Keywords []string
	From     *time.Time
	To       *time.Time
	Labels   []string
	Sources  []string
	Limit    int
	Offset   int
}

func (q *Query) validate() error {
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return invalidFilter("date_from %s is after date_to %s", q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	if q.Limit < 0 {
		return invalidFilter("negative limit %d", q.Limit)
	}
	if q.Offset < 0 {
		return invalidFilter("negative offset %d", q.Offset)
	}
	return nil
}

// PageLimit 面向api/命令行的分页条数：0取默认值，超过上限时截断
// Engine本身不限制条数，Limit为0时返回全部命中
func PageLimit(n int) int {
	switch {
	case n == 0:
		return enum.DefaultSearchLimit
	case n > enum.MaxSearchLimit:
		return enum.MaxSearchLimit
	default:
		return n
	}
}

// Results 一次查询的有序结果
type Results struct {
	articles []entity.Article
	scores   []int64
	stems    []string
}

// All 按排序顺序遍历结果
func (r *Results) All() iter.Seq[entity.Article] {
	return func(yield func(entity.Article) bool) {
		for _, a := range r.articles {
			if !yield(a) {
				return
			}
		}
	}
}

func (r *Results) Len() int {
	return len(r.articles)
}

// Hit 面向展示的检索结果
type Hit struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Labels      []string   `json:"labels"`
	Score       int64      `json:"score"`
	Snippet     string     `json:"snippet"`
}

type Engine struct {
	db      *sqlx.DB
	tok     *tokenizer.Tokenizer
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewEngine db与driverName来自repository，tok必须与建索引时使用的是同一个
func NewEngine(db *sql.DB, driverName string, tok *tokenizer.Tokenizer, logger *logrus.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		db:      sqlx.NewDb(db, driverName),
		tok:     tok,
		logger:  logger,
		metrics: m,
	}
}

type articleRow struct {
	ID           int64         `db:"id"`
	Source       string        `db:"source"`
	CanonicalURL string        `db:"canonical_url"`
	ContentHash  string        `db:"content_hash"`
	Title        string        `db:"title"`
	Body         string        `db:"body"`
	PublishedAt  sql.NullInt64 `db:"published_at"`
	FetchedAt    int64         `db:"fetched_at"`
	Score        int64         `db:"score"`
}

type labelRow struct {
	ArticleID int64  `db:"article_id"`
	Label     string `db:"label"`
}

const articleColumns = "a.id, a.source, a.canonical_url, a.content_hash, a.title, a.body, a.published_at, a.fetched_at"

// build 拼接查询语句，参数中的slice由sqlx.In展开
func (e *Engine) build(q Query, stems []string) (string, []interface{}, error) {
	var (
		sb    strings.Builder
		where []string
		args  []interface{}
	)

	if len(stems) > 0 {
		sb.WriteString("SELECT " + articleColumns + ", m.score AS score FROM articles a " +
			"JOIN (SELECT article_id, SUM(tf) AS score FROM postings WHERE token IN (?) " +
			"GROUP BY article_id HAVING COUNT(DISTINCT token) = ?) m ON m.article_id = a.id")
		args = append(args, stems, len(stems))
	} else {
		sb.WriteString("SELECT " + articleColumns + ", 0 AS score FROM articles a")
	}

	if q.From != nil {
		where = append(where, "a.published_at >= ?")
		args = append(args, q.From.Unix())
	}
	if q.To != nil {
		where = append(where, "a.published_at <= ?")
		args = append(args, q.To.Unix())
	}
	if len(q.Sources) > 0 {
		where = append(where, "a.source IN (?)")
		args = append(args, q.Sources)
	}
	if labels := util.NormalizeLabels(q.Labels); len(labels) > 0 {
		where = append(where, "a.id IN (SELECT article_id FROM article_labels WHERE label IN (?))")
		args = append(args, labels)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	if len(stems) > 0 {
		sb.WriteString(" ORDER BY score DESC, (a.published_at IS NULL) ASC, a.published_at DESC, a.id ASC")
	} else {
		sb.WriteString(" ORDER BY (a.published_at IS NULL) ASC, a.published_at DESC, a.id ASC")
	}
	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	case q.Offset > 0 && e.db.DriverName() == "postgres":
		sb.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	case q.Offset > 0:
		// sqlite的OFFSET必须跟在LIMIT之后，-1表示不限制
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}

	query, args, err := sqlx.In(sb.String(), args...)
	if err != nil {
		return "", nil, err
	}
	return e.db.Rebind(query), args, nil
}

// Query 返回按得分、发布时间、id排序的文章
func (e *Engine) Query(ctx context.Context, q Query) (results *Results, err error) {
	start := time.Now()
	defer func() {
		n := 0
		if results != nil {
			n = results.Len()
		}
		e.metrics.RecordSearch(time.Since(start), n, err)
	}()

	if err := q.validate(); err != nil {
		return nil, err
	}
	stems := e.tok.QueryStems(q.Keywords)
	if len(stems) == 0 && hasKeyword(q.Keywords) {
		// 关键词全部是单个字母或标点时没有可匹配的token，返回空结果而不是只按条件过滤
		return &Results{}, nil
	}

	query, args, err := e.build(q, stems)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	opts := &sql.TxOptions{}
	if e.db.DriverName() == "postgres" {
		// 文章与label两次读取看到同一个快照
		opts.Isolation = sql.LevelRepeatableRead
	}
	tx, err := e.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin search: %w", err)
	}
	defer tx.Rollback()

	var rows []articleRow
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	labels, err := e.labels(ctx, tx, rows)
	if err != nil {
		return nil, err
	}

	results = &Results{
		articles: make([]entity.Article, 0, len(rows)),
		scores:   make([]int64, 0, len(rows)),
		stems:    stems,
	}
	for _, r := range rows {
		a := entity.Article{
			ID:           r.ID,
			Source:       r.Source,
			CanonicalURL: r.CanonicalURL,
			ContentHash:  r.ContentHash,
			Title:        r.Title,
			Body:         r.Body,
			FetchedAt:    time.Unix(r.FetchedAt, 0).UTC(),
			Labels:       labels[r.ID],
		}
		if r.PublishedAt.Valid {
			p := time.Unix(r.PublishedAt.Int64, 0).UTC()
			a.PublishedAt = &p
		}
		if a.Labels == nil {
			a.Labels = []string{}
		}
		results.articles = append(results.articles, a)
		results.scores = append(results.scores, r.Score)
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"keywords": q.Keywords,
			"stems":    stems,
			"results":  len(rows),
		}).Debug("search done")
	}
	return results, nil
}

func hasKeyword(keywords []string) bool {
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}

func (e *Engine) labels(ctx context.Context, tx *sqlx.Tx, rows []articleRow) (map[int64][]string, error) {
	out := make(map[int64][]string, len(rows))
	for start := 0; start < len(rows); start += labelBatch {
		end := min(start+labelBatch, len(rows))
		ids := make([]int64, 0, end-start)
		for _, r := range rows[start:end] {
			ids = append(ids, r.ID)
		}
		query, args, err := sqlx.In("SELECT article_id, label FROM article_labels WHERE article_id IN (?) ORDER BY article_id, label", ids)
		if err != nil {
			return nil, fmt.Errorf("build label query: %w", err)
		}
		var labels []labelRow
		if err := tx.SelectContext(ctx, &labels, tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("search labels: %w", err)
		}
		for _, l := range labels {
			out[l.ArticleID] = append(out[l.ArticleID], l.Label)
		}
	}
	return out, nil
}

// Search 在Query的基础上生成摘要
func (e *Engine) Search(ctx context.Context, q Query) ([]Hit, error) {
	results, err := e.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, results.Len())
	i := 0
	for a := range results.All() {
		hits = append(hits, Hit{
			ID:          a.ID,
			Title:       a.Title,
			Source:      a.Source,
			URL:         a.CanonicalURL,
			PublishedAt: a.PublishedAt,
			Labels:      a.Labels,
			Score:       results.scores[i],
			Snippet:     e.tok.Snippet(a.Body, results.stems, SnippetWords),
		})
		i++
	}
	return hits, nil
}
