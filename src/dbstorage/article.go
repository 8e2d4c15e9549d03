package dbstorage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/dbstorage/schema"
	"github.com/andrewyi/newscrawler/src/dedup"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
	"github.com/andrewyi/newscrawler/src/util"
)

// 批量插入postings/labels时每条语句的最大行数
const insertChunkSize = 200

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func toEntity(row *schema.Article, labels []string) *entity.Article {
	a := &entity.Article{
		ID:           row.ID,
		Source:       row.Source,
		CanonicalURL: row.CanonicalURL,
		ContentHash:  row.ContentHash,
		Title:        row.Title,
		Body:         row.Body,
		FetchedAt:    fromUnix(row.FetchedAt),
		Labels:       labels,
	}
	if row.PublishedAt != nil {
		p := time.Unix(*row.PublishedAt, 0).UTC()
		a.PublishedAt = &p
	}
	return a
}

func publishedUnix(a entity.Article) interface{} {
	if a.PublishedAt == nil {
		return nil
	}
	return a.PublishedAt.Unix()
}

// ByCanonicalURL 实现dedup.Lookup
func (t *Transaction) ByCanonicalURL(_ context.Context, canonicalURL string) (*entity.Article, error) {
	var row schema.Article
	has, err := t.locked().Where("canonical_url = ?", canonicalURL).Get(&row)
	if err != nil || !has {
		return nil, err
	}
	return toEntity(&row, nil), nil
}

// ByContentHash 实现dedup.Lookup，多条命中时取最早入库的一条
func (t *Transaction) ByContentHash(_ context.Context, contentHash string) (*entity.Article, error) {
	var row schema.Article
	has, err := t.locked().Where("content_hash = ?", contentHash).Asc("id").Get(&row)
	if err != nil || !has {
		return nil, err
	}
	return toEntity(&row, nil), nil
}

func (t *Transaction) InsertArticle(a entity.Article) (int64, error) {
	var published *int64
	if a.PublishedAt != nil {
		p := a.PublishedAt.Unix()
		published = &p
	}
	row := &schema.Article{
		Source:       a.Source,
		CanonicalURL: a.CanonicalURL,
		ContentHash:  a.ContentHash,
		Title:        a.Title,
		Body:         a.Body,
		PublishedAt:  published,
		FetchedAt:    toUnix(a.FetchedAt),
	}
	if _, err := t.sess.Insert(row); err != nil {
		return 0, err
	}
	return row.ID, nil
}

// UpdateArticle 覆盖内容字段，id、canonical_url与source保持不变
func (t *Transaction) UpdateArticle(id int64, a entity.Article) error {
	_, err := t.sess.Exec(
		"UPDATE articles SET content_hash = ?, title = ?, body = ?, published_at = ?, fetched_at = ?, updated_at = ? WHERE id = ?",
		a.ContentHash, a.Title, a.Body, publishedUnix(a), toUnix(a.FetchedAt), time.Now().Unix(), id)
	return err
}

func (t *Transaction) ReplaceLabels(id int64, labels []string) error {
	if _, err := t.sess.Exec("DELETE FROM article_labels WHERE article_id = ?", id); err != nil {
		return err
	}
	labels = util.NormalizeLabels(labels)
	rows := make([]schema.ArticleLabel, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, schema.ArticleLabel{ArticleID: id, Label: l})
	}
	for start := 0; start < len(rows); start += insertChunkSize {
		end := min(start+insertChunkSize, len(rows))
		chunk := rows[start:end]
		if _, err := t.sess.Table(new(schema.ArticleLabel)).Insert(&chunk); err != nil {
			return err
		}
	}
	return nil
}

// Labels 按字典序返回
func (t *Transaction) Labels(id int64) ([]string, error) {
	var rows []schema.ArticleLabel
	if err := t.sess.Where("article_id = ?", id).Asc("label").Find(&rows); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Label)
	}
	return out, nil
}

// Upsert 写入一篇规范化后的文章，去重判断和索引更新在同一个事务内完成
// 返回Skipped时ID为导致跳过的已有文章
func (s *SimpleDBStorage) Upsert(ctx context.Context, a entity.Article) (entity.UpsertResult, error) {
	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	unlock := lockKeys(s.locks, "url:"+a.CanonicalURL, "hash:"+a.ContentHash)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= enum.MaxConflictRetry; attempt++ {
		res, err := s.upsertOnce(ctx, a)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entity.UpsertResult{}, ctxErr
		}
		if !isConflict(err) {
			return entity.UpsertResult{}, ioFailure("upsert", err)
		}
		lastErr = err
		if s.logger != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"url":     a.CanonicalURL,
				"attempt": attempt,
			}).Warn("upsert conflict, retrying")
		}
	}
	return entity.UpsertResult{}, ioFailure("upsert", lastErr)
}

func (s *SimpleDBStorage) upsertOnce(ctx context.Context, a entity.Article) (entity.UpsertResult, error) {
	t, err := s.NewTransaction(ctx)
	if err != nil {
		return entity.UpsertResult{}, err
	}
	defer t.Close()

	decision, existing, err := dedup.Resolve(ctx, t, a)
	if err != nil {
		return entity.UpsertResult{}, err
	}

	var res entity.UpsertResult
	switch decision {
	case enum.DecisionSkip:
		res = entity.UpsertResult{Outcome: enum.OutcomeSkipped}
		if existing != nil {
			res.ID = existing.ID
		}
		// 只读，Close时回滚
		return res, nil
	case enum.DecisionUpdateExisting:
		if err := t.UpdateArticle(existing.ID, a); err != nil {
			return entity.UpsertResult{}, err
		}
		res = entity.UpsertResult{ID: existing.ID, Outcome: enum.OutcomeUpdated}
	default:
		id, err := t.InsertArticle(a)
		if err != nil {
			return entity.UpsertResult{}, err
		}
		res = entity.UpsertResult{ID: id, Outcome: enum.OutcomeInserted}
	}

	if err := t.ReplaceLabels(res.ID, a.Labels); err != nil {
		return entity.UpsertResult{}, err
	}
	if err := t.IndexEntries(res.ID, s.tok.TermFrequencies(a.Title, a.Body)); err != nil {
		return entity.UpsertResult{}, err
	}
	if err := t.Commit(); err != nil {
		return entity.UpsertResult{}, err
	}
	return res, nil
}

// Get 按id读取文章及其labels，不存在时返回ErrNotFound
func (s *SimpleDBStorage) Get(ctx context.Context, id int64) (*entity.Article, error) {
	t, err := s.NewTransaction(ctx)
	if err != nil {
		return nil, ioFailure("get", err)
	}
	defer t.Close()

	var row schema.Article
	has, err := t.sess.ID(id).Get(&row)
	if err != nil {
		return nil, ioFailure("get", err)
	}
	if !has {
		return nil, ErrNotFound
	}
	labels, err := t.Labels(id)
	if err != nil {
		return nil, ioFailure("get", err)
	}
	return toEntity(&row, labels), nil
}

// GetByCanonicalURL 主要用于排查与测试
func (s *SimpleDBStorage) GetByCanonicalURL(ctx context.Context, canonicalURL string) (*entity.Article, error) {
	t, err := s.NewTransaction(ctx)
	if err != nil {
		return nil, ioFailure("get", err)
	}
	defer t.Close()

	a, err := t.ByCanonicalURL(ctx, canonicalURL)
	if err != nil {
		return nil, ioFailure("get", err)
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if a.Labels, err = t.Labels(a.ID); err != nil {
		return nil, ioFailure("get", err)
	}
	return a, nil
}

func (s *SimpleDBStorage) Count(ctx context.Context) (int64, error) {
	sess := s.engine.NewSession().Context(ctx)
	defer sess.Close()

	n, err := sess.Count(new(schema.Article))
	if err != nil {
		return 0, ioFailure("count", err)
	}
	return n, nil
}

// sortedTokens 保证postings的写入顺序稳定
func sortedTokens(tf map[string]int) []string {
	tokens := make([]string, 0, len(tf))
	for tok := range tf {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// IsNotFound 便于调用方判断
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
