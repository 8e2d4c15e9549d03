package dbstorage

import (
	"context"

	"github.com/andrewyi/newscrawler/src/dbstorage/schema"
)

const (
	metaTokenizerLanguage = "tokenizer_language"
	rebuildBatchSize      = 500
)

// IndexEntries 用新的词频替换一篇文章的全部posting
func (t *Transaction) IndexEntries(id int64, tf map[string]int) error {
	if _, err := t.sess.Exec("DELETE FROM postings WHERE article_id = ?", id); err != nil {
		return err
	}
	return t.insertPostings(id, tf)
}

func (t *Transaction) insertPostings(id int64, tf map[string]int) error {
	tokens := sortedTokens(tf)
	rows := make([]schema.Posting, 0, len(tokens))
	for _, tok := range tokens {
		rows = append(rows, schema.Posting{Token: tok, ArticleID: id, TF: tf[tok]})
	}
	for start := 0; start < len(rows); start += insertChunkSize {
		end := min(start+insertChunkSize, len(rows))
		chunk := rows[start:end]
		if _, err := t.sess.Table(new(schema.Posting)).Insert(&chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) getMeta(name string) (string, bool, error) {
	var m schema.IndexMeta
	has, err := t.sess.Where("name = ?", name).Get(&m)
	if err != nil {
		return "", false, err
	}
	return m.Value, has, nil
}

func (t *Transaction) setMeta(name, value string) error {
	var m schema.IndexMeta
	has, err := t.sess.Where("name = ?", name).Get(&m)
	if err != nil {
		return err
	}
	if has {
		_, err = t.sess.Exec("UPDATE index_meta SET value = ? WHERE name = ?", value, name)
		return err
	}
	_, err = t.sess.Insert(&schema.IndexMeta{Name: name, Value: value})
	return err
}

// RebuildIndex 丢弃全部posting并按当前分词器从articles重新计算，在一个事务内完成
// 期间upsert被阻塞；返回重建的文章数
func (s *SimpleDBStorage) RebuildIndex(ctx context.Context) (int64, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	n, err := s.rebuild(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, ioFailure("rebuild index", err)
	}
	return n, nil
}

func (s *SimpleDBStorage) rebuild(ctx context.Context) (int64, error) {
	t, err := s.NewTransaction(ctx)
	if err != nil {
		return 0, err
	}
	defer t.Close()

	if _, err := t.sess.Exec("DELETE FROM postings"); err != nil {
		return 0, err
	}

	var (
		lastID int64
		total  int64
	)
	for {
		var rows []schema.Article
		if err := t.sess.Where("id > ?", lastID).Asc("id").Limit(rebuildBatchSize).Find(&rows); err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			break
		}
		for i := range rows {
			if err := t.insertPostings(rows[i].ID, s.tok.TermFrequencies(rows[i].Title, rows[i].Body)); err != nil {
				return 0, err
			}
		}
		lastID = rows[len(rows)-1].ID
		total += int64(len(rows))
	}

	if err := t.setMeta(metaTokenizerLanguage, s.tok.Language()); err != nil {
		return 0, err
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// ensureIndexLanguage 索引由其他语言的分词器生成时重建
func (s *SimpleDBStorage) ensureIndexLanguage(ctx context.Context) error {
	t, err := s.NewTransaction(ctx)
	if err != nil {
		return ioFailure("open", err)
	}
	stored, has, err := t.getMeta(metaTokenizerLanguage)
	if err != nil {
		t.Close()
		return ioFailure("open", err)
	}
	current := s.tok.Language()
	if has && stored == current {
		t.Close()
		return nil
	}

	count, err := t.sess.Count(new(schema.Article))
	if err != nil {
		t.Close()
		return ioFailure("open", err)
	}
	if count == 0 {
		if err := t.setMeta(metaTokenizerLanguage, current); err != nil {
			t.Close()
			return ioFailure("open", err)
		}
		err := t.Commit()
		t.Close()
		if err != nil {
			return ioFailure("open", err)
		}
		return nil
	}
	t.Close()

	if s.logger != nil {
		s.logger.WithField("stored", stored).WithField("current", current).Warn("index language changed, rebuilding index")
	}
	_, err = s.RebuildIndex(ctx)
	return err
}
