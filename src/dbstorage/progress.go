package dbstorage

import (
	"context"
	"time"

	"github.com/andrewyi/newscrawler/src/dbstorage/schema"
	"github.com/andrewyi/newscrawler/src/entity"
)

// Progress 读取source的抓取进度，从未抓取过时返回零值时间
func (s *SimpleDBStorage) Progress(ctx context.Context, source string) (entity.CrawlProgress, error) {
	sess := s.engine.NewSession().Context(ctx)
	defer sess.Close()

	var row schema.CrawlProgress
	has, err := sess.Where("source = ?", source).Get(&row)
	if err != nil {
		return entity.CrawlProgress{}, ioFailure("read progress", err)
	}
	p := entity.CrawlProgress{Source: source}
	if has {
		p.HighWaterMark = fromUnix(row.HighWaterMark)
		p.LastFetchedAt = fromUnix(row.LastFetchedAt)
	}
	return p, nil
}

// AdvanceProgress 两个时间都只会前进，传入更早的值时保留原值
func (s *SimpleDBStorage) AdvanceProgress(ctx context.Context, source string, hwm, fetchedAt time.Time) error {
	if err := s.advanceProgress(ctx, source, toUnix(hwm), toUnix(fetchedAt)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isConflict(err) {
			// 并发首次写入，重新读取后再合并一次
			err = s.advanceProgress(ctx, source, toUnix(hwm), toUnix(fetchedAt))
		}
		if err != nil {
			return ioFailure("advance progress", err)
		}
	}
	return nil
}

func (s *SimpleDBStorage) advanceProgress(ctx context.Context, source string, hwm, fetchedAt int64) error {
	t, err := s.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	var row schema.CrawlProgress
	has, err := t.locked().Where("source = ?", source).Get(&row)
	if err != nil {
		return err
	}
	if !has {
		if _, err := t.sess.Insert(&schema.CrawlProgress{
			Source:        source,
			HighWaterMark: hwm,
			LastFetchedAt: fetchedAt,
		}); err != nil {
			return err
		}
		return t.Commit()
	}

	if hwm <= row.HighWaterMark && fetchedAt <= row.LastFetchedAt {
		return nil
	}
	if _, err := t.sess.Exec(
		"UPDATE crawl_progress SET high_water_mark = ?, last_fetched_at = ?, updated_at = ? WHERE source = ?",
		max(hwm, row.HighWaterMark), max(fetchedAt, row.LastFetchedAt), time.Now().Unix(), source); err != nil {
		return err
	}
	return t.Commit()
}
