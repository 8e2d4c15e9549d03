package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/adapter"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
	"github.com/andrewyi/newscrawler/src/filestorage"
	"github.com/andrewyi/newscrawler/src/metrics"
	"github.com/andrewyi/newscrawler/src/normalizer"
)

const defaultStopAfter = 3

var (
	ErrListingFailed  = errors.New("listing failed")
	ErrFetchExhausted = errors.New("fetch retries exhausted")
)

// fatalError 存储失败或取消，需要终止整个run
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

type SimpleController struct {
	adapter adapter.Adapter
	desc    adapter.Descriptor
	repo    Repository
	file    filestorage.FileStorage
	metrics *metrics.Metrics
	logger  *log.Entry
	opts    Options

	state         atomic.Uint32
	lastFetchedAt time.Time
	// 本次run中已经处理过的url，listing重启或者在后续窗口再次出现时不再处理
	seen map[string]struct{}
}

// NewSimpleController 每次run每个source一个实例，不能并发使用
// file和m可以为nil
func NewSimpleController(a adapter.Adapter, repo Repository, file filestorage.FileStorage, m *metrics.Metrics,
	logger *log.Entry, opts Options, lastFetchedAt time.Time) Controller {

	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StopAfter <= 0 {
		opts.StopAfter = defaultStopAfter
	}
	desc := a.Descriptor()
	return &SimpleController{
		adapter:       a,
		desc:          desc,
		repo:          repo,
		file:          file,
		metrics:       m,
		logger:        logger.WithField("source", desc.Name),
		opts:          opts,
		lastFetchedAt: lastFetchedAt,
		seen:          make(map[string]struct{}),
	}
}

func (c *SimpleController) State() enum.CrawlState {
	return enum.CrawlState(c.state.Load())
}

func (c *SimpleController) setState(s enum.CrawlState) {
	c.state.Store(uint32(s))
}

func (c *SimpleController) LastFetchedAt() time.Time {
	return c.lastFetchedAt
}

func (c *SimpleController) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.opts.InitialBackoff > 0 {
		b.InitialInterval = c.opts.InitialBackoff
	}
	if c.opts.MaxBackoff > 0 {
		b.MaxInterval = c.opts.MaxBackoff
	}
	b.MaxElapsedTime = 0 // 只按次数限制
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts-1)), ctx)
}

func (c *SimpleController) notify(what, u string) backoff.Notify {
	return func(err error, d time.Duration) {
		c.setState(enum.StateBackoff)
		c.logger.WithError(err).WithField("url", u).WithField("wait", d).Warnf("%s failed, backing off", what)
	}
}

func retryable(err error) bool {
	var fe *entity.FetchError
	return errors.As(err, &fe) && fe.Retryable
}

func fetchErrorKind(err error) string {
	var fe *entity.FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "other"
}

func (c *SimpleController) RunWindow(ctx context.Context, w entity.CrawlWindow) (WindowResult, error) {
	var res WindowResult
	logger := c.logger.WithField("window_start", w.Start).WithField("window_end", w.End)
	defer c.setState(enum.StateIdle)

	// 每一轮完整消费一次listing，可重试的listing错误重新开始
	op := func() error {
		c.setState(enum.StateListing)
		err := c.consume(ctx, w, &res)
		var fatal *fatalError
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(&fatalError{err: ctx.Err()})
		case errors.As(err, &fatal), errors.Is(err, ErrFetchExhausted):
			return backoff.Permanent(err)
		case retryable(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	err := backoff.RetryNotify(op, c.newBackOff(ctx), c.notify("listing", w.Source))

	var fatal *fatalError
	switch {
	case err == nil:
		c.metrics.RecordWindow(c.desc.Name, true)
		logger.WithField("fetched", res.Fetched).WithField("inserted", res.Inserted).
			WithField("updated", res.Updated).WithField("failed", res.Failed).Info("window done")
		return res, nil
	case errors.As(err, &fatal):
		return res, fatal.err
	case ctx.Err() != nil:
		return res, ctx.Err()
	}

	if !errors.Is(err, ErrFetchExhausted) {
		err = fmt.Errorf("%w: %w", ErrListingFailed, err)
	}
	res.WindowFailed = true
	res.Err = err
	c.metrics.RecordWindow(c.desc.Name, false)
	logger.WithError(err).Warn("window failed")
	return res, nil
}

// inWindow 根据发布时间提示判断是否需要处理，以及是否已经越过listing顺序方向上的窗口边界
func (c *SimpleController) inWindow(w entity.CrawlWindow, ref entity.RawArticleRef) (process, beyond bool) {
	if ref.PublishedHint == nil {
		return true, false
	}
	h := *ref.PublishedHint
	switch c.desc.Order {
	case enum.OrderReverseChronological:
		if h.Before(w.Start) {
			return false, true
		}
	case enum.OrderChronological:
		if !h.Before(w.End) {
			return false, true
		}
	}
	return w.Contains(h), false
}

// consume 返回listing错误（原样）、fetch重试耗尽或者fatalError
func (c *SimpleController) consume(ctx context.Context, w entity.CrawlWindow, res *WindowResult) error {
	streak := 0
	for ref, err := range c.adapter.ListCandidates(ctx, w) {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return &fatalError{err: ctx.Err()}
		}
		process, beyond := c.inWindow(w, ref)
		if !beyond {
			streak = 0
		} else if streak++; streak >= c.opts.StopAfter {
			c.logger.WithField("url", ref.URL).Debug("listing passed window, stop early")
			return nil
		}
		if !process {
			continue
		}
		if _, ok := c.seen[ref.URL]; ok {
			continue
		}
		if err := c.process(ctx, ref, res); err != nil {
			return err
		}
		c.seen[ref.URL] = struct{}{}
		c.setState(enum.StateListing)
	}
	return ctx.Err()
}

func (c *SimpleController) fetch(ctx context.Context, ref entity.RawArticleRef) (entity.RawArticle, error) {
	var raw entity.RawArticle
	op := func() error {
		c.setState(enum.StateFetching)
		start := time.Now()
		var err error
		raw, err = c.adapter.Fetch(ctx, ref)
		if err != nil {
			c.metrics.RecordFetch(c.desc.Name, time.Since(start), fetchErrorKind(err))
			if !retryable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		c.metrics.RecordFetch(c.desc.Name, time.Since(start), "")
		return nil
	}
	err := backoff.RetryNotify(op, c.newBackOff(ctx), c.notify("fetch", ref.URL))
	return raw, err
}

func (c *SimpleController) fetchedAt() time.Time {
	now := c.opts.Now().UTC()
	if now.Before(c.lastFetchedAt) {
		now = c.lastFetchedAt
	}
	c.lastFetchedAt = now
	return now
}

func (c *SimpleController) process(ctx context.Context, ref entity.RawArticleRef, res *WindowResult) error {
	logger := c.logger.WithField("url", ref.URL)

	raw, err := c.fetch(ctx, ref)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return &fatalError{err: ctx.Err()}
		case retryable(err):
			res.Failed++
			c.metrics.RecordArticle(c.desc.Name, "failed")
			return fmt.Errorf("%w: %w", ErrFetchExhausted, err)
		default:
			// 不可重试的错误只影响当前文章
			res.Failed++
			c.metrics.RecordArticle(c.desc.Name, "failed")
			logger.WithError(err).Warn("fail to fetch article")
			return nil
		}
	}
	res.Fetched++

	if c.file != nil {
		if _, err := c.file.Store(c.desc.Name, raw); err != nil {
			logger.WithError(err).Error("fail to store raw page")
		}
	}

	c.setState(enum.StatePersisting)
	article, err := normalizer.Normalize(raw)
	if err != nil {
		res.Failed++
		c.metrics.RecordArticle(c.desc.Name, "failed")
		logger.WithError(err).Warn("fail to normalize article")
		return nil
	}
	article.Source = c.desc.Name
	article.FetchedAt = c.fetchedAt()

	result, err := c.repo.Upsert(ctx, article)
	if err != nil {
		logger.WithError(err).Error("fail to persist article")
		return &fatalError{err: err}
	}
	switch result.Outcome {
	case enum.OutcomeInserted:
		res.Inserted++
	case enum.OutcomeUpdated:
		res.Updated++
	default:
		res.Skipped++
	}
	c.metrics.RecordArticle(c.desc.Name, result.Outcome.String())
	logger.WithField("id", result.ID).WithField("outcome", result.Outcome).Debug("article persisted")
	return nil
}
