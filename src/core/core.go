// Package core 一次抓取run的编排：为每个source计算抓取窗口，
// 各source并发执行，按窗口推进断点
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/adapter"
	"github.com/andrewyi/newscrawler/src/controller"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/filestorage"
	"github.com/andrewyi/newscrawler/src/metrics"
	"github.com/andrewyi/newscrawler/src/routingpool"
)

var ErrCrawlRunning = errors.New("crawl already running")

type Repository interface {
	controller.Repository
	Progress(ctx context.Context, source string) (entity.CrawlProgress, error)
	AdvanceProgress(ctx context.Context, source string, hwm, fetchedAt time.Time) error
}

type Options struct {
	SubWindow  string
	Controller controller.Options
	Now        func() time.Time
}

type SourceResult struct {
	Source        string    `json:"source"`
	Fetched       int       `json:"fetched"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Windows       int       `json:"windows"`
	WindowsFailed int       `json:"windows_failed"`
	HighWaterMark time.Time `json:"high_water_mark"`
	Error         string    `json:"error,omitempty"`
}

func (r *SourceResult) add(w controller.WindowResult) {
	r.Fetched += w.Fetched
	r.Inserted += w.Inserted
	r.Updated += w.Updated
	r.Skipped += w.Skipped
	r.Failed += w.Failed
	r.Windows++
	if w.WindowFailed {
		r.WindowsFailed++
	}
}

type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceResult `json:"sources"`
}

type Orchestrator struct {
	adapters []adapter.Adapter
	repo     Repository
	file     filestorage.FileStorage
	metrics  *metrics.Metrics
	logger   *log.Logger
	opts     Options

	running sync.Mutex
}

// NewOrchestrator file和m可以为nil
func NewOrchestrator(adapters []adapter.Adapter, repo Repository, file filestorage.FileStorage, m *metrics.Metrics,
	logger *log.Logger, opts Options) *Orchestrator {

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SubWindow == "" {
		opts.SubWindow = SubWindowMonthly
	}
	if opts.Controller.Now == nil {
		opts.Controller.Now = opts.Now
	}
	return &Orchestrator{
		adapters: adapters,
		repo:     repo,
		file:     file,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Crawl 抓取每个source最近lookback时间内（从断点开始）的文章
// 存储失败或ctx取消时返回error，report中保留已完成的部分
func (o *Orchestrator) Crawl(ctx context.Context, lookback time.Duration) (*Report, error) {
	if !o.running.TryLock() {
		return nil, ErrCrawlRunning
	}
	defer o.running.Unlock()

	done := o.metrics.CrawlStarted()
	now := o.opts.Now().UTC()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Sources:   make([]SourceResult, len(o.adapters)),
	}
	logger := o.logger.WithField("run_id", report.RunID)
	logger.WithField("sources", len(o.adapters)).WithField("lookback", lookback).Info("crawl started")

	// 每个source一个worker，任一worker遇到致命错误时其余worker被取消
	pool := routingpool.NewSimpleRoutingPool(ctx, uint32(len(o.adapters)), func(ctx context.Context, worker uint32) error {
		res, err := o.crawlSource(ctx, logger, o.adapters[worker], now, lookback)
		report.Sources[worker] = res
		return err
	})
	err := pool.Start()
	if err == nil {
		err = pool.Stop()
	}

	report.FinishedAt = o.opts.Now().UTC()
	done(err)
	if err != nil {
		logger.WithError(err).Error("crawl aborted")
		return report, err
	}
	logger.Info("crawl finished")
	return report, nil
}

func (o *Orchestrator) crawlSource(ctx context.Context, logger *log.Entry, a adapter.Adapter,
	now time.Time, lookback time.Duration) (SourceResult, error) {

	name := a.Descriptor().Name
	res := SourceResult{Source: name}
	logger = logger.WithField("source", name)

	progress, err := o.repo.Progress(ctx, name)
	if err != nil {
		logger.WithError(err).Error("fail to read progress")
		res.Error = err.Error()
		return res, err
	}
	res.HighWaterMark = progress.HighWaterMark

	start := now.Add(-lookback)
	if progress.HighWaterMark.After(start) {
		start = progress.HighWaterMark
	}
	windows := Partition(name, start, now, o.opts.SubWindow)
	logger.WithField("start", start).WithField("windows", len(windows)).Info("source crawl started")

	ctrl := controller.NewSimpleController(a, o.repo, o.file, o.metrics, logger, o.opts.Controller, progress.LastFetchedAt)

	// 出现失败窗口后不再推进断点，下次run从失败窗口重新开始
	healthy := true
	for _, w := range windows {
		wr, err := ctrl.RunWindow(ctx, w)
		res.add(wr)
		if err != nil {
			res.Error = err.Error()
			return res, err
		}
		if wr.WindowFailed {
			if healthy {
				res.Error = wr.Err.Error()
			}
			healthy = false
			continue
		}
		if !healthy {
			continue
		}
		if err := o.repo.AdvanceProgress(ctx, name, w.End, ctrl.LastFetchedAt()); err != nil {
			logger.WithError(err).Error("fail to advance progress")
			res.Error = err.Error()
			return res, err
		}
		res.HighWaterMark = w.End
		o.metrics.SetHighWaterMark(name, w.End)
	}

	// 断点未推进时仍然记录fetched_at
	if !healthy && ctrl.LastFetchedAt().After(progress.LastFetchedAt) {
		if err := o.repo.AdvanceProgress(ctx, name, res.HighWaterMark, ctrl.LastFetchedAt()); err != nil {
			logger.WithError(err).Error("fail to record fetch time")
			res.Error = err.Error()
			return res, err
		}
	}

	logger.WithField("inserted", res.Inserted).WithField("updated", res.Updated).
		WithField("failed", res.Failed).WithField("windows_failed", res.WindowsFailed).Info("source crawl finished")
	return res, nil
}
