// Package metrics 抓取与检索的prometheus指标
// 所有Record方法对nil接收者安全，未配置指标时调用方无需判断
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "newscrawler"

type Metrics struct {
	ArticlesTotal   *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec
	WindowsTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	CrawlRuns       *prometheus.CounterVec
	CrawlDuration   prometheus.Histogram
	CrawlRunning    prometheus.Gauge
	HighWaterMark   *prometheus.GaugeVec
	SearchQueries   *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	SearchResultLen prometheus.Histogram
}

// New 在reg上注册全部指标，reg为nil时使用默认registry
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initCrawlMetrics(factory)
	m.initSearchMetrics(factory)
	return m
}

func (m *Metrics) initCrawlMetrics(factory promauto.Factory) {
	m.ArticlesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "articles_total",
			Help:      "Articles processed, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	m.FetchErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "fetch_errors_total",
			Help:      "Fetch failures, by source and error kind",
		},
		[]string{"source", "kind"},
	)

	m.WindowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "windows_total",
			Help:      "Crawl sub-windows processed, by source and result",
		},
		[]string{"source", "result"},
	)

	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single article fetches",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms ~ 25s
		},
		[]string{"source"},
	)

	m.CrawlRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "runs_total",
			Help:      "Crawl runs, by status",
		},
		[]string{"status"},
	)

	m.CrawlDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "run_duration_seconds",
			Help:      "Duration of whole crawl runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s ~ 2.3h
		},
	)

	m.CrawlRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "running",
			Help:      "1 while a crawl run is in progress",
		},
	)

	m.HighWaterMark = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "crawl",
			Name:      "high_water_mark_seconds",
			Help:      "Unix time up to which a source has been fully crawled",
		},
		[]string{"source"},
	)
}

func (m *Metrics) initSearchMetrics(factory promauto.Factory) {
	m.SearchQueries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Search queries, by status",
		},
		[]string{"status"},
	)

	m.SearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "search",
			Name:      "query_duration_seconds",
			Help:      "Duration of search queries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms ~ 8s
		},
	)

	m.SearchResultLen = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "search",
			Name:      "result_size",
			Help:      "Number of articles returned per query",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 200, 500, 1000},
		},
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordArticle(source, outcome string) {
	if m == nil {
		return
	}
	m.ArticlesTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordFetch(source string, d time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
	if errKind != "" {
		m.FetchErrors.WithLabelValues(source, errKind).Inc()
	}
}

func (m *Metrics) RecordWindow(source string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.WindowsTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) SetHighWaterMark(source string, t time.Time) {
	if m == nil {
		return
	}
	m.HighWaterMark.WithLabelValues(source).Set(float64(t.Unix()))
}

// CrawlStarted 返回的函数在抓取结束时调用
func (m *Metrics) CrawlStarted() func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	m.CrawlRunning.Set(1)
	return func(err error) {
		m.CrawlRunning.Set(0)
		m.CrawlDuration.Observe(time.Since(start).Seconds())
		m.CrawlRuns.WithLabelValues(status(err)).Inc()
	}
}

func (m *Metrics) RecordSearch(d time.Duration, results int, err error) {
	if m == nil {
		return
	}
	m.SearchQueries.WithLabelValues(status(err)).Inc()
	m.SearchDuration.Observe(d.Seconds())
	if err == nil {
		m.SearchResultLen.Observe(float64(results))
	}
}
