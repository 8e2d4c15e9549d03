package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordArticle("telex", "inserted")
	m.RecordArticle("telex", "inserted")
	m.RecordFetch("telex", 100*time.Millisecond, "timeout")
	m.RecordWindow("telex", false)
	m.RecordSearch(time.Millisecond, 3, nil)
	m.RecordSearch(time.Millisecond, 0, errors.New("bad"))

	done := m.CrawlStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CrawlRunning))
	done(nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ArticlesTotal.WithLabelValues("telex", "inserted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchErrors.WithLabelValues("telex", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WindowsTotal.WithLabelValues("telex", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchQueries.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CrawlRuns.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CrawlRunning))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordArticle("telex", "inserted")
		m.RecordFetch("telex", time.Second, "")
		m.RecordWindow("telex", true)
		m.SetHighWaterMark("telex", time.Now())
		m.CrawlStarted()(nil)
		m.RecordSearch(time.Second, 1, nil)
	})
}
