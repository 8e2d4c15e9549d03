// Package api 对外的http接口：搜索、文章查询、触发抓取
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/core"
	"github.com/andrewyi/newscrawler/src/dbstorage"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/search"
)

type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, error)
}

type ArticleStore interface {
	Get(ctx context.Context, id int64) (*entity.Article, error)
	Count(ctx context.Context) (int64, error)
}

type Crawler interface {
	Crawl(ctx context.Context, lookback time.Duration) (*core.Report, error)
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

type ArticleResponse struct {
	ID          int64      `json:"id"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Labels      []string   `json:"labels"`
}

type SearchResponse struct {
	Count int          `json:"count"`
	Hits  []search.Hit `json:"hits"`
}

type Handler struct {
	searcher        Searcher
	store           ArticleStore
	crawler         Crawler
	defaultLookback time.Duration
	logger          *log.Logger
}

// NewHandler crawler为nil时不提供触发抓取的接口
func NewHandler(searcher Searcher, store ArticleStore, crawler Crawler, defaultLookback time.Duration, logger *log.Logger) *Handler {
	return &Handler{
		searcher:        searcher,
		store:           store,
		crawler:         crawler,
		defaultLookback: defaultLookback,
		logger:          logger,
	}
}

func (h *Handler) fail(c *gin.Context, status int, code string, err error) {
	entry := h.logger.WithError(err).WithField("path", c.FullPath()).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		Timestamp: time.Now(),
	})
}

func (h *Handler) Health(c *gin.Context) {
	count, err := h.store.Count(c.Request.Context())
	if err != nil {
		h.fail(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "articles": count})
}

// multi 同时支持重复参数和逗号分隔
func multi(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &search.QueryError{Kind: search.InvalidFilter, Message: "bad " + name + " " + strconv.Quote(v)}
	}
	return n, nil
}

func parseQuery(c *gin.Context) (search.Query, error) {
	var (
		q   search.Query
		err error
	)
	q.Keywords = strings.Fields(c.Query("q"))
	if q.From, err = search.ParseDate(c.Query("from"), false); err != nil {
		return q, err
	}
	if q.To, err = search.ParseDate(c.Query("to"), true); err != nil {
		return q, err
	}
	q.Labels = multi(c, "label")
	q.Sources = multi(c, "source")
	if q.Limit, err = intParam(c, "limit"); err != nil {
		return q, err
	}
	q.Limit = search.PageLimit(q.Limit)
	if q.Offset, err = intParam(c, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func (h *Handler) Search(c *gin.Context) {
	q, err := parseQuery(c)
	if err == nil {
		var hits []search.Hit
		if hits, err = h.searcher.Search(c.Request.Context(), q); err == nil {
			if hits == nil {
				hits = []search.Hit{}
			}
			c.JSON(http.StatusOK, SearchResponse{Count: len(hits), Hits: hits})
			return
		}
	}
	if search.IsQueryError(err) {
		h.fail(c, http.StatusBadRequest, "INVALID_FILTER", err)
		return
	}
	h.fail(c, http.StatusInternalServerError, "SEARCH_ERROR", err)
}

func (h *Handler) Article(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, http.StatusBadRequest, "INVALID_ID", errors.New("bad article id"))
		return
	}
	a, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, dbstorage.ErrNotFound) {
			h.fail(c, http.StatusNotFound, "NOT_FOUND", err)
			return
		}
		h.fail(c, http.StatusInternalServerError, "STORAGE_ERROR", err)
		return
	}
	labels := a.Labels
	if labels == nil {
		labels = []string{}
	}
	c.JSON(http.StatusOK, ArticleResponse{
		ID:          a.ID,
		Source:      a.Source,
		URL:         a.CanonicalURL,
		Title:       a.Title,
		Body:        a.Body,
		PublishedAt: a.PublishedAt,
		FetchedAt:   a.FetchedAt,
		Labels:      labels,
	})
}

// Crawl 同步执行一次抓取并返回报告
func (h *Handler) Crawl(c *gin.Context) {
	lookback := h.defaultLookback
	if v := c.Query("lookback"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.fail(c, http.StatusBadRequest, "INVALID_LOOKBACK", errors.New("bad lookback "+strconv.Quote(v)))
			return
		}
		lookback = d
	}

	report, err := h.crawler.Crawl(c.Request.Context(), lookback)
	switch {
	case errors.Is(err, core.ErrCrawlRunning):
		h.fail(c, http.StatusConflict, "CRAWL_RUNNING", err)
	case err != nil && report == nil:
		h.fail(c, http.StatusInternalServerError, "CRAWL_ERROR", err)
	case err != nil:
		h.logger.WithError(err).WithField("run_id", report.RunID).Error("crawl aborted")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "CRAWL_ABORTED", "report": report})
	default:
		c.JSON(http.StatusOK, report)
	}
}
