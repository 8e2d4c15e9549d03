// 简单的http GET下载，重试由上层controller负责
// 每个host一个限速器，避免对单个站点请求过快
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/andrewyi/newscrawler/src/entity"
)

type Options struct {
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
}

type SimpleDownloader struct {
	opts   Options
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSimpleDownloader(opts Options) Downloader {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &SimpleDownloader{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *SimpleDownloader) limiter(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		limit := rate.Inf
		if s.opts.RequestsPerSecond > 0 {
			limit = rate.Limit(s.opts.RequestsPerSecond)
		}
		l = rate.NewLimiter(limit, s.opts.Burst)
		s.limiters[host] = l
	}
	return l
}

func (s *SimpleDownloader) Download(ctx context.Context, rawURL string) (entity.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return entity.Page{}, entity.NewParseFailure(rawURL, fmt.Errorf("bad url: %v", err))
	}

	if err := s.limiter(u.Host).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return entity.Page{}, ctx.Err()
		}
		return entity.Page{}, &entity.FetchError{Kind: entity.FetchTimeout, URL: rawURL, Retryable: true, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return entity.Page{}, entity.NewParseFailure(rawURL, err)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return entity.Page{}, ctx.Err()
		}
		return entity.Page{}, classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return entity.Page{}, &entity.FetchError{
			Kind:      entity.FetchHTTPStatus,
			URL:       rawURL,
			Status:    resp.StatusCode,
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout,
		}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !acceptedContentType(contentType) {
		return entity.Page{}, entity.NewParseFailure(rawURL, fmt.Errorf("unsupported content type %q", contentType))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return entity.Page{}, ctx.Err()
		}
		return entity.Page{}, classifyTransportError(rawURL, err)
	}

	if len(content) > 0 && strings.Contains(contentType, "html") {
		content, err = toUTF8(content, contentType)
		if err != nil {
			return entity.Page{}, entity.NewParseFailure(rawURL, err)
		}
	}

	return entity.Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Content:     content,
	}, nil
}

// toUTF8 按Content-Type或页面内的<meta charset>转码为utf-8
func toUTF8(content []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(content), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// html页面、xml/gzip压缩的sitemap以及robots.txt
func acceptedContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	for _, accepted := range []string{"html", "xml", "text/plain", "gzip"} {
		if strings.Contains(contentType, accepted) {
			return true
		}
	}
	return false
}

func classifyTransportError(rawURL string, err error) *entity.FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &entity.FetchError{Kind: entity.FetchTimeout, URL: rawURL, Retryable: true, Err: err}
	}
	return &entity.FetchError{Kind: entity.FetchTransport, URL: rawURL, Retryable: true, Err: err}
}
