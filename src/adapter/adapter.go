// Package adapter 各新闻源的列表与抓取能力
// 新增一种站点结构只需要实现Adapter并Register，编排逻辑不需要改动
package adapter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/andrewyi/newscrawler/src/config"
	"github.com/andrewyi/newscrawler/src/downloader"
	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
)

var (
	ErrUnknownKind = errors.New("unknown adapter kind")
	ErrBadConfig   = errors.New("bad adapter config")
)

type Descriptor struct {
	Name            string
	Kind            string
	BaseURL         string
	ContentSelector string
	Pagination      string
	Order           enum.Order
}

// Adapter 不持有可变的共享状态，每次调用相互独立
type Adapter interface {
	Descriptor() Descriptor
	// ListCandidates 惰性返回窗口内的候选文章，同一个窗口可以重复调用
	// 出错时产出一个error后结束
	ListCandidates(ctx context.Context, w entity.CrawlWindow) iter.Seq2[entity.RawArticleRef, error]
	Fetch(ctx context.Context, ref entity.RawArticleRef) (entity.RawArticle, error)
}

type Factory func(cfg config.Source, d downloader.Downloader, logger *logrus.Logger) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 同名kind重复注册时后者覆盖前者
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New 按配置中的kind构造adapter
func New(cfg config.Source, d downloader.Downloader, logger *logrus.Logger) (Adapter, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (source %s)", ErrUnknownKind, cfg.Kind, cfg.Name)
	}
	return f(cfg, d, logger)
}

// NewAll 为所有启用的source构造adapter
func NewAll(sources []config.Source, d downloader.Downloader, logger *logrus.Logger) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(sources))
	for _, s := range sources {
		a, err := New(s, d, logger)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// fetchPage 供各adapter共用的文章下载
func fetchPage(ctx context.Context, d downloader.Downloader, ref entity.RawArticleRef, selector string) (entity.RawArticle, error) {
	page, err := d.Download(ctx, ref.URL)
	if err != nil {
		return entity.RawArticle{}, err
	}
	if len(page.Content) == 0 {
		return entity.RawArticle{}, entity.NewParseFailure(ref.URL, errors.New("empty body"))
	}
	return entity.RawArticle{
		Ref:             ref,
		FinalURL:        page.FinalURL,
		HTML:            string(page.Content),
		ContentSelector: selector,
	}, nil
}

func isNotFound(err error) bool {
	var fe *entity.FetchError
	return errors.As(err, &fe) && fe.Kind == entity.FetchHTTPStatus && (fe.Status == 404 || fe.Status == 410)
}

func isRetryable(err error) bool {
	var fe *entity.FetchError
	return errors.As(err, &fe) && fe.Retryable
}
