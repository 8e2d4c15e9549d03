// Package controller 单个source在一个sub-window内的抓取状态机
//
//	Idle -> Listing -> Fetching -> Persisting -> Listing ... -> Idle
//	Listing/Fetching 遇到可重试错误时进入 Backoff
package controller

import (
	"context"
	"time"

	"github.com/andrewyi/newscrawler/src/entity"
	"github.com/andrewyi/newscrawler/src/enum"
)

// Repository controller需要的存储能力
type Repository interface {
	Upsert(ctx context.Context, a entity.Article) (entity.UpsertResult, error)
}

type Options struct {
	// 包括首次在内的最大尝试次数
	MaxAttempts    uint32
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// 有序listing连续遇到多少个越过窗口边界的文章后提前结束，默认3
	// 置顶或侧栏里的单个旧/新链接不会导致提前结束
	StopAfter int
	Now       func() time.Time
}

// WindowResult 一个sub-window的处理结果
// WindowFailed为true时Err说明原因，该窗口在下一次run时重新抓取
type WindowResult struct {
	Fetched      int
	Inserted     int
	Updated      int
	Skipped      int
	Failed       int
	WindowFailed bool
	Err          error
}

type Controller interface {
	// RunWindow 仅在存储失败或ctx被取消时返回error，此时整个run需要终止
	RunWindow(ctx context.Context, w entity.CrawlWindow) (WindowResult, error)
	State() enum.CrawlState
	// LastFetchedAt 本次run中最后一次写入的fetched_at
	LastFetchedAt() time.Time
}
