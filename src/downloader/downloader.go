package downloader

import (
	"context"

	"github.com/andrewyi/newscrawler/src/entity"
)

// Downloader 失败时返回*entity.FetchError，ctx被取消时返回ctx.Err()
type Downloader interface {
	Download(ctx context.Context, url string) (entity.Page, error)
}
