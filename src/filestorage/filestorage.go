package filestorage

import (
	"github.com/andrewyi/newscrawler/src/entity"
)

// FileStorage 保存抓取到的原始html，返回写入的文件路径
type FileStorage interface {
	Store(source string, raw entity.RawArticle) (string, error)
}
