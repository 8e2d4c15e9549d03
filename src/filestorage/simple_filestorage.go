package filestorage

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/andrewyi/newscrawler/src/entity"
)

type SimpleFileStorage struct {
	location string
}

func NewSimpleFileStorage(location string) FileStorage {
	return &SimpleFileStorage{
		location: location,
	}
}

// FileName 以url的xxhash作为文件名，同一篇文章重复抓取时覆盖旧文件
func FileName(u string) string {
	return strconv.FormatUint(xxhash.Sum64String(u), 16) + ".html"
}

// 以source作为sharding key来建立文件夹，防止单一文件夹中包含文件数量过多
// 先写临时文件再rename，读者不会看到写了一半的文件
func (s *SimpleFileStorage) Store(source string, raw entity.RawArticle) (string, error) {
	dir := filepath.Join(s.location, source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	u := raw.FinalURL
	if u == "" {
		u = raw.Ref.URL
	}
	fp := filepath.Join(dir, FileName(u))

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.WriteString(raw.HTML); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, fp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return fp, nil
}
