package util

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/spf13/viper"

	"github.com/andrewyi/newscrawler/src/enum"
)

var ErrInvalidURL = errors.New("invalid url")

// ReadConfig 读取配置文件，环境变量可以覆盖同名配置（嵌套字段以_连接，例如DATABASE_URL）
// defaults中的值在配置文件缺失对应字段时生效
func ReadConfig(filePath string, defaults map[string]interface{}, out interface{}) error {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigFile(filePath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // for nested structure
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	if err := v.Unmarshal(out); err != nil {
		return err
	}

	return nil
}

// 常见的追踪参数，canonical url中需要移除
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"yclid":   {},
	"_ga":     {},
	"ref_src": {},
}

func isTrackingParam(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	_, ok := trackingParams[name]
	return ok
}

const canonicalFlags = purell.FlagsSafe | purell.FlagRemoveFragment | purell.FlagSortQuery |
	purell.FlagRemoveTrailingSlash | purell.FlagRemoveDuplicateSlashes

// CanonicalURL 将url规范化，作为文章的主去重键
// 先去掉追踪参数和用户信息，其余规则（大小写、默认端口、fragment、query排序、末尾的/）交给purell
func CanonicalURL(u string) (string, error) {
	oURL, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return "", err
	}
	oURL.Scheme = strings.ToLower(oURL.Scheme)
	if (oURL.Scheme != "http" && oURL.Scheme != "https") || oURL.Host == "" {
		return "", ErrInvalidURL
	}
	oURL.User = nil

	query := oURL.Query()
	for k := range query {
		if isTrackingParam(k) {
			query.Del(k)
		}
	}
	oURL.RawQuery = query.Encode()
	oURL.ForceQuery = false

	return purell.NormalizeURL(oURL, canonicalFlags), nil
}

// ResolveURL 将相对链接转为绝对链接
func ResolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// host中可能残留有:port信息，需要进一步移除
func GetDomain(u string) (string, error) {
	oURL, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.Split(oURL.Host, ":")[0]), nil
}

// SectionOf 返回url path的第一段，新闻站点一般用它表示栏目，例如 https://telex.hu/belfold/2025/... -> belfold
// 纯数字的段（年份）不视为栏目
func SectionOf(u string) string {
	oURL, err := url.Parse(u)
	if err != nil {
		return ""
	}
	path := strings.Trim(oURL.Path, "/")
	if path == "" {
		return ""
	}
	first := strings.ToLower(strings.Split(path, "/")[0])
	if strings.Trim(first, "0123456789") == "" {
		return ""
	}
	if !strings.Contains(path, "/") {
		return "" // 只有一段时就是文章slug本身
	}
	return first
}

// NormalizeLabels 小写、去空白、去重并排序
// 非法的utf-8字节被去掉，超过enum.MaxLabelBytes的label直接丢弃
func NormalizeLabels(labels []string) []string {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(strings.ToValidUTF8(l, "")))
		if l != "" && len(l) <= enum.MaxLabelBytes {
			set[l] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
