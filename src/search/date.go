package search

import (
	"strconv"
	"time"
)

// ParseDate 支持YYYY-MM-DD和RFC3339，空串返回nil
// endOfDay为true时只有日期的输入表示当天的最后时刻，用于闭区间的to
func ParseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, invalidFilter("bad date %s", strconv.Quote(s))
	}
	t = t.UTC()
	return &t, nil
}
