package core

import (
	"time"

	"github.com/andrewyi/newscrawler/src/entity"
)

const (
	SubWindowMonthly = "monthly"
	SubWindowWeekly  = "weekly"
	SubWindowDaily   = "daily"
)

// nextBoundary t之后（不含t）的第一个日历边界，UTC，周以周一开始
func nextBoundary(t time.Time, unit string) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch unit {
	case SubWindowDaily:
		return day.AddDate(0, 0, 1)
	case SubWindowWeekly:
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, 7-sinceMonday)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
}

// Partition 把[start, end)按日历边界切分，从旧到新
// 第一个和最后一个窗口可能不完整
func Partition(source string, start, end time.Time, unit string) []entity.CrawlWindow {
	start, end = start.UTC(), end.UTC()
	var windows []entity.CrawlWindow
	for cur := start; cur.Before(end); {
		next := nextBoundary(cur, unit)
		if next.After(end) {
			next = end
		}
		windows = append(windows, entity.CrawlWindow{Source: source, Start: cur, End: next})
		cur = next
	}
	return windows
}
