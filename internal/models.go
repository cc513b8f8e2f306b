package internal

import (
	"time"
)

// URLMapping is the persisted association between a short code and its
// original URL. ShortCode is immutable and globally unique; Clicks only
// ever grows.
type URLMapping struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	ShortCode   string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"short_code"`
	OriginalURL string    `gorm:"type:text;not null" json:"original_url"`
	Clicks      int64     `gorm:"not null;default:0" json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyStat holds additive counters for one calendar date, keyed by the
// process-local day in YYYY-MM-DD form. Rows are created lazily on the first
// event of the day and only ever incremented.
type DailyStat struct {
	Date        string `gorm:"type:varchar(10);primaryKey"`
	URLsCreated int64  `gorm:"column:urls_created;not null;default:0"`
	TotalClicks int64  `gorm:"column:total_clicks;not null;default:0"`
}

// CodeAnalytics is the per-code, per-agent click breakdown maintained by the
// analytics worker from the click event stream. It supplements the
// authoritative counters on URLMapping and DailyStat.
type CodeAnalytics struct {
	ID         int64     `gorm:"primaryKey" json:"-"`
	ShortCode  string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_code_analytics_code_agent" json:"short_code"`
	UserAgent  string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_code_analytics_code_agent" json:"user_agent"`
	ClickCount int64     `gorm:"not null;default:0" json:"click_count"`
	LastSeen   time.Time `json:"last_seen"`
}

// ClickEvent is the message published on each redirect and consumed by the
// analytics worker.
type ClickEvent struct {
	ShortCode string    `json:"short_code"`
	Timestamp time.Time `json:"timestamp"`
	UserAgent string    `json:"user_agent"`
}

// AggregateStats is the service-wide usage snapshot: totals across all
// mappings plus today's slice from the daily stats table.
type AggregateStats struct {
	TotalURLs   int64 `json:"total_urls"`
	TotalClicks int64 `json:"total_clicks"`
	TodayURLs   int64 `json:"today_urls"`
	TodayClicks int64 `json:"today_clicks"`
}
