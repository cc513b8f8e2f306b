// Package store owns the persistent state of the shortener: the URL mapping
// table and the daily stats table. It is the single authority on short code
// uniqueness and on the click counters.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shortkit/shortkit/internal"
)

// Store exposes the atomic operations of the alias store. Every write
// commits as a unit; callers need no synchronization of their own.
type Store interface {
	// Exists reports whether a mapping with the given code is present.
	// Only an optimization: Insert is the actual uniqueness gate.
	Exists(ctx context.Context, code string) (bool, error)
	// Insert creates a mapping with zero clicks. Returns
	// internal.ErrDuplicateCode when the code is already taken.
	Insert(ctx context.Context, code, originalURL string) (*internal.URLMapping, error)
	// Lookup returns the mapping for code or internal.ErrNotFound.
	Lookup(ctx context.Context, code string) (*internal.URLMapping, error)
	// RecordClick bumps the mapping's click counter and today's total_clicks
	// in one transaction. Returns internal.ErrNotFound for unknown codes.
	RecordClick(ctx context.Context, code string) error
	// RecordCreation bumps today's urls_created, creating the row if absent.
	RecordCreation(ctx context.Context) error
	// AggregateStats returns totals across all mappings plus today's slice.
	AggregateStats(ctx context.Context) (*internal.AggregateStats, error)
	// RecentMappings returns up to limit mappings, newest first.
	RecentMappings(ctx context.Context, limit int) ([]internal.URLMapping, error)
	// CodeBreakdown returns the per-agent click rows for a code, busiest first.
	CodeBreakdown(ctx context.Context, code string) ([]internal.CodeAnalytics, error)
	// ClearAll wipes mappings, daily stats and analytics in one transaction.
	ClearAll(ctx context.Context) error
	// Ping verifies storage reachability with a trivial query.
	Ping(ctx context.Context) error
}

const defaultRecentLimit = 10

// GormStore implements Store on a gorm database handle. Atomicity of
// multi-row writes comes from transactions; the short code uniqueness
// guarantee comes from the unique index on url_mappings.short_code.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Exists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&internal.URLMapping{}).
		Where("short_code = ?", code).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check short code %q: %w", code, err)
	}
	return n > 0, nil
}

func (s *GormStore) Insert(ctx context.Context, code, originalURL string) (*internal.URLMapping, error) {
	mapping := &internal.URLMapping{
		ShortCode:   code,
		OriginalURL: originalURL,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(mapping).Error; err != nil {
		if isDuplicate(err) {
			return nil, internal.ErrDuplicateCode
		}
		return nil, fmt.Errorf("failed to insert mapping %q: %w", code, err)
	}
	return mapping, nil
}

func (s *GormStore) Lookup(ctx context.Context, code string) (*internal.URLMapping, error) {
	var mapping internal.URLMapping
	err := s.db.WithContext(ctx).Where("short_code = ?", code).First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up mapping %q: %w", code, err)
	}
	return &mapping, nil
}

func (s *GormStore) RecordClick(ctx context.Context, code string) error {
	day := s.today()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&internal.URLMapping{}).
			Where("short_code = ?", code).
			UpdateColumn("clicks", gorm.Expr("clicks + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("failed to increment clicks for %q: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			return internal.ErrNotFound
		}
		return bumpDailyStat(tx, day, 0, 1)
	})
}

func (s *GormStore) RecordCreation(ctx context.Context) error {
	return bumpDailyStat(s.db.WithContext(ctx), s.today(), 1, 0)
}

func (s *GormStore) AggregateStats(ctx context.Context) (*internal.AggregateStats, error) {
	stats := &internal.AggregateStats{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&internal.URLMapping{}).Count(&stats.TotalURLs).Error; err != nil {
			return fmt.Errorf("failed to count mappings: %w", err)
		}
		if err := tx.Model(&internal.URLMapping{}).
			Select("COALESCE(SUM(clicks), 0)").
			Scan(&stats.TotalClicks).Error; err != nil {
			return fmt.Errorf("failed to sum clicks: %w", err)
		}

		var day internal.DailyStat
		err := tx.Where("date = ?", s.today()).First(&day).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to read daily stats: %w", err)
		}
		// Absent row means nothing happened today: zeros.
		stats.TodayURLs = day.URLsCreated
		stats.TodayClicks = day.TotalClicks
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *GormStore) RecentMappings(ctx context.Context, limit int) ([]internal.URLMapping, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var mappings []internal.URLMapping
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&mappings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent mappings: %w", err)
	}
	return mappings, nil
}

func (s *GormStore) CodeBreakdown(ctx context.Context, code string) ([]internal.CodeAnalytics, error) {
	var rows []internal.CodeAnalytics
	err := s.db.WithContext(ctx).
		Where("short_code = ?", code).
		Order("click_count DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read analytics for %q: %w", code, err)
	}
	return rows, nil
}

func (s *GormStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wipe := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := wipe.Delete(&internal.URLMapping{}).Error; err != nil {
			return fmt.Errorf("failed to clear mappings: %w", err)
		}
		if err := wipe.Delete(&internal.DailyStat{}).Error; err != nil {
			return fmt.Errorf("failed to clear daily stats: %w", err)
		}
		if err := wipe.Delete(&internal.CodeAnalytics{}).Error; err != nil {
			return fmt.Errorf("failed to clear analytics: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) today() string {
	return s.now().Format("2006-01-02")
}

// bumpDailyStat is the atomic increment-or-insert for the daily counters.
// ON CONFLICT keeps concurrent bumps additive without a read-modify-write.
func bumpDailyStat(tx *gorm.DB, day string, created, clicks int64) error {
	row := internal.DailyStat{Date: day, URLsCreated: created, TotalClicks: clicks}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"urls_created": gorm.Expr("daily_stats.urls_created + ?", created),
			"total_clicks": gorm.Expr("daily_stats.total_clicks + ?", clicks),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert daily stats for %s: %w", day, err)
	}
	return nil
}

// isDuplicate detects a unique constraint violation. TranslateError covers
// postgres and sqlite, the message match is a fallback for drivers without a
// translator.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}

var _ Store = (*GormStore)(nil)
