package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finbrief/finbrief/pkg/models"
)

// Stats aggregates store counters for the daily summary and the
// status surface.
func (s *Store) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{
		BySource:   make(map[string]int),
		ByCategory: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM news_items").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count news items: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM news_items WHERE date(publish_time) = date('now', 'localtime')").
		Scan(&stats.Today); err != nil {
		return nil, fmt.Errorf("failed to count today's news items: %w", err)
	}

	if err := s.countGrouped(ctx, "source", stats.BySource); err != nil {
		return nil, err
	}
	if err := s.countGrouped(ctx, "category", stats.ByCategory); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) countGrouped(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT COALESCE("+column+", ''), COUNT(*) FROM news_items GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("failed to count by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// Optimize reclaims space with VACUUM and refreshes planner statistics
// with ANALYZE, logging the size delta.
func (s *Store) Optimize(ctx context.Context) error {
	before, err := s.fileSize(ctx)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}

	after, err := s.fileSize(ctx)
	if err != nil {
		return err
	}

	slog.Info("Database optimized",
		"bytes_before", before,
		"bytes_after", after,
		"bytes_reclaimed", before-after)
	return nil
}

func (s *Store) fileSize(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to read page_size: %w", err)
	}
	return pageCount * pageSize, nil
}
