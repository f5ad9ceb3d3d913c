package storage

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finbrief/finbrief/pkg/models"
)

// timeLayout is the canonical storage format for timestamps. SQLite's
// date functions parse it directly, which the stats queries rely on.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.ParseInLocation(timeLayout, s, time.Local); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// newItemID derives a stable identifier from the item's provenance:
// source, a short digest of (title, url), and a fragment of a random
// UUID so two distinct items never collide.
func newItemID(source, title, url string) string {
	src := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(source), " ", "_"))
	if src == "" {
		src = "news"
	}
	digest := sha1.Sum([]byte(title + "|" + url))
	return fmt.Sprintf("%s_%x_%s", src, digest[:4], uuid.NewString()[:8])
}

// clampScore bounds a score into [0,100]. Out-of-range values are a
// caller bug; they are clamped and logged, never rejected.
func clampScore(score int) int {
	if score < 0 {
		slog.Warn("Clamping out-of-range importance score", "score", score)
		return 0
	}
	if score > 100 {
		slog.Warn("Clamping out-of-range importance score", "score", score)
		return 100
	}
	return score
}

func clampImpact(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(data string) []string {
	if data == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		// Legacy rows may carry malformed text; treat as empty.
		return nil
	}
	return items
}

// Save upserts one item. An item with an empty ID is treated as new: a
// dedup probe on (title, url) runs first and a match makes the save a
// no-op. Returns true when a row was written.
func (s *Store) Save(ctx context.Context, item *models.NewsItem) (bool, error) {
	if item.ID == "" {
		exists, err := s.Exists(ctx, item.Title, item.URL)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
		item.ID = newItemID(item.Source, item.Title, item.URL)
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.PublishTime.IsZero() {
		item.PublishTime = now
	}
	item.ImportanceScore = clampScore(item.ImportanceScore)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO news_items (
			id, title, content, source, publish_time, url, category, keywords,
			importance_score, importance_reasoning, importance_factors,
			impact_degree, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			source = excluded.source,
			publish_time = excluded.publish_time,
			url = excluded.url,
			category = excluded.category,
			keywords = excluded.keywords,
			importance_score = excluded.importance_score,
			importance_reasoning = excluded.importance_reasoning,
			importance_factors = excluded.importance_factors,
			impact_degree = excluded.impact_degree,
			updated_at = excluded.updated_at`,
		item.ID, item.Title, item.Content, item.Source, formatTime(item.PublishTime),
		item.URL, item.Category, encodeList(item.Keywords),
		item.ImportanceScore, item.ImportanceReasoning, encodeList(item.ImportanceFactors),
		item.ImpactDegree, formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save news item: %w", err)
	}
	return true, nil
}

// SaveBatch upserts items, skipping per-row failures with a log line.
// Returns the number of rows written. Duplicates within the batch
// collapse via the same (title, url) dedup probe as Save.
func (s *Store) SaveBatch(ctx context.Context, items []*models.NewsItem) (int, error) {
	saved := 0
	for _, item := range items {
		ok, err := s.Save(ctx, item)
		if err != nil {
			slog.Error("Skipping unsaveable news item", "title", item.Title, "error", err)
			continue
		}
		if ok {
			saved++
		}
	}
	return saved, nil
}

// Exists is the dedup probe: true when any row matches the title or
// the (non-empty) url.
func (s *Store) Exists(ctx context.Context, title, url string) (bool, error) {
	var count int
	var err error
	if url != "" {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM news_items WHERE title = ? OR url = ?", title, url).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM news_items WHERE title = ?", title).Scan(&count)
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe for duplicate: %w", err)
	}
	return count > 0, nil
}

// QueryFilter narrows Query results. Zero values mean "no constraint".
type QueryFilter struct {
	Source   string
	Category string
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// Query returns items newest-first by publish_time.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]*models.NewsItem, error) {
	query := "SELECT " + newsColumns + " FROM news_items WHERE 1=1"
	var args []any

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if !filter.Start.IsZero() {
		query += " AND publish_time >= ?"
		args = append(args, formatTime(filter.Start))
	}
	if !filter.End.IsZero() {
		query += " AND publish_time <= ?"
		args = append(args, formatTime(filter.End))
	}

	query += " ORDER BY publish_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return s.queryItems(ctx, query, args...)
}

// ByID returns the item with the given id, or sql.ErrNoRows.
func (s *Store) ByID(ctx context.Context, id string) (*models.NewsItem, error) {
	items, err := s.queryItems(ctx,
		"SELECT "+newsColumns+" FROM news_items WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	return items[0], nil
}

// ByDateRange returns items in [start, end] ordered by importance
// first, recency second — the ordering reports are built from.
func (s *Store) ByDateRange(ctx context.Context, start, end time.Time) ([]*models.NewsItem, error) {
	return s.queryItems(ctx,
		"SELECT "+newsColumns+` FROM news_items
		 WHERE publish_time >= ? AND publish_time <= ?
		 ORDER BY importance_score DESC, publish_time DESC`,
		formatTime(start), formatTime(end))
}

// DeleteOlderThan removes items whose publish_time predates the cutoff,
// cascading to their analysis rows. Returns the number of items purged.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin retention transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM analysis_results WHERE news_id IN (SELECT id FROM news_items WHERE publish_time < ?)",
		cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete old analysis results: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM news_items WHERE publish_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old news items: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention transaction: %w", err)
	}
	return int(deleted), nil
}

// SaveAnalysisResult appends one impact analysis row. The referenced
// news item must already exist.
func (s *Store) SaveAnalysisResult(ctx context.Context, result *models.AnalysisResult) error {
	if result.AnalysisTime.IsZero() {
		result.AnalysisTime = time.Now()
	}
	result.ImpactScore = clampImpact(result.ImpactScore)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (news_id, impact_score, impact_level, summary, analysis_time)
		VALUES (?, ?, ?, ?, ?)`,
		result.NewsID, result.ImpactScore, result.ImpactLevel, result.Summary,
		formatTime(result.AnalysisTime))
	if err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	result.ID, _ = res.LastInsertId()
	return nil
}

// LatestAnalyses returns the most recent analysis row per news id.
func (s *Store) LatestAnalyses(ctx context.Context, newsIDs []string) (map[string]*models.AnalysisResult, error) {
	results := make(map[string]*models.AnalysisResult, len(newsIDs))
	if len(newsIDs) == 0 {
		return results, nil
	}

	placeholders := strings.Repeat("?,", len(newsIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(newsIDs))
	for i, id := range newsIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, news_id, impact_score, impact_level, summary, analysis_time
		FROM analysis_results
		WHERE news_id IN (`+placeholders+`)
		ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r models.AnalysisResult
		var level, summary, analysisTime sql.NullString
		if err := rows.Scan(&r.ID, &r.NewsID, &r.ImpactScore, &level, &summary, &analysisTime); err != nil {
			slog.Warn("Skipping malformed analysis row", "error", err)
			continue
		}
		r.ImpactLevel = level.String
		r.Summary = summary.String
		r.AnalysisTime = parseTime(analysisTime.String)
		results[r.NewsID] = &r // ascending id: the last row per news_id wins
	}
	return results, rows.Err()
}

const newsColumns = `id, title, content, source, publish_time, url, category, keywords,
	importance_score, importance_reasoning, importance_factors, impact_degree,
	created_at, updated_at`

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*models.NewsItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query news items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.NewsItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			slog.Warn("Skipping malformed news row", "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (*models.NewsItem, error) {
	var item models.NewsItem
	var content, source, publishTime, url, category, keywords sql.NullString
	var reasoning, factors, degree, createdAt, updatedAt sql.NullString

	if err := rows.Scan(
		&item.ID, &item.Title, &content, &source, &publishTime, &url, &category,
		&keywords, &item.ImportanceScore, &reasoning, &factors, &degree,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	item.Content = content.String
	item.Source = source.String
	item.PublishTime = parseTime(publishTime.String)
	item.URL = url.String
	item.Category = category.String
	item.Keywords = decodeList(keywords.String)
	item.ImportanceReasoning = reasoning.String
	item.ImportanceFactors = decodeList(factors.String)
	item.ImpactDegree = degree.String
	item.CreatedAt = parseTime(createdAt.String)
	item.UpdatedAt = parseTime(updatedAt.String)
	return &item, nil
}
