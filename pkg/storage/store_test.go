package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrief/finbrief/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "news.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testItem(title string) *models.NewsItem {
	return &models.NewsItem{
		Title:       title,
		Content:     "央行宣布下调存款准备金率0.5个百分点",
		Source:      "ChinaNews",
		Category:    "finance",
		URL:         "https://example.com/" + title,
		PublishTime: time.Now().Add(-time.Hour),
		Keywords:    []string{"央行", "降准"},
	}
}

func TestSaveAndByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("rate-cut")
	item.ImportanceScore = 85
	item.ImportanceReasoning = "货币政策重大调整"
	item.ImportanceFactors = []string{"政策", "流动性"}
	item.ImpactDegree = "high"

	saved, err := store.Save(ctx, item)
	require.NoError(t, err)
	assert.True(t, saved)
	require.NotEmpty(t, item.ID)

	got, err := store.ByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, item.Content, got.Content)
	assert.Equal(t, 85, got.ImportanceScore)
	assert.Equal(t, []string{"央行", "降准"}, got.Keywords)
	assert.Equal(t, []string{"政策", "流动性"}, got.ImportanceFactors)
	assert.Equal(t, "high", got.ImpactDegree)
	assert.WithinDuration(t, item.PublishTime, got.PublishTime, time.Second)
}

func TestSaveDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testItem("dup")
	saved, err := store.Save(ctx, first)
	require.NoError(t, err)
	assert.True(t, saved)

	// Same (title, url), no id: a no-op.
	second := testItem("dup")
	saved, err = store.Save(ctx, second)
	require.NoError(t, err)
	assert.False(t, saved)

	items, err := store.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSaveBatchCollapsesDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.SaveBatch(ctx, []*models.NewsItem{testItem("a"), testItem("a"), testItem("b")})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A second identical batch saves nothing.
	count, err = store.SaveBatch(ctx, []*models.NewsItem{testItem("a"), testItem("b")})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSaveUpsertByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("upsert")
	_, err := store.Save(ctx, item)
	require.NoError(t, err)

	item.ImportanceScore = 92
	item.ImpactDegree = "high"
	saved, err := store.Save(ctx, item)
	require.NoError(t, err)
	assert.True(t, saved)

	got, err := store.ByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 92, got.ImportanceScore)
	assert.Equal(t, "high", got.ImpactDegree)

	items, err := store.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestScoreClamping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("clamp")
	item.ImportanceScore = 150
	_, err := store.Save(ctx, item)
	require.NoError(t, err)

	got, err := store.ByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.ImportanceScore)

	result := &models.AnalysisResult{NewsID: item.ID, ImpactScore: -12, Summary: "s"}
	require.NoError(t, store.SaveAnalysisResult(ctx, result))
	assert.Equal(t, 0.0, result.ImpactScore)
}

func TestQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testItem("old")
	old.Source = "Reuters"
	old.PublishTime = time.Now().AddDate(0, 0, -10)
	fresh := testItem("fresh")

	_, err := store.SaveBatch(ctx, []*models.NewsItem{old, fresh})
	require.NoError(t, err)

	bySource, err := store.Query(ctx, QueryFilter{Source: "Reuters"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "old", bySource[0].Title)

	recent, err := store.Query(ctx, QueryFilter{Start: time.Now().AddDate(0, 0, -1)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Title)

	limited, err := store.Query(ctx, QueryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	// Newest first.
	assert.Equal(t, "fresh", limited[0].Title)
}

func TestByDateRangeOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	low := testItem("low")
	low.ImportanceScore = 30
	high := testItem("high")
	high.ImportanceScore = 90

	_, err := store.SaveBatch(ctx, []*models.NewsItem{low, high})
	require.NoError(t, err)

	items, err := store.ByDateRange(ctx, time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "high", items[0].Title)
	assert.Equal(t, "low", items[1].Title)
}

func TestDeleteOlderThanCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := testItem("stale")
	stale.PublishTime = time.Now().AddDate(0, 0, -60)
	fresh := testItem("fresh")
	_, err := store.SaveBatch(ctx, []*models.NewsItem{stale, fresh})
	require.NoError(t, err)

	require.NoError(t, store.SaveAnalysisResult(ctx, &models.AnalysisResult{
		NewsID: stale.ID, ImpactScore: 40, Summary: "stale analysis",
	}))
	require.NoError(t, store.SaveAnalysisResult(ctx, &models.AnalysisResult{
		NewsID: fresh.ID, ImpactScore: 60, Summary: "fresh analysis",
	}))

	deleted, err := store.DeleteOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.ByID(ctx, stale.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	analyses, err := store.LatestAnalyses(ctx, []string{stale.ID, fresh.ID})
	require.NoError(t, err)
	assert.NotContains(t, analyses, stale.ID)
	assert.Contains(t, analyses, fresh.ID)
}

func TestLatestAnalysesPicksNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("multi")
	_, err := store.Save(ctx, item)
	require.NoError(t, err)

	require.NoError(t, store.SaveAnalysisResult(ctx, &models.AnalysisResult{
		NewsID: item.ID, ImpactScore: 10, Summary: "first",
	}))
	require.NoError(t, store.SaveAnalysisResult(ctx, &models.AnalysisResult{
		NewsID: item.ID, ImpactScore: 55, Summary: "second",
	}))

	analyses, err := store.LatestAnalyses(ctx, []string{item.ID})
	require.NoError(t, err)
	require.Contains(t, analyses, item.ID)
	assert.Equal(t, "second", analyses[item.ID].Summary)
	assert.Equal(t, 55.0, analyses[item.ID].ImpactScore)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	today := testItem("today")
	today.PublishTime = time.Now()
	older := testItem("older")
	older.Source = "Reuters"
	older.PublishTime = time.Now().AddDate(0, 0, -3)

	_, err := store.SaveBatch(ctx, []*models.NewsItem{today, older})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Today)
	assert.Equal(t, 1, stats.BySource["ChinaNews"])
	assert.Equal(t, 1, stats.BySource["Reuters"])
	assert.Equal(t, 2, stats.ByCategory["finance"])
}

func TestOptimize(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Optimize(context.Background()))
}

func TestMalformedKeywordListDecodesEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("malformed")
	_, err := store.Save(ctx, item)
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx,
		"UPDATE news_items SET keywords = 'not-json' WHERE id = ?", item.ID)
	require.NoError(t, err)

	got, err := store.ByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Keywords)
}

func TestLegacySchemaGainsImpactDegree(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx, `
		CREATE TABLE news_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT, source TEXT, publish_time TIMESTAMP, url TEXT,
			category TEXT, keywords TEXT,
			importance_score INTEGER DEFAULT 0,
			importance_reasoning TEXT, importance_factors TEXT,
			created_at TIMESTAMP, updated_at TIMESTAMP
		);
		CREATE TABLE analysis_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			news_id TEXT NOT NULL, impact_score REAL, impact_level TEXT,
			summary TEXT, analysis_time TIMESTAMP
		);`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := NewStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	item := testItem("legacy")
	item.ImpactDegree = "medium"
	_, err = store.Save(ctx, item)
	require.NoError(t, err)

	got, err := store.ByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "medium", got.ImpactDegree)
}
