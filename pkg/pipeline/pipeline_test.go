package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrief/finbrief/pkg/analyzer"
	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/models"
	"github.com/finbrief/finbrief/pkg/storage"
)

type fakeCollector struct {
	items []*models.NewsItem
	calls int
}

func (f *fakeCollector) Collect(context.Context) []*models.NewsItem {
	f.calls++
	return f.items
}

// fakeScorer rates by title lookup, defaulting to 50.
type fakeScorer struct {
	scores map[string]int
}

func (f *fakeScorer) Score(_ context.Context, item *models.NewsItem) *analyzer.ImportanceResult {
	score := 50
	if s, ok := f.scores[item.Title]; ok {
		score = s
	}
	return &analyzer.ImportanceResult{
		NewsID:       item.ID,
		Title:        item.Title,
		Score:        score,
		Reasoning:    "测试评分",
		KeyFactors:   []string{"测试因素"},
		AnalysisTime: time.Now(),
		ModelUsed:    "fake",
	}
}

type fakeImpact struct {
	serialCalls int
	batchCalls  int
	analyzeErr  error
}

func (f *fakeImpact) result(item *models.NewsItem) *models.AnalysisResult {
	return &models.AnalysisResult{
		NewsID:       item.ID,
		ImpactScore:  20,
		ImpactLevel:  "中",
		Summary:      "对市场影响有限",
		AnalysisTime: time.Now(),
	}
}

func (f *fakeImpact) Analyze(_ context.Context, item *models.NewsItem) (*models.AnalysisResult, error) {
	f.serialCalls++
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.result(item), nil
}

func (f *fakeImpact) AnalyzeBatch(_ context.Context, items []*models.NewsItem) []*models.AnalysisResult {
	f.batchCalls++
	results := make([]*models.AnalysisResult, 0, len(items))
	for _, item := range items {
		results = append(results, f.result(item))
	}
	return results
}

// fakeDeep bumps every item at or above 70 by ten points.
type fakeDeep struct {
	calls int
}

func (f *fakeDeep) AnalyzeBatch(_ context.Context, items []*models.NewsItem) []*models.DeepAnalysisResult {
	f.calls++
	var results []*models.DeepAnalysisResult
	for _, item := range items {
		r := &models.DeepAnalysisResult{
			NewsID:        item.ID,
			Title:         item.Title,
			OriginalScore: item.ImportanceScore,
			AdjustedScore: item.ImportanceScore,
			ModelUsed:     "fake-model",
			AnalysisTime:  time.Now(),
		}
		if item.ImportanceScore < 70 {
			r.ModelUsed = models.DeepModelSkip
		} else {
			r.AdjustedScore = item.ImportanceScore + 10
			r.SearchSuccess = true
		}
		results = append(results, r)
	}
	return results
}

type sentMail struct {
	subject string
	body    string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{subject: subject, body: body})
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(context.Background(), filepath.Join(t.TempDir(), "news.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newsItem(title string) *models.NewsItem {
	return &models.NewsItem{
		Title:       title,
		Content:     title + "的详细内容",
		Source:      "新浪财经",
		PublishTime: time.Now().Add(-10 * time.Minute),
		URL:         "https://example.com/news/" + fmt.Sprintf("%x", []byte(title)),
		Category:    "财经",
	}
}

type testEnv struct {
	orch      *Orchestrator
	store     *storage.Store
	collector *fakeCollector
	impact    *fakeImpact
	deep      *fakeDeep
	mailer    *fakeMailer
}

func newTestEnv(t *testing.T, scores map[string]int, items ...*models.NewsItem) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newTestStore(t),
		collector: &fakeCollector{items: items},
		impact:    &fakeImpact{},
		deep:      &fakeDeep{},
		mailer:    &fakeMailer{},
	}
	cfg := &config.Config{}
	cfg.Database.Retention.MaxDays = 30
	env.orch = New(cfg, Deps{
		Collector: env.collector,
		Scorer:    &fakeScorer{scores: scores},
		Impact:    env.impact,
		Deep:      env.deep,
		Mailer:    env.mailer,
		Store:     env.store,
	})
	return env
}

func allStored(t *testing.T, store *storage.Store) []*models.NewsItem {
	t.Helper()
	items, err := store.Query(context.Background(), storage.QueryFilter{})
	require.NoError(t, err)
	return items
}

func TestIngestReturnsOnlyNewItems(t *testing.T) {
	first := newsItem("央行宣布降准")
	dup := newsItem("央行宣布降准")
	env := newTestEnv(t, nil, first, dup, newsItem("新能源板块走强"))

	fresh, err := env.orch.Ingest(context.Background())
	require.NoError(t, err)

	assert.Len(t, fresh, 2, "duplicate title collapses")
	assert.Len(t, allStored(t, env.store), 2)
}

func TestScoreAndAnalyzeWritesBack(t *testing.T) {
	env := newTestEnv(t, map[string]int{"央行宣布降准": 85})

	items := []*models.NewsItem{newsItem("央行宣布降准"), newsItem("某公司发布年报")}
	for _, item := range items {
		_, err := env.store.Save(context.Background(), item)
		require.NoError(t, err)
	}

	pairs, err := env.orch.ScoreAndAnalyze(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	// Two items run the serial path.
	assert.Equal(t, 2, env.impact.serialCalls)
	assert.Zero(t, env.impact.batchCalls)

	stored, err := env.store.ByID(context.Background(), items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 85, stored.ImportanceScore)
	assert.Equal(t, "测试评分", stored.ImportanceReasoning)
	assert.Equal(t, "中", stored.ImpactDegree)

	analyses, err := env.store.LatestAnalyses(context.Background(), []string{items[0].ID, items[1].ID})
	require.NoError(t, err)
	assert.Len(t, analyses, 2)
}

func TestScoreAndAnalyzeBatchesAtThreeItems(t *testing.T) {
	env := newTestEnv(t, nil)

	items := []*models.NewsItem{newsItem("新闻一"), newsItem("新闻二"), newsItem("新闻三")}
	for _, item := range items {
		_, err := env.store.Save(context.Background(), item)
		require.NoError(t, err)
	}

	_, err := env.orch.ScoreAndAnalyze(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 1, env.impact.batchCalls)
	assert.Zero(t, env.impact.serialCalls)
}

func TestScoreAndAnalyzeDegradesToPlaceholder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.impact.analyzeErr = errors.New("api down")

	item := newsItem("突发新闻")
	_, err := env.store.Save(context.Background(), item)
	require.NoError(t, err)

	pairs, err := env.orch.ScoreAndAnalyze(context.Background(), []*models.NewsItem{item})
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	assert.Zero(t, pairs[0].Result.ImpactScore)
	assert.NotEmpty(t, pairs[0].Result.Summary)
}

func TestFullCycleAppliesAdjustedScores(t *testing.T) {
	env := newTestEnv(t, map[string]int{"重大政策发布": 80}, newsItem("重大政策发布"), newsItem("日常市场波动"))

	pairs, err := env.orch.FullCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, 1, env.deep.calls)

	var adjusted, untouched *models.NewsItem
	for _, item := range allStored(t, env.store) {
		switch item.Title {
		case "重大政策发布":
			adjusted = item
		case "日常市场波动":
			untouched = item
		}
	}
	require.NotNil(t, adjusted)
	require.NotNil(t, untouched)
	assert.Equal(t, 90, adjusted.ImportanceScore, "deep analysis bump persisted")
	assert.Equal(t, 50, untouched.ImportanceScore, "skipped item keeps its score")
}

func TestMorningDigestFiltersAndSends(t *testing.T) {
	env := newTestEnv(t,
		map[string]int{"重要政策新闻": 85, "次要新闻": 30},
		newsItem("重要政策新闻"), newsItem("次要新闻"))

	require.NoError(t, env.orch.MorningDigest(context.Background()))

	require.Len(t, env.mailer.sent, 1)
	assert.Contains(t, env.mailer.sent[0].subject, "AI新闻分析报告")
	assert.Contains(t, env.mailer.sent[0].body, "重要政策新闻")
	assert.NotContains(t, env.mailer.sent[0].body, "次要新闻")
}

func TestMorningDigestUsesConfiguredSubject(t *testing.T) {
	env := newTestEnv(t, map[string]int{"重要政策新闻": 85}, newsItem("重要政策新闻"))
	env.orch.cfg.Email.Template.Subject = "财经晨报 {date}"
	env.orch.now = func() time.Time {
		return time.Date(2025, 3, 14, 8, 0, 0, 0, time.Local)
	}

	require.NoError(t, env.orch.MorningDigest(context.Background()))

	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "财经晨报 2025-03-14 08:00", env.mailer.sent[0].subject)
}

func TestMorningDigestSkipsWhenNothingQualifies(t *testing.T) {
	env := newTestEnv(t, map[string]int{"次要新闻": 30}, newsItem("次要新闻"))

	require.NoError(t, env.orch.MorningDigest(context.Background()))
	assert.Empty(t, env.mailer.sent)
}

func TestIntradaySkipsOutsideTradingHours(t *testing.T) {
	env := newTestEnv(t, nil, newsItem("盘后新闻"))
	env.orch.now = func() time.Time {
		return time.Date(2025, 3, 14, 18, 30, 0, 0, time.Local)
	}

	require.NoError(t, env.orch.IntradayTick(context.Background()))

	assert.Zero(t, env.collector.calls, "no collection outside the window")
	assert.Empty(t, env.mailer.sent)
}

func TestIntradaySendsOnlyAboveFloor(t *testing.T) {
	tests := []struct {
		name  string
		score int
		sent  bool
	}{
		{"below floor collects silently", 60, false},
		{"above floor emails", 90, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, map[string]int{"盘中新闻": tt.score}, newsItem("盘中新闻"))
			env.orch.now = func() time.Time {
				return time.Date(2025, 3, 14, 10, 0, 0, 0, time.Local)
			}

			require.NoError(t, env.orch.IntradayTick(context.Background()))

			assert.Equal(t, 1, env.collector.calls, "cycle ran either way")
			assert.Len(t, allStored(t, env.store), 1)
			if tt.sent {
				require.Len(t, env.mailer.sent, 1)
				assert.Contains(t, env.mailer.sent[0].subject, "盘中重要新闻")
			} else {
				assert.Empty(t, env.mailer.sent)
			}
		})
	}
}

func TestEveningCollectionNeverSends(t *testing.T) {
	env := newTestEnv(t, map[string]int{"晚间重磅新闻": 95}, newsItem("晚间重磅新闻"))

	require.NoError(t, env.orch.EveningCollection(context.Background()))

	assert.Empty(t, env.mailer.sent)
	assert.Len(t, allStored(t, env.store), 1)
}

func TestDailySummarySkipsEmptyDay(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.orch.DailySummary(context.Background()))
	assert.Empty(t, env.mailer.sent)
}

func TestDailySummarySendsTodayItems(t *testing.T) {
	env := newTestEnv(t, nil)

	item := newsItem("今日要闻")
	item.ImportanceScore = 75
	_, err := env.store.Save(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, env.orch.DailySummary(context.Background()))

	require.Len(t, env.mailer.sent, 1)
	assert.Contains(t, env.mailer.sent[0].subject, "每日新闻汇总")
	assert.Contains(t, env.mailer.sent[0].body, "今日要闻")
}

func TestMaintenancePurgesAndPrunes(t *testing.T) {
	env := newTestEnv(t, nil)

	logDir := t.TempDir()
	env.orch.cfg.Logging.Dir = logDir
	stale := filepath.Join(logDir, "finbrief-2025-03-01T00-00-00.000.log")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	old := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	expired := newsItem("过期新闻")
	expired.PublishTime = time.Now().AddDate(0, 0, -100)
	_, err := env.store.Save(context.Background(), expired)
	require.NoError(t, err)
	kept := newsItem("近期新闻")
	_, err = env.store.Save(context.Background(), kept)
	require.NoError(t, err)

	require.NoError(t, env.orch.Maintenance(context.Background()))

	remaining := allStored(t, env.store)
	require.Len(t, remaining, 1)
	assert.Equal(t, "近期新闻", remaining[0].Title)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "stale log removed")
}

func TestDispatchWithoutMailerIsNoOp(t *testing.T) {
	env := newTestEnv(t, map[string]int{"重要新闻": 90}, newsItem("重要新闻"))
	env.orch.deps.Mailer = nil

	require.NoError(t, env.orch.MorningDigest(context.Background()))
	assert.Len(t, allStored(t, env.store), 1, "cycle still persisted")
}

func TestWithinTradingHoursBounds(t *testing.T) {
	day := func(h, m int) time.Time {
		return time.Date(2025, 3, 14, h, m, 0, 0, time.Local)
	}

	assert.False(t, withinTradingHours(day(7, 59)))
	assert.True(t, withinTradingHours(day(8, 0)))
	assert.True(t, withinTradingHours(day(12, 30)))
	assert.True(t, withinTradingHours(day(16, 0)))
	assert.False(t, withinTradingHours(day(16, 1)))
}
