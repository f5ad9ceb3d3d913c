package report

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrief/finbrief/pkg/models"
)

var renderTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)

func pair(title string, importance int, impact float64) Pair {
	return Pair{
		Item: &models.NewsItem{
			ID:              "id-" + title,
			Title:           title,
			Content:         "内容" + title,
			Source:          "ChinaNews",
			PublishTime:     renderTime.Add(-time.Hour),
			ImportanceScore: importance,
		},
		Result: &models.AnalysisResult{
			NewsID:      "id-" + title,
			ImpactScore: impact,
			Summary:     "摘要" + title,
		},
	}
}

func TestRenderAnalysisCounts(t *testing.T) {
	pairs := []Pair{
		pair("a", 85, 20),  // positive, high importance, high impact
		pair("b", 60, -12), // negative, medium importance, high impact
		pair("c", 30, 2),   // neutral, low importance
	}

	html, err := RenderAnalysis(pairs, renderTime)
	require.NoError(t, err)

	assert.Contains(t, html, "本次共分析 <strong>3</strong> 条新闻")
	assert.Contains(t, html, "报告生成时间: 2025年03月14日 09:30:00")
	assert.Contains(t, html, "🔥 高影响新闻 (2条)")
	assert.Contains(t, html, "影响: 20.0")
	assert.Contains(t, html, "影响: -12.0")
	assert.Contains(t, html, "重要性: 高")
	assert.Contains(t, html, "重要性: 低")
	assert.Contains(t, html, "⚠️ 免责声明")
	assert.Contains(t, html, `name="viewport"`)
	assert.Contains(t, html, "@media (max-width: 480px)")
}

func TestRenderAnalysisSortsByAbsoluteImpact(t *testing.T) {
	pairs := []Pair{
		pair("small", 50, 1),
		pair("big-negative", 50, -30),
		pair("medium", 50, 15),
	}

	html, err := RenderAnalysis(pairs, renderTime)
	require.NoError(t, err)

	allSection := html[strings.Index(html, "全部新闻分析"):]
	posBig := strings.Index(allSection, ">big-negative<")
	posMedium := strings.Index(allSection, ">medium<")
	posSmall := strings.Index(allSection, ">small<")
	assert.True(t, posBig < posMedium && posMedium < posSmall,
		"items ordered by |impact_score| descending")
}

func TestRenderAnalysisCapsHighImpactAtFive(t *testing.T) {
	var pairs []Pair
	for i := 0; i < 8; i++ {
		pairs = append(pairs, pair(fmt.Sprintf("hi-%d", i), 80, 50))
	}

	html, err := RenderAnalysis(pairs, renderTime)
	require.NoError(t, err)
	assert.Contains(t, html, "🔥 高影响新闻 (5条)")
}

func TestRenderAnalysisExcerptTruncated(t *testing.T) {
	p := pair("long", 80, 20)
	p.Item.Content = strings.Repeat("长", 300)

	html, err := RenderAnalysis([]Pair{p}, renderTime)
	require.NoError(t, err)
	assert.Contains(t, html, strings.Repeat("长", 200)+"...")
	assert.NotContains(t, html, strings.Repeat("长", 201))
}

func TestRenderInstantCapsAtTen(t *testing.T) {
	var items []*models.NewsItem
	for i := 0; i < 15; i++ {
		items = append(items, &models.NewsItem{
			Title:           fmt.Sprintf("新闻-%d", i),
			Content:         "内容",
			Source:          "src",
			ImportanceScore: 90 - i,
		})
	}

	html, err := RenderInstant(items, renderTime)
	require.NoError(t, err)
	assert.Contains(t, html, "新闻数量: 15 条")
	assert.Contains(t, html, "新闻-9")
	assert.NotContains(t, html, "新闻-10")
}

func TestRenderInstantBadges(t *testing.T) {
	items := []*models.NewsItem{
		{Title: "高", ImportanceScore: 85, ImportanceFactors: []string{"政策", "利率"}},
		{Title: "中", ImportanceScore: 55},
		{Title: "低", ImportanceScore: 20},
	}

	html, err := RenderInstant(items, renderTime)
	require.NoError(t, err)
	assert.Contains(t, html, "🔴")
	assert.Contains(t, html, "🟡")
	assert.Contains(t, html, "🟢")
	assert.Contains(t, html, "政策、利率")
	assert.Contains(t, html, "关键因素:</strong> 暂无")
}

func TestRenderDailyBucketsAndAverage(t *testing.T) {
	items := []*models.NewsItem{
		{Title: "高一", Content: "c", ImportanceScore: 90},
		{Title: "中一", Content: "c", ImportanceScore: 50},
		{Title: "低一", Content: "c", ImportanceScore: 10},
	}
	stats := &models.StoreStats{Total: 1234, Today: 3}

	html, err := RenderDaily(items, stats, renderTime)
	require.NoError(t, err)

	assert.Contains(t, html, "2025年03月14日")
	assert.Contains(t, html, ">50.0<", "average of 90/50/10")
	assert.Contains(t, html, "🔴 高重要性新闻")
	assert.Contains(t, html, "🟡 中等重要性新闻")
	assert.Contains(t, html, "今日还有 1 条低重要性新闻")
	assert.Contains(t, html, "库存总量: 1234 条")
}

func TestRenderDailyEmpty(t *testing.T) {
	html, err := RenderDaily(nil, nil, renderTime)
	require.NoError(t, err)
	assert.Contains(t, html, ">0.0<")
	assert.NotContains(t, html, "高重要性新闻</h2>")
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "📰 早间新闻 - 09:30", InstantSubject("早间新闻", renderTime))
	assert.Equal(t, "📊 每日新闻汇总 - 2025年03月14日", DailySubject(renderTime))
}
