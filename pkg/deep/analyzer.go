// Package deep implements the evidence-driven deep analysis loop:
// query planning, iterative web search, evidence scoring, report
// synthesis, and importance score adjustment.
package deep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/llm"
	"github.com/finbrief/finbrief/pkg/models"
	"github.com/finbrief/finbrief/pkg/workpool"
)

// Searcher turns one query into an opaque evidence blob. ok reports
// whether the blob carries usable content.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (string, bool)
}

// searchResultsPerQuery is passed to the searcher for every round.
const searchResultsPerQuery = 3

// maxTokensCeiling caps the per-call token budget regardless of config;
// larger values get requests rejected by some hosted models.
const maxTokensCeiling = 100000

// Sentinel texts for skipped and failed analyses.
const (
	skipSummary = "未触发深度分析条件"
	skipReport  = "该新闻重要性分数未达到深度分析阈值"
	errorReport = "由于技术问题，无法完成深度分析"
)

// Analyzer runs deep analysis on high-importance news.
type Analyzer struct {
	client      llm.Chatter
	searcher    Searcher
	cfg         config.DeepAnalysisConfig
	callTimeout time.Duration
}

// NewAnalyzer creates a deep analyzer. The AI config supplies both the
// deep-analysis tuning and the per-call timeout.
func NewAnalyzer(client llm.Chatter, searcher Searcher, cfg config.AIAnalysisConfig) *Analyzer {
	return &Analyzer{
		client:      client,
		searcher:    searcher,
		cfg:         cfg.DeepAnalysis,
		callTimeout: cfg.AnalysisParams.SingleShotTimeout(),
	}
}

// ShouldAnalyze reports whether the item clears the importance gate.
func (a *Analyzer) ShouldAnalyze(item *models.NewsItem) bool {
	return a.cfg.IsEnabled() && item.ImportanceScore >= a.cfg.ScoreThreshold
}

// Analyze runs the full loop for one item. It never returns an error:
// below-threshold items get a skip result and failures get an error
// result, both carrying the original score unchanged.
func (a *Analyzer) Analyze(ctx context.Context, item *models.NewsItem) *models.DeepAnalysisResult {
	if !a.ShouldAnalyze(item) {
		slog.Debug("Deep analysis skipped", "title", item.Title, "score", item.ImportanceScore)
		return a.skipResult(item)
	}

	slog.Info("Starting deep analysis", "title", clip(item.Title, 50))

	result, err := a.analyzeWithSearch(ctx, item)
	if err != nil {
		slog.Error("Deep analysis failed", "title", item.Title, "error", err)
		return a.errorResult(item, err)
	}
	return result
}

// AnalyzeBatch runs the eligible subset of items over a bounded worker
// pool. Ineligible items are dropped, not skipped-in-place; results
// come back ordered by original score, highest first.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, items []*models.NewsItem) []*models.DeepAnalysisResult {
	var eligible []*models.NewsItem
	for _, item := range items {
		if a.ShouldAnalyze(item) {
			eligible = append(eligible, item)
		}
	}
	if len(eligible) == 0 {
		slog.Info("No news eligible for deep analysis")
		return nil
	}

	slog.Info("Starting batch deep analysis",
		"eligible", len(eligible), "max_concurrent", a.cfg.MaxConcurrent)

	results := workpool.Map(ctx, eligible, a.cfg.MaxConcurrent,
		func(ctx context.Context, _ int, item *models.NewsItem) *models.DeepAnalysisResult {
			return a.Analyze(ctx, item)
		})

	// Cancellation mid-batch leaves nil entries for items the pool
	// never dispatched; substitute error results so every eligible
	// item comes back with a non-nil result.
	for i, r := range results {
		if r == nil {
			results[i] = a.errorResult(eligible[i], fmt.Errorf("deep analysis not dispatched: %w", ctx.Err()))
		}
	}

	sortByOriginalScore(results)
	return results
}

func (a *Analyzer) analyzeWithSearch(ctx context.Context, item *models.NewsItem) (*models.DeepAnalysisResult, error) {
	queries := a.planQueries(ctx, item)
	slog.Info("Planned search queries", "queries", queries)

	var rounds []evidence
	for i, query := range queries {
		blob, ok := a.searcher.Search(ctx, query, searchResultsPerQuery)
		if !ok {
			slog.Warn("Search round returned no usable evidence", "round", i+1, "query", query)
			continue
		}
		rounds = append(rounds, evidence{Query: query, Result: blob, Round: i + 1})
		slog.Info("Search round succeeded", "round", i+1, "length", len(blob))

		if len(rounds) >= a.cfg.EvidenceThreshold {
			slog.Info("Evidence threshold met, stopping search early", "rounds", len(rounds))
			break
		}
	}

	digest := evaluateEvidence(rounds, item, a.cfg.MaxEvidenceKept)

	report, err := a.synthesizeReport(ctx, item, digest)
	if err != nil {
		return nil, err
	}

	adjusted := item.ImportanceScore
	if a.cfg.AdjustScores() {
		adjusted = adjustScore(item.ImportanceScore, report, digest)
	}

	keywords := make([]string, 0, len(rounds))
	for _, round := range rounds {
		keywords = append(keywords, round.Query)
	}

	slog.Info("Deep analysis complete",
		"title", clip(item.Title, 50),
		"original_score", item.ImportanceScore,
		"adjusted_score", adjusted)

	return &models.DeepAnalysisResult{
		NewsID:               item.ID,
		Title:                item.Title,
		OriginalScore:        item.ImportanceScore,
		AdjustedScore:        adjusted,
		SearchKeywords:       keywords,
		SearchResultsSummary: digest.Summary,
		DeepAnalysisReport:   report,
		SearchSuccess:        len(rounds) > 0,
		AnalysisTime:         time.Now(),
		ModelUsed:            a.client.Model(),
	}, nil
}

// synthesizeReport asks the model for a report grounded in the
// evidence digest, strips boilerplate prefixes, and enforces the
// configured length cap.
func (a *Analyzer) synthesizeReport(ctx context.Context, item *models.NewsItem, digest evidenceDigest) (string, error) {
	reply, err := a.callModel(ctx, buildReportPrompt(item, digest))
	if err != nil {
		return "", fmt.Errorf("report synthesis failed: %w", err)
	}

	report := strings.TrimSpace(reply)
	for _, prefix := range []string{"深度分析报告：", "分析报告：", "报告：", "分析："} {
		if strings.HasPrefix(report, prefix) {
			report = strings.TrimSpace(strings.TrimPrefix(report, prefix))
			break
		}
	}

	if runes := []rune(report); a.cfg.ReportMaxLength > 3 && len(runes) > a.cfg.ReportMaxLength {
		report = string(runes[:a.cfg.ReportMaxLength-3]) + "..."
	}
	return report, nil
}

func (a *Analyzer) callModel(ctx context.Context, prompt string) (string, error) {
	maxTokens := a.cfg.MaxTokens
	if maxTokens > maxTokensCeiling {
		maxTokens = maxTokensCeiling
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	return a.client.Chat(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: maxTokens,
		Timeout:   a.callTimeout,
	})
}

func (a *Analyzer) skipResult(item *models.NewsItem) *models.DeepAnalysisResult {
	return &models.DeepAnalysisResult{
		NewsID:               item.ID,
		Title:                item.Title,
		OriginalScore:        item.ImportanceScore,
		AdjustedScore:        item.ImportanceScore,
		SearchKeywords:       []string{},
		SearchResultsSummary: skipSummary,
		DeepAnalysisReport:   skipReport,
		SearchSuccess:        false,
		AnalysisTime:         time.Now(),
		ModelUsed:            models.DeepModelSkip,
	}
}

func (a *Analyzer) errorResult(item *models.NewsItem, err error) *models.DeepAnalysisResult {
	return &models.DeepAnalysisResult{
		NewsID:               item.ID,
		Title:                item.Title,
		OriginalScore:        item.ImportanceScore,
		AdjustedScore:        item.ImportanceScore,
		SearchKeywords:       []string{},
		SearchResultsSummary: fmt.Sprintf("分析过程出错: %v", err),
		DeepAnalysisReport:   errorReport,
		SearchSuccess:        false,
		AnalysisTime:         time.Now(),
		ModelUsed:            models.DeepModelError,
	}
}

func buildReportPrompt(item *models.NewsItem, digest evidenceDigest) string {
	return fmt.Sprintf(`作为专业的财经分析师，请基于以下证据和新闻信息，生成一份200字以内的深度分析报告。

原始新闻：
标题：%s
内容：%s
来源：%s
重要性分数：%d分

证据汇总：
%s

请基于原始新闻和证据，生成一份200字以内的深度分析报告，重点分析：
1. 新闻的深层影响和意义
2. 对相关行业或市场的潜在影响
3. 可能的发展趋势
4. 投资者需要关注的要点

要求：
- 专业、客观、准确
- 控制在200字以内
- 重点突出，条理清晰
- 结合证据提供更深层次的洞察

深度分析报告：`,
		item.Title, item.Content, item.Source, item.ImportanceScore, digest.Summary)
}

func sortByOriginalScore(results []*models.DeepAnalysisResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].OriginalScore > results[j].OriginalScore
	})
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
