package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/llm"
	"github.com/finbrief/finbrief/pkg/models"
	"github.com/finbrief/finbrief/pkg/workpool"
)

// Sentinel summaries for degraded results.
const (
	summaryParseFailure = "AI解析失败，使用默认分析结果"
	summaryCallFailure  = "分析过程中出现错误，无法生成有效分析"
)

// interBatchPause smooths bursts between sub-batches so the rate
// limiter never sees the full batch at once.
const interBatchPause = 500 * time.Millisecond

// ErrParseFailure marks a model reply that carried no usable JSON.
var ErrParseFailure = errors.New("impact analysis reply could not be parsed")

const impactSystemPrompt = "你是一位专业的A股市场分析师，擅长分析财经新闻对股市的影响。请严格按照要求的JSON格式输出分析结果。"

// ImpactAnalyzer produces bounded impact scores and one-line summaries,
// with a concurrency-limited, rate-limited batch path.
type ImpactAnalyzer struct {
	client  llm.Chatter
	params  config.AnalysisParams
	limiter *rate.Limiter

	// pause is swappable in tests.
	pause func(ctx context.Context, d time.Duration)
}

// NewImpactAnalyzer creates an analyzer over the given client.
func NewImpactAnalyzer(client llm.Chatter, params config.AnalysisParams) *ImpactAnalyzer {
	return &ImpactAnalyzer{
		client: client,
		params: params,
		// Tokens regenerate continuously at rate_limit per minute;
		// burst 1 keeps any 60-second window at or under the cap.
		limiter: rate.NewLimiter(rate.Limit(float64(params.RateLimit)/60.0), 1),
		pause: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Analyze runs the single-item path: retry/fallback via the client,
// strict JSON parsing. Call and parse failures return errors; the
// batch path converts them to placeholder results.
func (a *ImpactAnalyzer) Analyze(ctx context.Context, item *models.NewsItem) (*models.AnalysisResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reply, err := a.client.ChatWithFallback(ctx, llm.Request{
		SystemPrompt: impactSystemPrompt,
		Prompt:       buildImpactPrompt(item),
		Timeout:      a.params.RequestTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("impact analysis call failed: %w", err)
	}

	result, err := parseImpactReply(item.ID, reply)
	if err != nil {
		return nil, err
	}

	slog.Info("Impact analyzed",
		"title", truncate(item.Title, 50),
		"impact_score", result.ImpactScore)
	return result, nil
}

// AnalyzeBatch fans items out over a bounded worker pool in sub-batches
// of batch_size with a short pause in between. Output order matches
// input order; per-item failures yield placeholder results and never
// abort the batch.
func (a *ImpactAnalyzer) AnalyzeBatch(ctx context.Context, items []*models.NewsItem) []*models.AnalysisResult {
	results := make([]*models.AnalysisResult, 0, len(items))

	batchSize := a.params.BatchSize
	if batchSize <= 0 {
		batchSize = len(items)
	}

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		sub := items[start:end]

		slog.Info("Analyzing sub-batch",
			"from", start, "to", end, "total", len(items),
			"max_concurrent", a.params.MaxConcurrent)

		batchResults := workpool.Map(ctx, sub, a.params.MaxConcurrent,
			func(ctx context.Context, _ int, item *models.NewsItem) *models.AnalysisResult {
				result, err := a.Analyze(ctx, item)
				if err == nil {
					return result
				}
				slog.Error("Impact analysis degraded to placeholder",
					"title", item.Title, "error", err)
				return PlaceholderResult(item.ID, err)
			})
		// Cancellation mid-batch leaves nil entries for items the pool
		// never dispatched; substitute placeholders so callers always
		// see one non-nil result per item.
		for i, r := range batchResults {
			if r == nil {
				batchResults[i] = PlaceholderResult(sub[i].ID, fmt.Errorf("impact analysis not dispatched: %w", ctx.Err()))
			}
		}
		results = append(results, batchResults...)

		if end < len(items) {
			a.pause(ctx, interBatchPause)
		}
	}
	return results
}

// PlaceholderResult builds the degraded result substituted for a
// failed analysis, with the summary distinguishing parse failures
// from call failures.
func PlaceholderResult(newsID string, err error) *models.AnalysisResult {
	summary := summaryCallFailure
	if errors.Is(err, ErrParseFailure) {
		summary = summaryParseFailure
	}
	return &models.AnalysisResult{
		NewsID:       newsID,
		ImpactScore:  0,
		Summary:      summary,
		AnalysisTime: time.Now(),
	}
}

type impactReply struct {
	ImpactScore json.Number `json:"impact_score"`
	ImpactLevel string      `json:"impact_level"`
	Summary     string      `json:"summary"`
}

func parseImpactReply(newsID, reply string) (*models.AnalysisResult, error) {
	block, ok := extractJSONBlock(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrParseFailure)
	}

	var parsed impactReply
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	score, _ := parsed.ImpactScore.Float64()
	return &models.AnalysisResult{
		NewsID:       newsID,
		ImpactScore:  clampFloat(score),
		ImpactLevel:  parsed.ImpactLevel,
		Summary:      truncate(parsed.Summary, 100),
		AnalysisTime: time.Now(),
	}, nil
}

func buildImpactPrompt(item *models.NewsItem) string {
	return fmt.Sprintf(`请分析以下财经新闻对A股市场的影响。

新闻标题：%s
新闻内容：%s
发布时间：%s

请以JSON格式返回分析结果：
{
    "impact_score": 影响程度分数(0-100数字),
    "impact_level": "影响等级(高/中/低)",
    "summary": "不超过100字的影响分析摘要"
}`,
		item.Title, item.Content, item.PublishTime.Format("2006-01-02 15:04:05"))
}
