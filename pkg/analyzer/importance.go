package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finbrief/finbrief/pkg/llm"
	"github.com/finbrief/finbrief/pkg/models"
)

// maxKeyFactors bounds the explanatory factor list.
const maxKeyFactors = 5

// defaultImportanceScore is returned when the model reply cannot be
// parsed at all.
const defaultImportanceScore = 50

// ImportanceResult is the scorer's output for one item.
type ImportanceResult struct {
	NewsID       string
	Title        string
	Score        int
	Reasoning    string
	KeyFactors   []string
	AnalysisTime time.Time
	ModelUsed    string
}

// ImportanceScorer rates market importance on a 0-100 scale. With a
// nil client it runs in heuristic mode: keyword-weighted title scoring
// so dry runs without an API key still produce ordered output.
type ImportanceScorer struct {
	client  llm.Chatter
	timeout time.Duration
}

// NewImportanceScorer creates a scorer. client may be nil.
func NewImportanceScorer(client llm.Chatter, timeout time.Duration) *ImportanceScorer {
	return &ImportanceScorer{client: client, timeout: timeout}
}

// Score rates one item. It never fails: API and parse errors degrade
// to conservative defaults with the degradation recorded in Reasoning.
func (s *ImportanceScorer) Score(ctx context.Context, item *models.NewsItem) *ImportanceResult {
	if s.client == nil {
		return s.heuristicScore(item)
	}

	reply, err := s.client.Chat(ctx, llm.Request{
		Prompt:  buildImportancePrompt(item),
		Timeout: s.timeout,
	})
	if err != nil {
		slog.Error("Importance scoring call failed", "title", item.Title, "error", err)
		return &ImportanceResult{
			NewsID:       item.ID,
			Title:        item.Title,
			Score:        defaultImportanceScore,
			Reasoning:    "由于API调用失败，使用默认评分",
			KeyFactors:   []string{"API错误"},
			AnalysisTime: time.Now(),
			ModelUsed:    s.client.Model(),
		}
	}

	result := s.parseReply(item, reply)
	slog.Info("Importance scored", "title", truncate(item.Title, 50), "score", result.Score)
	return result
}

// ScoreBatch rates items serially. Importance scoring is a reasoning
// call per item; pacing comes from the per-call timeout rather than a
// pool.
func (s *ImportanceScorer) ScoreBatch(ctx context.Context, items []*models.NewsItem) []*ImportanceResult {
	results := make([]*ImportanceResult, 0, len(items))
	for i, item := range items {
		results = append(results, s.Score(ctx, item))
		slog.Debug("Importance batch progress", "done", i+1, "total", len(items))
	}
	return results
}

type importanceReply struct {
	ImportanceScore json.Number `json:"importance_score"`
	Reasoning       string      `json:"reasoning"`
	KeyFactors      []string    `json:"key_factors"`
}

func (s *ImportanceScorer) parseReply(item *models.NewsItem, reply string) *ImportanceResult {
	result := &ImportanceResult{
		NewsID:       item.ID,
		Title:        item.Title,
		AnalysisTime: time.Now(),
		ModelUsed:    s.client.Model(),
	}

	if block, ok := extractJSONBlock(reply); ok {
		var parsed importanceReply
		if err := json.Unmarshal([]byte(block), &parsed); err == nil {
			score, _ := parsed.ImportanceScore.Int64()
			result.Score = clampInt(int(score))
			result.Reasoning = parsed.Reasoning
			if result.Reasoning == "" {
				result.Reasoning = "AI分析过程"
			}
			result.KeyFactors = parsed.KeyFactors
			if len(result.KeyFactors) > maxKeyFactors {
				result.KeyFactors = result.KeyFactors[:maxKeyFactors]
			}
			return result
		}
	}

	// No parsable JSON: recover a score from the text if possible.
	if score, ok := extractScoreFromText(reply); ok {
		result.Score = score
		result.Reasoning = truncate(reply, 500)
		result.KeyFactors = []string{"AI文本分析"}
		return result
	}

	slog.Warn("Importance reply unparsable, using default score", "title", item.Title)
	result.Score = defaultImportanceScore
	result.Reasoning = "解析失败，使用默认评分"
	result.KeyFactors = []string{"解析失败"}
	return result
}

// Heuristic keyword weights used when no LLM client is configured.
var (
	highImportanceKeywords = []string{
		"央行", "政策", "监管", "重大", "重要", "突发", "紧急", "暴跌", "暴涨", "停牌", "IPO",
	}
	mediumImportanceKeywords = []string{
		"财报", "业绩", "增长", "下跌", "上涨", "合作", "投资", "收购",
	}
)

func (s *ImportanceScorer) heuristicScore(item *models.NewsItem) *ImportanceResult {
	score := 40
	var factors []string

	for _, kw := range highImportanceKeywords {
		if strings.Contains(item.Title, kw) {
			score += 15
			factors = append(factors, "包含高重要性关键词: "+kw)
		}
	}
	for _, kw := range mediumImportanceKeywords {
		if strings.Contains(item.Title, kw) {
			score += 8
			factors = append(factors, "包含中等重要性关键词: "+kw)
		}
	}

	if score < 20 {
		score = 20
	}
	if score > 80 {
		score = 80
	}
	if len(factors) > maxKeyFactors {
		factors = factors[:maxKeyFactors]
	}
	if len(factors) == 0 {
		factors = []string{"标题分析"}
	}

	return &ImportanceResult{
		NewsID:       item.ID,
		Title:        item.Title,
		Score:        score,
		Reasoning:    fmt.Sprintf("基于标题关键词的启发式分析，评分为%d分", score),
		KeyFactors:   factors,
		AnalysisTime: time.Now(),
		ModelUsed:    "heuristic",
	}
}

func buildImportancePrompt(item *models.NewsItem) string {
	return fmt.Sprintf(`请分析以下财经新闻的重要程度，并给出0-100分的评分。

新闻信息：
- 标题：%s
- 内容：%s
- 来源：%s
- 分类：%s
- 发布时间：%s

评分标准：
- 90-100分：极其重要，可能引发市场剧烈波动的重大事件
- 80-89分：很重要，对市场有显著影响的重要消息
- 70-79分：重要，对相关行业或板块有明显影响
- 60-69分：中等重要，有一定市场关注度
- 40-59分：一般重要，日常性财经新闻
- 20-39分：较低重要，影响有限的消息
- 0-19分：不重要，几乎无市场影响

请深入思考并分析：
1. 这条新闻涉及哪些关键要素？
2. 对股市、行业、经济的潜在影响有多大？
3. 新闻的时效性和权威性如何？
4. 是否涉及政策、监管、重大事件？
5. 对投资者决策的参考价值有多高？

请以JSON格式返回分析结果：
{
    "importance_score": 分数(0-100整数),
    "reasoning": "详细的分析推理过程",
    "key_factors": ["影响重要程度的关键因素1", "关键因素2", "关键因素3"]
}`,
		item.Title, item.Content, item.Source, item.Category,
		item.PublishTime.Format("2006-01-02 15:04:05"))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
