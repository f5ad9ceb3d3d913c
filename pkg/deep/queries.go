package deep

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/finbrief/finbrief/pkg/models"
)

// numberedLinePattern matches "1. query" / "2 query" list items in the
// model's query-plan reply.
var numberedLinePattern = regexp.MustCompile(`^\d+\.?\s*`)

// minQueryLength filters out fragments too short to be a search query.
const minQueryLength = 5

// fallbackTitleRunes bounds the title prefix used for degraded queries.
const fallbackTitleRunes = 25

// planQueries asks the model for 1-3 targeted search queries. Any
// failure degrades to a single title-derived query so the search loop
// always has something to run.
func (a *Analyzer) planQueries(ctx context.Context, item *models.NewsItem) []string {
	reply, err := a.callModel(ctx, buildQueryPlanPrompt(item))
	if err != nil {
		slog.Error("Search query planning failed", "title", item.Title, "error", err)
		return []string{titlePrefix(item.Title) + " 相关信息"}
	}

	queries := parseQueryList(reply, a.cfg.MaxSearchRounds)
	if len(queries) == 0 {
		fallback := titlePrefix(item.Title) + " 最新消息"
		slog.Warn("Query plan reply carried no usable queries, using fallback", "query", fallback)
		return []string{fallback}
	}
	return queries
}

// parseQueryList extracts queries from a numbered-list reply. Unnumbered
// lines count too unless they read like instructions echoed back.
func parseQueryList(reply string, limit int) []string {
	var queries []string
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if numberedLinePattern.MatchString(line) {
			query := strings.TrimSpace(numberedLinePattern.ReplaceAllString(line, ""))
			if len([]rune(query)) >= minQueryLength {
				queries = append(queries, query)
			}
			continue
		}
		if hasInstructionPrefix(line) {
			continue
		}
		if len([]rune(line)) >= minQueryLength {
			queries = append(queries, line)
		}
	}
	if limit > 0 && len(queries) > limit {
		queries = queries[:limit]
	}
	return queries
}

func hasInstructionPrefix(line string) bool {
	for _, prefix := range []string{"要求", "请", "注意", "格式"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func titlePrefix(title string) string {
	runes := []rune(title)
	if len(runes) > fallbackTitleRunes {
		runes = runes[:fallbackTitleRunes]
	}
	return string(runes)
}

func buildQueryPlanPrompt(item *models.NewsItem) string {
	return fmt.Sprintf(`作为专业的财经信息分析师，请基于以下新闻生成1-3个最有价值的搜索查询，用于获取相关背景信息和深度分析素材。

新闻信息：
标题：%s
内容：%s
来源：%s
重要性分数：%d分

请生成查询时考虑：
1.先查询原新闻，再查询相关新闻
2.考虑相关公司、行业、政策

要求：
- 每个查询15-30字，精确有针对性
- 避免过于宽泛的搜索词
- 优先获取权威、时效性强的信息
- 查询应互补，覆盖不同维度

请直接输出查询列表，每行一个，格式如：
1. 查询内容1
2. 查询内容2
3. 查询内容3`,
		item.Title, item.Content, item.Source, item.ImportanceScore)
}
