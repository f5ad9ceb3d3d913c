package deep

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/finbrief/finbrief/pkg/models"
)

// evidence is one successful search round with its quality score.
type evidence struct {
	Query  string
	Result string
	Round  int
	Score  float64
}

// evidenceDigest aggregates the scored rounds for report synthesis and
// score adjustment.
type evidenceDigest struct {
	Summary       string
	TopEvidence   []evidence
	EvidenceCount int
	AvgScore      float64
}

// Keyword sets feeding the evidence quality rubric and the score
// adjustment in adjust.go.
var (
	authorityKeywords = []string{"官方", "政府", "央行", "证监会", "银保监会", "发改委", "财政部", "商务部", "新华社", "人民日报"}
	infoKeywords      = []string{"数据", "统计", "报告", "分析", "预测", "影响", "政策", "措施", "方案"}
	timeKeywords      = []string{"最新", "今日", "刚刚", "今年", "近期", "目前", "现在", "2024", "2025"}
)

// evaluateEvidence scores every successful round, keeps the best
// maxKept, and renders the digest the report prompt embeds.
func evaluateEvidence(rounds []evidence, item *models.NewsItem, maxKept int) evidenceDigest {
	if len(rounds) == 0 {
		return evidenceDigest{Summary: "未获取到有效搜索结果"}
	}

	scored := make([]evidence, len(rounds))
	total := 0.0
	for i, round := range rounds {
		round.Score = scoreEvidence(round.Result, item)
		scored[i] = round
		total += round.Score
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	top := scored
	if maxKept > 0 && len(top) > maxKept {
		top = top[:maxKept]
	}

	return evidenceDigest{
		Summary:       summarizeEvidence(top),
		TopEvidence:   top,
		EvidenceCount: len(rounds),
		AvgScore:      total / float64(len(rounds)),
	}
}

// scoreEvidence rates one search blob on a 0-10 scale: authority,
// relevance to the title, information density, freshness, and length.
func scoreEvidence(result string, item *models.NewsItem) float64 {
	score := 0.0

	authority := 0.0
	for _, kw := range authorityKeywords {
		if strings.Contains(result, kw) {
			authority += 0.5
			if authority >= 3 {
				break
			}
		}
	}
	score += minFloat(authority, 3)

	relevance := 0.0
	for _, word := range titleWords(item.Title, 5) {
		if strings.Contains(result, word) {
			relevance += 0.4
		}
	}
	score += minFloat(relevance, 2)

	info := 0.0
	for _, kw := range infoKeywords {
		if strings.Contains(result, kw) {
			info += 0.3
		}
	}
	score += minFloat(info, 2)

	freshness := 0.0
	for _, kw := range timeKeywords {
		if strings.Contains(result, kw) {
			freshness += 0.4
		}
	}
	score += minFloat(freshness, 2)

	switch length := len([]rune(result)); {
	case length >= 100 && length <= 2000:
		score += 1.0
	case (length >= 50 && length < 100) || (length > 2000 && length <= 5000):
		score += 0.5
	default:
		score += 0.1
	}

	return minFloat(score, 10)
}

// summarizeEvidence renders the kept rounds as numbered excerpts.
func summarizeEvidence(top []evidence) string {
	if len(top) == 0 {
		return "未获取到有效证据"
	}

	parts := make([]string, 0, len(top))
	for i, ev := range top {
		parts = append(parts, fmt.Sprintf("证据%d[查询: %s][评分: %.1f]: %s",
			i+1, ev.Query, ev.Score, excerpt(ev.Result, 200)))
	}
	return strings.Join(parts, "\n\n")
}

// titleWords splits a title into the first max word-like tokens of two
// or more runes, used for relevance matching.
func titleWords(title string, max int) []string {
	fields := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var words []string
	for _, field := range fields {
		if len([]rune(field)) >= 2 {
			words = append(words, field)
		}
		if len(words) == max {
			break
		}
	}
	return words
}

func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
