package deep

import (
	"log/slog"
	"strings"
)

// Keyword sets driving the evidence-based score adjustment.
var (
	highImpactKeywords = []string{"重大", "突破", "关键", "显著", "急剧", "暴跌", "暴涨", "重要"}
	marketKeywords     = []string{"政策", "利率", "汇率", "央行", "监管", "改革", "风险"}
	summaryAuthorities = []string{"央行", "银保监会", "证监会", "政府", "官方", "新华社", "人民日报"}
)

// adjustScore raises the importance score based on evidence quality,
// evidence volume, and the language of the synthesized report. The
// adjustment only ever adds; the result stays within [0,100].
func adjustScore(originalScore int, report string, digest evidenceDigest) int {
	adjustment := 0

	switch {
	case digest.AvgScore >= 7.0:
		adjustment += 10
	case digest.AvgScore >= 5.0:
		adjustment += 6
	case digest.AvgScore >= 3.0:
		adjustment += 3
	}

	switch {
	case digest.EvidenceCount >= 3:
		adjustment += 3
	case digest.EvidenceCount >= 2:
		adjustment += 2
	}

	adjustment += minInt(countContained(report, highImpactKeywords)*2, 6)
	adjustment += minInt(countContained(report, marketKeywords), 4)

	authorityCount := countContained(digest.Summary, summaryAuthorities)
	adjustment += minInt(authorityCount, 5)

	adjusted := originalScore + adjustment
	if adjusted > 100 {
		adjusted = 100
	}
	if adjusted < 0 {
		adjusted = 0
	}

	slog.Info("Evidence-based score adjustment",
		"original", originalScore, "adjusted", adjusted, "delta", adjustment,
		"avg_evidence_score", digest.AvgScore,
		"evidence_count", digest.EvidenceCount,
		"authority_hits", authorityCount)
	return adjusted
}

func countContained(text string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	return count
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
