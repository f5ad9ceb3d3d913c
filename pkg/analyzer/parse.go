// Package analyzer implements the LLM-backed importance scorer and
// the concurrent impact analyzer.
package analyzer

import (
	"regexp"
	"strconv"
)

// jsonBlockPattern grabs the widest {...} substring of a model reply.
// Replies routinely wrap the requested JSON in prose or code fences.
var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSONBlock(text string) (string, bool) {
	block := jsonBlockPattern.FindString(text)
	return block, block != ""
}

// scoreTextPatterns recover a score from free-text replies when JSON
// parsing fails. Ordered from most to least specific phrasing.
var scoreTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`评分[：:]\s*(\d+)`),
	regexp.MustCompile(`重要程度[：:]\s*(\d+)`),
	regexp.MustCompile(`分数[：:]\s*(\d+)`),
	regexp.MustCompile(`(\d+)分`),
}

func extractScoreFromText(text string) (int, bool) {
	for _, pattern := range scoreTextPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		score, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if score >= 0 && score <= 100 {
			return score, true
		}
	}
	return 0, false
}

func clampInt(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clampFloat(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
