// Package report renders the HTML email bodies: the impact analysis
// report, the instant importance digest, and the daily summary.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/finbrief/finbrief/pkg/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("report").ParseFS(templateFS, "templates/*.tmpl"))

// Classification thresholds.
const (
	sentimentBand     = 5.0  // |impact| ≤ band is neutral
	highImpactCutoff  = 10.0 // |impact| above this lands in the high-impact section
	maxHighImpact     = 5
	maxInstantItems   = 10
	maxSummaryPerTier = 10
)

// Pair joins a news item with its latest impact analysis.
type Pair struct {
	Item   *models.NewsItem
	Result *models.AnalysisResult
}

type analysisItemView struct {
	Title           string
	Source          string
	TimeStr         string
	ImpactScore     string
	ImpactClass     string
	ImportanceLevel string
	ImportanceText  string
	Summary         string
	Excerpt         string
}

type analysisView struct {
	GeneratedAt      string
	GeneratedAtFull  string
	Total            int
	Positive         int
	Negative         int
	Neutral          int
	HighImportance   int
	MediumImportance int
	LowImportance    int
	HighImpact       []analysisItemView
	All              []analysisItemView
}

// RenderAnalysis renders the full impact analysis report from
// item/result pairs.
func RenderAnalysis(pairs []Pair, now time.Time) (string, error) {
	view := analysisView{
		GeneratedAt:     now.Format("2006年01月02日 15:04:05"),
		GeneratedAtFull: now.Format("2006-01-02 15:04:05"),
		Total:           len(pairs),
	}

	for _, p := range pairs {
		switch {
		case p.Result.ImpactScore > sentimentBand:
			view.Positive++
		case p.Result.ImpactScore < -sentimentBand:
			view.Negative++
		default:
			view.Neutral++
		}
		switch {
		case p.Item.ImportanceScore >= 80:
			view.HighImportance++
		case p.Item.ImportanceScore >= 50:
			view.MediumImportance++
		default:
			view.LowImportance++
		}
	}

	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return abs(sorted[i].Result.ImpactScore) > abs(sorted[j].Result.ImpactScore)
	})

	for _, p := range sorted {
		item := analysisItem(p)
		view.All = append(view.All, item)
		if abs(p.Result.ImpactScore) > highImpactCutoff && len(view.HighImpact) < maxHighImpact {
			view.HighImpact = append(view.HighImpact, item)
		}
	}

	return render("analysis.html.tmpl", view)
}

func analysisItem(p Pair) analysisItemView {
	impactClass := ""
	if p.Result.ImpactScore > 0 {
		impactClass = "positive"
	} else if p.Result.ImpactScore < 0 {
		impactClass = "negative"
	}

	level, text := importanceBadge(p.Item.ImportanceScore)

	timeStr := ""
	if !p.Item.PublishTime.IsZero() {
		timeStr = p.Item.PublishTime.Format("01-02 15:04")
	}

	return analysisItemView{
		Title:           p.Item.Title,
		Source:          p.Item.Source,
		TimeStr:         timeStr,
		ImpactScore:     fmt.Sprintf("%.1f", p.Result.ImpactScore),
		ImpactClass:     impactClass,
		ImportanceLevel: level,
		ImportanceText:  text,
		Summary:         p.Result.Summary,
		Excerpt:         excerpt(p.Item.Content, 200),
	}
}

func importanceBadge(score int) (level, text string) {
	switch {
	case score >= 80:
		return "high", "高"
	case score >= 50:
		return "medium", "中"
	default:
		return "low", "低"
	}
}

type instantItemView struct {
	Title           string
	Source          string
	ImportanceScore int
	ImportanceClass string
	ScoreClass      string
	Emoji           string
	Excerpt         string
	Factors         string
}

type instantView struct {
	GeneratedAt string
	Count       int
	Items       []instantItemView
}

// RenderInstant renders the importance-ranked digest used by the
// morning and intraday dispatches. Items come in pre-sorted.
func RenderInstant(items []*models.NewsItem, now time.Time) (string, error) {
	view := instantView{
		GeneratedAt: now.Format("2006年01月02日 15:04"),
		Count:       len(items),
	}

	for _, item := range items {
		if len(view.Items) == maxInstantItems {
			break
		}

		var importanceClass, scoreClass, emoji string
		switch {
		case item.ImportanceScore >= 70:
			importanceClass, scoreClass, emoji = "importance-high", "score-high", "🔴"
		case item.ImportanceScore >= 40:
			importanceClass, scoreClass, emoji = "importance-medium", "score-medium", "🟡"
		default:
			importanceClass, scoreClass, emoji = "importance-low", "score-low", "🟢"
		}

		factors := "暂无"
		if len(item.ImportanceFactors) > 0 {
			factors = strings.Join(item.ImportanceFactors, "、")
		}

		view.Items = append(view.Items, instantItemView{
			Title:           item.Title,
			Source:          item.Source,
			ImportanceScore: item.ImportanceScore,
			ImportanceClass: importanceClass,
			ScoreClass:      scoreClass,
			Emoji:           emoji,
			Excerpt:         excerpt(item.Content, 200),
			Factors:         factors,
		})
	}

	return render("instant.html.tmpl", view)
}

type summaryItemView struct {
	Title   string
	Score   int
	Excerpt string
}

type summaryView struct {
	Date            string
	GeneratedAtFull string
	Total           int
	AvgScore        string
	HighCount       int
	MediumCount     int
	LowCount        int
	HighNews        []summaryItemView
	MediumNews      []summaryItemView
	StoreTotal      int
	StoreToday      int
}

// RenderDaily renders the end-of-day summary over all of today's items,
// with store-level counters in the footer.
func RenderDaily(items []*models.NewsItem, stats *models.StoreStats, now time.Time) (string, error) {
	view := summaryView{
		Date:            now.Format("2006年01月02日"),
		GeneratedAtFull: now.Format("2006-01-02 15:04:05"),
		Total:           len(items),
	}
	if stats != nil {
		view.StoreTotal = stats.Total
		view.StoreToday = stats.Today
	}

	sorted := make([]*models.NewsItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ImportanceScore > sorted[j].ImportanceScore
	})

	total := 0
	for _, item := range sorted {
		total += item.ImportanceScore
		switch {
		case item.ImportanceScore >= 70:
			view.HighCount++
			if len(view.HighNews) < maxSummaryPerTier {
				view.HighNews = append(view.HighNews, summaryItemView{
					Title: item.Title, Score: item.ImportanceScore, Excerpt: excerpt(item.Content, 150),
				})
			}
		case item.ImportanceScore >= 40:
			view.MediumCount++
			if len(view.MediumNews) < maxSummaryPerTier {
				view.MediumNews = append(view.MediumNews, summaryItemView{
					Title: item.Title, Score: item.ImportanceScore, Excerpt: excerpt(item.Content, 150),
				})
			}
		default:
			view.LowCount++
		}
	}
	if len(sorted) > 0 {
		view.AvgScore = fmt.Sprintf("%.1f", float64(total)/float64(len(sorted)))
	} else {
		view.AvgScore = "0.0"
	}

	return render("daily.html.tmpl", view)
}

// Subject helpers matching the configured dispatch cadence.

// InstantSubject builds the subject line for instant digests.
func InstantSubject(prefix string, now time.Time) string {
	return fmt.Sprintf("📰 %s - %s", prefix, now.Format("15:04"))
}

// DailySubject builds the subject line for the daily summary.
func DailySubject(now time.Time) string {
	return fmt.Sprintf("📊 每日新闻汇总 - %s", now.Format("2006年01月02日"))
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
