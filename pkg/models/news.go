// Package models defines the data types shared across the pipeline:
// news items, analysis results, and scheduler state.
package models

import "time"

// NewsItem is the unit of ingestion and analysis. ID doubles as the
// primary key and the dedup key; it is assigned by the store on first
// save when empty.
type NewsItem struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Content              string    `json:"content"`
	Source               string    `json:"source"`
	PublishTime          time.Time `json:"publish_time"`
	URL                  string    `json:"url,omitempty"`
	Category             string    `json:"category"`
	Keywords             []string  `json:"keywords,omitempty"`
	ImportanceScore      int       `json:"importance_score"`
	ImportanceReasoning  string    `json:"importance_reasoning,omitempty"`
	ImportanceFactors    []string  `json:"importance_factors,omitempty"`
	ImpactDegree         string    `json:"impact_degree,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// AnalysisResult is the Impact Analyzer's output for one news item.
// Many results may exist per item; the latest wins for reporting.
type AnalysisResult struct {
	ID           int64     `json:"id,omitempty"`
	NewsID       string    `json:"news_id"`
	ImpactScore  float64   `json:"impact_score"`
	ImpactLevel  string    `json:"impact_level,omitempty"`
	Summary      string    `json:"summary"`
	AnalysisTime time.Time `json:"analysis_time"`
}

// Deep analysis model sentinels. "skip" marks items below the score
// threshold; "error" marks items whose analysis failed.
const (
	DeepModelSkip  = "skip"
	DeepModelError = "error"
)

// DeepAnalysisResult is the Deep Analyzer's output: the executed
// queries, the evidence digest, the synthesized report, and the
// adjusted importance score.
type DeepAnalysisResult struct {
	NewsID               string    `json:"news_id"`
	Title                string    `json:"title"`
	OriginalScore        int       `json:"original_score"`
	AdjustedScore        int       `json:"adjusted_score"`
	SearchKeywords       []string  `json:"search_keywords"`
	SearchResultsSummary string    `json:"search_results_summary"`
	DeepAnalysisReport   string    `json:"deep_analysis_report"`
	SearchSuccess        bool      `json:"search_success"`
	AnalysisTime         time.Time `json:"analysis_time"`
	ModelUsed            string    `json:"model_used"`
}

// StoreStats aggregates store-level counters for the daily summary
// and the status surface.
type StoreStats struct {
	Total      int            `json:"total"`
	Today      int            `json:"today"`
	BySource   map[string]int `json:"by_source"`
	ByCategory map[string]int `json:"by_category"`
}
