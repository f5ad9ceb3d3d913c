// Package pipeline wires collection, scoring, analysis, persistence,
// and email dispatch into the scheduled cycles.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finbrief/finbrief/pkg/analyzer"
	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/logging"
	"github.com/finbrief/finbrief/pkg/mailer"
	"github.com/finbrief/finbrief/pkg/models"
	"github.com/finbrief/finbrief/pkg/report"
	"github.com/finbrief/finbrief/pkg/storage"
)

// Dispatch thresholds on the (possibly adjusted) importance score.
const (
	morningScoreFloor = 50
	instantScoreFloor = 70
)

// Trading window for the intraday cycle, local time, inclusive.
const (
	tradingOpenHour  = 8
	tradingCloseHour = 16
)

// serialBatchMax: below this many items the impact path runs serially;
// at or above it the concurrent batch path takes over.
const serialBatchMax = 3

// logRetention bounds how long rotated log files are kept.
const logRetention = 7 * 24 * time.Hour

// intradayReportPrefix heads the subject of intraday alert emails; the
// morning digest subject comes from the email template config instead.
const intradayReportPrefix = "盘中重要新闻"

// Collector yields freshly fetched news items.
type Collector interface {
	Collect(ctx context.Context) []*models.NewsItem
}

// Scorer rates one item's market importance.
type Scorer interface {
	Score(ctx context.Context, item *models.NewsItem) *analyzer.ImportanceResult
}

// ImpactAnalyzer produces impact scores and summaries.
type ImpactAnalyzer interface {
	Analyze(ctx context.Context, item *models.NewsItem) (*models.AnalysisResult, error)
	AnalyzeBatch(ctx context.Context, items []*models.NewsItem) []*models.AnalysisResult
}

// DeepAnalyzer runs the evidence-gathering loop over eligible items.
type DeepAnalyzer interface {
	AnalyzeBatch(ctx context.Context, items []*models.NewsItem) []*models.DeepAnalysisResult
}

// Mailer delivers a rendered HTML report.
type Mailer interface {
	Send(ctx context.Context, subject, htmlBody string) error
}

// Deps are the orchestrator's collaborators. Mailer may be nil when
// email is not configured; dispatch cycles then render and skip.
type Deps struct {
	Collector Collector
	Scorer    Scorer
	Impact    ImpactAnalyzer
	Deep      DeepAnalyzer
	Mailer    Mailer
	Store     *storage.Store
}

// Orchestrator runs the pipeline cycles the scheduler fires.
type Orchestrator struct {
	deps Deps
	cfg  *config.Config

	// now is swappable in tests.
	now func() time.Time
}

// New creates an orchestrator over the given collaborators.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Ingest collects from all feeds and persists the results, returning
// only the items that were genuinely new (not dedup no-ops).
func (o *Orchestrator) Ingest(ctx context.Context) ([]*models.NewsItem, error) {
	items := o.deps.Collector.Collect(ctx)

	fresh := make([]*models.NewsItem, 0, len(items))
	for _, item := range items {
		written, err := o.deps.Store.Save(ctx, item)
		if err != nil {
			slog.Error("Failed to save collected item", "title", item.Title, "error", err)
			continue
		}
		if written {
			fresh = append(fresh, item)
		}
	}

	slog.Info("Ingestion complete",
		"collected", len(items), "new", len(fresh), "duplicates", len(items)-len(fresh))
	return fresh, nil
}

// ScoreAndAnalyze rates importance and impact for the given items,
// writes both back to the store, and returns item/result pairs for
// reporting. Per-item analysis failures degrade to placeholders.
func (o *Orchestrator) ScoreAndAnalyze(ctx context.Context, items []*models.NewsItem) ([]report.Pair, error) {
	if len(items) == 0 {
		return nil, nil
	}

	for _, item := range items {
		scored := o.deps.Scorer.Score(ctx, item)
		item.ImportanceScore = scored.Score
		item.ImportanceReasoning = scored.Reasoning
		item.ImportanceFactors = scored.KeyFactors
	}

	var results []*models.AnalysisResult
	if len(items) >= serialBatchMax {
		results = o.deps.Impact.AnalyzeBatch(ctx, items)
	} else {
		for _, item := range items {
			result, err := o.deps.Impact.Analyze(ctx, item)
			if err != nil {
				slog.Error("Impact analysis degraded to placeholder",
					"title", item.Title, "error", err)
				result = analyzer.PlaceholderResult(item.ID, err)
			}
			results = append(results, result)
		}
	}

	pairs := make([]report.Pair, 0, len(items))
	for i, item := range items {
		result := results[i]
		item.ImpactDegree = result.ImpactLevel

		if _, err := o.deps.Store.Save(ctx, item); err != nil {
			slog.Error("Failed to persist scored item", "id", item.ID, "error", err)
		}
		if err := o.deps.Store.SaveAnalysisResult(ctx, result); err != nil {
			slog.Error("Failed to persist analysis result", "news_id", result.NewsID, "error", err)
		}

		pairs = append(pairs, report.Pair{Item: item, Result: result})
	}

	slog.Info("Scoring and analysis complete", "items", len(pairs))
	return pairs, nil
}

// FullCycle runs ingestion, scoring, impact analysis, and the deep
// analysis pass, persisting adjusted scores.
func (o *Orchestrator) FullCycle(ctx context.Context) ([]report.Pair, error) {
	fresh, err := o.Ingest(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := o.ScoreAndAnalyze(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	o.runDeepAnalysis(ctx, fresh)
	return pairs, nil
}

// runDeepAnalysis feeds eligible items through the deep analyzer and
// writes adjusted scores back. Sentinel results (skipped or failed
// analyses) leave the stored score untouched.
func (o *Orchestrator) runDeepAnalysis(ctx context.Context, items []*models.NewsItem) {
	if o.deps.Deep == nil {
		return
	}

	byID := make(map[string]*models.NewsItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	for _, result := range o.deps.Deep.AnalyzeBatch(ctx, items) {
		if result.ModelUsed == models.DeepModelSkip || result.ModelUsed == models.DeepModelError {
			continue
		}
		item, ok := byID[result.NewsID]
		if !ok || result.AdjustedScore == item.ImportanceScore {
			continue
		}

		slog.Info("Deep analysis adjusted importance",
			"title", item.Title,
			"original", result.OriginalScore, "adjusted", result.AdjustedScore)
		item.ImportanceScore = result.AdjustedScore
		if _, err := o.deps.Store.Save(ctx, item); err != nil {
			slog.Error("Failed to persist adjusted score", "id", item.ID, "error", err)
		}
	}
}

// MorningDigest runs a full cycle and emails the analysis report over
// every item at or above the morning floor.
func (o *Orchestrator) MorningDigest(ctx context.Context) error {
	pairs, err := o.FullCycle(ctx)
	if err != nil {
		return err
	}

	picked := filterPairs(pairs, morningScoreFloor)
	if len(picked) == 0 {
		slog.Info("Morning digest: nothing above the score floor, skipping email")
		return nil
	}

	now := o.now()
	body, err := report.RenderAnalysis(picked, now)
	if err != nil {
		return fmt.Errorf("render morning digest: %w", err)
	}
	return o.send(ctx, mailer.FormatSubject(o.cfg.Email.Template.Subject, now), body)
}

// IntradayTick runs the trading-hours cycle. Outside the trading
// window it is a no-op; inside it, an email goes out only when at
// least one item clears the instant floor.
func (o *Orchestrator) IntradayTick(ctx context.Context) error {
	now := o.now()
	if !withinTradingHours(now) {
		slog.Debug("Outside trading hours, skipping intraday cycle", "time", now.Format("15:04"))
		return nil
	}

	pairs, err := o.FullCycle(ctx)
	if err != nil {
		return err
	}

	picked := filterByScore(pairs, instantScoreFloor)
	if len(picked) == 0 {
		return nil
	}

	body, err := report.RenderInstant(picked, now)
	if err != nil {
		return fmt.Errorf("render intraday digest: %w", err)
	}
	return o.send(ctx, report.InstantSubject(intradayReportPrefix, now), body)
}

// EveningCollection runs a full cycle without sending anything; the
// results land in the store for the daily summary.
func (o *Orchestrator) EveningCollection(ctx context.Context) error {
	_, err := o.FullCycle(ctx)
	return err
}

// DailySummary emails the day's stored items, importance-ordered, with
// store statistics. No email goes out on an empty day.
func (o *Orchestrator) DailySummary(ctx context.Context) error {
	now := o.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	items, err := o.deps.Store.ByDateRange(ctx, midnight, now)
	if err != nil {
		return fmt.Errorf("query today's items: %w", err)
	}
	if len(items) == 0 {
		slog.Info("Daily summary: no items today, skipping email")
		return nil
	}

	stats, err := o.deps.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("query store stats: %w", err)
	}

	body, err := report.RenderDaily(items, stats, now)
	if err != nil {
		return fmt.Errorf("render daily summary: %w", err)
	}
	return o.send(ctx, report.DailySubject(now), body)
}

// Maintenance purges expired items, prunes old logs, and compacts the
// store. All steps run; their errors are joined.
func (o *Orchestrator) Maintenance(ctx context.Context) error {
	var errs []error

	deleted, err := o.deps.Store.DeleteOlderThan(ctx, o.cfg.Database.Retention.MaxDays)
	if err != nil {
		errs = append(errs, fmt.Errorf("retention cleanup: %w", err))
	} else {
		slog.Info("Retention cleanup complete",
			"deleted", deleted, "max_days", o.cfg.Database.Retention.MaxDays)
	}

	if dir := o.cfg.Logging.Dir; dir != "" {
		pruned, err := logging.PruneOldLogs(dir, logRetention)
		if err != nil {
			errs = append(errs, fmt.Errorf("log cleanup: %w", err))
		} else if pruned > 0 {
			slog.Info("Pruned old log files", "count", pruned)
		}
	}

	if err := o.deps.Store.Optimize(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store optimize: %w", err))
	}

	return errors.Join(errs...)
}

func (o *Orchestrator) send(ctx context.Context, subject, body string) error {
	if o.deps.Mailer == nil {
		slog.Info("Email not configured, skipping dispatch", "subject", subject)
		return nil
	}
	return o.deps.Mailer.Send(ctx, subject, body)
}

func filterByScore(pairs []report.Pair, floor int) []*models.NewsItem {
	var picked []*models.NewsItem
	for _, p := range pairs {
		if p.Item.ImportanceScore >= floor {
			picked = append(picked, p.Item)
		}
	}
	return picked
}

func filterPairs(pairs []report.Pair, floor int) []report.Pair {
	var picked []report.Pair
	for _, p := range pairs {
		if p.Item.ImportanceScore >= floor {
			picked = append(picked, p)
		}
	}
	return picked
}

func withinTradingHours(now time.Time) bool {
	open := time.Date(now.Year(), now.Month(), now.Day(), tradingOpenHour, 0, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), tradingCloseHour, 0, 0, 0, now.Location())
	return !now.Before(open) && !now.After(end)
}
