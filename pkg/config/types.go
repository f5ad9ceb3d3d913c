// Package config loads and validates the application configuration
// from YAML, with environment-variable substitution and defaults.
package config

import "time"

// Config is the fully resolved application configuration.
type Config struct {
	NewsCollection NewsCollectionConfig `yaml:"news_collection"`
	AIAnalysis     AIAnalysisConfig     `yaml:"ai_analysis"`
	Email          EmailConfig          `yaml:"email"`
	Database       DatabaseConfig       `yaml:"database"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Monitor        MonitorConfig        `yaml:"monitor"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// NewsCollectionConfig groups feed sources and collection cadence.
type NewsCollectionConfig struct {
	Sources            SourcesConfig `yaml:"sources"`
	CollectionInterval int           `yaml:"collection_interval"` // minutes
}

// SourcesConfig lists the configured feed sources.
type SourcesConfig struct {
	RSSFeeds []RSSFeedConfig `yaml:"rss_feeds"`
}

// RSSFeedConfig describes one RSS/Atom feed.
type RSSFeedConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	MaxItems int    `yaml:"max_items"`
	Enabled  *bool  `yaml:"enabled,omitempty"` // nil means enabled
}

// IsEnabled reports whether the feed should be fetched.
func (f *RSSFeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// AIAnalysisConfig selects the LLM provider and carries analysis tuning.
type AIAnalysisConfig struct {
	Provider       string             `yaml:"provider"` // "openrouter" or "deepseek"
	OpenRouter     ProviderConfig     `yaml:"openrouter"`
	DeepSeek       ProviderConfig     `yaml:"deepseek"`
	AnalysisParams AnalysisParams     `yaml:"analysis_params"`
	DeepAnalysis   DeepAnalysisConfig `yaml:"deep_analysis"`
}

// ProviderConfig holds per-provider LLM endpoint settings.
type ProviderConfig struct {
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	Model         string  `yaml:"model"`
	FallbackModel string  `yaml:"fallback_model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
}

// Active returns the provider profile selected by Provider.
func (a *AIAnalysisConfig) Active() *ProviderConfig {
	if a.Provider == ProviderDeepSeek {
		return &a.DeepSeek
	}
	return &a.OpenRouter
}

// Provider identifiers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
)

// AnalysisParams tunes the concurrent impact-analysis batch path.
type AnalysisParams struct {
	BatchSize       int `yaml:"batch_size"`
	MaxConcurrent   int `yaml:"max_concurrent"`
	Timeout         int `yaml:"timeout"`          // seconds, per batch request
	FallbackTimeout int `yaml:"fallback_timeout"` // seconds, single-shot calls
	RetryCount      int `yaml:"retry_count"`
	RateLimit       int `yaml:"rate_limit"` // requests per minute
}

// RequestTimeout returns the batch request timeout as a duration.
func (p *AnalysisParams) RequestTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// SingleShotTimeout returns the fallback/single-call timeout as a duration.
func (p *AnalysisParams) SingleShotTimeout() time.Duration {
	return time.Duration(p.FallbackTimeout) * time.Second
}

// DeepAnalysisConfig tunes the evidence-gathering deep analysis loop.
type DeepAnalysisConfig struct {
	Enabled               *bool `yaml:"enabled,omitempty"`
	ScoreThreshold        int   `yaml:"score_threshold"`
	MaxConcurrent         int   `yaml:"max_concurrent"`
	MaxSearchKeywords     int   `yaml:"max_search_keywords"`
	ReportMaxLength       int   `yaml:"report_max_length"`
	EnableScoreAdjustment *bool `yaml:"enable_score_adjustment,omitempty"`
	SearchRetryCount      int   `yaml:"search_retry_count"`
	MaxSearchRounds       int   `yaml:"max_search_rounds"`
	EvidenceThreshold     int   `yaml:"evidence_threshold"`
	MaxEvidenceKept       int   `yaml:"max_evidence_kept"`
	MaxTokens             int   `yaml:"max_tokens"`
}

// IsEnabled reports whether deep analysis runs at all.
func (d *DeepAnalysisConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// AdjustScores reports whether evidence-based score adjustment applies.
func (d *DeepAnalysisConfig) AdjustScores() bool {
	return d.EnableScoreAdjustment == nil || *d.EnableScoreAdjustment
}

// EmailConfig groups SMTP transport, recipients, and template fields.
type EmailConfig struct {
	SMTP       SMTPConfig          `yaml:"smtp"`
	Recipients []string            `yaml:"recipients"`
	Template   EmailTemplateConfig `yaml:"template"`
}

// SMTPConfig holds message submission settings.
type SMTPConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// EmailTemplateConfig holds the rendered report's envelope fields.
type EmailTemplateConfig struct {
	Subject  string `yaml:"subject"`
	FromName string `yaml:"from_name"`
}

// DatabaseConfig groups store location and retention policy.
type DatabaseConfig struct {
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig locates the store file.
type SQLiteConfig struct {
	DBPath string `yaml:"db_path"`
}

// RetentionConfig bounds how long news items are kept.
type RetentionConfig struct {
	MaxDays int `yaml:"max_days"`
}

// SchedulerConfig selects the job strategy and state file location.
type SchedulerConfig struct {
	Strategy        StrategyConfig `yaml:"strategy"`
	StateFile       string         `yaml:"state_file"`
	MonitorInterval int            `yaml:"monitor_interval"` // seconds
}

// MonitorTick returns the lifecycle monitor interval as a duration.
func (s *SchedulerConfig) MonitorTick() time.Duration {
	return time.Duration(s.MonitorInterval) * time.Second
}

// StrategyConfig enumerates the schedulable jobs. Exactly one strategy
// set is active per run: the enhanced calendar jobs, or the single
// full_pipeline interval job.
type StrategyConfig struct {
	MorningCollection JobSpec `yaml:"morning_collection"`
	TradingHours      JobSpec `yaml:"trading_hours"`
	EveningCollection JobSpec `yaml:"evening_collection"`
	DailySummary      JobSpec `yaml:"daily_summary"`
	Maintenance       JobSpec `yaml:"maintenance"`
	FullPipeline      JobSpec `yaml:"full_pipeline"`
}

// JobSpec configures one scheduled job. Calendar jobs use Hour/Minute;
// interval jobs use IntervalMinutes.
type JobSpec struct {
	Enabled         *bool `yaml:"enabled,omitempty"`
	Hour            int   `yaml:"hour"`
	Minute          int   `yaml:"minute"`
	IntervalMinutes int   `yaml:"interval_minutes"`
}

// IsEnabled reports whether the job should be registered.
func (j *JobSpec) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// MonitorConfig configures the optional status HTTP endpoint.
type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}
