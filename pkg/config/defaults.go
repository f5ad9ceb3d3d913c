package config

// Default values applied after loading, before validation. Zero-valued
// fields take the default; explicit values win.
const (
	DefaultCollectionInterval = 30 // minutes
	DefaultFeedMaxItems       = 20

	DefaultDeepSeekBaseURL   = "https://api.deepseek.com/v1"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultMaxTokens         = 2000
	DefaultTemperature       = 0.1

	DefaultBatchSize       = 20
	DefaultMaxConcurrent   = 10
	DefaultTimeout         = 30  // seconds
	DefaultFallbackTimeout = 600 // seconds
	DefaultRetryCount      = 3
	DefaultRateLimit       = 100 // per minute

	DefaultScoreThreshold    = 70
	DefaultDeepMaxConcurrent = 3
	DefaultMaxSearchKeywords = 5
	DefaultReportMaxLength   = 200
	DefaultSearchRetryCount  = 2
	DefaultMaxSearchRounds   = 3
	DefaultEvidenceThreshold = 2
	DefaultMaxEvidenceKept   = 5
	DefaultDeepMaxTokens     = 100000

	DefaultFromName = "AI新闻助手"

	DefaultDBPath        = "data/news.db"
	DefaultRetentionDays = 30

	DefaultStateFile       = "data/scheduler_state.json"
	DefaultMonitorInterval = 60 // seconds

	DefaultMonitorListenAddr = ":8530"
	DefaultLogDir            = "data/logs"
)

// applyDefaults fills unset fields in place.
func applyDefaults(cfg *Config) {
	nc := &cfg.NewsCollection
	if nc.CollectionInterval <= 0 {
		nc.CollectionInterval = DefaultCollectionInterval
	}
	for i := range nc.Sources.RSSFeeds {
		if nc.Sources.RSSFeeds[i].MaxItems <= 0 {
			nc.Sources.RSSFeeds[i].MaxItems = DefaultFeedMaxItems
		}
	}

	ai := &cfg.AIAnalysis
	if ai.Provider == "" {
		ai.Provider = ProviderDeepSeek
	}
	applyProviderDefaults(&ai.DeepSeek, DefaultDeepSeekBaseURL, "deepseek-chat")
	applyProviderDefaults(&ai.OpenRouter, DefaultOpenRouterBaseURL, "")

	p := &ai.AnalysisParams
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = DefaultMaxConcurrent
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.FallbackTimeout <= 0 {
		p.FallbackTimeout = DefaultFallbackTimeout
	}
	if p.RetryCount <= 0 {
		p.RetryCount = DefaultRetryCount
	}
	if p.RateLimit <= 0 {
		p.RateLimit = DefaultRateLimit
	}

	d := &ai.DeepAnalysis
	if d.ScoreThreshold <= 0 {
		d.ScoreThreshold = DefaultScoreThreshold
	}
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = DefaultDeepMaxConcurrent
	}
	if d.MaxSearchKeywords <= 0 {
		d.MaxSearchKeywords = DefaultMaxSearchKeywords
	}
	if d.ReportMaxLength <= 0 {
		d.ReportMaxLength = DefaultReportMaxLength
	}
	if d.SearchRetryCount <= 0 {
		d.SearchRetryCount = DefaultSearchRetryCount
	}
	if d.MaxSearchRounds <= 0 {
		d.MaxSearchRounds = DefaultMaxSearchRounds
	}
	if d.EvidenceThreshold <= 0 {
		d.EvidenceThreshold = DefaultEvidenceThreshold
	}
	if d.MaxEvidenceKept <= 0 {
		d.MaxEvidenceKept = DefaultMaxEvidenceKept
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = DefaultDeepMaxTokens
	}

	if cfg.Email.Template.FromName == "" {
		cfg.Email.Template.FromName = DefaultFromName
	}

	db := &cfg.Database
	if db.SQLite.DBPath == "" {
		db.SQLite.DBPath = DefaultDBPath
	}
	if db.Retention.MaxDays <= 0 {
		db.Retention.MaxDays = DefaultRetentionDays
	}

	sch := &cfg.Scheduler
	if sch.StateFile == "" {
		sch.StateFile = DefaultStateFile
	}
	if sch.MonitorInterval <= 0 {
		sch.MonitorInterval = DefaultMonitorInterval
	}
	applyStrategyDefaults(&sch.Strategy)

	if cfg.Monitor.ListenAddr == "" {
		cfg.Monitor.ListenAddr = DefaultMonitorListenAddr
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = DefaultLogDir
	}
}

func applyProviderDefaults(p *ProviderConfig, baseURL, model string) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.Model == "" && model != "" {
		p.Model = model
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
}

// applyStrategyDefaults installs the enhanced strategy's canonical
// times for jobs left unconfigured. The full_pipeline interval job
// stays disabled unless explicitly enabled.
func applyStrategyDefaults(s *StrategyConfig) {
	disabled := false

	if s.MorningCollection.Hour == 0 && s.MorningCollection.Minute == 0 {
		s.MorningCollection.Hour = 8
	}
	if s.TradingHours.IntervalMinutes <= 0 {
		s.TradingHours.IntervalMinutes = 3
	}
	if s.EveningCollection.Hour == 0 && s.EveningCollection.Minute == 0 {
		s.EveningCollection.Hour = 22
	}
	if s.DailySummary.Hour == 0 && s.DailySummary.Minute == 0 {
		s.DailySummary.Hour = 23
		s.DailySummary.Minute = 30
	}
	if s.Maintenance.Hour == 0 && s.Maintenance.Minute == 0 {
		s.Maintenance.Hour = 3
	}
	if s.FullPipeline.Enabled == nil {
		s.FullPipeline.Enabled = &disabled
	}
	if s.FullPipeline.IntervalMinutes <= 0 {
		s.FullPipeline.IntervalMinutes = DefaultCollectionInterval
	}
}
