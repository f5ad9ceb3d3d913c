package config

import (
	"errors"
	"fmt"
)

// Validator performs section-by-section validation of a loaded Config.
type Validator struct {
	cfg    *Config
	errors []error
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every section and returns all accumulated
// errors joined, or nil when the configuration is sound.
func (v *Validator) ValidateAll() error {
	v.validateFeeds()
	v.validateProvider()
	v.validateEmail()
	v.validateScheduler()

	if len(v.errors) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(v.errors...))
	}
	return nil
}

func (v *Validator) addError(section, field string, err error) {
	v.errors = append(v.errors, NewValidationError(section, field, err))
}

func (v *Validator) validateFeeds() {
	for i, feed := range v.cfg.NewsCollection.Sources.RSSFeeds {
		if feed.URL == "" {
			v.addError("news_collection", fmt.Sprintf("rss_feeds[%d].url", i), ErrMissingRequiredField)
		}
	}
}

func (v *Validator) validateProvider() {
	ai := &v.cfg.AIAnalysis
	if ai.Provider != ProviderOpenRouter && ai.Provider != ProviderDeepSeek {
		v.addError("ai_analysis", "provider",
			fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidValue, ai.Provider, ProviderOpenRouter, ProviderDeepSeek))
		return
	}
	active := ai.Active()
	if active.BaseURL == "" {
		v.addError("ai_analysis", ai.Provider+".base_url", ErrMissingRequiredField)
	}
	if active.Model == "" {
		v.addError("ai_analysis", ai.Provider+".model", ErrMissingRequiredField)
	}
}

func (v *Validator) validateEmail() {
	smtp := &v.cfg.Email.SMTP
	if smtp.Server == "" {
		// Email dispatch disabled; nothing to validate.
		return
	}
	if smtp.Port <= 0 || smtp.Port > 65535 {
		v.addError("email", "smtp.port", fmt.Errorf("%w: %d", ErrInvalidValue, smtp.Port))
	}
	if smtp.UseSSL && smtp.UseTLS {
		v.addError("email", "smtp", fmt.Errorf("%w: use_ssl and use_tls are mutually exclusive", ErrInvalidValue))
	}
	if len(v.cfg.Email.Recipients) == 0 {
		v.addError("email", "recipients", ErrMissingRequiredField)
	}
}

func (v *Validator) validateScheduler() {
	s := &v.cfg.Scheduler.Strategy
	v.validateJobSpec("morning_collection", &s.MorningCollection, false)
	v.validateJobSpec("trading_hours", &s.TradingHours, true)
	v.validateJobSpec("evening_collection", &s.EveningCollection, false)
	v.validateJobSpec("daily_summary", &s.DailySummary, false)
	v.validateJobSpec("maintenance", &s.Maintenance, false)
	v.validateJobSpec("full_pipeline", &s.FullPipeline, true)
}

func (v *Validator) validateJobSpec(name string, spec *JobSpec, interval bool) {
	if !spec.IsEnabled() {
		return
	}
	if interval {
		if spec.IntervalMinutes <= 0 {
			v.addError("scheduler.strategy."+name, "interval_minutes",
				fmt.Errorf("%w: %d", ErrInvalidValue, spec.IntervalMinutes))
		}
		return
	}
	if spec.Hour < 0 || spec.Hour > 23 {
		v.addError("scheduler.strategy."+name, "hour", fmt.Errorf("%w: %d", ErrInvalidValue, spec.Hour))
	}
	if spec.Minute < 0 || spec.Minute > 59 {
		v.addError("scheduler.strategy."+name, "minute", fmt.Errorf("%w: %d", ErrInvalidValue, spec.Minute))
	}
}
