package config

import "bookforge/internal/agent"

// GenerationConfig tunes the pipeline: concurrency, retry budgets,
// layout targets, and the quality gate thresholds.
type GenerationConfig struct {
	MaxConcurrentUnits int `yaml:"max_concurrent_units" validate:"min=1,max=16"`
	MaxUnitRetries     int `yaml:"max_unit_retries" validate:"min=1,max=10"`
	IdealChapterWords  int `yaml:"ideal_chapter_words" validate:"min=500,max=20000"`
	IdealUnitWords     int `yaml:"ideal_unit_words" validate:"min=200,max=5000"`
	// DecodeRetries is how many bare-JSON re-asks follow an unusable
	// structured response.
	DecodeRetries int `yaml:"decode_retries" validate:"min=0,max=5"`
	// Units scoring below RejectBelow are regenerated; at or above
	// PolishAt they earn a polish pass. RejectBelow must stay below
	// PolishAt (the threshold_order rule).
	RejectBelow float64     `yaml:"reject_below" validate:"min=0,max=100"`
	PolishAt    float64     `yaml:"polish_at" validate:"min=0,max=100"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig is the backoff schedule for transient generation
// failures. Delays are in seconds.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   int     `yaml:"base_delay" validate:"min=0,max=300"`
	MaxDelay    int     `yaml:"max_delay" validate:"min=0,max=3600"`
	Multiplier  float64 `yaml:"multiplier" validate:"min=1,max=10"`
}

// ContinuityConfig tunes narrative state extraction.
type ContinuityConfig struct {
	ExtractRetries int `yaml:"extract_retries" validate:"min=0,max=5"`
	// CriticalCategories are extraction categories whose parse failure
	// fails the whole unit check. An explicit empty list means none.
	CriticalCategories []string `yaml:"critical_categories" validate:"dive,oneof=character timeline worldbuilding research"`
}

// Default returns the full built-in configuration. Load merges the
// user's file over it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			BaseURL: "https://api.anthropic.com/v1",
			Model:   "claude-3-5-sonnet-20241022",
			Models:  map[agent.ModelClass]string{},
			Timeout: 900,
			Budgets: DefaultBudgets(),
		},
		Generation: GenerationConfig{
			MaxConcurrentUnits: 3,
			MaxUnitRetries:     2,
			IdealChapterWords:  3000,
			IdealUnitWords:     1000,
			DecodeRetries:      2,
			RejectBelow:        60,
			PolishAt:           80,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   2,
				MaxDelay:    30,
				Multiplier:  2.0,
			},
		},
		Continuity: ContinuityConfig{
			ExtractRetries:     2,
			CriticalCategories: []string{"character"},
		},
	}
}

// DefaultBudgets gives every model class a rate budget. Writing gets
// the widest token budget; extraction trades tokens for request volume.
func DefaultBudgets() map[agent.ModelClass]agent.ClassBudget {
	return map[agent.ModelClass]agent.ClassBudget{
		agent.ClassPlanning:   {TokensPerMinute: 80000, RequestsPerMinute: 50},
		agent.ClassWriting:    {TokensPerMinute: 200000, RequestsPerMinute: 60},
		agent.ClassExtraction: {TokensPerMinute: 120000, RequestsPerMinute: 120},
		agent.ClassReview:     {TokensPerMinute: 120000, RequestsPerMinute: 100},
		agent.ClassDefault:    {TokensPerMinute: 60000, RequestsPerMinute: 30},
	}
}
