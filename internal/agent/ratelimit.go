package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxTokens = 4096

// ClassBudget bounds one model class. A zero value disables that dimension
// for the class.
type ClassBudget struct {
	TokensPerMinute   int `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstTokens       int `yaml:"burst_tokens" json:"burst_tokens"`
	BurstRequests     int `yaml:"burst_requests" json:"burst_requests"`
}

type classLimiter struct {
	tokens   *rate.Limiter
	requests *rate.Limiter
	burstCap int

	// gate serializes low/normal admissions in arrival order.
	gate sync.Mutex

	mu        sync.Mutex
	estimates []int // admitted estimates awaiting reconciliation, oldest first
	credit    int   // charged but unconsumed tokens, refunded next admission
}

func newClassLimiter(b ClassBudget) *classLimiter {
	cl := &classLimiter{}
	if b.TokensPerMinute > 0 {
		burst := b.BurstTokens
		if burst <= 0 {
			burst = b.TokensPerMinute
		}
		cl.tokens = rate.NewLimiter(rate.Limit(float64(b.TokensPerMinute)/60.0), burst)
		cl.burstCap = burst
	}
	if b.RequestsPerMinute > 0 {
		burst := b.BurstRequests
		if burst <= 0 {
			burst = b.RequestsPerMinute
		}
		cl.requests = rate.NewLimiter(rate.Limit(float64(b.RequestsPerMinute)/60.0), burst)
	}
	return cl
}

func (cl *classLimiter) takeCredit(n int) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	used := cl.credit
	if used > n {
		used = n
	}
	cl.credit -= used
	return used
}

func (cl *classLimiter) addCredit(n int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.credit += n
	// Credit beyond one burst can never be spent in a single admission.
	if cl.burstCap > 0 && cl.credit > cl.burstCap {
		cl.credit = cl.burstCap
	}
}

func (cl *classLimiter) pushEstimate(n int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.estimates = append(cl.estimates, n)
}

func (cl *classLimiter) popEstimate() (int, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(cl.estimates) == 0 {
		return 0, false
	}
	n := cl.estimates[0]
	cl.estimates = cl.estimates[1:]
	return n, true
}

// TokenLimiter admits generation requests against rolling per-class token
// and request budgets. Admission charges the caller's estimate; RecordUsage
// settles against the provider-reported actuals so estimation drift never
// compounds into the budget.
type TokenLimiter struct {
	classes map[ModelClass]*classLimiter
	logger  *slog.Logger
}

// LimiterOption configures a TokenLimiter.
type LimiterOption func(*TokenLimiter)

// WithLimiterLogger sets the limiter's logger.
func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *TokenLimiter) {
		l.logger = logger
	}
}

// NewTokenLimiter builds a limiter from per-class budgets. Classes without
// a budget fall back to the "default" class; if no default exists, unknown
// classes admit without limiting.
func NewTokenLimiter(budgets map[ModelClass]ClassBudget, opts ...LimiterOption) *TokenLimiter {
	l := &TokenLimiter{
		classes: make(map[ModelClass]*classLimiter, len(budgets)),
		logger:  slog.Default().With("component", "token_limiter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	for class, budget := range budgets {
		l.classes[class] = newClassLimiter(budget)
		l.logger.Debug("class budget registered",
			"class", string(class),
			"tokens_per_minute", budget.TokensPerMinute,
			"requests_per_minute", budget.RequestsPerMinute)
	}
	if _, ok := l.classes[ClassDefault]; !ok {
		l.logger.Warn("no default class budget configured; unknown classes admit unlimited")
	}
	return l
}

func (l *TokenLimiter) classFor(class ModelClass) *classLimiter {
	if cl, ok := l.classes[class]; ok {
		return cl
	}
	return l.classes[ClassDefault]
}

// RequestPermission blocks until the class budget admits a request of the
// estimated size, or the context ends. Low and normal priorities admit in
// arrival order through the class gate so a burst of small requests cannot
// starve one large request; high priority may jump the gate.
func (l *TokenLimiter) RequestPermission(ctx context.Context, class ModelClass, estimatedTokens int, priority Priority) error {
	cl := l.classFor(class)
	if cl == nil {
		return nil
	}
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}

	start := time.Now()
	if priority < PriorityHigh {
		cl.gate.Lock()
		defer cl.gate.Unlock()
	}

	if cl.requests != nil {
		if err := cl.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request budget wait for class %s: %w", class, err)
		}
	}

	if cl.tokens != nil {
		used := cl.takeCredit(estimatedTokens)
		charge := estimatedTokens - used
		if charge > cl.burstCap {
			l.logger.Warn("estimate exceeds token burst, admitting at burst",
				"class", string(class),
				"estimated_tokens", estimatedTokens,
				"burst_tokens", cl.burstCap)
			charge = cl.burstCap
		}
		if charge > 0 {
			if err := cl.tokens.WaitN(ctx, charge); err != nil {
				cl.addCredit(used)
				return fmt.Errorf("token budget wait for class %s: %w", class, err)
			}
		}
		cl.pushEstimate(estimatedTokens)
	}

	l.logger.Debug("permission granted",
		"class", string(class),
		"estimated_tokens", estimatedTokens,
		"priority", int(priority),
		"wait_ms", time.Since(start).Milliseconds())
	return nil
}

// RecordUsage reconciles the oldest outstanding estimate for the class with
// the provider-reported actual. Overruns are charged against the future
// budget; underruns become credit for the next admission.
func (l *TokenLimiter) RecordUsage(class ModelClass, actualTokens int) {
	cl := l.classFor(class)
	if cl == nil || cl.tokens == nil {
		return
	}
	estimate, ok := cl.popEstimate()
	if !ok {
		l.logger.Debug("usage recorded with no outstanding estimate",
			"class", string(class),
			"actual_tokens", actualTokens)
		return
	}

	delta := actualTokens - estimate
	switch {
	case delta > 0:
		charge := delta
		if charge > cl.burstCap {
			charge = cl.burstCap
		}
		cl.tokens.ReserveN(time.Now(), charge)
	case delta < 0:
		cl.addCredit(-delta)
	}

	l.logger.Debug("usage reconciled",
		"class", string(class),
		"estimated_tokens", estimate,
		"actual_tokens", actualTokens,
		"delta", delta)
}

// EstimateTokens sizes a request for admission: a four-characters-per-token
// approximation of the prompt plus the full response allowance.
func EstimateTokens(req Request) int {
	promptTokens := (len(req.Prompt) + len(req.System)) / 4
	out := req.MaxTokens
	if out <= 0 {
		out = defaultMaxTokens
	}
	return promptTokens + out
}
