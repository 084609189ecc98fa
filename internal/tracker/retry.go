package tracker

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryPolicy classifies item failures and computes backoff delays. Retries
// are bounded so every run eventually reaches a terminal state.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	// parseTransient lists retailer codes whose parse errors are treated as
	// transient (sites with known flaky JSON shapes) instead of permanent.
	parseTransient map[string]bool
}

// RetryConfig overrides policy defaults. Zero values keep the defaults.
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	ParseTransientFor []string
}

// NewRetryPolicy builds a policy: 3 attempts, 2s base delay doubling up to a
// 30s cap.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	p := &RetryPolicy{
		maxAttempts:    3,
		baseDelay:      2 * time.Second,
		maxDelay:       30 * time.Second,
		parseTransient: make(map[string]bool),
	}
	if cfg.MaxAttempts > 0 {
		p.maxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.baseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.maxDelay = cfg.MaxDelay
	}
	for _, code := range cfg.ParseTransientFor {
		p.parseTransient[code] = true
	}
	return p
}

// MaxAttempts returns the attempt budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Transient reports whether the error may succeed on a later attempt.
// Caller cancellation is never transient. A typed kind wins over the context
// sentinels: a fetch that timed out is a network failure worth retrying even
// though context.DeadlineExceeded sits in its chain.
func (p *RetryPolicy) Transient(err error, retailer string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case ErrKindNetwork, ErrKindRateLimitTimeout:
		return true
	case ErrKindParse:
		return p.parseTransient[retailer]
	case ErrKindUnsupportedRetailer, ErrKindNotFound, ErrKindValidation, ErrKindRetryBudgetExhausted:
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ShouldRetry decides whether the item gets another attempt. attempt is
// 1-based: the attempt that just failed.
func (p *RetryPolicy) ShouldRetry(err error, retailer string, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return p.Transient(err, retailer)
}

// NextDelay returns the jittered backoff before the given attempt number.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
