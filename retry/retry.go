// Package retry wraps a single model invocation with exponential backoff,
// jitter and a pluggable persistent-rate-limit escalation hook used for model
// fallback.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// FallbackHook is invoked once a run of consecutive rate-limit failures
// crosses the configured threshold. Returning a non-empty model identifier
// switches the remaining attempts (and the session) to that model.
type FallbackHook func(ctx context.Context, currentModel string) (string, bool)

// Options configure a Policy.
type Options struct {
	MaxAttempts        int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	Jitter             float64 // fraction of the delay randomized in both directions
	Retryable          func(error) bool
	RateLimitThreshold int // consecutive 429s before the hook fires
	OnPersistentRateLimit FallbackHook
	Auth               model.AuthKind
	Logger             logging.Logger
}

// Policy retries a call according to Options. A Policy is session-scoped:
// once it has switched models via the fallback hook it never offers fallback
// again.
type Policy struct {
	opts     Options
	fellBack bool
}

// New constructs a Policy with conservative defaults (5 attempts, 500ms
// initial delay doubling up to 30s, 30% jitter).
func New(optFns ...func(o *Options)) *Policy {
	opts := Options{
		MaxAttempts:        5,
		InitialDelay:       500 * time.Millisecond,
		MaxDelay:           30 * time.Second,
		Multiplier:         2.0,
		Jitter:             0.3,
		Retryable:          DefaultRetryable,
		RateLimitThreshold: 2,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Policy{opts: opts}
}

// DefaultRetryable retries rate-limit and transient network failures.
// Authorization failures are explicitly not retryable.
func DefaultRetryable(err error) bool {
	if core.IsAuthError(err) {
		return false
	}
	if core.IsRateLimitError(err) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var se *core.StructuredError
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}
	return false
}

// Do invokes call until it succeeds, a non-retryable error occurs, the
// attempt budget is exhausted or ctx is cancelled. The callback receives the
// model identifier to build its request against; after a fallback switch the
// identifier changes and the caller must rebuild accordingly.
func (p *Policy) Do(ctx context.Context, modelName string, call func(ctx context.Context, modelName string) error) error {
	delay := p.opts.InitialDelay
	consecutive429 := 0

	var err error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		err = call(ctx, modelName)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.opts.Retryable(err) {
			return err
		}

		if core.IsRateLimitError(err) {
			consecutive429++
			if next, ok := p.maybeFallback(ctx, modelName, consecutive429); ok {
				p.opts.Logger.Info("model fallback engaged", "from", modelName, "to", next)
				modelName = next
				consecutive429 = 0
				delay = p.opts.InitialDelay
				continue // immediate re-attempt against the fallback model
			}
		} else {
			consecutive429 = 0
		}

		if attempt == p.opts.MaxAttempts {
			break
		}

		wait := p.jittered(delay)
		if hinted := retryAfter(err); hinted > 0 {
			wait = hinted
		}
		p.opts.Logger.Debug("retrying after backoff", "attempt", attempt, "delay", wait, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * p.opts.Multiplier)
		if delay > p.opts.MaxDelay {
			delay = p.opts.MaxDelay
		}
	}
	return err
}

// maybeFallback consults the escalation hook. Fallback is only offered for
// OAuth-class credentials and at most once per session.
func (p *Policy) maybeFallback(ctx context.Context, current string, consecutive int) (string, bool) {
	if p.fellBack || p.opts.OnPersistentRateLimit == nil || p.opts.Auth != model.AuthOAuth {
		return "", false
	}
	if consecutive < p.opts.RateLimitThreshold {
		return "", false
	}
	next, ok := p.opts.OnPersistentRateLimit(ctx, current)
	if !ok || next == "" || next == current {
		return "", false
	}
	p.fellBack = true
	return next, true
}

func (p *Policy) jittered(d time.Duration) time.Duration {
	if p.opts.Jitter <= 0 {
		return d
	}
	spread := p.opts.Jitter * float64(d)
	return time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
}

func retryAfter(err error) time.Duration {
	var re *core.RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
