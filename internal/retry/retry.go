// Package retry runs operations with bounded, randomized exponential
// backoff. Only failures classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	prand "math/rand"
	"strings"
	"time"
)

var (
	// ErrTransient marks a failure that may succeed if tried again.
	ErrTransient = errors.New("transient failure")

	// ErrRateLimited marks a quota or 429 response. It is also transient.
	ErrRateLimited = fmt.Errorf("rate limited: %w", ErrTransient)
)

const (
	// DefaultNumRetries is the number of attempts after the first one.
	DefaultNumRetries = 6

	// DefaultInitialDelay is the base delay before the first retry.
	DefaultInitialDelay = time.Second

	// DefaultMaxDelay caps any single wait.
	DefaultMaxDelay = time.Minute
)

// transientSignatures are substrings of errors from HTTP-backed stores and
// APIs that are worth retrying.
var transientSignatures = []string{
	"error 429",
	"too many requests",
	"quota exceeded",
	"rate limit",
	"error 500",
	"error 502",
	"error 503",
	"error 504",
	"service is currently unavailable",
	"database is locked",
	"database is busy",
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err is a quota/rate-limit failure.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "error 429") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "quota exceeded") || strings.Contains(msg, "rate limit")
}

// Policy holds the retry parameters.
type Policy struct {
	numRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	classify     func(error) bool
	sleep        func(context.Context, time.Duration) error
	log          *slog.Logger
}

// Option customizes a Policy.
type Option func(*Policy)

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Option {
	return func(p *Policy) {
		p.numRetries = n
	}
}

// WithDelays sets the initial and maximum delay.
func WithDelays(initial, ceiling time.Duration) Option {
	return func(p *Policy) {
		p.initialDelay = initial
		p.maxDelay = ceiling
	}
}

// WithClassifier replaces IsTransient as the retry predicate.
func WithClassifier(f func(error) bool) Option {
	return func(p *Policy) {
		p.classify = f
	}
}

// WithSleep replaces the wait between attempts; tests use it to avoid
// real delays.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = f
	}
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		p.log = l
	}
}

// New returns a policy with defaults overridden by opts.
func New(opts ...Option) *Policy {
	p := &Policy{
		numRetries:   DefaultNumRetries,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		classify:     IsTransient,
		sleep:        sleepCtx,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// retry budget is spent. The last error is returned wrapped.
func (p *Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.numRetries; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !p.classify(err) {
			return err
		}
		if attempt == p.numRetries {
			break
		}

		delay := Delay(p.initialDelay, p.maxDelay, attempt)
		p.log.DebugContext(ctx, "Retrying after transient failure",
			"op", name, "attempt", attempt+1, "delay", delay, "err", err)

		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: %w", name, sleepErr)
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", name, err)
}

// Value runs op like Do and returns its result.
func Value[T any](ctx context.Context, p *Policy, name string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Delay returns a randomized delay for attempt (zero-based): a doubling
// base plus up to 50% jitter, never above ceiling.
func Delay(initial, ceiling time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	factor := math.Pow(2, float64(min(attempt, 32)))
	base := time.Duration(float64(initial) * factor)
	if base <= 0 || base > ceiling {
		base = ceiling
	}
	jitter := time.Duration(prand.Int63n(int64(base)/2 + 1))
	return min(base+jitter, ceiling)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
