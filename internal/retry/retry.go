// Package retry is the single retry policy applied to every external call:
// embedding and chat providers, the job board and the vector index.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/silo/internal/domain"
	"github.com/kailas-cloud/silo/internal/logger"
	"github.com/kailas-cloud/silo/internal/metrics"
)

// Policy bounds retries with exponential backoff and jitter.
// The zero value performs a single attempt with no per-call timeout.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64       // randomization factor in [0, 1]
	CallTimeout time.Duration // per attempt, 0 = inherit caller deadline
	Logger      *zap.Logger
}

// WithTimeout returns a copy of p with a per-call timeout.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.CallTimeout = d
	return p
}

// Do runs fn until it succeeds, returns a permanent error, or attempts run out.
// op names the call in logs and metrics.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	hinted := &hintedBackOff{BackOff: p.backOff()}
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	b := backoff.WithMaxRetries(hinted, uint64(retries))

	attempt := func() error {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			hinted.hint = rl.RetryAfter
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(op).Inc()
		logger.FromContextOr(ctx, p.Logger).Warn("Retrying call",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), notify) //nolint:wrapcheck // caller wraps
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err is worth retrying: provider rate limits,
// per-call deadlines and network timeouts. Everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0 // bounded by MaxAttempts
	return b
}

func (p Policy) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.CallTimeout)
}

// hintedBackOff waits at least as long as the provider's Retry-After hint.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h.hint > d {
		d = h.hint
	}
	h.hint = 0
	return d
}
