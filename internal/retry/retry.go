// Package retry implements the exponential-backoff-with-jitter policy
// shared by the upstream client (C1) and the rule-set cache (C3), per
// spec.md §4.1:
//
//	delay = min(max_backoff, initial_backoff * 2^(attempt-1)) * jitter
//
// where jitter is drawn uniformly from [0.5, 1.0] when enabled. Rather
// than hand-roll a sleep loop, routesync plugs this policy into
// github.com/cenkalti/backoff/v5's retry driver by implementing its
// backoff.BackOff interface, which keeps the call sites (C1, C3) using
// the same ecosystem retry harness the rest of the corpus reaches for.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"routesync/internal/config"
)

// Policy computes the spec.md §4.1 backoff schedule. It implements
// backoff.BackOff so it can drive backoff.Retry directly.
type Policy struct {
	cfg     config.RetryConfig
	attempt int
	rand    func() float64
}

// NewPolicy builds a Policy from a RetryConfig. Each call site should
// construct a fresh Policy per logical operation, since it carries attempt
// state.
func NewPolicy(cfg config.RetryConfig) *Policy {
	return &Policy{cfg: cfg, rand: rand.Float64}
}

// NextBackOff implements backoff.BackOff. It returns backoff.Stop once the
// configured retry budget (max_retries additional attempts beyond the
// first) is exhausted.
func (p *Policy) NextBackOff() time.Duration {
	if p.attempt >= p.cfg.MaxRetries {
		return backoff.Stop
	}
	p.attempt++

	base := math.Min(p.cfg.MaxBackoff, p.cfg.InitialBackoff*math.Pow(2, float64(p.attempt-1)))
	if !p.cfg.Jitter {
		return secondsToDuration(base)
	}
	jitter := 0.5 + 0.5*p.rand() // uniform in [0.5, 1.0]
	return secondsToDuration(base * jitter)
}

// Reset implements backoff.BackOff, restarting the attempt counter.
func (p *Policy) Reset() {
	p.attempt = 0
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ErrExhausted is returned (wrapped) when an operation runs out of
// retries. Callers that need to distinguish "exhausted retries" from
// "non-retryable client error" should check errors.Is against this.
var ErrExhausted = errors.New("retry budget exhausted")

// Do runs op under the retry Policy until it succeeds, a non-retryable
// error is returned (detected via shouldRetry), the context is cancelled,
// or the retry budget is exhausted. It mirrors rule_downloader.py's
// _download_with_retry / _exponential_backoff_with_jitter pairing, generalized
// to any retryable operation (both C1's HTTP reads and C3's conditional
// GETs use it).
func Do[T any](ctx context.Context, cfg config.RetryConfig, op func(ctx context.Context) (T, error), shouldRetry func(error) bool) (T, error) {
	policy := NewPolicy(cfg)
	permanent := false
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !shouldRetry(err) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(0))
	if err != nil && !permanent && ctx.Err() == nil {
		return v, fmt.Errorf("%w: %w", ErrExhausted, err)
	}
	return v, err
}
