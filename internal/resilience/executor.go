// Package resilience wraps outbound calls with timeout, bounded retry and
// circuit-breaker policies so a single slow dependency cannot cascade into
// total failure. Every cross-service call in the system goes through an
// Executor.
package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

const (
	defaultTimeout          = 2 * time.Second
	defaultMaxRetries       = 2
	defaultBackoffBase      = 100 * time.Millisecond
	defaultBackoffMax       = 2 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 10 * time.Second
)

// Policy describes how calls to one target are guarded.
type Policy struct {
	Timeout          time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = defaultBackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = defaultBackoffMax
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = defaultBreakerThreshold
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = defaultBreakerCooldown
	}
	return p
}

// Op is a single attempt of an outbound call. The context it receives
// carries the per-attempt deadline.
type Op func(ctx context.Context) error

type callOptions struct {
	idempotent     bool
	idempotencyKey string
}

type Option func(*callOptions)

// Idempotent marks the operation as safe to retry unconditionally
// (reservations, releases, reads).
func Idempotent() Option {
	return func(o *callOptions) { o.idempotent = true }
}

// WithIdempotencyKey allows retrying a non-idempotent operation (a charge):
// the downstream replays the recorded result for the key instead of
// executing twice.
func WithIdempotencyKey(key string) Option {
	return func(o *callOptions) { o.idempotencyKey = key }
}

// Executor holds one breaker per target plus the retry policies. It is safe
// for concurrent use.
type Executor struct {
	defaultPolicy Policy
	perTarget     map[string]Policy

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewExecutor(defaultPolicy Policy, perTarget map[string]Policy) *Executor {
	normalized := make(map[string]Policy, len(perTarget))
	for name, p := range perTarget {
		normalized[name] = p.withDefaults()
	}
	return &Executor{
		defaultPolicy: defaultPolicy.withDefaults(),
		perTarget:     normalized,
		breakers:      make(map[string]*Breaker),
	}
}

func (e *Executor) policyFor(target string) Policy {
	if p, ok := e.perTarget[target]; ok {
		return p
	}
	return e.defaultPolicy
}

func (e *Executor) breakerFor(target string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.breakers[target]; ok {
		return b
	}
	p := e.policyFor(target)
	b := NewBreaker(p.BreakerThreshold, p.BreakerCooldown)
	e.breakers[target] = b
	return b
}

// BreakerState exposes the current breaker state for a target, for the
// observability surface.
func (e *Executor) BreakerState(target string) State {
	return e.breakerFor(target).State()
}

// Do runs op against target under the target's policy. Dependency failures
// (transport errors, timeouts, downstream 5xx) are counted against the
// breaker and retried when the operation is idempotent or carries an
// idempotency key. Validation errors and business rejections are final
// outcomes: returned as-is, never retried, never counted as failures.
//
// Exhausting retries or hitting an open breaker surfaces a KindUnavailable
// error; it is never silently swallowed.
func (e *Executor) Do(ctx context.Context, target string, op Op, opts ...Option) error {
	var o callOptions
	for _, apply := range opts {
		apply(&o)
	}

	p := e.policyFor(target)
	b := e.breakerFor(target)
	canRetry := o.idempotent || o.idempotencyKey != ""

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := b.Allow(); err != nil {
			return apperr.Unavailable(err, "dependency "+target+" unavailable")
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := op(attemptCtx)
		cancel()

		if err == nil {
			b.OnSuccess()
			return nil
		}

		if kind := apperr.KindOf(err); kind != 0 && kind != apperr.KindUnavailable {
			// The dependency answered; the answer was just "no".
			b.OnSuccess()
			return err
		}

		b.OnFailure()
		lastErr = err
		logger.Ctx(ctx).Warn().Err(err).
			Str("target", target).
			Int("attempt", attempt+1).
			Bool("retriable", canRetry).
			Msg("outbound call failed")

		if !canRetry || attempt == p.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return apperr.Unavailable(ctx.Err(), "dependency "+target+" unavailable")
		case <-time.After(backoffDelay(p, attempt)):
		}
	}
	return apperr.Unavailable(lastErr, "dependency "+target+" unavailable")
}

// backoffDelay is exponential in the attempt number with full jitter,
// capped at BackoffMax.
func backoffDelay(p Policy, attempt int) time.Duration {
	d := p.BackoffBase << uint(attempt)
	if d > p.BackoffMax || d <= 0 {
		d = p.BackoffMax
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
