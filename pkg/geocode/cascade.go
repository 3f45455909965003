package geocode

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/resilience"
)

// Cascade tries each provider in order until one matches. Provider errors
// are logged and skipped; the last error is returned only when no provider
// produced an answer.
type Cascade struct {
	providers []Provider
	cache     Cache
	ttl       time.Duration

	retry    *resilience.RetryConfig
	breakers map[string]*resilience.Breaker
}

// CascadeOption configures a Cascade.
type CascadeOption func(*Cascade)

// WithCache stores results (matches and misses) in c for ttl.
func WithCache(c Cache, ttl time.Duration) CascadeOption {
	return func(cs *Cascade) {
		cs.cache = c
		cs.ttl = ttl
	}
}

// WithRetry retries transient provider errors (429, 5xx, timeouts).
func WithRetry(cfg resilience.RetryConfig) CascadeOption {
	return func(cs *Cascade) {
		cs.retry = &cfg
	}
}

// WithBreakers gives every provider its own circuit breaker, so a provider
// that keeps failing is skipped until it recovers.
func WithBreakers(cfg resilience.BreakerConfig) CascadeOption {
	return func(cs *Cascade) {
		cs.breakers = make(map[string]*resilience.Breaker, len(cs.providers))
		for _, p := range cs.providers {
			cs.breakers[p.Name()] = resilience.NewBreaker("geocode."+p.Name(), cfg)
		}
	}
}

// NewCascade creates a Cascade over providers.
func NewCascade(providers []Provider, opts ...CascadeOption) *Cascade {
	c := &Cascade{providers: providers}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode implements Client.
func (c *Cascade) Geocode(ctx context.Context, address string) (*Result, error) {
	key := forwardKey(address)
	var cached Result
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	var lastErr error
	answered := false
	result := &Result{Matched: false}
	for _, p := range c.providers {
		r, err := call(ctx, c, p, "geocode", func(ctx context.Context) (*Result, error) {
			return p.Geocode(ctx, address)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "geocode: cascade")
			}
			zap.L().Warn("geocode: provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		answered = true
		if r.Matched {
			result = r
			break
		}
		result = r
	}

	if !answered && lastErr != nil {
		return nil, eris.Wrap(lastErr, "geocode: all providers failed")
	}
	c.store(ctx, key, result)
	return result, nil
}

// ReverseGeocode implements ReverseClient.
func (c *Cascade) ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	key := reverseKey(lat, lon)
	var cached ReverseResult
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	var lastErr error
	answered := false
	result := &ReverseResult{Matched: false}
	for _, p := range c.providers {
		r, err := call(ctx, c, p, "reverse", func(ctx context.Context) (*ReverseResult, error) {
			return p.ReverseGeocode(ctx, lat, lon)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "geocode: cascade")
			}
			zap.L().Warn("geocode: reverse provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		answered = true
		if r.Matched {
			result = r
			break
		}
		result = r
	}

	if !answered && lastErr != nil {
		return nil, eris.Wrap(lastErr, "geocode: all reverse providers failed")
	}
	c.store(ctx, key, result)
	return result, nil
}

// call runs fn for provider p through its breaker and retry policy, when configured.
func call[T any](ctx context.Context, c *Cascade, p Provider, op string, fn func(context.Context) (T, error)) (T, error) {
	if c.retry != nil {
		inner := fn
		fn = func(ctx context.Context) (T, error) {
			return resilience.Retry(ctx, *c.retry, p.Name()+"."+op, inner)
		}
	}
	if b, ok := c.breakers[p.Name()]; ok {
		return resilience.Execute(ctx, b, fn)
	}
	return fn(ctx)
}

func (c *Cascade) lookup(ctx context.Context, key string, dst any) bool {
	if c.cache == nil {
		return false
	}
	s, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("geocode: cache get failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		zap.L().Warn("geocode: discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	zap.L().Debug("geocode cache hit", zap.String("key", key))
	return true
}

func (c *Cascade) store(ctx context.Context, key string, v any) {
	if c.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, string(b), c.ttl); err != nil {
		zap.L().Warn("geocode: cache set failed", zap.Error(err))
	}
}
