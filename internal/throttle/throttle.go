// Package throttle paces calls to named external services with per-service
// token buckets so the aggregate call rate stays inside each service's limit.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/draftpress/articlegen/internal/metrics"
)

// ServiceRate is the rate budget for one external service.
type ServiceRate struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds throttle configuration. Services maps a service name to its
// rate budget; unknown services fall back to the defaults.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Services     map[string]ServiceRate
}

// Throttle manages one token bucket per service name. Calls against different
// services never block each other; calls are paced, never dropped.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rates    map[string]ServiceRate
	fallback ServiceRate
	logger   *zap.Logger
}

// New creates a Throttle.
func New(cfg Config, logger *zap.Logger) *Throttle {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := ServiceRate{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst}
	if fallback.Burst <= 0 {
		fallback.Burst = 1
	}
	rates := make(map[string]ServiceRate, len(cfg.Services))
	for name, r := range cfg.Services {
		if r.Burst <= 0 {
			r.Burst = 1
		}
		rates[name] = r
	}
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		rates:    rates,
		fallback: fallback,
		logger:   logger,
	}
}

// Wait blocks until the named service's bucket yields a token, or the context
// ends.
func (t *Throttle) Wait(ctx context.Context, service string) error {
	limiter := t.limiterFor(service)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait for %s: %w", service, err)
	}
	waited := time.Since(start)
	if waited > time.Millisecond {
		metrics.ObserveThrottleWait(service, waited)
		t.logger.Debug("throttled call delayed",
			zap.String("service", service),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// Execute waits for the service's rate budget and then invokes fn. The error
// from fn is returned unchanged; the throttle never retries.
func (t *Throttle) Execute(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	if err := t.Wait(ctx, service); err != nil {
		return err
	}
	return fn(ctx)
}

func (t *Throttle) limiterFor(service string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[service]
	if ok {
		return limiter
	}
	budget, ok := t.rates[service]
	if !ok {
		budget = t.fallback
	}
	limit := rate.Limit(budget.RPS)
	if budget.RPS <= 0 {
		limit = rate.Inf
	}
	limiter = rate.NewLimiter(limit, budget.Burst)
	t.limiters[service] = limiter
	return limiter
}
