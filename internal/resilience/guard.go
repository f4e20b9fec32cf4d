package resilience

import (
	"context"
	"time"

	"github.com/lexiqai/device-gateway/internal/observability"
)

// GuardConfig configures the protection wrapped around one provider
type GuardConfig struct {
	Timeout      time.Duration // Per call deadline; zero means none
	Concurrency  int
	MaxFailures  int
	ResetTimeout time.Duration
	Retry        *RetryConfig
}

// Guard runs provider calls through a bulkhead, a circuit breaker and retry,
// each attempt bounded by its own timeout. Every call is observed in the
// provider metrics under the guard's name.
type Guard struct {
	name     string
	bulkhead *Bulkhead
	breaker  *CircuitBreaker
	retry    *RetryConfig
	timeout  time.Duration
}

// NewGuard creates a guard for the named provider
func NewGuard(name string, cfg GuardConfig) *Guard {
	breaker := NewCircuitBreaker(name, cfg.MaxFailures, cfg.ResetTimeout)
	breaker.OnStateChange(func(name string, state CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		observability.WithComponent("resilience").Warn().
			Str("service", name).
			Str("state", state.String()).
			Msg("Circuit breaker state changed")
	})
	observability.UpdateCircuitBreakerState(name, int(StateClosed))

	return &Guard{
		name:     name,
		bulkhead: NewBulkhead(name, cfg.Concurrency),
		breaker:  breaker,
		retry:    cfg.Retry,
		timeout:  cfg.Timeout,
	}
}

// Name returns the provider name
func (g *Guard) Name() string {
	return g.name
}

// Breaker exposes the guard's circuit breaker for readiness checks
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Do executes fn under the guard
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := g.bulkhead.Do(ctx, func(ctx context.Context) error {
		return Retry(ctx, func(ctx context.Context) error {
			return g.breaker.Call(func() error {
				callCtx, cancel := g.withTimeout(ctx)
				defer cancel()
				err := fn(callCtx)
				if err != nil {
					observability.IncrementCircuitBreakerFailures(g.name)
				}
				return err
			})
		}, g.retry, IsRetryableNetworkError)
	})
	observability.ObserveProvider(g.name, start, err == nil)
	return err
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}
