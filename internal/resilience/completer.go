package resilience

import (
	"context"
	"errors"

	"github.com/verbamed/verbamed/internal/summary"
)

// Compile-time assertion that GuardedCompleter implements summary.Completer.
var _ summary.Completer = (*GuardedCompleter)(nil)

// GuardedCompleter wraps a [summary.Completer] with a circuit breaker. While
// the breaker is open, Complete returns [ErrCircuitOpen] immediately without
// touching the provider, so callers hit their fallback path in microseconds
// instead of waiting out a provider timeout per request.
type GuardedCompleter struct {
	inner summary.Completer
	cb    *CircuitBreaker
}

// NewGuardedCompleter wraps inner with a breaker built from cfg. Unless cfg
// says otherwise, a caller's own cancellation is not held against the
// provider; deadline-exceeded responses are, since a provider that keeps
// timing out should trip the breaker.
func NewGuardedCompleter(inner summary.Completer, cfg CircuitBreakerConfig) *GuardedCompleter {
	if cfg.Name == "" {
		cfg.Name = "summarizer"
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	return &GuardedCompleter{
		inner: inner,
		cb:    NewCircuitBreaker(cfg),
	}
}

// Complete implements summary.Completer.
func (g *GuardedCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	var reply string
	err := g.cb.Execute(func() error {
		var err error
		reply, err = g.inner.Complete(ctx, system, user)
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// State exposes the breaker state, for health reporting.
func (g *GuardedCompleter) State() State {
	return g.cb.State()
}
