package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardOptions configure the rate limit and circuit breaker in front of a store
type GuardOptions struct {
	Name                string        `json:"name" yaml:"name"`
	RatePerSecond       float64       `json:"rate_per_second" yaml:"rate_per_second"`
	Burst               int           `json:"burst" yaml:"burst"`
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

func NewDefaultGuardOptions() *GuardOptions {
	return &GuardOptions{
		Name:                "objectstore",
		RatePerSecond:       50,
		Burst:               10,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// Guarded paces requests to a store and stops calling it after repeated failures. Missing
// objects do not count as failures.
type Guarded struct {
	store   Store
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewGuarded(s Store, opt *GuardOptions) *Guarded {
	if opt == nil {
		opt = NewDefaultGuardOptions()
	}
	limit := rate.Inf
	if opt.RatePerSecond > 0 {
		limit = rate.Limit(opt.RatePerSecond)
	}
	burst := max(opt.Burst, 1)
	failures := opt.ConsecutiveFailures
	if failures == 0 {
		failures = 1
	}

	settings := gobreaker.Settings{
		Name:    opt.Name,
		Timeout: opt.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("object store breaker changed state")
		},
	}
	return &Guarded{
		store:   s,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *Guarded) Get(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.store.Get(ctx, path)
	})
	if err != nil {
		return nil, breakerError(path, err)
	}
	return res.([]byte), nil
}

func (g *Guarded) Put(ctx context.Context, path string, data []byte) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.store.Put(ctx, path, data)
	})
	if err != nil {
		return breakerError(path, err)
	}
	return nil
}

func (g *Guarded) Delete(ctx context.Context, path string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.store.Delete(ctx, path)
	})
	if err != nil {
		return breakerError(path, err)
	}
	return nil
}

// State reports the breaker state
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

func breakerError(path string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %v, %w", path, err, ErrUnavailable)
	}
	return err
}
