package venue

import (
	"context"
	"time"

	"spotledger/internal/order"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var (
	_ order.Venue       = (*Breaker)(nil)
	_ order.CostBounded = (*Breaker)(nil)
)

// BreakerConfig controls when the venue is considered unstable.
type BreakerConfig struct {
	Name                string        `json:"name" yaml:"name"`
	ConsecutiveFailures uint32        `json:"consecutiveFailures" yaml:"consecutiveFailures"`
	MaxRequests         uint32        `json:"maxRequests" yaml:"maxRequests"`
	Interval            time.Duration `json:"interval" yaml:"interval"`
	Timeout             time.Duration `json:"timeout" yaml:"timeout"`
}

// Breaker trips after consecutive venue failures. While it is open every order fails
// fast and the next cycle carries an EXCHANGE_INSTABILITY fault.
type Breaker struct {
	next order.Venue
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next order.Venue, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "venue"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	threshold := cfg.ConsecutiveFailures
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logs.Infof("venue breaker %s changed: %s -> %s", name, from, to)
			},
		}),
	}
}

func (b *Breaker) Execute(ctx context.Context, req schema.OrderRequest) ([]schema.VenueFill, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Execute(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Wrapf(exception.ErrVenueUnavailable, "breaker %s: %s", b.cb.Name(), err.Error())
		}
		return nil, err
	}
	fills, _ := res.([]schema.VenueFill)
	return fills, nil
}

// CostCeiling reports the bound of the wrapped venue.
func (b *Breaker) CostCeiling() (decimal.Decimal, decimal.Decimal, bool) {
	if cb, ok := b.next.(order.CostBounded); ok {
		return cb.CostCeiling()
	}
	return decimal.Zero, decimal.Zero, false
}

// Open reports whether the breaker currently rejects requests.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Faults returns the fault signals the breaker state implies.
func (b *Breaker) Faults() []schema.FaultSignal {
	if b.Open() {
		return []schema.FaultSignal{schema.FaultExchangeInstability}
	}
	return nil
}
