// Package venue holds the execution venues the order lifecycle submits to: a seeded
// paper venue, a circuit breaker wrapper and a recorded venue for replay.
package venue

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"spotledger/internal/decision"
	"spotledger/internal/order"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

const slippageScale int32 = 6

var (
	_ order.Venue       = (*Paper)(nil)
	_ order.CostBounded = (*Paper)(nil)
)

// PaperConfig controls simulated execution.
type PaperConfig struct {
	Seed            int64           `json:"seed" yaml:"seed"`
	FeeRate         decimal.Decimal `json:"feeRate" yaml:"feeRate"`
	MaxSlippageRate decimal.Decimal `json:"maxSlippageRate" yaml:"maxSlippageRate"`
	PartialRate     float64         `json:"partialRate" yaml:"partialRate"`
	CancelRate      float64         `json:"cancelRate" yaml:"cancelRate"`
	FailRate        float64         `json:"failRate" yaml:"failRate"`
	MaxSplits       int             `json:"maxSplits" yaml:"maxSplits"`
	MaxDelay        time.Duration   `json:"maxDelay" yaml:"maxDelay"`
}

// Validate ensures the config is within supported ranges.
func (c PaperConfig) Validate() error {
	for name, rate := range map[string]float64{"partialRate": c.PartialRate, "cancelRate": c.CancelRate, "failRate": c.FailRate} {
		if rate < 0 || rate > 1 {
			return errors.Wrapf(exception.ErrInvalidArgument, "%s must be between 0 and 1", name)
		}
	}
	if c.FeeRate.IsNegative() || c.MaxSlippageRate.IsNegative() {
		return errors.Wrap(exception.ErrInvalidArgument, "fee and slippage rates must be >= 0")
	}
	if c.MaxSplits < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "maxSplits must be >= 0")
	}
	if c.MaxDelay < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "maxDelay must be >= 0")
	}
	return nil
}

// Paper fills orders at their limit price. Every random draw comes from a source
// seeded by the config seed and the order id, so an order fills the same way no
// matter when it is submitted.
type Paper struct {
	cfg PaperConfig
}

// NewPaper creates a paper venue with validation.
func NewPaper(cfg PaperConfig) (*Paper, error) {
	if cfg.MaxSplits == 0 {
		cfg.MaxSplits = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Paper{cfg: cfg}, nil
}

func (p *Paper) Execute(ctx context.Context, req schema.OrderRequest) ([]schema.VenueFill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.LimitPrice.IsPositive() {
		return nil, errors.Wrapf(exception.ErrVenueNoMark, "asset: %s", req.Asset)
	}

	rng := p.rngFor(req.OrderID)
	if p.hit(rng, p.cfg.FailRate) {
		return nil, errors.Wrapf(exception.ErrVenueUnavailable, "order: %s", req.OrderID)
	}
	if p.hit(rng, p.cfg.CancelRate) {
		return nil, nil
	}

	qty := req.RequestedQty
	if p.hit(rng, p.cfg.PartialRate) {
		frac := decimal.NewFromFloat(0.5 + rng.Float64()*0.45).Round(4)
		qty = qty.Mul(frac).Truncate(decision.QtyScale)
	}
	if !qty.IsPositive() {
		return nil, nil
	}
	return p.split(rng, req, qty), nil
}

func (p *Paper) CostCeiling() (decimal.Decimal, decimal.Decimal, bool) {
	return p.cfg.FeeRate, p.cfg.MaxSlippageRate, true
}

func (p *Paper) split(rng *rand.Rand, req schema.OrderRequest, qty decimal.Decimal) []schema.VenueFill {
	n := 1
	if p.cfg.MaxSplits > 1 {
		n += rng.Intn(p.cfg.MaxSplits)
	}
	piece := qty.Div(decimal.NewFromInt(int64(n))).Truncate(decision.QtyScale)
	if !piece.IsPositive() {
		n, piece = 1, qty
	}

	fills := make([]schema.VenueFill, 0, n)
	var delay time.Duration
	left := qty
	for i := 0; i < n; i++ {
		q := piece
		if i == n-1 {
			q = left
		}
		left = left.Sub(q)
		if p.cfg.MaxDelay > 0 {
			delay += time.Duration(rng.Int63n(int64(p.cfg.MaxDelay)/int64(n) + 1))
		}
		fills = append(fills, schema.VenueFill{
			OrderID:      req.OrderID,
			Qty:          q,
			Price:        req.LimitPrice,
			FeeRate:      p.cfg.FeeRate,
			SlippageRate: p.slippage(rng),
			Delay:        delay,
		})
	}
	return fills
}

func (p *Paper) slippage(rng *rand.Rand) decimal.Decimal {
	if !p.cfg.MaxSlippageRate.IsPositive() {
		return decimal.Zero
	}
	return p.cfg.MaxSlippageRate.Mul(decimal.NewFromFloat(rng.Float64())).Round(slippageScale)
}

func (p *Paper) hit(rng *rand.Rand, rate float64) bool {
	return rate > 0 && rng.Float64() < rate
}

func (p *Paper) rngFor(orderID string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(orderID))
	return rand.New(rand.NewSource(p.cfg.Seed ^ int64(h.Sum64())))
}
