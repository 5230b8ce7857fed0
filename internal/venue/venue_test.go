package venue

import (
	"context"
	"testing"
	"time"

	"spotledger/internal/fixture"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func request(id, qty string) schema.OrderRequest {
	return schema.OrderRequest{
		OrderID:      id,
		Asset:        "BTC",
		Side:         schema.SideBuy,
		RequestedQty: fixture.D(qty),
		LimitPrice:   fixture.D("100"),
		RequestedAt:  fixture.Hour0,
	}
}

func sumQty(fills []schema.VenueFill) decimal.Decimal {
	sum := decimal.Zero
	for _, f := range fills {
		sum = sum.Add(f.Qty)
	}
	return sum
}

func TestPaperFullFill(t *testing.T) {
	p, err := NewPaper(PaperConfig{Seed: 1, FeeRate: fixture.D("0.001")})
	require.NoError(t, err)

	fills, err := p.Execute(t.Context(), request("o1", "2"))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Qty.Equal(fixture.D("2")))
	assert.True(t, fills[0].Price.Equal(fixture.D("100")))
	assert.True(t, fills[0].FeeRate.Equal(fixture.D("0.001")))
	assert.True(t, fills[0].SlippageRate.IsZero())
	assert.Equal(t, time.Duration(0), fills[0].Delay)
}

func TestPaperIsDeterministicPerOrder(t *testing.T) {
	cfg := PaperConfig{
		Seed:            42,
		FeeRate:         fixture.D("0.001"),
		MaxSlippageRate: fixture.D("0.002"),
		PartialRate:     0.5,
		MaxSplits:       4,
		MaxDelay:        time.Minute,
	}
	a, err := NewPaper(cfg)
	require.NoError(t, err)
	b, err := NewPaper(cfg)
	require.NoError(t, err)

	_, err = b.Execute(t.Context(), request("other", "1"))
	require.NoError(t, err)

	for _, id := range []string{"o1", "o2", "o3", "o4"} {
		fa, err := a.Execute(t.Context(), request(id, "3"))
		require.NoError(t, err)
		fb, err := b.Execute(t.Context(), request(id, "3"))
		require.NoError(t, err)
		assert.Equal(t, fa, fb, id)

		assert.False(t, sumQty(fa).GreaterThan(fixture.D("3")))
		var last time.Duration
		for _, f := range fa {
			assert.True(t, f.Qty.IsPositive())
			assert.GreaterOrEqual(t, f.Delay, last)
			assert.False(t, f.SlippageRate.GreaterThan(fixture.D("0.002")))
			last = f.Delay
		}
	}
}

func TestPaperSplitsSumToQty(t *testing.T) {
	p, err := NewPaper(PaperConfig{Seed: 9, MaxSplits: 5})
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		fills, err := p.Execute(t.Context(), request(id, "1.23456789"))
		require.NoError(t, err)
		assert.True(t, sumQty(fills).Equal(fixture.D("1.23456789")), id)
	}
}

func TestPaperCancelAndFail(t *testing.T) {
	p, err := NewPaper(PaperConfig{Seed: 1, CancelRate: 1})
	require.NoError(t, err)
	fills, err := p.Execute(t.Context(), request("o1", "1"))
	require.NoError(t, err)
	assert.Empty(t, fills)

	p, err = NewPaper(PaperConfig{Seed: 1, FailRate: 1})
	require.NoError(t, err)
	_, err = p.Execute(t.Context(), request("o1", "1"))
	assert.True(t, errors.Is(err, exception.ErrVenueUnavailable))

	_, err = NewPaper(PaperConfig{PartialRate: 2})
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

type failing struct{ calls int }

func (f *failing) Execute(context.Context, schema.OrderRequest) ([]schema.VenueFill, error) {
	f.calls++
	return nil, exception.ErrVenueUnavailable
}

func TestBreakerTripsIntoExchangeInstability(t *testing.T) {
	next := &failing{}
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Hour})
	assert.Empty(t, b.Faults())

	for range 2 {
		_, err := b.Execute(t.Context(), request("o1", "1"))
		require.Error(t, err)
	}
	assert.True(t, b.Open())
	assert.Equal(t, []schema.FaultSignal{schema.FaultExchangeInstability}, b.Faults())

	_, err := b.Execute(t.Context(), request("o2", "1"))
	assert.True(t, errors.Is(err, exception.ErrVenueUnavailable))
	assert.Equal(t, 2, next.calls)
}

func TestBreakerPassesFills(t *testing.T) {
	p, err := NewPaper(PaperConfig{Seed: 3})
	require.NoError(t, err)
	b := NewBreaker(p, BreakerConfig{})
	fills, err := b.Execute(t.Context(), request("o1", "1"))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.False(t, b.Open())
}

func TestRecordedReturnsFillsByOrder(t *testing.T) {
	r := NewRecorded([]schema.VenueFill{
		{OrderID: "o1", Qty: fixture.D("1")},
		{OrderID: "o2", Qty: fixture.D("2")},
		{OrderID: "o1", Qty: fixture.D("3")},
	})
	fills, err := r.Execute(t.Context(), request("o1", "4"))
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.True(t, fills[1].Qty.Equal(fixture.D("3")))

	fills, err = r.Execute(t.Context(), request("missing", "1"))
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestCostCeiling(t *testing.T) {
	p, err := NewPaper(PaperConfig{Seed: 1, FeeRate: fixture.D("0.001"), MaxSlippageRate: fixture.D("0.002")})
	require.NoError(t, err)

	fee, slip, ok := NewBreaker(p, BreakerConfig{}).CostCeiling()
	require.True(t, ok)
	assert.True(t, fee.Equal(fixture.D("0.001")))
	assert.True(t, slip.Equal(fixture.D("0.002")))

	_, _, ok = NewBreaker(&failing{}, BreakerConfig{}).CostCeiling()
	assert.False(t, ok)
}
