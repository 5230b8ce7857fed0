package decision

import (
	"testing"

	"spotledger/internal/fixture"
	"spotledger/internal/risk"
	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = fixture.D

func newEngine(t *testing.T, mode schema.RunMode, dd string, prior *schema.RiskState, held map[string]decimal.Decimal, heldValue string) *Engine {
	t.Helper()
	p := fixture.Profile("acct")
	st, _ := risk.Evaluate(risk.Observation{
		Profile:       p,
		DrawdownPct:   d(dd),
		Prior:         prior,
		OpenPositions: len(held),
	})
	holdings := make(map[string]decimal.Decimal, len(held))
	for asset := range held {
		holdings[asset] = d(heldValue)
	}
	gates := risk.NewEngine(p, st, risk.StateView{Cash: d("10000"), Value: d("10000"), Holdings: holdings})
	return NewEngine(mode, p, gates)
}

func marks(entries ...schema.Mark) map[string]schema.Mark {
	out := make(map[string]schema.Mark, len(entries))
	for _, m := range entries {
		out[m.Asset] = m
	}
	return out
}

func TestEnterSizedFromBaseFraction(t *testing.T) {
	e := newEngine(t, schema.RunModePaper, "0", nil, nil, "0")
	out := fixture.Output("BTC", fixture.Hour0, "0.62", "0.015")

	results := e.Decide([]schema.ModelOutput{out}, marks(fixture.Mark("BTC", "40000")), nil)
	require.Len(t, results, 1)
	r := results[0]

	assert.Equal(t, schema.ActionEnter, r.Signal.Action)
	assert.Equal(t, schema.DirectionLong, r.Signal.Direction)
	assert.True(t, r.Signal.CostRate.Equal(d("0.008")))
	assert.True(t, r.Signal.NetEdge.Equal(d("0.007")))
	assert.True(t, r.Signal.TargetNotional.Equal(d("200")))
	assert.True(t, r.Qty.Equal(d("0.005")))
	assert.Equal(t, schema.ClusterID("MAJORS"), r.Signal.ClusterID)
	assert.True(t, r.HasOrder())
}

func TestEnterRequiresPositiveEdgeAndConfidence(t *testing.T) {
	e := newEngine(t, schema.RunModePaper, "0", nil, nil, "0")
	m := marks(fixture.Mark("BTC", "40000"), fixture.Mark("ETH", "2000"), fixture.Mark("SOL", "100"))

	crash := fixture.Output("SOL", fixture.Hour0, "0.9", "0.05")
	crash.Regime = "CRASH"
	results := e.Decide([]schema.ModelOutput{
		fixture.Output("BTC", fixture.Hour0, "0.62", "0.008"),
		fixture.Output("ETH", fixture.Hour0, "0.50", "0.05"),
		crash,
	}, m, nil)
	require.Len(t, results, 3)

	assert.Equal(t, schema.ReasonNonPositiveNetEdge, results[0].Signal.Reason)
	assert.Equal(t, schema.ReasonConfidenceBelowThreshold, results[1].Signal.Reason)
	assert.Equal(t, schema.ReasonRegimeBlocked, results[2].Signal.Reason)
	for _, r := range results {
		assert.Equal(t, schema.ActionHold, r.Signal.Action)
		assert.False(t, r.HasOrder())
		assert.False(t, r.Logged)
	}
}

func TestHaltedAccountHoldsWithLoggedReason(t *testing.T) {
	e := newEngine(t, schema.RunModePaper, "22", nil, nil, "0")
	results := e.Decide([]schema.ModelOutput{fixture.Output("BTC", fixture.Hour0, "0.9", "0.05")}, marks(fixture.Mark("BTC", "40000")), nil)
	require.Len(t, results, 1)
	assert.Equal(t, schema.ActionHold, results[0].Signal.Action)
	assert.Equal(t, schema.ReasonHaltNewEntriesActive, results[0].Signal.Reason)
	assert.True(t, results[0].Logged)
}

func TestUnapprovedModelOutsideBacktest(t *testing.T) {
	out := fixture.Output("BTC", fixture.Hour0, "0.9", "0.05")
	out.Approved = false
	m := marks(fixture.Mark("BTC", "40000"))

	paper := newEngine(t, schema.RunModePaper, "0", nil, nil, "0").Decide([]schema.ModelOutput{out}, m, nil)
	assert.Equal(t, schema.ReasonModelNotApproved, paper[0].Signal.Reason)
	assert.True(t, paper[0].Logged)

	backtest := newEngine(t, schema.RunModeBacktest, "0", nil, nil, "0").Decide([]schema.ModelOutput{out}, m, nil)
	assert.Equal(t, schema.ActionEnter, backtest[0].Signal.Action)
}

func TestHeldAssetExitsOnlyOnModelSignal(t *testing.T) {
	held := map[string]decimal.Decimal{"BTC": d("0.1")}
	m := marks(fixture.Mark("BTC", "30000"))
	e := newEngine(t, schema.RunModePaper, "8", nil, held, "3000")

	hold := e.Decide([]schema.ModelOutput{fixture.Output("BTC", fixture.Hour0, "0.5", "0.01")}, m, held)
	assert.Equal(t, schema.ActionHold, hold[0].Signal.Action, "unrealized loss alone never forces an exit")
	assert.Equal(t, schema.DirectionLong, hold[0].Signal.Direction)

	exit := e.Decide([]schema.ModelOutput{fixture.Output("BTC", fixture.Hour0, "0.40", "0.01")}, m, held)
	assert.Equal(t, schema.ActionExit, exit[0].Signal.Action)
	assert.Equal(t, schema.DirectionFlat, exit[0].Signal.Direction)
	assert.Equal(t, schema.SideSell, exit[0].Side)
	assert.True(t, exit[0].Qty.Equal(d("0.1")))
}

func TestSevereDeriskSellsHalf(t *testing.T) {
	held := map[string]decimal.Decimal{"BTC": d("0.3"), "ETH": d("1.00000001")}
	prior := schema.RiskState{Tier: schema.TierHalt20, Severe: schema.SevereHold, DrawdownPct: d("26")}
	e := newEngine(t, schema.RunModePaper, "28", &prior, held, "1000")
	require.Equal(t, schema.SevereDeriskIntent, e.gates.State().Severe)

	m := marks(fixture.Mark("BTC", "30000"), fixture.Mark("ETH", "1500"))
	results := e.Decide([]schema.ModelOutput{fixture.Output("BTC", fixture.Hour0, "0.6", "0.02")}, m, held)
	require.Len(t, results, 2)

	assert.Equal(t, "BTC", results[0].Signal.Asset)
	assert.True(t, results[0].Qty.Equal(d("0.15")))
	assert.Equal(t, "ETH", results[1].Signal.Asset)
	assert.True(t, results[1].Qty.Equal(d("0.5")))
	assert.Equal(t, schema.ActionExit, results[1].Signal.Action)
}

func TestMissingMarkHolds(t *testing.T) {
	e := newEngine(t, schema.RunModePaper, "0", nil, nil, "0")
	results := e.Decide([]schema.ModelOutput{fixture.Output("BTC", fixture.Hour0, "0.9", "0.05")}, nil, nil)
	assert.Equal(t, schema.ReasonNoMarkPrice, results[0].Signal.Reason)
	assert.False(t, results[0].HasOrder())
}
