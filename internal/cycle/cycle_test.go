package cycle

import (
	"testing"
	"time"

	"spotledger/internal/fixture"
	"spotledger/internal/hashing"
	"spotledger/internal/ledger"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var (
	d         = fixture.D
	partition = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModePaper}
)

func execute(t *testing.T, in *schema.CycleInput, head *state.Head) *schema.CycleRecord {
	t.Helper()
	rec, err := Execute(t.Context(), *in, head, fixture.Venue())
	require.NoError(t, err)
	return rec
}

func TestEntrySizedAndPostedToLedger(t *testing.T) {
	rec := execute(t, fixture.EntryInput("acct", fixture.Hour0), state.NewHead(partition))

	require.Len(t, rec.Signals, 1)
	sig := rec.Signals[0]
	assert.Equal(t, schema.ActionEnter, sig.Action)
	assert.True(t, sig.CostRate.Equal(d("0.008")))
	assert.True(t, sig.NetEdge.Equal(d("0.007")))
	assert.True(t, sig.TargetNotional.Equal(d("200")))
	assert.Equal(t, rec.RiskState.RowHash, sig.RiskStateHash)
	assert.Equal(t, schema.ClusterID("MAJORS"), sig.ClusterID)

	require.Len(t, rec.Orders, 1)
	assert.Equal(t, schema.OrderStatusFilled, rec.Orders[0].Status)
	assert.True(t, rec.Orders[0].RequestedQty.Equal(d("0.004")))

	require.Len(t, rec.Ledger, 1)
	e := rec.Ledger[0]
	assert.Equal(t, uint64(1), e.Seq)
	assert.Empty(t, e.PrevHash)
	assert.True(t, e.BalanceBefore.Equal(d("10000")))
	assert.True(t, e.DeltaCash.Equal(d("-200.4")))
	assert.True(t, e.BalanceAfter.Equal(d("9799.6")))

	require.Len(t, rec.Lots, 1)
	assert.True(t, rec.Lots[0].OpenQty.Equal(d("0.004")))

	assert.True(t, rec.Portfolio.Cash.Equal(d("9799.6")))
	assert.True(t, rec.Portfolio.TotalValue.Equal(d("9999.6")))
	assert.Equal(t, uint64(1), rec.Portfolio.LastLedgerSeq)
	assert.Equal(t, e.RowHash, rec.Portfolio.LastLedgerHash)
	assert.Empty(t, rec.Portfolio.ParentHash)
	require.Len(t, rec.Positions, 1)

	require.Len(t, rec.Clusters, 2)
	for _, c := range rec.Clusters {
		assert.Equal(t, rec.RiskState.RowHash, c.ParentHash)
		assert.True(t, c.CapLimit.Equal(d("4000")))
	}
	assert.Empty(t, rec.Events)

	require.Len(t, rec.Input.Fills, 1)
	assert.True(t, rec.Run.Completed)
	assert.Equal(t, rec.Manifest.ReplayRootHash, rec.Run.ReplayRootHash)
	assert.Equal(t, 11, rec.Manifest.AuthoritativeRowCount)
	assert.True(t, hashing.IsDigest(rec.Manifest.ReplayRootHash))
	assert.Equal(t, hashing.RunSeed(rec.Run.SeedInput()), rec.Run.RunSeedHash)
}

func TestExecuteIsDeterministic(t *testing.T) {
	a := execute(t, fixture.EntryInput("acct", fixture.Hour0), state.NewHead(partition))
	b := execute(t, fixture.EntryInput("acct", fixture.Hour0), state.NewHead(partition))

	assert.Equal(t, a.Run.RunSeedHash, b.Run.RunSeedHash)
	assert.Equal(t, a.Manifest, b.Manifest)

	in := fixture.EntryInput("acct", fixture.Hour0)
	in.Seed = 8
	c := execute(t, in, state.NewHead(partition))
	assert.NotEqual(t, a.Run.RunSeedHash, c.Run.RunSeedHash)
	assert.NotEqual(t, a.Manifest.ReplayRootHash, c.Manifest.ReplayRootHash)
}

func TestExitRealizesTradeAndChainsHours(t *testing.T) {
	head := state.NewHead(partition)
	rec0 := execute(t, fixture.EntryInput("acct", fixture.Hour0), head)
	require.NoError(t, head.Apply(rec0))

	hour1 := fixture.Hour0.Add(time.Hour)
	in := fixture.Input("acct", hour1)
	in.Outputs = []schema.ModelOutput{fixture.Output("BTC", hour1, "0.3", "0.015")}
	in.Marks = []schema.Mark{fixture.Mark("BTC", "51000")}
	rec1 := execute(t, in, head)

	assert.Equal(t, rec0.Portfolio.RowHash, rec1.RiskState.ParentHash)
	assert.Equal(t, rec0.Portfolio.RowHash, rec1.Portfolio.ParentHash)

	require.Len(t, rec1.Signals, 1)
	assert.Equal(t, schema.ActionExit, rec1.Signals[0].Action)
	require.Len(t, rec1.Trades, 1)
	tr := rec1.Trades[0]
	assert.Equal(t, rec0.Lots[0].LotID, tr.LotID)
	assert.True(t, tr.GrossPnL.Equal(d("4")))
	assert.True(t, tr.TotalFee.Equal(d("0.404")))
	assert.True(t, tr.TotalSlippage.Equal(d("0.404")))
	assert.True(t, tr.NetPnL.Equal(d("3.192")))

	require.Len(t, rec1.Ledger, 1)
	e := rec1.Ledger[0]
	assert.Equal(t, uint64(2), e.Seq)
	assert.Equal(t, rec0.Ledger[0].RowHash, e.PrevHash)
	assert.True(t, e.BalanceBefore.Equal(d("9799.6")))
	assert.True(t, e.BalanceAfter.Equal(d("10003.192")))
	assert.Empty(t, rec1.Positions)
	assert.Equal(t, 0, rec1.Portfolio.OpenPositions)

	require.NoError(t, head.Apply(rec1))
	tip, err := ledger.Verify(ledger.Tip{Balance: d("10000")}, append(rec0.Ledger, rec1.Ledger...))
	require.NoError(t, err)
	assert.True(t, tip.Balance.Equal(d("10003.192")))
}

func TestHalt20BlocksEntries(t *testing.T) {
	head := state.NewHead(partition)
	head.Cycles = 1
	head.LastHour = fixture.Hour0
	head.Ledger = ledger.Tip{Balance: d("7800")}
	head.Portfolio = &schema.PortfolioSnapshot{PeakValue: d("10000"), TotalValue: d("7800"), RowHash: "prior"}

	hour1 := fixture.Hour0.Add(time.Hour)
	in := fixture.Input("acct", hour1)
	in.Outputs = []schema.ModelOutput{fixture.Output("ETH", hour1, "0.9", "0.05")}
	in.Marks = []schema.Mark{fixture.Mark("ETH", "3000")}
	rec := execute(t, in, head)

	rs := rec.RiskState
	assert.True(t, rs.DrawdownPct.Equal(d("22")))
	assert.Equal(t, schema.TierHalt20, rs.Tier)
	assert.True(t, rs.HaltNewEntries)
	assert.True(t, rs.ManualReviewRequired)
	assert.True(t, rs.BaseRiskFraction.IsZero())
	assert.Equal(t, 0, rs.MaxPositions)
	assert.Equal(t, "prior", rs.ParentHash)

	require.Len(t, rec.Signals, 1)
	assert.Equal(t, schema.ActionHold, rec.Signals[0].Action)
	assert.Equal(t, schema.ReasonHaltNewEntriesActive, rec.Signals[0].Reason)
	assert.Empty(t, rec.Orders)

	var reasons []schema.RiskReason
	for _, e := range rec.Events {
		reasons = append(reasons, e.Reason)
	}
	assert.Equal(t, []schema.RiskReason{schema.ReasonTierChanged, schema.ReasonHaltNewEntriesActive}, reasons)
}

func TestKillSwitchRejectsExits(t *testing.T) {
	head := state.NewHead(partition)
	rec0 := execute(t, fixture.EntryInput("acct", fixture.Hour0), head)
	require.NoError(t, head.Apply(rec0))

	hour1 := fixture.Hour0.Add(time.Hour)
	in := fixture.Input("acct", hour1)
	in.Outputs = []schema.ModelOutput{fixture.Output("BTC", hour1, "0.3", "0.015")}
	in.Marks = []schema.Mark{fixture.Mark("BTC", "50000")}
	in.Faults = []schema.FaultSignal{schema.FaultExchangeInstability}
	rec := execute(t, in, head)

	assert.True(t, rec.RiskState.KillSwitchActive)
	require.Len(t, rec.Orders, 1)
	assert.Equal(t, schema.SideSell, rec.Orders[0].Side)
	assert.Equal(t, schema.OrderStatusRejected, rec.Orders[0].Status)
	assert.Equal(t, schema.ReasonKillSwitchActive, rec.Orders[0].Reason)
	assert.Empty(t, rec.Ledger)
	require.Len(t, rec.Positions, 1)

	require.Len(t, rec.Events, 2)
	assert.Equal(t, schema.ReasonKillSwitchEngaged, rec.Events[0].Reason)
	assert.Equal(t, schema.RiskEventRejection, rec.Events[1].Kind)
	assert.Equal(t, schema.ReasonKillSwitchActive, rec.Events[1].Reason)
}

func TestMissingMarkEngagesKillSwitch(t *testing.T) {
	head := state.NewHead(partition)
	rec0 := execute(t, fixture.EntryInput("acct", fixture.Hour0), head)
	require.NoError(t, head.Apply(rec0))

	rec := execute(t, fixture.Input("acct", fixture.Hour0.Add(time.Hour)), head)

	assert.True(t, rec.RiskState.KillSwitchActive)
	require.NotEmpty(t, rec.Events)
	assert.Equal(t, schema.ReasonMarkMissing, rec.Events[0].Reason)
	assert.Equal(t, "BTC", rec.Events[0].Asset)
	require.Len(t, rec.Positions, 1)
	assert.True(t, rec.Positions[0].MarkPrice.Equal(d("50000")))
	assert.Empty(t, rec.Input.Faults)
}

func TestRunIDDerivedWhenEmpty(t *testing.T) {
	in := fixture.EntryInput("acct", fixture.Hour0.Add(17*time.Minute))
	in.RunID = ""
	rec := execute(t, in, state.NewHead(partition))

	assert.Len(t, rec.Run.RunID, 36)
	assert.True(t, fixture.Hour0.Equal(rec.Run.OriginHour))
	assert.Equal(t, rec.Run.RunID, rec.Input.RunID)

	again := *in
	Normalize(&again)
	assert.Equal(t, rec.Run.RunID, again.RunID)
}

func TestExecuteRejectsBadHeads(t *testing.T) {
	in := fixture.EntryInput("acct", fixture.Hour0)

	_, err := Execute(t.Context(), *in, state.NewHead(schema.PartitionKey{AccountID: "other", Mode: schema.RunModePaper}), fixture.Venue())
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))

	head := state.NewHead(partition)
	require.NoError(t, head.Apply(execute(t, in, head)))
	_, err = Execute(t.Context(), *in, head, fixture.Venue())
	assert.True(t, errors.Is(err, exception.ErrAppendOnlyViolation))

	bad := fixture.EntryInput("acct", fixture.Hour0.Add(time.Hour))
	bad.Profile.BaseRiskFraction = d("0")
	_, err = Execute(t.Context(), *bad, head, fixture.Venue())
	assert.True(t, errors.Is(err, exception.ErrInvalidProfileConfiguration))
}

func TestVenueCostsMustFitAssumedRates(t *testing.T) {
	in := fixture.EntryInput("acct", fixture.Hour0)
	in.Profile.BaseRiskFraction = d("1")
	in.Profile.AssumedFeeRate = d("0")
	in.Profile.AssumedSlippageRate = d("0")

	rec, err := Execute(t.Context(), *in, state.NewHead(partition), fixture.Venue())
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, exception.ErrInvalidProfileConfiguration))

	in.Profile.AssumedFeeRate = d("0.001")
	in.Profile.AssumedSlippageRate = d("0.001")
	rec, err = Execute(t.Context(), *in, state.NewHead(partition), fixture.Venue())
	require.NoError(t, err)
	for _, e := range rec.Ledger {
		assert.False(t, e.BalanceAfter.IsNegative(), e.BalanceAfter.String())
	}
}
