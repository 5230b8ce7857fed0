package uow

import (
	"testing"
	"time"

	"spotledger/internal/admission"
	"spotledger/internal/cycle"
	internalerrors "spotledger/internal/errors"
	"spotledger/internal/fixture"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/internal/store/memory"
	"spotledger/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var partition = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModePaper}

func entryBatch(t *testing.T) Batch {
	t.Helper()
	head := state.NewHead(partition)
	rec, err := cycle.Execute(t.Context(), *fixture.EntryInput("acct", fixture.Hour0), head, fixture.Venue())
	require.NoError(t, err)
	return Batch{Head: head, Record: rec}
}

func kinds(err error) []error {
	var out []error
	for _, v := range internalerrors.Violations(err) {
		out = append(out, v.Kind)
	}
	return out
}

func TestValidBatchCommits(t *testing.T) {
	b := entryBatch(t)
	require.NoError(t, b.Validate())

	s := memory.New()
	require.NoError(t, Commit(t.Context(), s, nil, b))

	err := Commit(t.Context(), s, nil, b)
	assert.True(t, errors.Is(err, exception.ErrAppendOnlyViolation))
}

func TestExitBatchValidatesAgainstHead(t *testing.T) {
	b := entryBatch(t)
	require.NoError(t, b.Head.Apply(b.Record))

	in := fixture.ExitInput("acct", fixture.Hour0.Add(time.Hour), "51000")
	rec, err := cycle.Execute(t.Context(), *in, b.Head, fixture.Venue())
	require.NoError(t, err)
	require.NoError(t, Batch{Head: b.Head, Record: rec}.Validate())

	err = Batch{Head: state.NewHead(partition), Record: rec}.Validate()
	assert.True(t, errors.Is(err, exception.ErrLedgerChainBreak))
	assert.True(t, errors.Is(err, exception.ErrCausalityViolation))
}

func TestTamperedLedgerRow(t *testing.T) {
	b := entryBatch(t)
	b.Record.Ledger[0].DeltaCash = fixture.D("-100")

	err := b.Validate()
	require.Error(t, err)
	assert.Contains(t, kinds(err), exception.ErrAppendOnlyViolation)
	assert.Contains(t, kinds(err), exception.ErrLedgerChainBreak)

	s := memory.New()
	assert.Error(t, Commit(t.Context(), s, nil, b))
	assert.Zero(t, s.Rows())
}

func TestOrderAdmittedUnderKillSwitch(t *testing.T) {
	b := entryBatch(t)
	b.Record.RiskState.KillSwitchActive = true

	err := b.Validate()
	assert.True(t, errors.Is(err, exception.ErrRiskGateViolation))
}

func TestEntryAdmittedDuringHalt(t *testing.T) {
	b := entryBatch(t)
	b.Record.RiskState.HaltNewEntries = true
	b.Record.RiskState.Tier = schema.TierHalt20

	err := b.Validate()
	assert.True(t, errors.Is(err, exception.ErrRiskGateViolation))
}

func TestClusterCapExceeded(t *testing.T) {
	b := entryBatch(t)
	for i := range b.Record.Clusters {
		b.Record.Clusters[i].CapLimit = fixture.D("100")
	}

	err := b.Validate()
	assert.True(t, errors.Is(err, exception.ErrClusterCapViolation))
}

func TestFillRollUp(t *testing.T) {
	b := entryBatch(t)
	b.Record.Orders[0].FilledQty = fixture.D("0.001")
	assert.True(t, errors.Is(b.Validate(), exception.ErrOrderInvalidFill))

	b = entryBatch(t)
	b.Record.Fills[0].Qty = b.Record.Fills[0].Qty.Mul(fixture.D("2"))
	assert.True(t, errors.Is(b.Validate(), exception.ErrOrderOverfill))
}

func TestFillBeforeRequest(t *testing.T) {
	b := entryBatch(t)
	b.Record.Fills[0].FilledAt = b.Record.Orders[0].RequestedAt.Add(-time.Second)

	err := b.Validate()
	assert.True(t, errors.Is(err, exception.ErrCausalityViolation))
}

func TestWalkForward(t *testing.T) {
	in := fixture.EntryInput("acct", fixture.Hour0)
	in.Mode = schema.RunModeBacktest
	require.NoError(t, CheckWalkForward(in))

	in.Outputs[0].TrainingCutoff = fixture.Hour0.Add(time.Hour)
	err := CheckWalkForward(in)
	assert.True(t, errors.Is(err, exception.ErrWalkForwardContaminationViolation))

	v, ok := internalerrors.AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, "BTC", v.RowID)

	in.Mode = schema.RunModePaper
	assert.NoError(t, CheckWalkForward(in))
}

func TestFrozenGateWritesNothing(t *testing.T) {
	b := entryBatch(t)
	gate := admission.NewGate()
	require.NoError(t, gate.Freeze("migration", time.Minute))

	s := memory.New()
	err := Commit(t.Context(), s, gate, b)
	assert.True(t, errors.Is(err, exception.ErrWriteFrozen))
	assert.Zero(t, s.Rows())
}
