package replay

import (
	"testing"
	"time"

	"spotledger/internal/cycle"
	"spotledger/internal/fixture"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/internal/store"
	"spotledger/internal/store/memory"
	"spotledger/internal/uow"
	"spotledger/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var partition = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModePaper}

func inputs() []*schema.CycleInput {
	return []*schema.CycleInput{
		fixture.EntryInput("acct", fixture.Hour0),
		fixture.ExitInput("acct", fixture.Hour0.Add(time.Hour), "51000"),
		fixture.EntryInput("acct", fixture.Hour0.Add(2*time.Hour)),
	}
}

func commitAll(t *testing.T, s store.Store, ins []*schema.CycleInput) []*schema.CycleRecord {
	t.Helper()
	var out []*schema.CycleRecord
	for _, in := range ins {
		head, err := store.Head(t.Context(), s, in.Partition())
		require.NoError(t, err)
		rec, err := cycle.Execute(t.Context(), *in, head, fixture.Venue())
		require.NoError(t, err)
		require.NoError(t, uow.Commit(t.Context(), s, nil, uow.Batch{Head: head, Record: rec}))
		out = append(out, rec)
	}
	return out
}

func TestReplayHourReproducesCommittedCycle(t *testing.T) {
	s := memory.New()
	recs := commitAll(t, s, inputs())
	e := New(s)

	for _, rec := range recs {
		first, err := e.ReplayHour(t.Context(), rec.Key())
		require.NoError(t, err)
		second, err := e.ReplayHour(t.Context(), rec.Key())
		require.NoError(t, err)

		assert.True(t, first.Pass, first.String())
		assert.NoError(t, first.Err())
		assert.Equal(t, rec.Manifest.ReplayRootHash, first.Root)
		assert.Equal(t, first.Root, second.Root)
	}
}

func TestReplayWindow(t *testing.T) {
	s := memory.New()
	recs := commitAll(t, s, inputs())
	e := New(s)

	v, err := e.ReplayWindow(t.Context(), partition, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, v.Pass, v.String())
	assert.Equal(t, 3, v.Hours)
	assert.Equal(t, recs[2].Manifest.ReplayRootHash, v.Root)

	v, err = e.ReplayWindow(t.Context(), partition, fixture.Hour0.Add(time.Hour), fixture.Hour0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, v.Pass, v.String())
	assert.Equal(t, 1, v.Hours)
	assert.Equal(t, recs[1].Manifest.ReplayRootHash, v.Root)
}

func TestReplayWindowFromFirstHour(t *testing.T) {
	s := memory.New()
	recs := commitAll(t, s, inputs())

	v, err := New(s).ReplayWindow(t.Context(), partition, time.Time{}, fixture.Hour0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, v.Pass, v.String())
	assert.Equal(t, 2, v.Hours)
	assert.Equal(t, recs[1].Manifest.ReplayRootHash, v.Root)
}

func TestTamperedFillReportsMismatch(t *testing.T) {
	recs := commitAll(t, memory.New(), inputs()[:1])
	bad, err := store.Clone(recs[0])
	require.NoError(t, err)
	require.NotEmpty(t, bad.Input.Fills)
	bad.Input.Fills[0].Qty = fixture.D("1")
	s := memory.New()
	s.Append(bad)

	v, err := New(s).ReplayHour(t.Context(), bad.Key())
	require.NoError(t, err)
	assert.False(t, v.Pass)
	require.NotEmpty(t, v.Mismatches)
	assert.Equal(t, schema.TableRunContext, v.Mismatches[0].Table)
	assert.Equal(t, bad.Run.RunID, v.Mismatches[0].RowID)
	assert.True(t, errors.Is(v.Err(), exception.ErrReplayParityMismatch))

	v, err = New(s).ReplayWindow(t.Context(), partition, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, v.Pass)
}

func TestTamperedEarlierHourReportsMismatch(t *testing.T) {
	recs := commitAll(t, memory.New(), inputs()[:2])
	bad, err := store.Clone(recs[0])
	require.NoError(t, err)
	bad.Ledger[0].DeltaCash = fixture.D("-100")
	bad.Ledger[0].RowHash = schema.ComputeHash(bad.Ledger[0])
	s := memory.New()
	s.Append(bad)
	s.Append(recs[1])

	v, err := New(s).ReplayHour(t.Context(), recs[1].Key())
	require.NoError(t, err)
	assert.False(t, v.Pass)
	require.Len(t, v.Mismatches, 1)
	assert.Equal(t, recs[0].Key().String(), v.Mismatches[0].Run)
	assert.Equal(t, schema.TableCashLedger, v.Mismatches[0].Table)
	assert.Equal(t, recs[0].Ledger[0].Key(), v.Mismatches[0].RowID)
	assert.True(t, errors.Is(v.Err(), exception.ErrReplayParityMismatch))

	v, err = New(s).ReplayWindow(t.Context(), partition, fixture.Hour0.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.False(t, v.Pass)
	assert.Zero(t, v.Hours)
}

// tamperedStore commits clean records, then returns a store whose copy of the first
// record carries a modified ledger delta.
func tamperedStore(t *testing.T, rehash bool) (*memory.Store, []*schema.CycleRecord) {
	t.Helper()
	recs := commitAll(t, memory.New(), inputs()[:1])

	bad, err := store.Clone(recs[0])
	require.NoError(t, err)
	bad.Ledger[0].DeltaCash = fixture.D("-100")
	if rehash {
		bad.Ledger[0].RowHash = schema.ComputeHash(bad.Ledger[0])
	}
	s := memory.New()
	s.Append(bad)
	return s, recs
}

func TestTamperedRowFailsReplay(t *testing.T) {
	s, recs := tamperedStore(t, false)
	key := recs[0].Key()

	v, err := New(s).ReplayHour(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, v.Pass)
	require.NotEmpty(t, v.Mismatches)
	assert.Equal(t, schema.TableCashLedger, v.Mismatches[0].Table)
	assert.Equal(t, recs[0].Ledger[0].RowHash, v.Mismatches[0].Expected)
	assert.True(t, errors.Is(v.Err(), exception.ErrReplayParityMismatch))

	v, err = New(s).ReplayManifest(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, v.Pass)
	assert.True(t, errors.Is(v.Err(), exception.ErrReplayParityMismatch))
}

func TestRehashedTamperFailsReplay(t *testing.T) {
	s, recs := tamperedStore(t, true)
	key := recs[0].Key()

	v, err := New(s).ReplayHour(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, v.Pass)
	require.NotEmpty(t, v.Mismatches)
	assert.Equal(t, schema.TableCashLedger, v.Mismatches[0].Table)
	assert.Equal(t, recs[0].Ledger[0].Key(), v.Mismatches[0].RowID)

	v, err = New(s).ReplayManifest(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, v.Pass)
	tables := make([]string, 0, len(v.Mismatches))
	for _, m := range v.Mismatches {
		tables = append(tables, m.Table)
	}
	assert.Contains(t, tables, tableManifest)
}

func TestReplayManifestPasses(t *testing.T) {
	s := memory.New()
	recs := commitAll(t, s, inputs())

	v, err := New(s).ReplayManifest(t.Context(), recs[1].Key())
	require.NoError(t, err)
	assert.True(t, v.Pass, v.String())
	assert.Equal(t, recs[1].Manifest.ReplayRootHash, v.Root)
}

func TestCompareManifests(t *testing.T) {
	a := commitAll(t, memory.New(), inputs())
	b := commitAll(t, memory.New(), inputs())

	v, err := CompareManifests(a[2].Manifest, b[2].Manifest)
	require.NoError(t, err)
	assert.True(t, v.Pass, v.String())

	changed := b[2].Manifest
	changed.ReplayRootHash = "00"
	changed.AuthoritativeRowCount++
	v, err = CompareManifests(a[2].Manifest, changed)
	require.NoError(t, err)
	assert.False(t, v.Pass)
	assert.Len(t, v.Mismatches, 2)

	_, err = CompareManifests(a[0].Manifest, a[1].Manifest)
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))
}

func TestContaminatedBacktestFailsReplay(t *testing.T) {
	in := fixture.EntryInput("bt", fixture.Hour0)
	in.Mode = schema.RunModeBacktest
	in.Outputs[0].ValidationTo = fixture.Hour0
	rec, err := cycle.Execute(t.Context(), *in, state.NewHead(in.Partition()), fixture.Venue())
	require.NoError(t, err)

	s := memory.New()
	s.Append(rec)
	_, err = New(s).ReplayHour(t.Context(), rec.Key())
	assert.True(t, errors.Is(err, exception.ErrWalkForwardContaminationViolation))
}
