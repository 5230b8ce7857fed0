package ledger

import (
	"testing"

	"spotledger/internal/fixture"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var (
	d         = fixture.D
	partition = schema.PartitionKey{AccountID: "acct", Mode: schema.RunModePaper}
)

func TestDelta(t *testing.T) {
	assert.True(t, Delta(schema.SideBuy, d("200"), d("0.2"), d("0.2")).Equal(d("-200.4")))
	assert.True(t, Delta(schema.SideSell, d("200"), d("0.2"), d("0.2")).Equal(d("199.6")))
	assert.True(t, Delta(schema.SideUnknown, d("200"), d("0.2"), d("0.2")).IsZero())
}

func TestFirstEntryFromGenesis(t *testing.T) {
	c := NewChain(partition, Tip{Balance: d("10000")})
	e, err := c.Append(schema.SideBuy, "fill-1", d("-200.4"), fixture.Hour0)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e.Seq)
	assert.Empty(t, e.PrevHash)
	assert.True(t, e.BalanceBefore.Equal(d("10000")))
	assert.True(t, e.BalanceAfter.Equal(d("9799.6")))
	assert.Equal(t, Tip{Seq: 1, Hash: e.RowHash, Balance: e.BalanceAfter}, c.Tip())
}

func TestChainInvariants(t *testing.T) {
	genesis := Tip{Balance: d("1000")}
	c := NewChain(partition, genesis)
	deltas := []string{"-100.5", "50.25", "-300", "120"}
	entries := make([]schema.LedgerEntry, 0, len(deltas))
	for i, delta := range deltas {
		kind := schema.SideBuy
		if decimal.RequireFromString(delta).IsPositive() {
			kind = schema.SideSell
		}
		e, err := c.Append(kind, fixture.Hour0.String(), d(delta), fixture.Hour0)
		require.NoErrorf(t, err, "entry %d", i)
		entries = append(entries, e)
	}

	for i, e := range entries {
		assert.True(t, e.BalanceAfter.Equal(e.BalanceBefore.Add(e.DeltaCash)))
		if i > 0 {
			assert.True(t, e.BalanceBefore.Equal(entries[i-1].BalanceAfter))
			assert.Equal(t, entries[i-1].RowHash, e.PrevHash)
		}
	}

	tip, err := Verify(genesis, entries)
	require.NoError(t, err)
	assert.Equal(t, c.Tip(), tip)
}

func TestNegativeCashBreaksChain(t *testing.T) {
	c := NewChain(partition, Tip{Balance: d("100")})
	_, err := c.Append(schema.SideBuy, "fill-1", d("-100.01"), fixture.Hour0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrLedgerChainBreak))
	assert.Equal(t, uint64(0), c.Tip().Seq)
}

func TestVerifyDetectsTampering(t *testing.T) {
	genesis := Tip{Balance: d("1000")}
	c := NewChain(partition, genesis)
	e1, err := c.Append(schema.SideBuy, "f1", d("-10"), fixture.Hour0)
	require.NoError(t, err)
	e2, err := c.Append(schema.SideBuy, "f2", d("-10"), fixture.Hour0)
	require.NoError(t, err)

	tampered := []func([]schema.LedgerEntry){
		func(es []schema.LedgerEntry) { es[1].BalanceBefore = d("991") },
		func(es []schema.LedgerEntry) { es[1].PrevHash = "bogus" },
		func(es []schema.LedgerEntry) { es[1].Seq = 3 },
		func(es []schema.LedgerEntry) { es[0].DeltaCash = d("-11") },
		func(es []schema.LedgerEntry) { es[0].RefID = "other" },
	}
	for i, mutate := range tampered {
		es := []schema.LedgerEntry{e1, e2}
		mutate(es)
		_, err := Verify(genesis, es)
		assert.Truef(t, errors.Is(err, exception.ErrLedgerChainBreak), "case %d: %v", i, err)
	}
}
