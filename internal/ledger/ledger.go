// Package ledger keeps the append-only, hash-chained cash ledger of one partition.
package ledger

import (
	"time"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
)

// CashScale is the number of fraction digits cash amounts are rounded to.
const CashScale int32 = 8

// Tip is the last committed position of a chain.
type Tip struct {
	Seq     uint64          `json:"seq"`
	Hash    string          `json:"hash"`
	Balance decimal.Decimal `json:"balance"`
}

// Delta returns the signed cash movement of a fill.
// BUY is -(notional + fee + slippage); SELL is +(notional - fee - slippage).
func Delta(side schema.Side, notional, fee, slippage decimal.Decimal) decimal.Decimal {
	switch side {
	case schema.SideBuy:
		return notional.Add(fee).Add(slippage).Neg().Round(CashScale)
	case schema.SideSell:
		return notional.Sub(fee).Sub(slippage).Round(CashScale)
	default:
		return decimal.Zero
	}
}

// Chain appends entries to one (account, mode) ledger.
type Chain struct {
	partition schema.PartitionKey
	tip       Tip
}

// NewChain continues a chain from tip. A zero-seq tip starts at genesis with tip.Balance
// as the opening cash.
func NewChain(partition schema.PartitionKey, tip Tip) *Chain {
	return &Chain{partition: partition, tip: tip}
}

// Tip returns the current chain position.
func (c *Chain) Tip() Tip {
	return c.tip
}

// Append posts one entry. A negative resulting balance breaks the chain.
func (c *Chain) Append(kind schema.Side, refID string, delta decimal.Decimal, postedAt time.Time) (schema.LedgerEntry, error) {
	e := schema.LedgerEntry{
		AccountID:     c.partition.AccountID,
		Mode:          c.partition.Mode,
		Seq:           c.tip.Seq + 1,
		Kind:          kind,
		RefID:         refID,
		BalanceBefore: c.tip.Balance,
		DeltaCash:     delta,
		BalanceAfter:  c.tip.Balance.Add(delta),
		PrevHash:      c.tip.Hash,
		PostedAt:      postedAt,
	}
	if e.BalanceAfter.IsNegative() {
		return schema.LedgerEntry{}, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TableCashLedger, refID,
			"cash would go negative: before=%s delta=%s", e.BalanceBefore, delta)
	}
	e.RowHash = schema.ComputeHash(e)
	c.tip = Tip{Seq: e.Seq, Hash: e.RowHash, Balance: e.BalanceAfter}
	return e, nil
}

// Verify re-checks a chain segment that continues from tip and returns the new tip.
func Verify(tip Tip, entries []schema.LedgerEntry) (Tip, error) {
	for _, e := range entries {
		row := e.Key()
		brk := func(format string, args ...any) error {
			return internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TableCashLedger, row, format, args...)
		}
		switch {
		case e.Seq != tip.Seq+1:
			return tip, brk("seq %d does not follow %d", e.Seq, tip.Seq)
		case !e.BalanceBefore.Equal(tip.Balance):
			return tip, brk("balance before %s != previous balance after %s", e.BalanceBefore, tip.Balance)
		case !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.DeltaCash)):
			return tip, brk("balance after %s != before %s + delta %s", e.BalanceAfter, e.BalanceBefore, e.DeltaCash)
		case e.PrevHash != tip.Hash:
			return tip, brk("prev hash %q != previous hash %q", e.PrevHash, tip.Hash)
		case e.BalanceAfter.IsNegative():
			return tip, brk("negative balance %s", e.BalanceAfter)
		case e.RowHash != schema.ComputeHash(e):
			return tip, brk("row hash does not match its fields")
		}
		tip = Tip{Seq: e.Seq, Hash: e.RowHash, Balance: e.BalanceAfter}
	}
	return tip, nil
}
