package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"spotledger/internal/ledger"
	"spotledger/internal/risk"
	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
)

// Valuation is the marked-to-market view of a lot book and cash.
type Valuation struct {
	Cash           decimal.Decimal
	PositionsValue decimal.Decimal
	Total          decimal.Decimal
	// Prices holds the price each held asset was valued at.
	Prices map[string]decimal.Decimal
	// Stale lists held assets valued at a carried-forward or entry price.
	Stale []string
}

// Value marks the book. Held assets missing from current fall back to the last known
// mark, then to the entry price of their oldest lot, and are reported as stale.
func Value(book *LotBook, cash decimal.Decimal, current, last map[string]schema.Mark) Valuation {
	v := Valuation{Cash: cash, PositionsValue: decimal.Zero, Prices: make(map[string]decimal.Decimal)}
	for _, asset := range book.Assets() {
		price, fresh := priceOf(book, asset, current, last)
		if !fresh {
			v.Stale = append(v.Stale, asset)
		}
		v.Prices[asset] = price
		v.PositionsValue = v.PositionsValue.Add(book.Remaining(asset).Mul(price))
	}
	v.PositionsValue = v.PositionsValue.Round(ledger.CashScale)
	v.Total = v.Cash.Add(v.PositionsValue)
	return v
}

func priceOf(book *LotBook, asset string, current, last map[string]schema.Mark) (decimal.Decimal, bool) {
	if m, ok := current[asset]; ok && m.Price.IsPositive() {
		return m.Price, true
	}
	if m, ok := last[asset]; ok && m.Price.IsPositive() {
		return m.Price, false
	}
	for _, lot := range book.Lots() {
		if lot.Lot.Asset == asset {
			return lot.Lot.EntryPrice, false
		}
	}
	return decimal.Zero, false
}

// Holdings returns the market value per held asset.
func (v Valuation) Holdings(book *LotBook) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(v.Prices))
	for asset, price := range v.Prices {
		out[asset] = book.Remaining(asset).Mul(price)
	}
	return out
}

// PeakOf returns the running peak including value.
func PeakOf(prior *schema.PortfolioSnapshot, value decimal.Decimal) decimal.Decimal {
	if prior == nil {
		return value
	}
	return decimal.Max(prior.PeakValue, value)
}

// MaterializeInput is what the hourly portfolio view is built from.
type MaterializeInput struct {
	IDs       schema.IDs
	Partition schema.PartitionKey
	Hour      time.Time
	Book      *LotBook
	Tip       ledger.Tip
	Current   map[string]schema.Mark
	Last      map[string]schema.Mark
	Prior     *schema.PortfolioSnapshot
}

// Materialize builds the end-of-cycle portfolio and position snapshots with row hashes.
func Materialize(in MaterializeInput) (schema.PortfolioSnapshot, []schema.PositionSnapshot) {
	val := Value(in.Book, in.Tip.Balance, in.Current, in.Last)
	peak := PeakOf(in.Prior, val.Total)

	positions := make([]schema.PositionSnapshot, 0, in.Book.Count())
	for _, asset := range in.Book.Assets() {
		qty := in.Book.Remaining(asset)
		price := val.Prices[asset]
		cost := in.Book.CostBasis(asset).Round(ledger.CashScale)
		mv := qty.Mul(price).Round(ledger.CashScale)
		p := schema.PositionSnapshot{
			SnapshotID:    in.IDs.Position(asset),
			Asset:         asset,
			Qty:           qty,
			CostBasis:     cost,
			MarkPrice:     price,
			MarketValue:   mv,
			UnrealizedPnL: mv.Sub(cost),
		}
		p.RowHash = schema.ComputeHash(p)
		positions = append(positions, p)
	}

	parent := ""
	if in.Prior != nil {
		parent = in.Prior.RowHash
	}
	pf := schema.PortfolioSnapshot{
		SnapshotID:     in.IDs.Portfolio(),
		AccountID:      in.Partition.AccountID,
		Mode:           in.Partition.Mode,
		Hour:           in.Hour,
		Cash:           val.Cash,
		PositionsValue: val.PositionsValue,
		TotalValue:     val.Total,
		PeakValue:      peak,
		DrawdownPct:    risk.Drawdown(peak, val.Total),
		OpenPositions:  in.Book.Count(),
		LastLedgerSeq:  in.Tip.Seq,
		LastLedgerHash: in.Tip.Hash,
		ParentHash:     parent,
	}
	pf.RowHash = schema.ComputeHash(pf)
	return pf, positions
}

// WriteHead writes a head checkpoint as JSON.
func WriteHead(path string, h *Head) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadHead loads a head checkpoint.
func ReadHead(path string) (*Head, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h Head
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
