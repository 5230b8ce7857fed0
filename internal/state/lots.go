package state

import (
	"sort"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
)

// OpenLot is a lot with quantity left to consume.
type OpenLot struct {
	Lot       schema.PositionLot `json:"lot"`
	Remaining decimal.Decimal    `json:"remaining"`
}

// Consumption is the quantity one sell takes from one lot.
type Consumption struct {
	Lot schema.PositionLot
	Qty decimal.Decimal
}

// LotBook keeps open lots per asset in opening order.
type LotBook struct {
	lots map[string][]*OpenLot
	byID map[string]*OpenLot
}

// NewLotBook creates a book holding copies of lots.
func NewLotBook(lots []OpenLot) *LotBook {
	b := &LotBook{
		lots: make(map[string][]*OpenLot),
		byID: make(map[string]*OpenLot),
	}
	for _, l := range lots {
		b.add(l)
	}
	return b
}

func (b *LotBook) add(l OpenLot) {
	lot := &OpenLot{Lot: l.Lot, Remaining: l.Remaining}
	b.lots[l.Lot.Asset] = append(b.lots[l.Lot.Asset], lot)
	b.byID[l.Lot.LotID] = lot
}

// Open adds a lot created by a buy fill.
func (b *LotBook) Open(lot schema.PositionLot) {
	b.add(OpenLot{Lot: lot, Remaining: lot.OpenQty})
}

// Consume takes qty of asset from open lots oldest first.
func (b *LotBook) Consume(asset string, qty decimal.Decimal) ([]Consumption, error) {
	if qty.GreaterThan(b.Remaining(asset)) {
		return nil, internalerrors.Violationf(exception.ErrInvalidArgument, schema.TablePositionLot, asset,
			"sell %s exceeds open quantity %s", qty, b.Remaining(asset))
	}

	var out []Consumption
	left := qty
	for _, lot := range b.lots[asset] {
		if !left.IsPositive() {
			break
		}
		if !lot.Remaining.IsPositive() {
			continue
		}
		take := decimal.Min(left, lot.Remaining)
		lot.Remaining = lot.Remaining.Sub(take)
		left = left.Sub(take)
		out = append(out, Consumption{Lot: lot.Lot, Qty: take})
	}
	b.compact(asset)
	return out, nil
}

// ConsumeLot takes qty from a specific lot, used when folding recorded trades.
func (b *LotBook) ConsumeLot(lotID string, qty decimal.Decimal) error {
	lot, ok := b.byID[lotID]
	if !ok {
		return internalerrors.Violationf(exception.ErrNotFound, schema.TablePositionLot, lotID, "lot not open")
	}
	if qty.GreaterThan(lot.Remaining) {
		return internalerrors.Violationf(exception.ErrInvalidArgument, schema.TablePositionLot, lotID,
			"consumed %s exceeds remaining %s", qty, lot.Remaining)
	}
	lot.Remaining = lot.Remaining.Sub(qty)
	b.compact(lot.Lot.Asset)
	return nil
}

func (b *LotBook) compact(asset string) {
	list := b.lots[asset]
	kept := list[:0]
	for _, lot := range list {
		if lot.Remaining.IsPositive() {
			kept = append(kept, lot)
			continue
		}
		delete(b.byID, lot.Lot.LotID)
	}
	if len(kept) == 0 {
		delete(b.lots, asset)
		return
	}
	b.lots[asset] = kept
}

// Remaining returns the open quantity of asset.
func (b *LotBook) Remaining(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.lots[asset] {
		total = total.Add(lot.Remaining)
	}
	return total
}

// Held returns the open quantity per asset.
func (b *LotBook) Held() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b.lots))
	for asset := range b.lots {
		out[asset] = b.Remaining(asset)
	}
	return out
}

// Assets returns the held assets sorted.
func (b *LotBook) Assets() []string {
	out := make([]string, 0, len(b.lots))
	for asset := range b.lots {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// CostBasis returns the entry cost of the remaining quantity of asset.
func (b *LotBook) CostBasis(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.lots[asset] {
		total = total.Add(lot.Remaining.Mul(lot.Lot.EntryPrice))
	}
	return total
}

// Count returns the number of held assets.
func (b *LotBook) Count() int {
	return len(b.lots)
}

// Lots returns copies of every open lot, assets sorted, each asset in opening order.
func (b *LotBook) Lots() []OpenLot {
	var out []OpenLot
	for _, asset := range b.Assets() {
		for _, lot := range b.lots[asset] {
			out = append(out, *lot)
		}
	}
	return out
}
