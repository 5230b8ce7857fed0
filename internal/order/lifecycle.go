package order

import (
	"context"
	"time"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/ledger"
	"spotledger/internal/risk"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Venue executes admitted orders and reports fills.
type Venue interface {
	Execute(ctx context.Context, req schema.OrderRequest) ([]schema.VenueFill, error)
}

// CostBounded is implemented by venues that know the highest fee and slippage rates
// they charge. ok is false when the bound is unknown.
type CostBounded interface {
	CostCeiling() (feeRate, slippageRate decimal.Decimal, ok bool)
}

// Candidate is an order the decision engine asked for.
type Candidate struct {
	SignalID    string
	Asset       string
	ClusterID   schema.ClusterID
	Side        schema.Side
	Qty         decimal.Decimal
	Price       decimal.Decimal
	RealizedVol decimal.Decimal
}

// Outcome is every row one order produced.
type Outcome struct {
	Order    schema.OrderRequest
	Fills    []schema.OrderFill
	Lots     []schema.PositionLot
	Trades   []schema.ExecutedTrade
	Ledger   []schema.LedgerEntry
	VenueErr error
}

// Rejected reports whether admission refused the order.
func (o Outcome) Rejected() bool {
	return o.Order.Status == schema.OrderStatusRejected
}

// Config binds a lifecycle to one cycle.
type Config struct {
	IDs   schema.IDs
	Hour  time.Time
	Gates *risk.Engine
	Book  *state.LotBook
	Chain *ledger.Chain
	Venue Venue
}

// Lifecycle admits, executes and settles the orders of one cycle in submission order.
type Lifecycle struct {
	cfg     Config
	machine *StateMachine
	ordinal int
}

// NewLifecycle creates a lifecycle for one cycle.
func NewLifecycle(cfg Config) *Lifecycle {
	return &Lifecycle{cfg: cfg, machine: NewStateMachine()}
}

// RequestTime is the request timestamp of the ordinal-th order of a cycle.
func RequestTime(hour time.Time, ordinal int) time.Time {
	return hour.Add(time.Duration(ordinal) * time.Second)
}

// Submit runs one candidate through admission, execution and settlement. A rejected
// order is a normal outcome; errors are fatal to the cycle.
func (l *Lifecycle) Submit(ctx context.Context, c Candidate) (Outcome, error) {
	l.ordinal++
	req := schema.OrderRequest{
		OrderID:       l.cfg.IDs.Order(c.Asset, l.ordinal),
		SignalID:      c.SignalID,
		RiskStateHash: l.cfg.Gates.State().RowHash,
		ClusterID:     c.ClusterID,
		Asset:         c.Asset,
		Side:          c.Side,
		RequestedQty:  c.Qty,
		LimitPrice:    c.Price,
		RequestedAt:   RequestTime(l.cfg.Hour, l.ordinal),
	}
	if _, err := l.machine.ApplyRequest(req); err != nil {
		return Outcome{}, err
	}

	if reason, ok := l.admit(c); !ok {
		o, err := l.machine.Reject(req.OrderID, reason)
		if err != nil {
			return Outcome{}, err
		}
		return seal(Outcome{Order: *o}), nil
	}
	if _, err := l.machine.Ack(req.OrderID); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	reports, err := l.cfg.Venue.Execute(ctx, req)
	if err != nil {
		out.VenueErr = err
		reports = nil
	}

	for i, rep := range reports {
		if rep.OrderID != req.OrderID {
			return Outcome{}, errors.Wrapf(exception.ErrOrderUnknown, "venue fill for %s on order %s", rep.OrderID, req.OrderID)
		}
		fill, err := l.settleFill(req, i+1, rep, &out)
		if err != nil {
			return Outcome{}, err
		}
		out.Fills = append(out.Fills, fill)
	}

	o, err := l.machine.Close(req.OrderID)
	if err != nil {
		return Outcome{}, err
	}
	out.Order = *o
	return seal(out), nil
}

func (l *Lifecycle) admit(c Candidate) (schema.RiskReason, bool) {
	intent := risk.OrderIntent{
		Asset:       c.Asset,
		Side:        c.Side,
		Notional:    c.Qty.Mul(c.Price),
		RealizedVol: c.RealizedVol,
	}
	if c.Side == schema.SideSell {
		if d := l.cfg.Gates.Evaluate(intent); !d.Accept {
			return d.Reason, false
		}
		if l.cfg.Book.Remaining(c.Asset).LessThan(c.Qty) {
			return schema.ReasonNoPosition, false
		}
		return schema.ReasonNone, true
	}
	d := l.cfg.Gates.Admit(intent)
	return d.Reason, d.Accept
}

func (l *Lifecycle) settleFill(req schema.OrderRequest, n int, rep schema.VenueFill, out *Outcome) (schema.OrderFill, error) {
	notional := rep.Qty.Mul(rep.Price)
	fill := schema.OrderFill{
		FillID:       l.cfg.IDs.Fill(req.OrderID, n),
		OrderID:      req.OrderID,
		Asset:        req.Asset,
		Side:         req.Side,
		Qty:          rep.Qty,
		Price:        rep.Price,
		FeeRate:      rep.FeeRate,
		SlippageRate: rep.SlippageRate,
		Fee:          notional.Mul(rep.FeeRate).Round(ledger.CashScale),
		Slippage:     notional.Mul(rep.SlippageRate).Round(ledger.CashScale),
		FilledAt:     req.RequestedAt.Add(rep.Delay),
	}
	if fill.FilledAt.Before(req.RequestedAt) {
		return fill, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableOrderFill, fill.FillID,
			"filled at %s before requested at %s", fill.FilledAt.UTC(), req.RequestedAt.UTC())
	}
	if _, err := l.machine.ApplyFill(req.OrderID, rep.Qty); err != nil {
		return fill, err
	}
	fill.RowHash = schema.ComputeHash(fill)

	switch req.Side {
	case schema.SideBuy:
		lot := schema.PositionLot{
			LotID:         l.cfg.IDs.Lot(fill.FillID),
			Asset:         fill.Asset,
			OpenQty:       fill.Qty,
			EntryPrice:    fill.Price,
			FeeRate:       fill.FeeRate,
			SlippageRate:  fill.SlippageRate,
			OpenedAt:      fill.FilledAt,
			OpeningFillID: fill.FillID,
		}
		lot.RowHash = schema.ComputeHash(lot)
		l.cfg.Book.Open(lot)
		out.Lots = append(out.Lots, lot)
	case schema.SideSell:
		used, err := l.cfg.Book.Consume(fill.Asset, fill.Qty)
		if err != nil {
			return fill, err
		}
		for _, u := range used {
			out.Trades = append(out.Trades, l.trade(u, fill))
		}
	}

	entry, err := l.cfg.Chain.Append(fill.Side, fill.FillID, ledger.Delta(fill.Side, notional, fill.Fee, fill.Slippage), fill.FilledAt)
	if err != nil {
		return fill, err
	}
	out.Ledger = append(out.Ledger, entry)
	return fill, nil
}

// trade realizes one (lot, sell fill) pair. Fees and slippage cover both legs.
func (l *Lifecycle) trade(u state.Consumption, fill schema.OrderFill) schema.ExecutedTrade {
	entryNotional := u.Qty.Mul(u.Lot.EntryPrice)
	exitNotional := u.Qty.Mul(fill.Price)
	fee := entryNotional.Mul(u.Lot.FeeRate).Round(ledger.CashScale).
		Add(exitNotional.Mul(fill.FeeRate).Round(ledger.CashScale))
	slip := entryNotional.Mul(u.Lot.SlippageRate).Round(ledger.CashScale).
		Add(exitNotional.Mul(fill.SlippageRate).Round(ledger.CashScale))
	gross := exitNotional.Sub(entryNotional).Round(ledger.CashScale)

	tr := schema.ExecutedTrade{
		TradeID:       l.cfg.IDs.Trade(u.Lot.LotID, fill.FillID),
		LotID:         u.Lot.LotID,
		FillID:        fill.FillID,
		Asset:         fill.Asset,
		Qty:           u.Qty,
		EntryPrice:    u.Lot.EntryPrice,
		ExitPrice:     fill.Price,
		GrossPnL:      gross,
		TotalFee:      fee,
		TotalSlippage: slip,
		NetPnL:        gross.Sub(fee).Sub(slip),
	}
	tr.RowHash = schema.ComputeHash(tr)
	return tr
}

func seal(out Outcome) Outcome {
	out.Order.RowHash = schema.ComputeHash(out.Order)
	return out
}
