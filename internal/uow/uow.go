// Package uow validates one account-hour as a single unit of work. Every cross-row
// invariant is checked once, at the end, before the batch is handed to the store.
package uow

import (
	"context"

	"spotledger/internal/admission"
	internalerrors "spotledger/internal/errors"
	"spotledger/internal/hashing"
	"spotledger/internal/ledger"
	"spotledger/internal/order"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/internal/store"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Batch is a sealed cycle record and the partition head it was built on.
type Batch struct {
	Head   *state.Head
	Record *schema.CycleRecord
}

// Validate runs every deferred check and joins all failures.
func (b Batch) Validate() error {
	if b.Head == nil || b.Record == nil {
		return exception.ErrNilInstance
	}
	if b.Record.Partition() != b.Head.Partition {
		return errors.Wrapf(exception.ErrInvalidArgument, "record partition %s does not match head %s", b.Record.Partition(), b.Head.Partition)
	}
	return internalerrors.Join(
		b.checkHashes(),
		b.checkChain(),
		b.checkReferences(),
		b.checkRollUp(),
		b.checkLots(),
		b.checkHalted(),
		b.checkClusterCaps(),
		CheckWalkForward(&b.Record.Input),
	)
}

// Commit validates the batch and appends it through s. Nothing is written on failure.
func Commit(ctx context.Context, s store.Store, gate *admission.Gate, b Batch) error {
	if err := gate.Admit(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	return s.Commit(ctx, gate, b.Record)
}

func (b Batch) checkHashes() error {
	rec := b.Record
	var errs []error
	for _, set := range rec.TableRows() {
		for _, row := range set.Rows {
			if got := schema.ComputeHash(row); got != row.StoredHash() {
				errs = append(errs, internalerrors.Violationf(exception.ErrAppendOnlyViolation, set.Table, row.Key(),
					"row hash %s does not match its fields %s", row.StoredHash(), got))
			}
		}
	}
	if seed := hashing.RunSeed(rec.Run.SeedInput()); seed != rec.Run.RunSeedHash {
		errs = append(errs, internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, rec.Key().String(),
			"run seed hash %s, computed %s", rec.Run.RunSeedHash, seed))
	}
	m := rec.BuildManifest()
	if m.ReplayRootHash != rec.Manifest.ReplayRootHash || m.ReplayRootHash != rec.Run.ReplayRootHash {
		errs = append(errs, internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, rec.Key().String(),
			"replay root %s does not match manifest %s", m.ReplayRootHash, rec.Manifest.ReplayRootHash))
	}
	return internalerrors.Join(errs...)
}

func (b Batch) checkChain() error {
	rec, head := b.Record, b.Head
	var errs []error

	if !head.Empty() && !rec.Run.OriginHour.After(head.LastHour) {
		errs = append(errs, internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, rec.Key().String(),
			"hour %s does not follow committed hour %s", rec.Run.OriginHour.UTC(), head.LastHour.UTC()))
	}

	tip, err := ledger.Verify(head.LedgerTip(rec.Input.OpeningCash), rec.Ledger)
	if err != nil {
		errs = append(errs, err)
	} else if rec.Portfolio.LastLedgerSeq != tip.Seq || rec.Portfolio.LastLedgerHash != tip.Hash || !rec.Portfolio.Cash.Equal(tip.Balance) {
		errs = append(errs, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TablePortfolio, rec.Portfolio.SnapshotID,
			"snapshot at seq %d cash %s, ledger tip at seq %d cash %s", rec.Portfolio.LastLedgerSeq, rec.Portfolio.Cash, tip.Seq, tip.Balance))
	}

	parent := ""
	if head.Portfolio != nil {
		parent = head.Portfolio.RowHash
	}
	if rec.RiskState.ParentHash != parent {
		errs = append(errs, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TableRiskState, rec.RiskState.StateID,
			"parent hash %s, expected %s", rec.RiskState.ParentHash, parent))
	}
	if rec.Portfolio.ParentHash != parent {
		errs = append(errs, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TablePortfolio, rec.Portfolio.SnapshotID,
			"parent hash %s, expected %s", rec.Portfolio.ParentHash, parent))
	}
	for _, c := range rec.Clusters {
		if c.ParentHash != rec.RiskState.RowHash {
			errs = append(errs, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TableClusterExposure, c.ExposureID,
				"parent hash %s, expected risk state %s", c.ParentHash, rec.RiskState.RowHash))
		}
	}
	return internalerrors.Join(errs...)
}

func (b Batch) checkReferences() error {
	rec := b.Record
	var errs []error

	signals := make(map[string]struct{}, len(rec.Signals))
	for _, s := range rec.Signals {
		signals[s.SignalID] = struct{}{}
		if s.RiskStateHash != rec.RiskState.RowHash {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableTradeSignal, s.SignalID,
				"bound to risk state %s, cycle risk state is %s", s.RiskStateHash, rec.RiskState.RowHash))
		}
	}

	orders := make(map[string]schema.OrderRequest, len(rec.Orders))
	for _, o := range rec.Orders {
		orders[o.OrderID] = o
		if _, ok := signals[o.SignalID]; !ok {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableOrderRequest, o.OrderID,
				"unknown signal %s", o.SignalID))
		}
		if o.RiskStateHash != rec.RiskState.RowHash {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableOrderRequest, o.OrderID,
				"bound to risk state %s, cycle risk state is %s", o.RiskStateHash, rec.RiskState.RowHash))
		}
	}

	fills := make(map[string]schema.OrderFill, len(rec.Fills))
	for _, f := range rec.Fills {
		fills[f.FillID] = f
		o, ok := orders[f.OrderID]
		if !ok {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableOrderFill, f.FillID,
				"unknown order %s", f.OrderID))
			continue
		}
		if f.FilledAt.Before(o.RequestedAt) {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableOrderFill, f.FillID,
				"filled at %s before requested at %s", f.FilledAt.UTC(), o.RequestedAt.UTC()))
		}
	}

	lots := make(map[string]struct{}, len(rec.Lots)+len(b.Head.Lots))
	for _, l := range b.Head.Lots {
		lots[l.Lot.LotID] = struct{}{}
	}
	for _, l := range rec.Lots {
		lots[l.LotID] = struct{}{}
		f, ok := fills[l.OpeningFillID]
		if !ok || f.Side != schema.SideBuy {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TablePositionLot, l.LotID,
				"opening fill %s is not a buy fill of this cycle", l.OpeningFillID))
		}
	}
	for _, tr := range rec.Trades {
		if _, ok := lots[tr.LotID]; !ok {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableExecutedTrade, tr.TradeID,
				"unknown lot %s", tr.LotID))
		}
		if f, ok := fills[tr.FillID]; !ok || f.Side != schema.SideSell {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableExecutedTrade, tr.TradeID,
				"fill %s is not a sell fill of this cycle", tr.FillID))
		}
	}

	if len(rec.Ledger) != len(rec.Fills) {
		errs = append(errs, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TableCashLedger, "",
			"%d ledger entries for %d fills", len(rec.Ledger), len(rec.Fills)))
	}
	for _, e := range rec.Ledger {
		f, ok := fills[e.RefID]
		if !ok {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableCashLedger, e.Key(),
				"unknown fill %s", e.RefID))
			continue
		}
		if want := ledger.Delta(f.Side, f.Notional(), f.Fee, f.Slippage); !e.DeltaCash.Equal(want) {
			errs = append(errs, internalerrors.Violationf(exception.ErrLedgerChainBreak, schema.TableCashLedger, e.Key(),
				"delta %s, fill %s implies %s", e.DeltaCash, f.FillID, want))
		}
	}
	return internalerrors.Join(errs...)
}

func (b Batch) checkRollUp() error {
	rec := b.Record
	filled := make(map[string]decimal.Decimal, len(rec.Orders))
	for _, f := range rec.Fills {
		filled[f.OrderID] = filled[f.OrderID].Add(f.Qty)
	}

	var errs []error
	for _, o := range rec.Orders {
		sum := filled[o.OrderID]
		switch {
		case sum.GreaterThan(o.RequestedQty):
			errs = append(errs, internalerrors.Violationf(exception.ErrOrderOverfill, schema.TableOrderRequest, o.OrderID,
				"filled %s of %s", sum, o.RequestedQty))
		case !sum.Equal(o.FilledQty):
			errs = append(errs, internalerrors.Violationf(exception.ErrOrderInvalidFill, schema.TableOrderRequest, o.OrderID,
				"filled qty %s, fills sum to %s", o.FilledQty, sum))
		case o.Status == schema.OrderStatusRejected:
			if !sum.IsZero() {
				errs = append(errs, internalerrors.Violationf(exception.ErrOrderInvalidTransition, schema.TableOrderRequest, o.OrderID,
					"rejected order has fills"))
			}
		case o.Status != order.Resolve(o.RequestedQty, sum):
			errs = append(errs, internalerrors.Violationf(exception.ErrOrderInvalidTransition, schema.TableOrderRequest, o.OrderID,
				"status %s, fills resolve to %s", o.Status, order.Resolve(o.RequestedQty, sum)))
		}
	}
	return internalerrors.Join(errs...)
}

func (b Batch) checkLots() error {
	rec := b.Record
	book := b.Head.Book()
	for _, l := range rec.Lots {
		book.Open(l)
	}

	var errs []error
	consumed := make(map[string]decimal.Decimal)
	for _, tr := range rec.Trades {
		consumed[tr.FillID] = consumed[tr.FillID].Add(tr.Qty)
		if err := book.ConsumeLot(tr.LotID, tr.Qty); err != nil {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableExecutedTrade, tr.TradeID,
				"lot consumption: %s", err.Error()))
		}
	}
	for _, f := range rec.Fills {
		if f.Side != schema.SideSell {
			continue
		}
		if got := consumed[f.FillID]; !got.Equal(f.Qty) {
			errs = append(errs, internalerrors.Violationf(exception.ErrCausalityViolation, schema.TableOrderFill, f.FillID,
				"sell fill of %s consumed %s from lots", f.Qty, got))
		}
	}
	return internalerrors.Join(errs...)
}

func (b Batch) checkHalted() error {
	rs := b.Record.RiskState
	var errs []error
	for _, o := range b.Record.Orders {
		if o.Status == schema.OrderStatusRejected {
			continue
		}
		switch {
		case rs.KillSwitchActive:
			errs = append(errs, internalerrors.Violationf(exception.ErrRiskGateViolation, schema.TableOrderRequest, o.OrderID,
				"%s order admitted under kill switch", o.Side))
		case o.Side == schema.SideBuy && rs.HaltNewEntries:
			errs = append(errs, internalerrors.Violationf(exception.ErrRiskGateViolation, schema.TableOrderRequest, o.OrderID,
				"entry admitted while %s halts new entries", rs.Tier))
		case o.Side == schema.SideBuy && rs.Severe.Active():
			errs = append(errs, internalerrors.Violationf(exception.ErrRiskGateViolation, schema.TableOrderRequest, o.OrderID,
				"entry admitted during severe recovery %s", rs.Severe))
		}
	}
	return internalerrors.Join(errs...)
}

func (b Batch) checkClusterCaps() error {
	rec := b.Record
	clusters := make(map[schema.ClusterID]schema.ClusterExposureState, len(rec.Clusters))
	exposure := make(map[schema.ClusterID]decimal.Decimal, len(rec.Clusters))
	for _, c := range rec.Clusters {
		clusters[c.ClusterID] = c
		exposure[c.ClusterID] = c.ExposureValue
	}

	var errs []error
	for _, o := range rec.Orders {
		if o.Side != schema.SideBuy || o.Status == schema.OrderStatusRejected {
			continue
		}
		c, ok := clusters[o.ClusterID]
		if !ok {
			errs = append(errs, internalerrors.Violationf(exception.ErrClusterCapViolation, schema.TableOrderRequest, o.OrderID,
				"no exposure state for cluster %s", o.ClusterID))
			continue
		}
		exposure[o.ClusterID] = exposure[o.ClusterID].Add(o.RequestedQty.Mul(o.LimitPrice))
		if exposure[o.ClusterID].GreaterThan(c.CapLimit) {
			errs = append(errs, internalerrors.Violationf(exception.ErrClusterCapViolation, schema.TableOrderRequest, o.OrderID,
				"cluster %s exposure %s above cap %s", o.ClusterID, exposure[o.ClusterID], c.CapLimit))
		}
	}
	return internalerrors.Join(errs...)
}

// CheckWalkForward rejects backtest inputs whose model outputs could have seen the
// hour they predict: training must end and validation must start before the
// prediction, and validation must end after it.
func CheckWalkForward(in *schema.CycleInput) error {
	if in.Mode != schema.RunModeBacktest {
		return nil
	}
	var errs []error
	for _, out := range in.Outputs {
		at := out.PredictedAt
		if at.IsZero() || !out.TrainingCutoff.Before(at) || !out.ValidationFrom.Before(at) || !at.Before(out.ValidationTo) {
			errs = append(errs, internalerrors.Violationf(exception.ErrWalkForwardContaminationViolation, "model_output", out.Asset,
				"predicted at %s, training cutoff %s, validation [%s, %s]",
				hashing.CanonicalTime(at), hashing.CanonicalTime(out.TrainingCutoff),
				hashing.CanonicalTime(out.ValidationFrom), hashing.CanonicalTime(out.ValidationTo)))
		}
	}
	return internalerrors.Join(errs...)
}
