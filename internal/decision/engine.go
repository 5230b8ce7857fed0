// Package decision turns model outputs and the start-of-cycle risk view into trade signals.
package decision

import (
	"sort"

	"spotledger/internal/risk"
	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
)

// QtyScale is the number of fraction digits order quantities are truncated to.
const QtyScale int32 = 8

var two = decimal.NewFromInt(2)

// Result is one signal and, for ENTER or EXIT, the order it asks for.
// Ids and hashes are assigned by the caller.
type Result struct {
	Signal      schema.TradeSignal
	Side        schema.Side
	Qty         decimal.Decimal
	Price       decimal.Decimal
	RealizedVol decimal.Decimal
	// Logged marks a rejection that must be recorded as a risk event.
	Logged bool
}

// HasOrder reports whether the signal asks for an order.
func (r Result) HasOrder() bool {
	return r.Side != schema.SideUnknown && r.Qty.IsPositive()
}

// Engine evaluates one cycle of model outputs.
type Engine struct {
	mode    schema.RunMode
	profile schema.RiskProfile
	gates   *risk.Engine
}

// NewEngine creates a decision engine bound to the start-of-cycle gate view. The gate
// view is only evaluated, never reserved.
func NewEngine(mode schema.RunMode, profile schema.RiskProfile, gates *risk.Engine) *Engine {
	return &Engine{mode: mode, profile: profile, gates: gates}
}

// Decide emits one result per model output in asset order, plus forced exits for held
// assets without output while severe recovery is de-risking or exiting.
func (e *Engine) Decide(outputs []schema.ModelOutput, marks map[string]schema.Mark, held map[string]decimal.Decimal) []Result {
	sorted := make([]schema.ModelOutput, len(outputs))
	copy(sorted, outputs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Asset < sorted[j].Asset })

	seen := make(map[string]struct{}, len(sorted))
	results := make([]Result, 0, len(sorted)+len(held))
	for _, out := range sorted {
		if _, dup := seen[out.Asset]; dup {
			continue
		}
		seen[out.Asset] = struct{}{}
		results = append(results, e.decideOutput(out, marks, held[out.Asset]))
	}

	severe := e.gates.State().Severe
	if severe == schema.SevereDeriskIntent || severe == schema.SevereExit {
		assets := make([]string, 0, len(held))
		for asset, qty := range held {
			if _, ok := seen[asset]; !ok && qty.IsPositive() {
				assets = append(assets, asset)
			}
		}
		sort.Strings(assets)
		for _, asset := range assets {
			results = append(results, e.forcedExit(asset, marks, held[asset], severe))
		}
	}
	return results
}

func (e *Engine) decideOutput(out schema.ModelOutput, marks map[string]schema.Mark, heldQty decimal.Decimal) Result {
	costRate := e.profile.CostRate()
	res := Result{
		Signal: schema.TradeSignal{
			Asset:            out.Asset,
			Action:           schema.ActionHold,
			Direction:        schema.DirectionFlat,
			Confidence:       out.ProbUp,
			ExpectedReturn:   out.ExpectedReturn,
			CostRate:         costRate,
			NetEdge:          out.ExpectedReturn.Sub(costRate),
			Regime:           out.Regime,
			ClusterID:        e.profile.ClusterOf(out.Asset),
			ModelLineageHash: out.LineageHash,
		},
	}
	if heldQty.IsPositive() {
		res.Signal.Direction = schema.DirectionLong
	}

	mark, ok := marks[out.Asset]
	if !ok || !mark.Price.IsPositive() {
		res.Signal.Reason = schema.ReasonNoMarkPrice
		return res
	}
	res.Price = mark.Price
	res.RealizedVol = mark.RealizedVol

	if e.mode != schema.RunModeBacktest && !out.Approved {
		res.Signal.Reason = schema.ReasonModelNotApproved
		res.Logged = true
		return res
	}

	if heldQty.IsPositive() {
		return e.decideHeld(res, out, heldQty)
	}
	return e.decideFlat(res, out)
}

func (e *Engine) decideHeld(res Result, out schema.ModelOutput, heldQty decimal.Decimal) Result {
	weak := out.ProbUp.LessThan(e.profile.ExitConfidence) || !res.Signal.NetEdge.IsPositive()

	qty := decimal.Zero
	switch e.gates.State().Severe {
	case schema.SevereExit:
		qty = heldQty
	case schema.SevereDeriskIntent:
		qty = halfOf(heldQty)
		if weak {
			qty = heldQty
		}
	default:
		if weak {
			qty = heldQty
		}
	}
	if qty.IsZero() {
		return res
	}
	return exit(res, qty)
}

func (e *Engine) decideFlat(res Result, out schema.ModelOutput) Result {
	switch {
	case out.ProbUp.LessThan(e.profile.ConfidenceThreshold):
		res.Signal.Reason = schema.ReasonConfidenceBelowThreshold
		return res
	case e.profile.RegimeBlocked(out.Regime):
		res.Signal.Reason = schema.ReasonRegimeBlocked
		return res
	case !res.Signal.NetEdge.IsPositive():
		res.Signal.Reason = schema.ReasonNonPositiveNetEdge
		return res
	}

	bound := e.gates.SizeBound(res.RealizedVol)
	qty := bound.Div(res.Price).Truncate(QtyScale)
	notional := qty.Mul(res.Price)

	d := e.gates.Evaluate(risk.OrderIntent{
		Asset:       out.Asset,
		Side:        schema.SideBuy,
		Notional:    notional,
		RealizedVol: res.RealizedVol,
	})
	if !d.Accept {
		res.Signal.Reason = d.Reason
		res.Logged = true
		return res
	}
	if !qty.IsPositive() {
		res.Signal.Reason = schema.ReasonSizeAboveRiskBound
		return res
	}

	res.Signal.Action = schema.ActionEnter
	res.Signal.Direction = schema.DirectionLong
	res.Signal.TargetNotional = notional
	res.Signal.TargetQty = qty
	res.Side = schema.SideBuy
	res.Qty = qty
	return res
}

func (e *Engine) forcedExit(asset string, marks map[string]schema.Mark, heldQty decimal.Decimal, severe schema.SevereState) Result {
	res := Result{
		Signal: schema.TradeSignal{
			Asset:      asset,
			Action:     schema.ActionHold,
			Direction:  schema.DirectionLong,
			Confidence: decimal.Zero,
			CostRate:   e.profile.CostRate(),
			ClusterID:  e.profile.ClusterOf(asset),
			Reason:     schema.ReasonSevereRecoveryTransition,
		},
	}
	mark, ok := marks[asset]
	if !ok || !mark.Price.IsPositive() {
		res.Signal.Reason = schema.ReasonNoMarkPrice
		return res
	}
	res.Price = mark.Price
	res.RealizedVol = mark.RealizedVol

	qty := heldQty
	if severe == schema.SevereDeriskIntent {
		qty = halfOf(heldQty)
	}
	return exit(res, qty)
}

func exit(res Result, qty decimal.Decimal) Result {
	res.Signal.Action = schema.ActionExit
	res.Signal.Direction = schema.DirectionFlat
	res.Signal.TargetQty = qty
	res.Signal.TargetNotional = qty.Mul(res.Price)
	res.Side = schema.SideSell
	res.Qty = qty
	return res
}

// halfOf is half of qty truncated to the order scale, or all of it when half rounds to zero.
func halfOf(qty decimal.Decimal) decimal.Decimal {
	h := qty.Div(two).Truncate(QtyScale)
	if h.IsZero() {
		return qty
	}
	return h
}
