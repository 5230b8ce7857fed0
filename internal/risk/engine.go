package risk

import (
	"sort"

	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
)

// StateView is the start-of-cycle portfolio the engine evaluates against.
type StateView struct {
	Cash     decimal.Decimal
	Value    decimal.Decimal
	Holdings map[string]decimal.Decimal
}

// OrderIntent is a candidate order presented for admission.
type OrderIntent struct {
	Asset       string
	Side        schema.Side
	Notional    decimal.Decimal
	RealizedVol decimal.Decimal
}

// ClusterView is the current exposure of one cluster.
type ClusterView struct {
	Cluster schema.ClusterID
	Value   decimal.Decimal
}

// Engine runs every gate for an order intent. Reserve makes admissions cumulative
// within a cycle.
type Engine struct {
	profile  schema.RiskProfile
	state    schema.RiskState
	value    decimal.Decimal
	cash     decimal.Decimal
	total    decimal.Decimal
	holdings map[string]decimal.Decimal
	clusters map[schema.ClusterID]decimal.Decimal
}

// NewEngine creates an engine for one account-hour.
func NewEngine(profile schema.RiskProfile, state schema.RiskState, view StateView) *Engine {
	e := &Engine{
		profile:  profile,
		state:    state,
		value:    view.Value,
		cash:     view.Cash,
		total:    decimal.Zero,
		holdings: make(map[string]decimal.Decimal, len(view.Holdings)),
		clusters: make(map[schema.ClusterID]decimal.Decimal),
	}
	for asset, v := range view.Holdings {
		if !v.IsPositive() {
			continue
		}
		e.holdings[asset] = v
		e.total = e.total.Add(v)
		c := profile.ClusterOf(asset)
		e.clusters[c] = e.clusters[c].Add(v)
	}
	for _, c := range profile.Clusters {
		if _, ok := e.clusters[c]; !ok {
			e.clusters[c] = decimal.Zero
		}
	}
	return e
}

// State returns the risk state the engine gates against.
func (e *Engine) State() schema.RiskState {
	return e.state
}

// Value returns the start-of-cycle portfolio value.
func (e *Engine) Value() decimal.Decimal {
	return e.value
}

// Cash returns the cash not yet reserved by admitted buys.
func (e *Engine) Cash() decimal.Decimal {
	return e.cash
}

// OpenPositions returns the number of held or reserved assets.
func (e *Engine) OpenPositions() int {
	return len(e.holdings)
}

// Holds reports whether asset is held or reserved.
func (e *Engine) Holds(asset string) bool {
	_, ok := e.holdings[asset]
	return ok
}

// SizeBound returns the notional bound for a new entry at the given realized volatility.
func (e *Engine) SizeBound(realizedVol decimal.Decimal) decimal.Decimal {
	return SizeBound(e.state.BaseRiskFraction, e.value, e.profile.TargetVolatility, realizedVol)
}

// Evaluate runs the gates for intent without reserving anything.
func (e *Engine) Evaluate(intent OrderIntent) Decision {
	if d := HaltGate(e.state, intent.Side); !d.Accept {
		return d
	}
	if intent.Side != schema.SideBuy {
		return Accept()
	}
	if d := SevereLossGate(e.state); !d.Accept {
		return d
	}
	if d := PositionCountGate(len(e.holdings), e.state.MaxPositions, !e.Holds(intent.Asset)); !d.Accept {
		return d
	}
	if d := CapitalGate(intent.Notional, e.profile.CostRate(), e.cash, e.SizeBound(intent.RealizedVol)); !d.Accept {
		return d
	}
	if d := ExposureGate(e.total, intent.Notional, e.profile.TotalExposureCap, e.value); !d.Accept {
		return d
	}
	cluster := e.profile.ClusterOf(intent.Asset)
	return ClusterGate(e.clusters[cluster], intent.Notional, e.profile.ClusterExposureCap, e.value)
}

// Reserve books the cash and exposure of an admitted buy.
func (e *Engine) Reserve(intent OrderIntent) {
	if intent.Side != schema.SideBuy {
		return
	}
	cost := intent.Notional.Add(intent.Notional.Mul(e.profile.CostRate()))
	e.cash = e.cash.Sub(cost)
	e.total = e.total.Add(intent.Notional)
	e.holdings[intent.Asset] = e.holdings[intent.Asset].Add(intent.Notional)
	cluster := e.profile.ClusterOf(intent.Asset)
	e.clusters[cluster] = e.clusters[cluster].Add(intent.Notional)
}

// Admit evaluates intent and reserves it when accepted.
func (e *Engine) Admit(intent OrderIntent) Decision {
	d := e.Evaluate(intent)
	if d.Accept {
		e.Reserve(intent)
	}
	return d
}

// ClusterExposure returns every known cluster's exposure sorted by cluster id.
func (e *Engine) ClusterExposure() []ClusterView {
	out := make([]ClusterView, 0, len(e.clusters))
	for c, v := range e.clusters {
		out = append(out, ClusterView{Cluster: c, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cluster < out[j].Cluster })
	return out
}

// ClusterLimit resolves the cluster cap for the start-of-cycle value.
func (e *Engine) ClusterLimit() decimal.Decimal {
	return e.profile.ClusterExposureCap.Limit(e.value)
}
