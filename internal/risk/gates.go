package risk

import (
	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
)

// Decision is the outcome of one gate.
type Decision struct {
	Accept bool
	Reason schema.RiskReason
}

// Accept is the passing decision.
func Accept() Decision {
	return Decision{Accept: true, Reason: schema.ReasonNone}
}

// Reject is a failing decision with a typed reason.
func Reject(reason schema.RiskReason) Decision {
	return Decision{Reason: reason}
}

// HaltGate rejects every order under the kill switch and new entries while halted.
func HaltGate(st schema.RiskState, side schema.Side) Decision {
	if st.KillSwitchActive {
		return Reject(schema.ReasonKillSwitchActive)
	}
	if side == schema.SideBuy && st.HaltNewEntries {
		return Reject(schema.ReasonHaltNewEntriesActive)
	}
	return Accept()
}

// SevereLossGate blocks new entries during severe-loss recovery.
func SevereLossGate(st schema.RiskState) Decision {
	if st.Severe.Active() {
		return Reject(schema.ReasonSevereRecoveryEntryBlocked)
	}
	return Accept()
}

// PositionCountGate caps the number of concurrently held assets.
func PositionCountGate(open, maxPositions int, newAsset bool) Decision {
	if newAsset && open >= maxPositions {
		return Reject(schema.ReasonMaxPositionsReached)
	}
	return Accept()
}

// VolAdjustment scales sizing down when realized volatility exceeds the target.
func VolAdjustment(target, realized decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !target.IsPositive() || !realized.IsPositive() {
		return one
	}
	return decimal.Min(one, target.Div(realized))
}

// SizeBound is base fraction times portfolio value times the volatility adjustment.
func SizeBound(base, portfolioValue, targetVol, realizedVol decimal.Decimal) decimal.Decimal {
	return base.Mul(portfolioValue).Mul(VolAdjustment(targetVol, realizedVol))
}

// CapitalGate enforces no leverage: notional plus assumed costs must be covered by cash,
// and notional must stay within the risk size bound.
func CapitalGate(notional, costRate, cash, bound decimal.Decimal) Decision {
	required := notional.Add(notional.Mul(costRate))
	if required.GreaterThan(cash) {
		return Reject(schema.ReasonInsufficientCash)
	}
	if notional.GreaterThan(bound) {
		return Reject(schema.ReasonSizeAboveRiskBound)
	}
	return Accept()
}

// ExposureGate enforces the total exposure cap.
func ExposureGate(current, add decimal.Decimal, cap schema.ExposureCap, portfolioValue decimal.Decimal) Decision {
	if current.Add(add).GreaterThan(cap.Limit(portfolioValue)) {
		return Reject(schema.ReasonTotalExposureCapExceeded)
	}
	return Accept()
}

// ClusterGate enforces the per-cluster exposure cap.
func ClusterGate(current, add decimal.Decimal, cap schema.ExposureCap, portfolioValue decimal.Decimal) Decision {
	if current.Add(add).GreaterThan(cap.Limit(portfolioValue)) {
		return Reject(schema.ReasonClusterCapExceeded)
	}
	return Accept()
}
