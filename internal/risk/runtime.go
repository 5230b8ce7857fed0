package risk

import (
	"strings"
	"time"

	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.NewFromFloat(0.5)
	quarter = decimal.NewFromFloat(0.25)
)

// DrawdownScale is the number of fraction digits drawdown percentages are rounded to.
const DrawdownScale int32 = 6

// Drawdown returns the percent decline of value from peak.
func Drawdown(peak, value decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() || value.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(value).Mul(hundred).Div(peak).Round(DrawdownScale)
}

// TierFor maps a drawdown percentage onto a tier.
func TierFor(drawdownPct decimal.Decimal, th schema.DrawdownThresholds) schema.DrawdownTier {
	switch {
	case drawdownPct.GreaterThanOrEqual(th.Halt20):
		return schema.TierHalt20
	case drawdownPct.GreaterThanOrEqual(th.DD15):
		return schema.TierDD15
	case drawdownPct.GreaterThanOrEqual(th.DD10):
		return schema.TierDD10
	default:
		return schema.TierNormal
	}
}

// DerivedSizing returns the base risk fraction and position cap in force for a tier.
func DerivedSizing(tier schema.DrawdownTier, p schema.RiskProfile) (decimal.Decimal, int) {
	switch tier {
	case schema.TierNormal:
		return p.BaseRiskFraction, p.MaxConcurrentPositions
	case schema.TierDD10:
		return p.BaseRiskFraction.Mul(half), p.MaxConcurrentPositions
	case schema.TierDD15:
		return p.BaseRiskFraction.Mul(quarter), p.MaxConcurrentPositions
	default:
		return decimal.Zero, 0
	}
}

// Observation is everything the risk runtime reads for one account-hour.
type Observation struct {
	AccountID           string
	Mode                schema.RunMode
	Hour                time.Time
	Profile             schema.RiskProfile
	DrawdownPct         decimal.Decimal
	OpenPositions       int
	Prior               *schema.RiskState
	Faults              []schema.FaultSignal
	ManualReviewCleared bool
	KillSwitchReset     bool
}

// Transition is one state change the runtime logs as a risk event.
type Transition struct {
	Reason schema.RiskReason
	Detail string
}

// Evaluate advances the risk state machine by one hour. The returned state has no id,
// parent hash or row hash yet.
func Evaluate(obs Observation) (schema.RiskState, []Transition) {
	var transitions []Transition

	priorTier := schema.TierNormal
	priorSevere := schema.SevereNone
	priorKill := false
	priorDrawdown := decimal.Zero
	if obs.Prior != nil {
		priorTier = obs.Prior.Tier
		priorSevere = obs.Prior.Severe
		priorKill = obs.Prior.KillSwitchActive
		priorDrawdown = obs.Prior.DrawdownPct
	}

	tier := TierFor(obs.DrawdownPct, obs.Profile.Drawdown)
	if priorTier == schema.TierHalt20 {
		if obs.ManualReviewCleared {
			transitions = append(transitions, Transition{Reason: schema.ReasonManualReviewCleared, Detail: "manual review cleared"})
		} else {
			tier = schema.TierHalt20
		}
	}
	if tier != priorTier {
		transitions = append(transitions, Transition{Reason: schema.ReasonTierChanged, Detail: priorTier.String() + "->" + tier.String()})
	}

	kill := len(obs.Faults) > 0 || (priorKill && !obs.KillSwitchReset)
	switch {
	case kill && !priorKill:
		transitions = append(transitions, Transition{Reason: schema.ReasonKillSwitchEngaged, Detail: faultList(obs.Faults)})
	case !kill && priorKill:
		transitions = append(transitions, Transition{Reason: schema.ReasonKillSwitchReset, Detail: "kill switch reset"})
	}

	severe := nextSevere(obs, priorSevere, priorDrawdown)
	if severe != priorSevere {
		transitions = append(transitions, Transition{Reason: schema.ReasonSevereRecoveryTransition, Detail: priorSevere.String() + "->" + severe.String()})
	}

	base, maxPositions := DerivedSizing(tier, obs.Profile)
	return schema.RiskState{
		AccountID:            obs.AccountID,
		Mode:                 obs.Mode,
		Hour:                 obs.Hour,
		ProfileID:            obs.Profile.ProfileID,
		ProfileVersion:       obs.Profile.Version,
		DrawdownPct:          obs.DrawdownPct,
		Tier:                 tier,
		HaltNewEntries:       tier.HaltsEntries(),
		KillSwitchActive:     kill,
		ManualReviewRequired: tier == schema.TierHalt20,
		Severe:               severe,
		BaseRiskFraction:     base,
		MaxPositions:         maxPositions,
	}, transitions
}

// nextSevere walks NONE -> ENTRY_PENDING_GATE -> HOLD / DERISK_INTENT -> EXIT while the
// drawdown stays at or above the trigger. A worsening drawdown escalates one step.
func nextSevere(obs Observation, prior schema.SevereState, priorDrawdown decimal.Decimal) schema.SevereState {
	if obs.DrawdownPct.LessThan(obs.Profile.SevereLossTrigger) {
		return schema.SevereNone
	}
	if obs.OpenPositions == 0 {
		return schema.SevereEntryBlocked
	}

	worsening := obs.DrawdownPct.GreaterThan(priorDrawdown)
	switch prior {
	case schema.SevereEntryPendingGate, schema.SevereHold:
		if worsening {
			return schema.SevereDeriskIntent
		}
		return schema.SevereHold
	case schema.SevereDeriskIntent:
		if worsening {
			return schema.SevereExit
		}
		return schema.SevereHold
	case schema.SevereExit:
		return schema.SevereExit
	default:
		return schema.SevereEntryPendingGate
	}
}

func faultList(faults []schema.FaultSignal) string {
	names := make([]string, 0, len(faults))
	for _, f := range faults {
		names = append(names, f.String())
	}
	return strings.Join(names, ",")
}
