// Package fixture builds profiles and cycle inputs shared by package tests and demos.
package fixture

import (
	"context"
	"time"

	"spotledger/internal/schema"

	"github.com/shopspring/decimal"
)

// Hour0 is the first origin hour used by fixtures.
var Hour0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Profile returns a valid profile for account with a 0.8% assumed cost rate.
func Profile(account string) schema.RiskProfile {
	return schema.RiskProfile{
		ProfileID:              "default",
		Version:                1,
		AccountID:              account,
		EffectiveFrom:          Hour0.Add(-24 * time.Hour),
		BaseRiskFraction:       D("0.02"),
		MaxConcurrentPositions: 5,
		TotalExposureCap:       schema.ExposureCap{Mode: schema.ExposurePercent, Value: D("80")},
		ClusterExposureCap:     schema.ExposureCap{Mode: schema.ExposurePercent, Value: D("40")},
		Drawdown:               schema.DrawdownThresholds{DD10: D("10"), DD15: D("15"), Halt20: D("20")},
		SevereLossTrigger:      D("25"),
		TargetVolatility:       D("0.04"),
		ConfidenceThreshold:    D("0.55"),
		ExitConfidence:         D("0.45"),
		AssumedFeeRate:         D("0.005"),
		AssumedSlippageRate:    D("0.003"),
		BlockedRegimes:         []string{"CRASH"},
		Clusters: map[string]schema.ClusterID{
			"BTC": "MAJORS",
			"ETH": "MAJORS",
			"SOL": "ALT_L1",
		},
	}
}

// Output returns an approved, walk-forward clean model output for asset at hour.
func Output(asset string, hour time.Time, probUp, expectedReturn string) schema.ModelOutput {
	return schema.ModelOutput{
		Asset:          asset,
		Horizon:        "1h",
		ProbUp:         D(probUp),
		ExpectedReturn: D(expectedReturn),
		Regime:         "TREND",
		RegimeProb:     D("0.7"),
		LineageHash:    "lineage-" + asset,
		Approved:       true,
		PredictedAt:    hour,
		TrainingCutoff: hour.Add(-30 * 24 * time.Hour),
		ValidationFrom: hour.Add(-7 * 24 * time.Hour),
		ValidationTo:   hour.Add(7 * 24 * time.Hour),
	}
}

// Mark returns a mark with the given price and a volatility below the profile target.
func Mark(asset, price string) schema.Mark {
	return schema.Mark{Asset: asset, Price: D(price), RealizedVol: D("0.03")}
}

// Input returns a paper-mode cycle input with 10,000 opening cash.
func Input(account string, hour time.Time) *schema.CycleInput {
	return &schema.CycleInput{
		RunID:           "run-" + hour.Format("2006010215"),
		AccountID:       account,
		Mode:            schema.RunModePaper,
		OriginHour:      hour,
		Seed:            7,
		CodeVersionHash: "code-v1",
		OpeningCash:     D("10000"),
		Profile:         Profile(account),
	}
}

// FillAll is a venue that fills every order in one report at its limit price.
type FillAll struct {
	FeeRate      decimal.Decimal
	SlippageRate decimal.Decimal
	Delay        time.Duration
}

// Venue returns a FillAll charging 0.1% fee and 0.1% slippage one second after the request.
func Venue() FillAll {
	return FillAll{FeeRate: D("0.001"), SlippageRate: D("0.001"), Delay: time.Second}
}

func (v FillAll) CostCeiling() (decimal.Decimal, decimal.Decimal, bool) {
	return v.FeeRate, v.SlippageRate, true
}

func (v FillAll) Execute(_ context.Context, req schema.OrderRequest) ([]schema.VenueFill, error) {
	return []schema.VenueFill{{
		OrderID:      req.OrderID,
		Qty:          req.RequestedQty,
		Price:        req.LimitPrice,
		FeeRate:      v.FeeRate,
		SlippageRate: v.SlippageRate,
		Delay:        v.Delay,
	}}, nil
}

// EntryInput returns an input whose only output is a BTC entry with 1.5% expected return
// at a mark of 50,000.
func EntryInput(account string, hour time.Time) *schema.CycleInput {
	in := Input(account, hour)
	in.Outputs = []schema.ModelOutput{Output("BTC", hour, "0.6", "0.015")}
	in.Marks = []schema.Mark{Mark("BTC", "50000")}
	return in
}

// ExitInput returns an input whose only output is a weak BTC signal that exits any
// held BTC at the given mark.
func ExitInput(account string, hour time.Time, price string) *schema.CycleInput {
	in := Input(account, hour)
	in.Outputs = []schema.ModelOutput{Output("BTC", hour, "0.3", "0.015")}
	in.Marks = []schema.Mark{Mark("BTC", price)}
	return in
}
