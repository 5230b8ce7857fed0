package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ExposureCap is a cap read either as a percent of portfolio value or as an absolute amount.
type ExposureCap struct {
	Mode  ExposureMode    `json:"mode" yaml:"mode"`
	Value decimal.Decimal `json:"value" yaml:"value"`
}

// Limit resolves the cap into an amount for the given portfolio value.
func (c ExposureCap) Limit(portfolioValue decimal.Decimal) decimal.Decimal {
	if c.Mode == ExposurePercent {
		return portfolioValue.Mul(c.Value).Div(hundred)
	}
	return c.Value
}

// DrawdownThresholds are the tier boundaries in percent.
type DrawdownThresholds struct {
	DD10   decimal.Decimal `json:"dd10" yaml:"dd10"`
	DD15   decimal.Decimal `json:"dd15" yaml:"dd15"`
	Halt20 decimal.Decimal `json:"halt20" yaml:"halt20"`
}

// RiskProfile is a versioned, time-effective risk configuration for one account.
type RiskProfile struct {
	ProfileID              string               `json:"profileId" yaml:"profileId"`
	Version                int                  `json:"version" yaml:"version"`
	AccountID              string               `json:"accountId" yaml:"accountId"`
	EffectiveFrom          time.Time            `json:"effectiveFrom" yaml:"effectiveFrom"`
	BaseRiskFraction       decimal.Decimal      `json:"baseRiskFraction" yaml:"baseRiskFraction"`
	MaxConcurrentPositions int                  `json:"maxConcurrentPositions" yaml:"maxConcurrentPositions"`
	TotalExposureCap       ExposureCap          `json:"totalExposureCap" yaml:"totalExposureCap"`
	ClusterExposureCap     ExposureCap          `json:"clusterExposureCap" yaml:"clusterExposureCap"`
	Drawdown               DrawdownThresholds   `json:"drawdown" yaml:"drawdown"`
	SevereLossTrigger      decimal.Decimal      `json:"severeLossTrigger" yaml:"severeLossTrigger"`
	TargetVolatility       decimal.Decimal      `json:"targetVolatility" yaml:"targetVolatility"`
	ConfidenceThreshold    decimal.Decimal      `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	ExitConfidence         decimal.Decimal      `json:"exitConfidence" yaml:"exitConfidence"`
	AssumedFeeRate         decimal.Decimal      `json:"assumedFeeRate" yaml:"assumedFeeRate"`
	AssumedSlippageRate    decimal.Decimal      `json:"assumedSlippageRate" yaml:"assumedSlippageRate"`
	BlockedRegimes         []string             `json:"blockedRegimes,omitempty" yaml:"blockedRegimes"`
	Clusters               map[string]ClusterID `json:"clusters,omitempty" yaml:"clusters"`
}

// CostRate is the assumed round cost rate used by the net-edge check.
func (p RiskProfile) CostRate() decimal.Decimal {
	return p.AssumedFeeRate.Add(p.AssumedSlippageRate)
}

// ClusterOf returns the cluster of asset, UnclusteredID when unmapped.
func (p RiskProfile) ClusterOf(asset string) ClusterID {
	if c, ok := p.Clusters[asset]; ok && c != "" {
		return c
	}
	return UnclusteredID
}

// RegimeBlocked reports whether entries are disallowed under regime.
func (p RiskProfile) RegimeBlocked(regime string) bool {
	for _, r := range p.BlockedRegimes {
		if r == regime {
			return true
		}
	}
	return false
}
