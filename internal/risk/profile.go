package risk

import (
	"sort"
	"time"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

const tableRiskProfile = "risk_profile"

// ValidateProfile checks that a profile is one of the recognized option combinations.
func ValidateProfile(p schema.RiskProfile) error {
	bad := func(format string, args ...any) error {
		return internalerrors.Violationf(exception.ErrInvalidProfileConfiguration, tableRiskProfile, p.ProfileID, format, args...)
	}

	if p.ProfileID == "" || p.AccountID == "" {
		return bad("profile id and account id are required")
	}
	if p.Version <= 0 {
		return bad("version must be positive, got %d", p.Version)
	}
	if p.BaseRiskFraction.LessThanOrEqual(decimal.Zero) || p.BaseRiskFraction.GreaterThan(decimal.NewFromInt(1)) {
		return bad("base risk fraction %s outside (0, 1]", p.BaseRiskFraction)
	}
	if p.MaxConcurrentPositions <= 0 {
		return bad("max concurrent positions must be positive, got %d", p.MaxConcurrentPositions)
	}
	if err := validateCap("total exposure cap", p.TotalExposureCap); err != "" {
		return bad("%s", err)
	}
	if err := validateCap("cluster exposure cap", p.ClusterExposureCap); err != "" {
		return bad("%s", err)
	}

	th := p.Drawdown
	if !th.DD10.IsPositive() || !th.DD10.LessThan(th.DD15) || !th.DD15.LessThan(th.Halt20) || th.Halt20.GreaterThan(hundred) {
		return bad("drawdown thresholds must be strictly increasing in (0, 100], got %s/%s/%s", th.DD10, th.DD15, th.Halt20)
	}
	if !p.SevereLossTrigger.IsPositive() || p.SevereLossTrigger.GreaterThan(hundred) {
		return bad("severe loss trigger %s outside (0, 100]", p.SevereLossTrigger)
	}
	if !p.TargetVolatility.IsPositive() {
		return bad("target volatility must be positive")
	}
	if p.ConfidenceThreshold.IsNegative() || p.ConfidenceThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return bad("confidence threshold %s outside [0, 1]", p.ConfidenceThreshold)
	}
	if p.ExitConfidence.IsNegative() || p.ExitConfidence.GreaterThan(p.ConfidenceThreshold) {
		return bad("exit confidence %s must be within [0, confidence threshold]", p.ExitConfidence)
	}
	if p.AssumedFeeRate.IsNegative() || p.AssumedSlippageRate.IsNegative() {
		return bad("assumed cost rates must not be negative")
	}
	return nil
}

// ValidateVenueCosts checks that the assumed cost rates of p cover the highest fee and
// slippage rates a venue can charge. Capital admission reserves at the assumed rates
// while the ledger debits the realized ones.
func ValidateVenueCosts(p schema.RiskProfile, feeRate, maxSlippageRate decimal.Decimal) error {
	if feeRate.GreaterThan(p.AssumedFeeRate) || maxSlippageRate.GreaterThan(p.AssumedSlippageRate) {
		return internalerrors.Violationf(exception.ErrInvalidProfileConfiguration, tableRiskProfile, p.ProfileID,
			"venue fee %s / slippage %s exceed assumed %s / %s",
			feeRate, maxSlippageRate, p.AssumedFeeRate, p.AssumedSlippageRate)
	}
	return nil
}

func validateCap(name string, c schema.ExposureCap) string {
	switch c.Mode {
	case schema.ExposurePercent:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return name + " percent must be in (0, 100]"
		}
	case schema.ExposureAbsolute:
		if !c.Value.IsPositive() {
			return name + " amount must be positive"
		}
	default:
		return name + " must set exactly one of percent or absolute"
	}
	return ""
}

// Book holds versioned, time-effective profiles per account.
type Book struct {
	byAccount map[string][]schema.RiskProfile
}

// NewBook validates every profile and indexes them by account.
func NewBook(profiles ...schema.RiskProfile) (*Book, error) {
	b := &Book{byAccount: make(map[string][]schema.RiskProfile)}
	for _, p := range profiles {
		if err := b.Add(p); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Add validates and registers one profile version.
func (b *Book) Add(p schema.RiskProfile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	list := b.byAccount[p.AccountID]
	for _, existing := range list {
		if existing.Version == p.Version {
			return internalerrors.Violationf(exception.ErrInvalidProfileConfiguration, tableRiskProfile, p.ProfileID,
				"account %s already has version %d", p.AccountID, p.Version)
		}
	}
	list = append(list, p)
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].EffectiveFrom.Equal(list[j].EffectiveFrom) {
			return list[i].EffectiveFrom.Before(list[j].EffectiveFrom)
		}
		return list[i].Version < list[j].Version
	})
	b.byAccount[p.AccountID] = list
	return nil
}

// Active returns the profile in force for account at the given time.
func (b *Book) Active(account string, at time.Time) (schema.RiskProfile, error) {
	list := b.byAccount[account]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].EffectiveFrom.After(at) {
			return list[i], nil
		}
	}
	return schema.RiskProfile{}, errors.Wrapf(exception.ErrNotFound, "no active risk profile for account %s at %s", account, at.UTC())
}

// Accounts returns the accounts with at least one profile, sorted.
func (b *Book) Accounts() []string {
	out := make([]string, 0, len(b.byAccount))
	for a := range b.byAccount {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
