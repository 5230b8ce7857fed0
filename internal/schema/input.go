package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModelOutput is one per-asset prediction consumed by the decision engine.
type ModelOutput struct {
	Asset          string          `json:"asset" yaml:"asset"`
	Horizon        string          `json:"horizon,omitempty" yaml:"horizon,omitempty"`
	ProbUp         decimal.Decimal `json:"probUp" yaml:"probUp"`
	ExpectedReturn decimal.Decimal `json:"expectedReturn" yaml:"expectedReturn"`
	Regime         string          `json:"regime" yaml:"regime"`
	RegimeProb     decimal.Decimal `json:"regimeProb" yaml:"regimeProb"`
	LineageHash    string          `json:"lineageHash" yaml:"lineageHash"`
	Approved       bool            `json:"approved" yaml:"approved"`
	PredictedAt    time.Time       `json:"predictedAt" yaml:"predictedAt"`
	TrainingCutoff time.Time       `json:"trainingCutoff" yaml:"trainingCutoff"`
	ValidationFrom time.Time       `json:"validationFrom" yaml:"validationFrom"`
	ValidationTo   time.Time       `json:"validationTo" yaml:"validationTo"`
}

// Mark is the hourly reference price and realized volatility of an asset.
type Mark struct {
	Asset       string          `json:"asset" yaml:"asset"`
	Price       decimal.Decimal `json:"price" yaml:"price"`
	RealizedVol decimal.Decimal `json:"realizedVol" yaml:"realizedVol"`
}

// VenueFill is one execution report returned by a venue.
type VenueFill struct {
	OrderID      string          `json:"orderId" yaml:"orderId"`
	Qty          decimal.Decimal `json:"qty" yaml:"qty"`
	Price        decimal.Decimal `json:"price" yaml:"price"`
	FeeRate      decimal.Decimal `json:"feeRate" yaml:"feeRate"`
	SlippageRate decimal.Decimal `json:"slippageRate" yaml:"slippageRate"`
	Delay        time.Duration   `json:"delay" yaml:"delay"`
}

// CycleInput holds every recorded input of one decision cycle. Replay reads only this.
type CycleInput struct {
	RunID               string          `json:"runId" yaml:"runId"`
	AccountID           string          `json:"accountId" yaml:"accountId"`
	Mode                RunMode         `json:"mode" yaml:"mode"`
	OriginHour          time.Time       `json:"originHour" yaml:"originHour"`
	Seed                int64           `json:"seed" yaml:"seed"`
	CodeVersionHash     string          `json:"codeVersionHash" yaml:"codeVersionHash"`
	OpeningCash         decimal.Decimal `json:"openingCash" yaml:"openingCash"`
	Profile             RiskProfile     `json:"profile" yaml:"profile"`
	Outputs             []ModelOutput   `json:"outputs" yaml:"outputs"`
	Marks               []Mark          `json:"marks" yaml:"marks"`
	Faults              []FaultSignal   `json:"faults,omitempty" yaml:"faults,omitempty"`
	ManualReviewCleared bool            `json:"manualReviewCleared,omitempty" yaml:"manualReviewCleared,omitempty"`
	KillSwitchReset     bool            `json:"killSwitchReset,omitempty" yaml:"killSwitchReset,omitempty"`
	Fills               []VenueFill     `json:"fills,omitempty" yaml:"fills,omitempty"`
}

// Key returns the run key of the input.
func (in *CycleInput) Key() RunKey {
	return RunKey{
		RunID:      in.RunID,
		AccountID:  in.AccountID,
		Mode:       in.Mode,
		OriginHour: in.OriginHour,
	}
}

// Partition returns the partition the input writes to.
func (in *CycleInput) Partition() PartitionKey {
	return PartitionKey{AccountID: in.AccountID, Mode: in.Mode}
}

// MarkOf returns the mark of asset in this input.
func (in *CycleInput) MarkOf(asset string) (Mark, bool) {
	for _, m := range in.Marks {
		if m.Asset == asset {
			return m, true
		}
	}
	return Mark{}, false
}

// HasFault reports whether any fault signal is present.
func (in *CycleInput) HasFault() bool {
	return len(in.Faults) > 0
}
