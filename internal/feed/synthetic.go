package feed

import (
	"context"
	"math/rand"
	"time"

	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var regimes = []string{"TREND", "TREND", "RANGE", "RANGE", "CRASH"}

// SyntheticSource generates seeded outputs and marks for every registry asset. The same
// seed, partition and hour always produce the same input.
type SyntheticSource struct {
	assets []schema.Asset
	seed   int64
	base   map[string]decimal.Decimal
}

// NewSyntheticSource creates a source for all assets in the registry. Assets without a
// base price start at 100.
func NewSyntheticSource(reg *schema.Registry, seed int64, base map[string]decimal.Decimal) (*SyntheticSource, error) {
	if reg == nil || reg.AssetCount() == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "registry has no assets")
	}
	assets := make([]schema.Asset, 0, reg.AssetCount())
	for i := 0; i < reg.AssetCount(); i++ {
		if a, ok := reg.AssetAt(i); ok {
			assets = append(assets, a)
		}
	}
	return &SyntheticSource{assets: assets, seed: seed, base: base}, nil
}

func (s *SyntheticSource) Input(_ context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleInput, error) {
	hour = schema.TruncateHour(hour).UTC()
	rng := rand.New(rand.NewSource(s.seed ^ hour.Unix()))

	in := &schema.CycleInput{
		AccountID:  p.AccountID,
		Mode:       p.Mode,
		OriginHour: hour,
	}
	for _, a := range s.assets {
		base, ok := s.base[a.Symbol]
		if !ok || !base.IsPositive() {
			base = decimal.NewFromInt(100)
		}
		drift := decimal.NewFromFloat((rng.Float64() - 0.5) * 0.1)
		price := base.Mul(decimal.NewFromInt(1).Add(drift)).Round(2)
		probUp := 0.35 + rng.Float64()*0.4

		in.Marks = append(in.Marks, schema.Mark{
			Asset:       a.Symbol,
			Price:       price,
			RealizedVol: decimal.NewFromFloat(0.01 + rng.Float64()*0.05).Round(4),
		})
		in.Outputs = append(in.Outputs, schema.ModelOutput{
			Asset:          a.Symbol,
			Horizon:        "1h",
			ProbUp:         decimal.NewFromFloat(probUp).Round(4),
			ExpectedReturn: decimal.NewFromFloat((probUp - 0.5) * 0.08).Round(5),
			Regime:         regimes[rng.Intn(len(regimes))],
			RegimeProb:     decimal.NewFromFloat(0.5 + rng.Float64()*0.4).Round(4),
			LineageHash:    "synthetic-" + a.Symbol,
			Approved:       true,
			PredictedAt:    hour,
			TrainingCutoff: hour.Add(-30 * 24 * time.Hour),
			ValidationFrom: hour.Add(-7 * 24 * time.Hour),
			ValidationTo:   hour.Add(7 * 24 * time.Hour),
		})
	}
	return in, nil
}
