package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumTextRoundTrip(t *testing.T) {
	mode, err := ParseRunMode("paper")
	require.NoError(t, err)
	assert.Equal(t, RunModePaper, mode)

	_, err = ParseRunMode("margin")
	assert.Error(t, err)

	reason, err := ParseRiskReason("NONE")
	require.NoError(t, err)
	assert.Equal(t, ReasonNone, reason)

	data, err := json.Marshal(struct {
		Status OrderStatus `json:"status"`
	}{OrderStatusPartial})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"PARTIAL"}`, string(data))
}

func TestRegistryClusters(t *testing.T) {
	r, err := RegistryFromClusters(map[string]ClusterID{
		"ETH":  "L1",
		"BTC":  "L1",
		"DOGE": "MEME",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, r.AssetCount())
	assert.Equal(t, ClusterID("L1"), r.ClusterOf("BTC"))
	assert.Equal(t, UnclusteredID, r.ClusterOf("XRP"))
	assert.Equal(t, []ClusterID{"L1", "MEME"}, r.Clusters())
	require.Error(t, r.AddAsset("BTC", "L1"))
}

func TestExposureCapLimit(t *testing.T) {
	value := decimal.NewFromInt(10000)
	pct := ExposureCap{Mode: ExposurePercent, Value: decimal.NewFromInt(25)}
	abs := ExposureCap{Mode: ExposureAbsolute, Value: decimal.NewFromInt(1200)}
	assert.True(t, pct.Limit(value).Equal(decimal.NewFromInt(2500)))
	assert.True(t, abs.Limit(value).Equal(decimal.NewFromInt(1200)))
}

func TestManifestTracksRowHashes(t *testing.T) {
	hour := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &CycleRecord{
		Run:       RunContext{RunID: "r", AccountID: "a", Mode: RunModePaper, OriginHour: hour, RunSeedHash: "seed"},
		RiskState: RiskState{StateID: "s", Tier: TierNormal},
		Portfolio: PortfolioSnapshot{SnapshotID: "p"},
	}
	rec.Run.RowHash = ComputeHash(rec.Run)
	rec.RiskState.RowHash = ComputeHash(rec.RiskState)
	rec.Portfolio.RowHash = ComputeHash(rec.Portfolio)
	rec.Seal()

	assert.Equal(t, 3, rec.Manifest.AuthoritativeRowCount)
	assert.Len(t, rec.Manifest.TableHashes, len(TableOrder))
	for i, th := range rec.Manifest.TableHashes {
		assert.Equal(t, TableOrder[i], th.Table)
	}
	assert.Equal(t, rec.Manifest.ReplayRootHash, rec.Run.ReplayRootHash)

	root := rec.Manifest.ReplayRootHash
	rec.RiskState.RowHash = "tampered"
	assert.NotEqual(t, root, rec.BuildManifest().ReplayRootHash)
}
