package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spotledger/internal/fixture"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

const config = `
codeVersionHash: code-v1
accounts:
  - id: acct
    mode: PAPER
    openingCash: "10000"
    seed: 7
profiles:
  - profileId: default
    version: 1
    accountId: acct
    effectiveFrom: 2024-01-01T00:00:00Z
    baseRiskFraction: "0.02"
    maxConcurrentPositions: 5
    totalExposureCap: {mode: PERCENT, value: "80"}
    clusterExposureCap: {mode: PERCENT, value: "40"}
    drawdown: {dd10: "10", dd15: "15", halt20: "20"}
    severeLossTrigger: "25"
    targetVolatility: "0.04"
    confidenceThreshold: "0.55"
    exitConfidence: "0.45"
    assumedFeeRate: "0.005"
    assumedSlippageRate: "0.003"
    clusters: {BTC: MAJORS}
venue:
  paper:
    seed: 7
    feeRate: "0.001"
    maxSlippageRate: "0.001"
store:
  backend: wal
  dir: %s
`

func setup(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(config, filepath.Join(dir, "journal"))), 0o644))
	writeInput(t, filepath.Join(dir, "entry.json"), fixture.EntryInput("acct", fixture.Hour0))
	writeInput(t, filepath.Join(dir, "exit.json"), fixture.ExitInput("acct", fixture.Hour0.Add(time.Hour), "51000"))
	return cfgPath, dir
}

func writeInput(t *testing.T, path string, in *schema.CycleInput) {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

// mirrorJournal copies the journal into a second store and returns its config.
func mirrorJournal(t *testing.T, dir string) string {
	t.Helper()
	dst := t.TempDir()
	entries, err := os.ReadDir(filepath.Join(dir, "journal"))
	require.NoError(t, err)
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, "journal", e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Join(dst, "journal"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dst, "journal", e.Name()), raw, 0o644))
	}
	path := filepath.Join(dst, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(config, filepath.Join(dst, "journal"))), 0o644))
	return path
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := rootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(t.Context())
}

func TestExecuteReplayAndVerify(t *testing.T) {
	cfg, dir := setup(t)

	require.NoError(t, execute(t, "execute-hour", "-c", cfg, "--account", "acct",
		"--hour", "2024-03-01T00", "--input", filepath.Join(dir, "entry.json")))
	require.NoError(t, execute(t, "execute-hour", "-c", cfg, "--account", "acct",
		"--hour", "2024-03-01T01", "--input", filepath.Join(dir, "exit.json")))

	assert.NoError(t, execute(t, "replay-hour", "-c", cfg, "--account", "acct", "--hour", "2024-03-01T01"))
	assert.NoError(t, execute(t, "replay-window", "-c", cfg, "--account", "acct"))
	mirror := mirrorJournal(t, dir)
	assert.NoError(t, execute(t, "replay-manifest", "-c", cfg, "--account", "acct", "--hour", "2024-03-01T00", "--against", mirror))
	assert.NoError(t, execute(t, "verify-ledger", "-c", cfg))

	err := execute(t, "execute-hour", "-c", cfg, "--account", "acct",
		"--hour", "2024-03-01T00", "--input", filepath.Join(dir, "entry.json"))
	assert.True(t, errors.Is(err, exception.ErrAppendOnlyViolation), "%+v", err)
}

func TestFreezeDiscardsCycle(t *testing.T) {
	cfg, dir := setup(t)

	err := execute(t, "execute-hour", "-c", cfg, "--freeze", "1m", "--account", "acct",
		"--hour", "2024-03-01T00", "--input", filepath.Join(dir, "entry.json"))
	assert.True(t, errors.Is(err, exception.ErrWriteFrozen), "%+v", err)

	err = execute(t, "replay-hour", "-c", cfg, "--account", "acct", "--hour", "2024-03-01T00")
	assert.True(t, errors.Is(err, exception.ErrStoreCycleNotFound), "%+v", err)
}

func TestRejectsBadFlags(t *testing.T) {
	cfg, _ := setup(t)

	assert.Error(t, execute(t, "execute-hour", "-c", cfg, "--account", "acct", "--mode", "demo"))
	assert.Error(t, execute(t, "execute-hour", "-c", cfg, "--account", "acct", "--hour", "yesterday"))
	assert.Error(t, execute(t, "replay-hour", "-c", cfg, "--account", "acct"))
}

func TestParseHour(t *testing.T) {
	want := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-01T05", "2024030105", "2024-03-01T05:42:10Z", "2024-03-01T13:42:10+08:00"} {
		got, err := parseHour(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}
}
