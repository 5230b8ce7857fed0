package hashing

import (
	"encoding/json"
	"time"
)

// RootVersion tags the table list layout folded into a replay root.
const RootVersion = "v1"

// RunSeedInput is the identity material of one decision cycle.
type RunSeedInput struct {
	RunID            string
	AccountID        string
	Mode             string
	OriginHour       time.Time
	Seed             int64
	ConfigHash       string
	DataSnapshotHash string
	CodeVersionHash  string
}

// RunSeed composes the run-seed hash.
func RunSeed(in RunSeedInput) string {
	return Row(
		String("run_seed"),
		String(in.RunID),
		String(in.AccountID),
		String(in.Mode),
		Time(in.OriginHour),
		Int(in.Seed),
		OptString(in.ConfigHash),
		OptString(in.DataSnapshotHash),
		OptString(in.CodeVersionHash),
	)
}

// TableHash summarizes the ordered row hashes of one table.
type TableHash struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
	Hash  string `json:"hash"`
}

// Table folds row hashes, in order, into one table hash.
func Table(name string, rowHashes []string) TableHash {
	fields := make([]Field, 0, len(rowHashes)+2)
	fields = append(fields, String(name), Int(int64(len(rowHashes))))
	for _, h := range rowHashes {
		fields = append(fields, String(h))
	}
	return TableHash{Table: name, Rows: len(rowHashes), Hash: Row(fields...)}
}

// Root folds the versioned, ordered table list and the total row count into a replay root.
func Root(version string, tables []TableHash) (string, int) {
	rows := 0
	fields := make([]Field, 0, 2*len(tables)+3)
	fields = append(fields, String("replay_root"), String(version))
	for _, t := range tables {
		rows += t.Rows
		fields = append(fields, String(t.Table), String(t.Hash))
	}
	fields = append(fields, Int(int64(rows)))
	return Row(fields...), rows
}

// JSON hashes the JSON encoding of v. Struct fields keep declaration order and
// map keys are sorted by encoding/json, so equal values give equal hashes.
func JSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Sum(data), nil
}
