package pgstore

import (
	"time"

	"spotledger/internal/schema"
)

// cycleRow holds one committed cycle record as jsonb.
type cycleRow struct {
	RunID          string    `gorm:"column:run_id;primaryKey"`
	AccountID      string    `gorm:"column:account_id;primaryKey;uniqueIndex:uq_cycle_partition_hour,priority:1"`
	Mode           string    `gorm:"column:mode;primaryKey;uniqueIndex:uq_cycle_partition_hour,priority:2"`
	OriginHour     time.Time `gorm:"column:origin_hour;primaryKey;uniqueIndex:uq_cycle_partition_hour,priority:3"`
	RunSeedHash    string    `gorm:"column:run_seed_hash"`
	ReplayRootHash string    `gorm:"column:replay_root_hash"`
	Payload        []byte    `gorm:"column:payload;type:jsonb"`
}

func (cycleRow) TableName() string { return "cycle_records" }

// ledgerRow mirrors one cash ledger entry so the chain is queryable in SQL.
type ledgerRow struct {
	AccountID     string    `gorm:"column:account_id;primaryKey"`
	Mode          string    `gorm:"column:mode;primaryKey"`
	Seq           uint64    `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Kind          string    `gorm:"column:kind"`
	RefID         string    `gorm:"column:ref_id"`
	BalanceBefore string    `gorm:"column:balance_before;type:numeric"`
	DeltaCash     string    `gorm:"column:delta_cash;type:numeric"`
	BalanceAfter  string    `gorm:"column:balance_after;type:numeric"`
	PrevHash      string    `gorm:"column:prev_hash"`
	RowHash       string    `gorm:"column:row_hash;uniqueIndex"`
	PostedAt      time.Time `gorm:"column:posted_at"`
}

func (ledgerRow) TableName() string { return "cash_ledger" }

type manifestRow struct {
	RunID                 string    `gorm:"column:run_id;primaryKey"`
	AccountID             string    `gorm:"column:account_id;primaryKey"`
	Mode                  string    `gorm:"column:mode;primaryKey"`
	OriginHour            time.Time `gorm:"column:origin_hour;primaryKey"`
	RunSeedHash           string    `gorm:"column:run_seed_hash"`
	ReplayRootHash        string    `gorm:"column:replay_root_hash"`
	AuthoritativeRowCount int       `gorm:"column:authoritative_row_count"`
	TableHashes           []byte    `gorm:"column:table_hashes;type:jsonb"`
	Version               string    `gorm:"column:version"`
}

func (manifestRow) TableName() string { return "replay_manifests" }

// identityRow is the identity projection: one row per committed replay-authoritative row.
type identityRow struct {
	Entity string `gorm:"column:entity;primaryKey"`
	RowKey string `gorm:"column:row_key;primaryKey"`
	RunID  string `gorm:"column:run_id"`
}

func (identityRow) TableName() string { return "row_identities" }

func ledgerRowsOf(entries []schema.LedgerEntry) []ledgerRow {
	out := make([]ledgerRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerRow{
			AccountID:     e.AccountID,
			Mode:          e.Mode.String(),
			Seq:           e.Seq,
			Kind:          e.Kind.String(),
			RefID:         e.RefID,
			BalanceBefore: e.BalanceBefore.String(),
			DeltaCash:     e.DeltaCash.String(),
			BalanceAfter:  e.BalanceAfter.String(),
			PrevHash:      e.PrevHash,
			RowHash:       e.RowHash,
			PostedAt:      e.PostedAt.UTC(),
		})
	}
	return out
}

func identityRowsOf(rec *schema.CycleRecord) []identityRow {
	var out []identityRow
	for _, set := range rec.TableRows() {
		for _, row := range set.Rows {
			out = append(out, identityRow{Entity: set.Table, RowKey: row.Key(), RunID: rec.Run.RunID})
		}
	}
	return out
}
