package schema

import (
	"fmt"
	"time"

	"spotledger/internal/hashing"
)

// SchemaVersion is the layout version of replay-authoritative rows.
const SchemaVersion uint16 = 1

// Table names in replay-root order.
const (
	TableRunContext      = "run_context"
	TableRiskState       = "risk_state"
	TableClusterExposure = "cluster_exposure_state"
	TableTradeSignal     = "trade_signal"
	TableOrderRequest    = "order_request"
	TableOrderFill       = "order_fill"
	TablePositionLot     = "position_lot"
	TableExecutedTrade   = "executed_trade"
	TableCashLedger      = "cash_ledger"
	TableRiskEvent       = "risk_event"
	TablePortfolio       = "portfolio_snapshot"
	TablePosition        = "position_snapshot"
)

// TableOrder is the ordered table list folded into a replay root.
var TableOrder = []string{
	TableRunContext,
	TableRiskState,
	TableClusterExposure,
	TableTradeSignal,
	TableOrderRequest,
	TableOrderFill,
	TablePositionLot,
	TableExecutedTrade,
	TableCashLedger,
	TableRiskEvent,
	TablePortfolio,
	TablePosition,
}

// PartitionKey identifies one serialized ledger and risk-state chain.
type PartitionKey struct {
	AccountID string  `json:"accountId" yaml:"accountId"`
	Mode      RunMode `json:"mode" yaml:"mode"`
}

func (k PartitionKey) String() string {
	return k.AccountID + "/" + k.Mode.String()
}

// RunKey uniquely identifies one decision cycle.
type RunKey struct {
	RunID      string    `json:"runId"`
	AccountID  string    `json:"accountId"`
	Mode       RunMode   `json:"mode"`
	OriginHour time.Time `json:"originHour"`
}

// Partition returns the partition the run writes to.
func (k RunKey) Partition() PartitionKey {
	return PartitionKey{AccountID: k.AccountID, Mode: k.Mode}
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.RunID, k.AccountID, k.Mode, hashing.CanonicalTime(k.OriginHour))
}

// Row is one replay-authoritative row.
type Row interface {
	// Table is the table the row belongs to.
	Table() string
	// Key is the row identifier reported on mismatch.
	Key() string
	// Fields is the fixed-order preimage of the row, excluding its own hash.
	Fields() []hashing.Field
	// StoredHash is the row hash recorded at creation.
	StoredHash() string
}

// ComputeHash recomputes the hash of a row from its fields.
func ComputeHash(r Row) string {
	return hashing.Row(r.Fields()...)
}

// TruncateHour floors t to the UTC hour.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
