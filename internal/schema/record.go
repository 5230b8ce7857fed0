package schema

import (
	"spotledger/internal/hashing"
)

// ReplayManifest is the artifact replay verification compares across runs.
type ReplayManifest struct {
	Key                   RunKey              `json:"key"`
	RunSeedHash           string              `json:"runSeedHash"`
	ReplayRootHash        string              `json:"replayRootHash"`
	AuthoritativeRowCount int                 `json:"authoritativeRowCount"`
	TableHashes           []hashing.TableHash `json:"tableHashes"`
	Version               string              `json:"version"`
}

// TableRows is the ordered row set of one table.
type TableRows struct {
	Table string
	Rows  []Row
}

// CycleRecord is every replay-authoritative row one cycle produced, plus its inputs.
type CycleRecord struct {
	Input     CycleInput             `json:"input"`
	Run       RunContext             `json:"run"`
	RiskState RiskState              `json:"riskState"`
	Clusters  []ClusterExposureState `json:"clusters"`
	Signals   []TradeSignal          `json:"signals"`
	Orders    []OrderRequest         `json:"orders"`
	Fills     []OrderFill            `json:"fills"`
	Lots      []PositionLot          `json:"lots"`
	Trades    []ExecutedTrade        `json:"trades"`
	Ledger    []LedgerEntry          `json:"ledger"`
	Events    []RiskEvent            `json:"events"`
	Portfolio PortfolioSnapshot      `json:"portfolio"`
	Positions []PositionSnapshot     `json:"positions"`
	Manifest  ReplayManifest         `json:"manifest"`
}

// Key returns the run key of the record.
func (r *CycleRecord) Key() RunKey {
	return r.Run.RunKey()
}

// Partition returns the partition the record belongs to.
func (r *CycleRecord) Partition() PartitionKey {
	return r.Run.RunKey().Partition()
}

// TableRows returns every row in replay-root table order.
func (r *CycleRecord) TableRows() []TableRows {
	return []TableRows{
		{Table: TableRunContext, Rows: []Row{r.Run}},
		{Table: TableRiskState, Rows: []Row{r.RiskState}},
		{Table: TableClusterExposure, Rows: rowsOf(r.Clusters)},
		{Table: TableTradeSignal, Rows: rowsOf(r.Signals)},
		{Table: TableOrderRequest, Rows: rowsOf(r.Orders)},
		{Table: TableOrderFill, Rows: rowsOf(r.Fills)},
		{Table: TablePositionLot, Rows: rowsOf(r.Lots)},
		{Table: TableExecutedTrade, Rows: rowsOf(r.Trades)},
		{Table: TableCashLedger, Rows: rowsOf(r.Ledger)},
		{Table: TableRiskEvent, Rows: rowsOf(r.Events)},
		{Table: TablePortfolio, Rows: []Row{r.Portfolio}},
		{Table: TablePosition, Rows: rowsOf(r.Positions)},
	}
}

// TableHashes folds the stored row hashes of every table.
func (r *CycleRecord) TableHashes() []hashing.TableHash {
	sets := r.TableRows()
	out := make([]hashing.TableHash, 0, len(sets))
	for _, set := range sets {
		hashes := make([]string, 0, len(set.Rows))
		for _, row := range set.Rows {
			hashes = append(hashes, row.StoredHash())
		}
		out = append(out, hashing.Table(set.Table, hashes))
	}
	return out
}

// BuildManifest computes the replay manifest of the record from its stored row hashes.
func (r *CycleRecord) BuildManifest() ReplayManifest {
	tables := r.TableHashes()
	root, rows := hashing.Root(hashing.RootVersion, tables)
	return ReplayManifest{
		Key:                   r.Key(),
		RunSeedHash:           r.Run.RunSeedHash,
		ReplayRootHash:        root,
		AuthoritativeRowCount: rows,
		TableHashes:           tables,
		Version:               hashing.RootVersion,
	}
}

// Seal computes the manifest and marks the run complete.
func (r *CycleRecord) Seal() {
	r.Manifest = r.BuildManifest()
	r.Run.ReplayRootHash = r.Manifest.ReplayRootHash
	r.Run.Completed = true
}

func rowsOf[T Row](rows []T) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}
