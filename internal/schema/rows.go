package schema

import (
	"time"

	"spotledger/internal/hashing"

	"github.com/shopspring/decimal"
)

var (
	str  = hashing.String
	opt  = hashing.OptString
	dec  = hashing.Decimal
	ts   = hashing.Time
	flag = hashing.Bool
)

func num(v int) hashing.Field {
	return hashing.Int(int64(v))
}

// RunContext is the identity of one decision cycle.
type RunContext struct {
	RunID            string    `json:"runId"`
	AccountID        string    `json:"accountId"`
	Mode             RunMode   `json:"mode"`
	OriginHour       time.Time `json:"originHour"`
	Seed             int64     `json:"seed"`
	CodeVersionHash  string    `json:"codeVersionHash"`
	ConfigHash       string    `json:"configHash"`
	DataSnapshotHash string    `json:"dataSnapshotHash"`
	RunSeedHash      string    `json:"runSeedHash"`
	ReplayRootHash   string    `json:"replayRootHash"`
	Completed        bool      `json:"completed"`
	RowHash          string    `json:"rowHash"`
}

func (r RunContext) Table() string      { return TableRunContext }
func (r RunContext) Key() string        { return r.RunKey().String() }
func (r RunContext) StoredHash() string { return r.RowHash }

// Fields excludes the replay root, which is derived from the other tables.
func (r RunContext) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.RunID), str(r.AccountID), str(r.Mode.String()), ts(r.OriginHour),
		hashing.Int(r.Seed), opt(r.CodeVersionHash), opt(r.ConfigHash), opt(r.DataSnapshotHash),
		str(r.RunSeedHash),
	}
}

// RunKey returns the unique key of the run.
func (r RunContext) RunKey() RunKey {
	return RunKey{RunID: r.RunID, AccountID: r.AccountID, Mode: r.Mode, OriginHour: r.OriginHour}
}

// SeedInput returns the run-seed material of the run.
func (r RunContext) SeedInput() hashing.RunSeedInput {
	return hashing.RunSeedInput{
		RunID:            r.RunID,
		AccountID:        r.AccountID,
		Mode:             r.Mode.String(),
		OriginHour:       r.OriginHour,
		Seed:             r.Seed,
		ConfigHash:       r.ConfigHash,
		DataSnapshotHash: r.DataSnapshotHash,
		CodeVersionHash:  r.CodeVersionHash,
	}
}

// RiskState is the risk snapshot of one account-hour.
type RiskState struct {
	StateID              string          `json:"stateId"`
	AccountID            string          `json:"accountId"`
	Mode                 RunMode         `json:"mode"`
	Hour                 time.Time       `json:"hour"`
	ProfileID            string          `json:"profileId"`
	ProfileVersion       int             `json:"profileVersion"`
	DrawdownPct          decimal.Decimal `json:"drawdownPct"`
	Tier                 DrawdownTier    `json:"tier"`
	HaltNewEntries       bool            `json:"haltNewEntries"`
	KillSwitchActive     bool            `json:"killSwitchActive"`
	ManualReviewRequired bool            `json:"manualReviewRequired"`
	Severe               SevereState     `json:"severe"`
	BaseRiskFraction     decimal.Decimal `json:"baseRiskFraction"`
	MaxPositions         int             `json:"maxPositions"`
	ParentHash           string          `json:"parentHash"`
	RowHash              string          `json:"rowHash"`
}

func (r RiskState) Table() string      { return TableRiskState }
func (r RiskState) Key() string        { return r.StateID }
func (r RiskState) StoredHash() string { return r.RowHash }
func (r RiskState) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.StateID), str(r.AccountID), str(r.Mode.String()), ts(r.Hour),
		str(r.ProfileID), num(r.ProfileVersion), dec(r.DrawdownPct), str(r.Tier.String()),
		flag(r.HaltNewEntries), flag(r.KillSwitchActive), flag(r.ManualReviewRequired),
		str(r.Severe.String()), dec(r.BaseRiskFraction), num(r.MaxPositions), opt(r.ParentHash),
	}
}

// ClusterExposureState is the exposure of one correlation cluster for one account-hour.
type ClusterExposureState struct {
	ExposureID    string          `json:"exposureId"`
	ClusterID     ClusterID       `json:"clusterId"`
	ExposureValue decimal.Decimal `json:"exposureValue"`
	ExposurePct   decimal.Decimal `json:"exposurePct"`
	CapMode       ExposureMode    `json:"capMode"`
	CapValue      decimal.Decimal `json:"capValue"`
	CapLimit      decimal.Decimal `json:"capLimit"`
	ParentHash    string          `json:"parentHash"`
	RowHash       string          `json:"rowHash"`
}

func (r ClusterExposureState) Table() string      { return TableClusterExposure }
func (r ClusterExposureState) Key() string        { return r.ExposureID }
func (r ClusterExposureState) StoredHash() string { return r.RowHash }
func (r ClusterExposureState) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.ExposureID), str(string(r.ClusterID)), dec(r.ExposureValue), dec(r.ExposurePct),
		str(r.CapMode.String()), dec(r.CapValue), dec(r.CapLimit), str(r.ParentHash),
	}
}

// TradeSignal is the decision for one asset in one cycle.
type TradeSignal struct {
	SignalID         string          `json:"signalId"`
	Asset            string          `json:"asset"`
	Action           SignalAction    `json:"action"`
	Direction        Direction       `json:"direction"`
	Confidence       decimal.Decimal `json:"confidence"`
	ExpectedReturn   decimal.Decimal `json:"expectedReturn"`
	CostRate         decimal.Decimal `json:"costRate"`
	NetEdge          decimal.Decimal `json:"netEdge"`
	Regime           string          `json:"regime"`
	TargetNotional   decimal.Decimal `json:"targetNotional"`
	TargetQty        decimal.Decimal `json:"targetQty"`
	Reason           RiskReason      `json:"reason"`
	RiskStateHash    string          `json:"riskStateHash"`
	ClusterID        ClusterID       `json:"clusterId"`
	ModelLineageHash string          `json:"modelLineageHash"`
	RowHash          string          `json:"rowHash"`
}

func (r TradeSignal) Table() string      { return TableTradeSignal }
func (r TradeSignal) Key() string        { return r.SignalID }
func (r TradeSignal) StoredHash() string { return r.RowHash }
func (r TradeSignal) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.SignalID), str(r.Asset), str(r.Action.String()), str(r.Direction.String()),
		dec(r.Confidence), dec(r.ExpectedReturn), dec(r.CostRate), dec(r.NetEdge),
		opt(r.Regime), dec(r.TargetNotional), dec(r.TargetQty), str(r.Reason.String()),
		str(r.RiskStateHash), str(string(r.ClusterID)), opt(r.ModelLineageHash),
	}
}

// OrderRequest is an order bound to its signal, risk snapshot and cluster.
type OrderRequest struct {
	OrderID       string          `json:"orderId"`
	SignalID      string          `json:"signalId"`
	RiskStateHash string          `json:"riskStateHash"`
	ClusterID     ClusterID       `json:"clusterId"`
	Asset         string          `json:"asset"`
	Side          Side            `json:"side"`
	RequestedQty  decimal.Decimal `json:"requestedQty"`
	LimitPrice    decimal.Decimal `json:"limitPrice"`
	RequestedAt   time.Time       `json:"requestedAt"`
	Status        OrderStatus     `json:"status"`
	Reason        RiskReason      `json:"reason"`
	FilledQty     decimal.Decimal `json:"filledQty"`
	RowHash       string          `json:"rowHash"`
}

func (r OrderRequest) Table() string      { return TableOrderRequest }
func (r OrderRequest) Key() string        { return r.OrderID }
func (r OrderRequest) StoredHash() string { return r.RowHash }
func (r OrderRequest) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.OrderID), str(r.SignalID), str(r.RiskStateHash), str(string(r.ClusterID)),
		str(r.Asset), str(r.Side.String()), dec(r.RequestedQty), dec(r.LimitPrice),
		ts(r.RequestedAt), str(r.Status.String()), str(r.Reason.String()), dec(r.FilledQty),
	}
}

// OrderFill is one execution against an order request.
type OrderFill struct {
	FillID       string          `json:"fillId"`
	OrderID      string          `json:"orderId"`
	Asset        string          `json:"asset"`
	Side         Side            `json:"side"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	FeeRate      decimal.Decimal `json:"feeRate"`
	SlippageRate decimal.Decimal `json:"slippageRate"`
	Fee          decimal.Decimal `json:"fee"`
	Slippage     decimal.Decimal `json:"slippage"`
	FilledAt     time.Time       `json:"filledAt"`
	RowHash      string          `json:"rowHash"`
}

func (r OrderFill) Table() string      { return TableOrderFill }
func (r OrderFill) Key() string        { return r.FillID }
func (r OrderFill) StoredHash() string { return r.RowHash }
func (r OrderFill) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.FillID), str(r.OrderID), str(r.Asset), str(r.Side.String()), dec(r.Qty),
		dec(r.Price), dec(r.FeeRate), dec(r.SlippageRate), dec(r.Fee), dec(r.Slippage),
		ts(r.FilledAt),
	}
}

// Notional is quantity times price.
func (r OrderFill) Notional() decimal.Decimal {
	return r.Qty.Mul(r.Price)
}

// PositionLot is a discrete open quantity created by one buy fill.
type PositionLot struct {
	LotID         string          `json:"lotId"`
	Asset         string          `json:"asset"`
	OpenQty       decimal.Decimal `json:"openQty"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	FeeRate       decimal.Decimal `json:"feeRate"`
	SlippageRate  decimal.Decimal `json:"slippageRate"`
	OpenedAt      time.Time       `json:"openedAt"`
	OpeningFillID string          `json:"openingFillId"`
	RowHash       string          `json:"rowHash"`
}

func (r PositionLot) Table() string      { return TablePositionLot }
func (r PositionLot) Key() string        { return r.LotID }
func (r PositionLot) StoredHash() string { return r.RowHash }
func (r PositionLot) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.LotID), str(r.Asset), dec(r.OpenQty), dec(r.EntryPrice), dec(r.FeeRate),
		dec(r.SlippageRate), ts(r.OpenedAt), str(r.OpeningFillID),
	}
}

// ExecutedTrade is the realized result of one sell fill consuming one lot.
type ExecutedTrade struct {
	TradeID       string          `json:"tradeId"`
	LotID         string          `json:"lotId"`
	FillID        string          `json:"fillId"`
	Asset         string          `json:"asset"`
	Qty           decimal.Decimal `json:"qty"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	ExitPrice     decimal.Decimal `json:"exitPrice"`
	GrossPnL      decimal.Decimal `json:"grossPnl"`
	TotalFee      decimal.Decimal `json:"totalFee"`
	TotalSlippage decimal.Decimal `json:"totalSlippage"`
	NetPnL        decimal.Decimal `json:"netPnl"`
	RowHash       string          `json:"rowHash"`
}

func (r ExecutedTrade) Table() string      { return TableExecutedTrade }
func (r ExecutedTrade) Key() string        { return r.TradeID }
func (r ExecutedTrade) StoredHash() string { return r.RowHash }
func (r ExecutedTrade) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.TradeID), str(r.LotID), str(r.FillID), str(r.Asset), dec(r.Qty),
		dec(r.EntryPrice), dec(r.ExitPrice), dec(r.GrossPnL), dec(r.TotalFee),
		dec(r.TotalSlippage), dec(r.NetPnL),
	}
}

// LedgerEntry is one hash-chained cash movement of a partition.
type LedgerEntry struct {
	AccountID     string          `json:"accountId"`
	Mode          RunMode         `json:"mode"`
	Seq           uint64          `json:"seq"`
	Kind          Side            `json:"kind"`
	RefID         string          `json:"refId"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	DeltaCash     decimal.Decimal `json:"deltaCash"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	PrevHash      string          `json:"prevHash"`
	PostedAt      time.Time       `json:"postedAt"`
	RowHash       string          `json:"rowHash"`
}

func (r LedgerEntry) Table() string { return TableCashLedger }
func (r LedgerEntry) Key() string {
	return r.AccountID + "/" + r.Mode.String() + "/" + hashing.Uint(r.Seq).Text()
}
func (r LedgerEntry) StoredHash() string { return r.RowHash }
func (r LedgerEntry) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.AccountID), str(r.Mode.String()), hashing.Uint(r.Seq), str(r.Kind.String()),
		str(r.RefID), dec(r.BalanceBefore), dec(r.DeltaCash), dec(r.BalanceAfter),
		opt(r.PrevHash), ts(r.PostedAt),
	}
}

// RiskEvent is one logged gating decision or risk state transition.
type RiskEvent struct {
	EventID       string        `json:"eventId"`
	Kind          RiskEventKind `json:"kind"`
	Reason        RiskReason    `json:"reason"`
	Asset         string        `json:"asset"`
	Detail        string        `json:"detail"`
	RiskStateHash string        `json:"riskStateHash"`
	At            time.Time     `json:"at"`
	RowHash       string        `json:"rowHash"`
}

func (r RiskEvent) Table() string      { return TableRiskEvent }
func (r RiskEvent) Key() string        { return r.EventID }
func (r RiskEvent) StoredHash() string { return r.RowHash }
func (r RiskEvent) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.EventID), str(r.Kind.String()), str(r.Reason.String()), opt(r.Asset),
		opt(r.Detail), str(r.RiskStateHash), ts(r.At),
	}
}

// PortfolioSnapshot is the hourly portfolio view materialized from the ledger and lots.
type PortfolioSnapshot struct {
	SnapshotID     string          `json:"snapshotId"`
	AccountID      string          `json:"accountId"`
	Mode           RunMode         `json:"mode"`
	Hour           time.Time       `json:"hour"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positionsValue"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	PeakValue      decimal.Decimal `json:"peakValue"`
	DrawdownPct    decimal.Decimal `json:"drawdownPct"`
	OpenPositions  int             `json:"openPositions"`
	LastLedgerSeq  uint64          `json:"lastLedgerSeq"`
	LastLedgerHash string          `json:"lastLedgerHash"`
	ParentHash     string          `json:"parentHash"`
	RowHash        string          `json:"rowHash"`
}

func (r PortfolioSnapshot) Table() string      { return TablePortfolio }
func (r PortfolioSnapshot) Key() string        { return r.SnapshotID }
func (r PortfolioSnapshot) StoredHash() string { return r.RowHash }
func (r PortfolioSnapshot) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.SnapshotID), str(r.AccountID), str(r.Mode.String()), ts(r.Hour), dec(r.Cash),
		dec(r.PositionsValue), dec(r.TotalValue), dec(r.PeakValue), dec(r.DrawdownPct),
		num(r.OpenPositions), hashing.Uint(r.LastLedgerSeq), opt(r.LastLedgerHash),
		opt(r.ParentHash),
	}
}

// PositionSnapshot is the hourly view of one held asset.
type PositionSnapshot struct {
	SnapshotID    string          `json:"snapshotId"`
	Asset         string          `json:"asset"`
	Qty           decimal.Decimal `json:"qty"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RowHash       string          `json:"rowHash"`
}

func (r PositionSnapshot) Table() string      { return TablePosition }
func (r PositionSnapshot) Key() string        { return r.SnapshotID }
func (r PositionSnapshot) StoredHash() string { return r.RowHash }
func (r PositionSnapshot) Fields() []hashing.Field {
	return []hashing.Field{
		str(r.SnapshotID), str(r.Asset), dec(r.Qty), dec(r.CostBasis), dec(r.MarkPrice),
		dec(r.MarketValue), dec(r.UnrealizedPnL),
	}
}
