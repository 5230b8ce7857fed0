package schema

import "spotledger/internal/hashing"

// IDs derives deterministic row ids from a run-seed hash.
type IDs struct {
	Seed string
}

func (g IDs) id(kind string, parts ...hashing.Field) string {
	fields := append([]hashing.Field{hashing.String(kind), hashing.String(g.Seed)}, parts...)
	return hashing.Row(fields...)
}

func (g IDs) RiskState() string { return g.id(TableRiskState) }
func (g IDs) Portfolio() string { return g.id(TablePortfolio) }

func (g IDs) Cluster(c ClusterID) string {
	return g.id(TableClusterExposure, hashing.String(string(c)))
}

func (g IDs) Signal(asset string, ordinal int) string {
	return g.id(TableTradeSignal, hashing.String(asset), hashing.Int(int64(ordinal)))
}

func (g IDs) Order(asset string, ordinal int) string {
	return g.id(TableOrderRequest, hashing.String(asset), hashing.Int(int64(ordinal)))
}

func (g IDs) Fill(orderID string, ordinal int) string {
	return g.id(TableOrderFill, hashing.String(orderID), hashing.Int(int64(ordinal)))
}

func (g IDs) Lot(fillID string) string {
	return g.id(TablePositionLot, hashing.String(fillID))
}

func (g IDs) Trade(lotID, fillID string) string {
	return g.id(TableExecutedTrade, hashing.String(lotID), hashing.String(fillID))
}

func (g IDs) Event(ordinal int) string {
	return g.id(TableRiskEvent, hashing.Int(int64(ordinal)))
}

func (g IDs) Position(asset string) string {
	return g.id(TablePosition, hashing.String(asset))
}
