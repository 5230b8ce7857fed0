package schema

import (
	"strings"

	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

func enumName(names []string, v uint8) string {
	if int(v) >= len(names) {
		return names[0]
	}
	return names[v]
}

func parseEnum(kind string, names []string, s string) (uint8, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := 1; i < len(names); i++ {
		if names[i] == s {
			return uint8(i), nil
		}
	}
	return 0, errors.Wrapf(exception.ErrInvalidArgument, "unknown %s %q", kind, s)
}

// RunMode selects which partition of the ledger a cycle writes to.
type RunMode uint8

const (
	RunModeUnknown RunMode = iota
	RunModeBacktest
	RunModePaper
	RunModeLive
)

var runModeNames = []string{"UNKNOWN", "BACKTEST", "PAPER", "LIVE"}

func (m RunMode) String() string                { return enumName(runModeNames, uint8(m)) }
func (m RunMode) MarshalText() ([]byte, error)  { return []byte(m.String()), nil }
func (m *RunMode) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseRunMode, m) }

func ParseRunMode(s string) (RunMode, error) {
	v, err := parseEnum("run mode", runModeNames, s)
	return RunMode(v), err
}

// DrawdownTier is the drawdown-driven risk tier.
type DrawdownTier uint8

const (
	TierUnknown DrawdownTier = iota
	TierNormal
	TierDD10
	TierDD15
	TierHalt20
)

var tierNames = []string{"UNKNOWN", "NORMAL", "DD10", "DD15", "HALT20"}

func (t DrawdownTier) String() string                { return enumName(tierNames, uint8(t)) }
func (t DrawdownTier) MarshalText() ([]byte, error)  { return []byte(t.String()), nil }
func (t *DrawdownTier) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseDrawdownTier, t) }

func ParseDrawdownTier(s string) (DrawdownTier, error) {
	v, err := parseEnum("drawdown tier", tierNames, s)
	return DrawdownTier(v), err
}

// HaltsEntries reports whether the tier blocks new entries.
func (t DrawdownTier) HaltsEntries() bool {
	switch t {
	case TierDD10, TierDD15, TierHalt20:
		return true
	default:
		return false
	}
}

// SevereState is the severe-loss recovery sub-state of an account.
type SevereState uint8

const (
	SevereUnknown SevereState = iota
	SevereNone
	SevereEntryPendingGate
	SevereHold
	SevereDeriskIntent
	SevereExit
	SevereEntryBlocked
)

var severeNames = []string{"UNKNOWN", "NONE", "ENTRY_PENDING_GATE", "HOLD", "DERISK_INTENT", "EXIT", "ENTRY_BLOCKED"}

func (s SevereState) String() string                { return enumName(severeNames, uint8(s)) }
func (s SevereState) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *SevereState) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseSevereState, s) }

func ParseSevereState(s string) (SevereState, error) {
	v, err := parseEnum("severe state", severeNames, s)
	return SevereState(v), err
}

// Active reports whether the account is inside severe-loss recovery.
func (s SevereState) Active() bool {
	return s != SevereUnknown && s != SevereNone
}

// SignalAction is the decision for one asset in one cycle.
type SignalAction uint8

const (
	ActionUnknown SignalAction = iota
	ActionEnter
	ActionExit
	ActionHold
)

var actionNames = []string{"UNKNOWN", "ENTER", "EXIT", "HOLD"}

func (a SignalAction) String() string                { return enumName(actionNames, uint8(a)) }
func (a SignalAction) MarshalText() ([]byte, error)  { return []byte(a.String()), nil }
func (a *SignalAction) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseSignalAction, a) }

func ParseSignalAction(s string) (SignalAction, error) {
	v, err := parseEnum("signal action", actionNames, s)
	return SignalAction(v), err
}

// Direction is the target exposure of a signal.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionLong
	DirectionFlat
)

var directionNames = []string{"UNKNOWN", "LONG", "FLAT"}

func (d Direction) String() string                { return enumName(directionNames, uint8(d)) }
func (d Direction) MarshalText() ([]byte, error)  { return []byte(d.String()), nil }
func (d *Direction) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseDirection, d) }

func ParseDirection(s string) (Direction, error) {
	v, err := parseEnum("direction", directionNames, s)
	return Direction(v), err
}

// Side describes order and ledger direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

var sideNames = []string{"UNKNOWN", "BUY", "SELL"}

func (s Side) String() string                { return enumName(sideNames, uint8(s)) }
func (s Side) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *Side) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseSide, s) }

func ParseSide(s string) (Side, error) {
	v, err := parseEnum("side", sideNames, s)
	return Side(v), err
}

// OrderStatus tracks the lifecycle of an order request.
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusNew
	OrderStatusAck
	OrderStatusPartial
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

var orderStatusNames = []string{"UNKNOWN", "NEW", "ACK", "PARTIAL", "FILLED", "CANCELLED", "REJECTED"}

func (s OrderStatus) String() string                { return enumName(orderStatusNames, uint8(s)) }
func (s OrderStatus) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (s *OrderStatus) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseOrderStatus, s) }

func ParseOrderStatus(s string) (OrderStatus, error) {
	v, err := parseEnum("order status", orderStatusNames, s)
	return OrderStatus(v), err
}

// RiskReason is the typed reason code carried by risk events, signals and orders.
type RiskReason uint8

const (
	ReasonNone RiskReason = iota
	ReasonHaltNewEntriesActive
	ReasonKillSwitchActive
	ReasonSevereRecoveryEntryBlocked
	ReasonMaxPositionsReached
	ReasonInsufficientCash
	ReasonSizeAboveRiskBound
	ReasonTotalExposureCapExceeded
	ReasonClusterCapExceeded
	ReasonModelNotApproved
	ReasonConfidenceBelowThreshold
	ReasonNonPositiveNetEdge
	ReasonRegimeBlocked
	ReasonNoMarkPrice
	ReasonNoPosition
	ReasonTierChanged
	ReasonKillSwitchEngaged
	ReasonKillSwitchReset
	ReasonSevereRecoveryTransition
	ReasonManualReviewCleared
	ReasonMarkMissing
)

var reasonNames = []string{
	"NONE",
	"HALT_NEW_ENTRIES_ACTIVE",
	"KILL_SWITCH_ACTIVE",
	"SEVERE_RECOVERY_ENTRY_BLOCKED",
	"MAX_POSITIONS_REACHED",
	"INSUFFICIENT_CASH",
	"SIZE_ABOVE_RISK_BOUND",
	"TOTAL_EXPOSURE_CAP_EXCEEDED",
	"CLUSTER_CAP_EXCEEDED",
	"MODEL_NOT_APPROVED",
	"CONFIDENCE_BELOW_THRESHOLD",
	"NON_POSITIVE_NET_EDGE",
	"REGIME_BLOCKED",
	"NO_MARK_PRICE",
	"NO_POSITION",
	"TIER_CHANGED",
	"KILL_SWITCH_ENGAGED",
	"KILL_SWITCH_RESET",
	"SEVERE_RECOVERY_TRANSITION",
	"MANUAL_REVIEW_CLEARED",
	"MARK_MISSING",
}

func (r RiskReason) String() string                { return enumName(reasonNames, uint8(r)) }
func (r RiskReason) MarshalText() ([]byte, error)  { return []byte(r.String()), nil }
func (r *RiskReason) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseRiskReason, r) }

func ParseRiskReason(s string) (RiskReason, error) {
	if strings.EqualFold(strings.TrimSpace(s), "NONE") {
		return ReasonNone, nil
	}
	v, err := parseEnum("risk reason", reasonNames, s)
	return RiskReason(v), err
}

// RiskEventKind separates gate rejections from state transitions.
type RiskEventKind uint8

const (
	RiskEventUnknown RiskEventKind = iota
	RiskEventRejection
	RiskEventTransition
)

var riskEventKindNames = []string{"UNKNOWN", "REJECTION", "TRANSITION"}

func (k RiskEventKind) String() string                { return enumName(riskEventKindNames, uint8(k)) }
func (k RiskEventKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *RiskEventKind) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseRiskEventKind, k) }

func ParseRiskEventKind(s string) (RiskEventKind, error) {
	v, err := parseEnum("risk event kind", riskEventKindNames, s)
	return RiskEventKind(v), err
}

// FaultSignal is an external fault that engages the kill switch.
type FaultSignal uint8

const (
	FaultUnknown FaultSignal = iota
	FaultDataIntegrity
	FaultExchangeInstability
)

var faultNames = []string{"UNKNOWN", "DATA_INTEGRITY_FAILURE", "EXCHANGE_INSTABILITY"}

func (f FaultSignal) String() string                { return enumName(faultNames, uint8(f)) }
func (f FaultSignal) MarshalText() ([]byte, error)  { return []byte(f.String()), nil }
func (f *FaultSignal) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseFaultSignal, f) }

func ParseFaultSignal(s string) (FaultSignal, error) {
	v, err := parseEnum("fault signal", faultNames, s)
	return FaultSignal(v), err
}

// ExposureMode states how an exposure cap value is read.
type ExposureMode uint8

const (
	ExposureUnknown ExposureMode = iota
	ExposurePercent
	ExposureAbsolute
)

var exposureModeNames = []string{"UNKNOWN", "PERCENT", "ABSOLUTE"}

func (m ExposureMode) String() string                { return enumName(exposureModeNames, uint8(m)) }
func (m ExposureMode) MarshalText() ([]byte, error)  { return []byte(m.String()), nil }
func (m *ExposureMode) UnmarshalText(b []byte) error { return unmarshalEnum(b, ParseExposureMode, m) }

func ParseExposureMode(s string) (ExposureMode, error) {
	v, err := parseEnum("exposure mode", exposureModeNames, s)
	return ExposureMode(v), err
}

func unmarshalEnum[T ~uint8](b []byte, parse func(string) (T, error), dst *T) error {
	v, err := parse(string(b))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
