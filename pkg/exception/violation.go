package exception

import "github.com/yanun0323/errors"

// Financial-safety violations. Each one is fatal to the unit of work that raised it.
var (
	ErrAppendOnlyViolation               = errors.New("append-only violation")
	ErrCausalityViolation                = errors.New("causality violation")
	ErrLedgerChainBreak                  = errors.New("ledger chain break")
	ErrRiskGateViolation                 = errors.New("risk gate violation")
	ErrClusterCapViolation               = errors.New("cluster cap violation")
	ErrWalkForwardContaminationViolation = errors.New("walk-forward contamination violation")
	ErrReplayParityMismatch              = errors.New("replay parity mismatch")
	ErrInvalidProfileConfiguration       = errors.New("invalid profile configuration")
)
