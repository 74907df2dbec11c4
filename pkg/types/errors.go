package types

// ErrKind is the closed set of non-execution reasons and failure categories
// from spec §7. It is carried on Signal.NonExecutionReason and wrapped into
// *execution.Error (internal/execution) for propagation.
type ErrKind string

const (
	ErrSizeZero             ErrKind = "SIZE_ZERO"
	ErrInsufficientCash     ErrKind = "INSUFFICIENT_CASH"
	ErrAllocationExceeded   ErrKind = "ALLOCATION_EXCEEDED"
	ErrPositionCapExceeded  ErrKind = "POSITION_CAP_EXCEEDED"
	ErrDuplicatePosition    ErrKind = "DUPLICATE_POSITION"
	ErrStrategyInactive     ErrKind = "STRATEGY_INACTIVE"
	ErrDailyLossLimit       ErrKind = "DAILY_LOSS_LIMIT"
	ErrWarmingUp            ErrKind = "WARMING_UP"
	ErrTimeout              ErrKind = "TIMEOUT"
	ErrBrokerRejected       ErrKind = "BROKER_REJECTED"
	ErrInvalidSymbol        ErrKind = "INVALID_SYMBOL"
	ErrConnectionLost       ErrKind = "CONNECTION_LOST"
	ErrProtectiveStopFailed ErrKind = "PROTECTIVE_STOP_FAILED"
	ErrReconcileDrift       ErrKind = "RECONCILE_DRIFT"
)

// recoveredLocally is the eight validation kinds from spec §7 that are
// recovered without a broker round-trip: the Signal is persisted with the
// reason and the Execution Engine simply returns, no alert below WARNING.
var recoveredLocally = map[ErrKind]bool{
	ErrSizeZero:            true,
	ErrInsufficientCash:    true,
	ErrAllocationExceeded:  true,
	ErrPositionCapExceeded: true,
	ErrDuplicatePosition:   true,
	ErrStrategyInactive:    true,
	ErrDailyLossLimit:      true,
	ErrWarmingUp:           true,
}

// RecoveredLocally reports whether a failure of this kind is resolved
// in-process with at most a WARNING, per spec §7's propagation policy.
func (k ErrKind) RecoveredLocally() bool { return recoveredLocally[k] }

// Fatal reports whether a failure of this kind is fatal to the trade (but
// never to the process) and must raise a CRITICAL alert.
func (k ErrKind) Fatal() bool { return k == ErrProtectiveStopFailed }
