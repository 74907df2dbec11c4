// Package ports defines the external-collaborator interfaces spec §6/§9
// treat as boundaries: the Market Data Source and the Notifier, modeled on
// the interface-at-the-boundary pattern used for other external
// collaborators in this codebase.
package ports

import (
	"context"
	"time"

	"github.com/atlas/equities-core/pkg/types"
)

// MarketDataSource supplies historical and live bars for one symbol.
// Implementations may be a REST polling client, a websocket stream, or (in
// tests) a canned fixture — the Indicator Engine and Scheduler only ever
// see this interface.
type MarketDataSource interface {
	// FetchOHLCV returns bars for symbol within [start, end], ascending.
	FetchOHLCV(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
	// Subscribe pushes new bars for symbol onto the returned channel as
	// they close; the channel is closed when ctx is done.
	Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error)
}

// NotificationLevel classifies a Notifier message's urgency, spec §6.
type NotificationLevel string

const (
	LevelInfo     NotificationLevel = "INFO"
	LevelWarning  NotificationLevel = "WARNING"
	LevelError    NotificationLevel = "ERROR"
	LevelCritical NotificationLevel = "CRITICAL"
)

// Notifier sends an operator-facing alert. Spec §9 treats it as a pure
// external collaborator: callers never block on delivery succeeding, they
// only observe the returned error for logging.
type Notifier interface {
	Send(ctx context.Context, level NotificationLevel, subject, body string, context map[string]string) error
}

// CriticalNotifier adapts a Notifier to the narrower interface
// internal/execution depends on (spec §4.6 step 5's flatten-on-failure
// alert), which only ever sends at CRITICAL level.
type CriticalNotifier struct {
	Notifier Notifier
}

// NotifyCritical implements execution.Notifier.
func (c CriticalNotifier) NotifyCritical(ctx context.Context, subject, body string) error {
	return c.Notifier.Send(ctx, LevelCritical, subject, body, nil)
}
