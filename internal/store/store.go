// Package store implements the Persistent Store (spec §6): transactional
// record operations over the entities of §3, at-least ACID on single-entity
// writes, with unique constraints enforced at the schema level.
//
// Flat JSON files with no transactional guarantee cannot satisfy §6's
// ACID/unique-constraint requirement, so this store is backed instead by
// modernc.org/sqlite — a pure-Go, no-cgo database/sql driver — with schema
// migrations applied at Open().
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/atlas/equities-core/pkg/types"
)

// Store wraps a *sql.DB with the entity operations the rest of the system
// needs. All writes to a single entity are transactional; cross-entity
// sequences (e.g. reconciliation) compose single-entity calls rather than
// sharing one long-lived transaction.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if absent) a SQLite database at dsn and applies the
// schema migration. dsn is a modernc.org/sqlite data source, e.g.
// "file:/var/lib/atlasd/atlas.db?_pragma=foreign_keys(1)".
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline avoids SQLITE_BUSY under our per-symbol-serial write pattern

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS stocks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL UNIQUE,
	exchange TEXT NOT NULL,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bars (
	stock_id INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume INTEGER NOT NULL,
	PRIMARY KEY (stock_id, timestamp)
);

CREATE TABLE IF NOT EXISTS strategies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	stock_id INTEGER NOT NULL,
	parameters_json TEXT NOT NULL,
	status TEXT NOT NULL,
	consecutive_losses_today INTEGER NOT NULL DEFAULT 0,
	warm_up_bars_remaining INTEGER NOT NULL DEFAULT 0,
	allocation_cap_fraction TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id INTEGER NOT NULL,
	stock_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	type TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	indicator_snapshot_json TEXT NOT NULL,
	market_context_json TEXT NOT NULL,
	executed INTEGER NOT NULL,
	non_execution_reason TEXT,
	resulting_trade_id INTEGER
);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker_order_id TEXT UNIQUE,
	intent_id TEXT NOT NULL,
	stock_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	limit_price TEXT,
	stop_price TEXT,
	submitted_at TEXT NOT NULL,
	status TEXT NOT NULL,
	filled_qty INTEGER NOT NULL DEFAULT 0,
	fill_price TEXT,
	fill_time TEXT,
	parent_trade_id INTEGER
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id INTEGER NOT NULL,
	stock_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	intended_entry_price TEXT NOT NULL,
	entry_price TEXT,
	entry_time TEXT NOT NULL,
	initial_stop TEXT NOT NULL,
	initial_take_profit TEXT NOT NULL,
	current_stop TEXT NOT NULL,
	current_take_profit TEXT NOT NULL,
	exit_price TEXT,
	exit_time TEXT,
	exit_reason TEXT,
	commission TEXT,
	gross_pnl TEXT,
	net_pnl TEXT,
	pnl_pct TEXT,
	max_adverse_excursion TEXT,
	max_favorable_excursion TEXT,
	entry_order_id INTEGER,
	exit_order_id INTEGER,
	stop_broker_order_id TEXT,
	take_profit_broker_order_id TEXT,
	closing INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS system_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_heartbeat TEXT NOT NULL,
	status TEXT NOT NULL,
	active_positions_count INTEGER NOT NULL DEFAULT 0,
	total_portfolio_value TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS recovery_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	outcome TEXT NOT NULL,
	discrepancies_json TEXT NOT NULL,
	actions_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	start TEXT NOT NULL,
	end TEXT NOT NULL,
	parameters_json TEXT NOT NULL,
	initial_capital TEXT NOT NULL,
	final_value TEXT NOT NULL,
	commission TEXT NOT NULL,
	slippage_fraction TEXT NOT NULL,
	UNIQUE (strategy_id, symbol, start, end, parameters_json)
);

CREATE TABLE IF NOT EXISTS backtest_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	entry_price TEXT NOT NULL,
	entry_time TEXT NOT NULL,
	exit_price TEXT,
	exit_time TEXT,
	exit_reason TEXT,
	net_pnl TEXT,
	signal_bar_timestamp TEXT NOT NULL,
	execution_bar_timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity_points (
	run_id INTEGER,
	timestamp TEXT NOT NULL,
	cash TEXT NOT NULL,
	equity TEXT NOT NULL
);
`

// --- Stock ---

// CreateStock inserts a new watchlist entry; fails on a duplicate symbol
// via the schema's UNIQUE constraint.
func (s *Store) CreateStock(ctx context.Context, st *types.Stock) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO stocks (symbol, exchange, name) VALUES (?, ?, ?)`,
		st.Symbol, st.Exchange, st.Name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetStockBySymbol looks up a stock by its unique symbol.
func (s *Store) GetStockBySymbol(ctx context.Context, symbol string) (*types.Stock, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, symbol, exchange, name FROM stocks WHERE symbol = ?`, symbol)
	var st types.Stock
	if err := row.Scan(&st.ID, &st.Symbol, &st.Exchange, &st.Name); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStocks returns every watched stock, ordered by symbol — the
// scheduler's evaluation fan-out list.
func (s *Store) ListStocks(ctx context.Context) ([]*types.Stock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, exchange, name FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Stock
	for rows.Next() {
		var st types.Stock
		if err := rows.Scan(&st.ID, &st.Symbol, &st.Exchange, &st.Name); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// --- Bar ---

// InsertBar records one immutable OHLCV bar, unique on (stock, timestamp).
func (s *Store) InsertBar(ctx context.Context, b *types.Bar) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bars (stock_id, timestamp, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.StockID, b.Timestamp.UTC().Format(time.RFC3339Nano), b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume)
	return err
}

// BarsInRange returns bars for stockID within [start, end], ascending by
// timestamp — the series the Indicator Engine and Backtester consume.
func (s *Store) BarsInRange(ctx context.Context, stockID int64, start, end time.Time) ([]types.Bar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stock_id, timestamp, open, high, low, close, volume FROM bars WHERE stock_id = ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp ASC`,
		stockID, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		var ts, open, high, low, close string
		if err := rows.Scan(&b.StockID, &ts, &open, &high, &low, &close, &b.Volume); err != nil {
			return nil, err
		}
		b.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		b.Open = decimal.RequireFromString(open)
		b.High = decimal.RequireFromString(high)
		b.Low = decimal.RequireFromString(low)
		b.Close = decimal.RequireFromString(close)
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- SystemState ---

// SetSystemStatus upserts the singleton SystemState's status.
func (s *Store) SetSystemStatus(ctx context.Context, status types.SystemStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (id, last_heartbeat, status) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		time.Now().UTC().Format(time.RFC3339Nano), string(status))
	return err
}

// Heartbeat updates the singleton's last_heartbeat timestamp. Written only
// by the heartbeat worker, per spec §3 ownership rules.
func (s *Store) Heartbeat(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (id, last_heartbeat, status) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat`,
		t.UTC().Format(time.RFC3339Nano), string(types.SystemRunning))
	return err
}

// GetSystemState reads the singleton SystemState snapshot.
func (s *Store) GetSystemState(ctx context.Context) (types.SystemState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_heartbeat, status, active_positions_count, total_portfolio_value FROM system_state WHERE id = 1`)
	var st types.SystemState
	var ts, value string
	if err := row.Scan(&ts, &st.Status, &st.ActivePositionsCount, &value); err != nil {
		if err == sql.ErrNoRows {
			return types.SystemState{Status: types.SystemRunning, LastHeartbeat: time.Now()}, nil
		}
		return st, err
	}
	st.LastHeartbeat, _ = time.Parse(time.RFC3339Nano, ts)
	st.TotalPortfolioValue = decimal.RequireFromString(value)
	return st, nil
}

// --- helpers ---

func decStr(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	return d.String()
}

func nullDec(s sql.NullString) decimal.Decimal {
	if !s.Valid || s.String == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s.String)
}

func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// --- Strategy ---

// CreateStrategy inserts a new strategy instance.
func (s *Store) CreateStrategy(ctx context.Context, st *types.Strategy) (int64, error) {
	paramsJSON, err := json.Marshal(st.Parameters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (name, stock_id, parameters_json, status, consecutive_losses_today, warm_up_bars_remaining, allocation_cap_fraction)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.Name, st.StockID, string(paramsJSON), string(st.Status), st.ConsecutiveLossesToday, st.WarmUpBarsRemaining, decStr(st.AllocationCapFraction))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateStrategy persists the strategy's lifecycle status and counters —
// the fields the state machine in internal/strategy mutates.
func (s *Store) UpdateStrategy(ctx context.Context, st *types.Strategy) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET status = ?, consecutive_losses_today = ?, warm_up_bars_remaining = ? WHERE id = ?`,
		string(st.Status), st.ConsecutiveLossesToday, st.WarmUpBarsRemaining, st.ID)
	return err
}

// GetStrategy loads one strategy by id.
func (s *Store) GetStrategy(ctx context.Context, id int64) (*types.Strategy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock_id, parameters_json, status, consecutive_losses_today, warm_up_bars_remaining, allocation_cap_fraction
		FROM strategies WHERE id = ?`, id)
	var st types.Strategy
	var paramsJSON, allocCap string
	if err := row.Scan(&st.ID, &st.Name, &st.StockID, &paramsJSON, &st.Status, &st.ConsecutiveLossesToday, &st.WarmUpBarsRemaining, &allocCap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &st.Parameters); err != nil {
		return nil, err
	}
	st.AllocationCapFraction = decimal.RequireFromString(allocCap)
	return &st, nil
}

// ListActiveStrategies returns every strategy in WARMING or ACTIVE status —
// the set the scheduler's daily evaluation job iterates. PAUSED and ERROR
// strategies are excluded until an operator reactivates them.
func (s *Store) ListActiveStrategies(ctx context.Context) ([]*types.Strategy, error) {
	return s.listStrategiesByStatus(ctx, types.StrategyWarming, types.StrategyActive)
}

// ListStrategiesByStatus returns every strategy currently in one of the
// given statuses, e.g. types.StrategyPaused for the session-start
// auto-resume sweep.
func (s *Store) ListStrategiesByStatus(ctx context.Context, statuses ...types.StrategyStatus) ([]*types.Strategy, error) {
	return s.listStrategiesByStatus(ctx, statuses...)
}

func (s *Store) listStrategiesByStatus(ctx context.Context, statuses ...types.StrategyStatus) ([]*types.Strategy, error) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := fmt.Sprintf(`
		SELECT id, name, stock_id, parameters_json, status, consecutive_losses_today, warm_up_bars_remaining, allocation_cap_fraction
		FROM strategies WHERE status IN (%s)`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Strategy
	for rows.Next() {
		var st types.Strategy
		var paramsJSON, allocCap string
		if err := rows.Scan(&st.ID, &st.Name, &st.StockID, &paramsJSON, &st.Status, &st.ConsecutiveLossesToday, &st.WarmUpBarsRemaining, &allocCap); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paramsJSON), &st.Parameters); err != nil {
			return nil, err
		}
		st.AllocationCapFraction = decimal.RequireFromString(allocCap)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// --- Signal ---

// CreateSignal records an immutable Signal emission.
func (s *Store) CreateSignal(ctx context.Context, sig *types.Signal) (int64, error) {
	indicatorJSON, err := json.Marshal(sig.IndicatorSnapshot)
	if err != nil {
		return 0, err
	}
	contextJSON, err := json.Marshal(sig.MarketContext)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (strategy_id, stock_id, symbol, generated_at, type, trigger_reason, indicator_snapshot_json, market_context_json, executed, non_execution_reason, resulting_trade_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.StrategyID, sig.StockID, sig.Symbol, sig.GeneratedAt.UTC().Format(time.RFC3339Nano), string(sig.Type), string(sig.TriggerReason),
		string(indicatorJSON), string(contextJSON), sig.Executed, string(sig.NonExecutionReason), sig.ResultingTradeID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- Order ---

// CreateOrder inserts a new order record, typically in PENDING status
// before the broker has acknowledged it.
func (s *Store) CreateOrder(ctx context.Context, o *types.Order) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (broker_order_id, intent_id, stock_id, symbol, kind, side, quantity, limit_price, stop_price, submitted_at, status, filled_qty, fill_price, fill_time, parent_trade_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullStr(o.BrokerOrderID), o.IntentID, o.StockID, o.Symbol, string(o.Kind), string(o.Side), o.Quantity,
		nullStr(decStrOrEmpty(o.LimitPrice)), nullStr(decStrOrEmpty(o.StopPrice)), o.SubmittedAt.UTC().Format(time.RFC3339Nano),
		string(o.Status), o.FilledQty, nullStr(decStrOrEmpty(o.FillPrice)), nullTimeStr(o.FillTime), o.ParentTradeID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateOrder persists status/fill transitions (spec §4.4's monotonic
// lifecycle): broker_order_id, status, filled_qty, fill_price, fill_time.
func (s *Store) UpdateOrder(ctx context.Context, o *types.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET broker_order_id = ?, status = ?, filled_qty = ?, fill_price = ?, fill_time = ? WHERE id = ?`,
		nullStr(o.BrokerOrderID), string(o.Status), o.FilledQty, nullStr(decStrOrEmpty(o.FillPrice)), nullTimeStr(o.FillTime), o.ID)
	return err
}

// GetOrder loads one order by its local id.
func (s *Store) GetOrder(ctx context.Context, id int64) (*types.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, broker_order_id, intent_id, stock_id, symbol, kind, side, quantity, limit_price, stop_price, submitted_at, status, filled_qty, fill_price, fill_time, parent_trade_id
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// GetOrderByBrokerID looks up an order by the broker's own order id — how
// the event-dispatch loop maps an incoming fill/status event back to the
// local order it corresponds to.
func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*types.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, broker_order_id, intent_id, stock_id, symbol, kind, side, quantity, limit_price, stop_price, submitted_at, status, filled_qty, fill_price, fill_time, parent_trade_id
		FROM orders WHERE broker_order_id = ?`, brokerOrderID)
	return scanOrder(row)
}

// OpenOrders returns every order not yet in a terminal status — the
// Reconciler's local view for comparison against the broker's open orders.
func (s *Store) OpenOrders(ctx context.Context) ([]*types.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, broker_order_id, intent_id, stock_id, symbol, kind, side, quantity, limit_price, stop_price, submitted_at, status, filled_qty, fill_price, fill_time, parent_trade_id
		FROM orders WHERE status IN (?, ?, ?)`,
		string(types.OrderStatusPending), string(types.OrderStatusSubmitted), string(types.OrderStatusPartiallyFilled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*types.Order, error) {
	return scanOrderRows(row)
}

func scanOrderRows(row rowScanner) (*types.Order, error) {
	var o types.Order
	var brokerID, limitPrice, stopPrice, fillPrice, fillTime sql.NullString
	var submittedAt string
	if err := row.Scan(&o.ID, &brokerID, &o.IntentID, &o.StockID, &o.Symbol, &o.Kind, &o.Side, &o.Quantity,
		&limitPrice, &stopPrice, &submittedAt, &o.Status, &o.FilledQty, &fillPrice, &fillTime, &o.ParentTradeID); err != nil {
		return nil, err
	}
	o.BrokerOrderID = brokerID.String
	o.LimitPrice = nullDec(limitPrice)
	o.StopPrice = nullDec(stopPrice)
	o.FillPrice = nullDec(fillPrice)
	o.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
	o.FillTime = parseNullTime(fillTime)
	return &o, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func decStrOrEmpty(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// --- Trade ---

// CreateTrade inserts a new trade, typically while its entry order is still
// in flight (ExitTime nil, EntryPrice zero until filled).
func (s *Store) CreateTrade(ctx context.Context, t *types.Trade) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (strategy_id, stock_id, symbol, quantity, intended_entry_price, entry_price, entry_time,
			initial_stop, initial_take_profit, current_stop, current_take_profit, exit_price, exit_time, exit_reason,
			commission, gross_pnl, net_pnl, pnl_pct, max_adverse_excursion, max_favorable_excursion,
			entry_order_id, exit_order_id, stop_broker_order_id, take_profit_broker_order_id, closing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StrategyID, t.StockID, t.Symbol, t.Quantity, decStr(t.IntendedEntryPrice), decStrOrEmpty(t.EntryPrice), t.EntryTime.UTC().Format(time.RFC3339Nano),
		decStr(t.InitialStop), decStr(t.InitialTakeProfit), decStr(t.CurrentStop), decStr(t.CurrentTakeProfit),
		nullStr(decStrOrEmpty(t.ExitPrice)), nullTimeStr(t.ExitTime), nullStr(string(t.ExitReason)),
		decStr(t.Commission), nullStr(decStrOrEmpty(t.GrossPnL)), nullStr(decStrOrEmpty(t.NetPnL)), nullStr(decStrOrEmpty(t.PnLPct)),
		decStr(t.MaxAdverseExcursion), decStr(t.MaxFavorableExcursion),
		t.EntryOrderID, t.ExitOrderID, nullStr(t.StopBrokerOrderID), nullStr(t.TakeProfitBrokerOrderID), t.Closing)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateTrade persists the full mutable trade record — fill prices, stop/TP
// ratchets, exit fields, and the Closing flag (spec §4.6 step 6's
// cancel-before-close ordering).
func (s *Store) UpdateTrade(ctx context.Context, t *types.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades SET entry_price = ?, current_stop = ?, current_take_profit = ?, exit_price = ?, exit_time = ?,
			exit_reason = ?, commission = ?, gross_pnl = ?, net_pnl = ?, pnl_pct = ?, max_adverse_excursion = ?,
			max_favorable_excursion = ?, exit_order_id = ?, stop_broker_order_id = ?, take_profit_broker_order_id = ?, closing = ?
		WHERE id = ?`,
		decStrOrEmpty(t.EntryPrice), decStr(t.CurrentStop), decStr(t.CurrentTakeProfit), nullStr(decStrOrEmpty(t.ExitPrice)), nullTimeStr(t.ExitTime),
		nullStr(string(t.ExitReason)), decStr(t.Commission), nullStr(decStrOrEmpty(t.GrossPnL)), nullStr(decStrOrEmpty(t.NetPnL)), nullStr(decStrOrEmpty(t.PnLPct)),
		decStr(t.MaxAdverseExcursion), decStr(t.MaxFavorableExcursion), t.ExitOrderID, nullStr(t.StopBrokerOrderID), nullStr(t.TakeProfitBrokerOrderID), t.Closing,
		t.ID)
	return err
}

// OpenTradeByStrategySymbol returns the strategy's currently open trade on
// symbol, or nil if none — the "already have an open position" check in
// spec §4.6 step 1.
func (s *Store) OpenTradeByStrategySymbol(ctx context.Context, strategyID int64, symbol string) (*types.Trade, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, stock_id, symbol, quantity, intended_entry_price, entry_price, entry_time,
			initial_stop, initial_take_profit, current_stop, current_take_profit, exit_price, exit_time, exit_reason,
			commission, gross_pnl, net_pnl, pnl_pct, max_adverse_excursion, max_favorable_excursion,
			entry_order_id, exit_order_id, stop_broker_order_id, take_profit_broker_order_id, closing
		FROM trades WHERE strategy_id = ? AND symbol = ? AND exit_time IS NULL LIMIT 1`, strategyID, symbol)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetTrade loads one trade by its local id.
func (s *Store) GetTrade(ctx context.Context, id int64) (*types.Trade, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, stock_id, symbol, quantity, intended_entry_price, entry_price, entry_time,
			initial_stop, initial_take_profit, current_stop, current_take_profit, exit_price, exit_time, exit_reason,
			commission, gross_pnl, net_pnl, pnl_pct, max_adverse_excursion, max_favorable_excursion,
			entry_order_id, exit_order_id, stop_broker_order_id, take_profit_broker_order_id, closing
		FROM trades WHERE id = ?`, id)
	return scanTrade(row)
}

// OpenTrades returns every trade across all strategies still open — the
// Reconciler's local view for comparison against the broker's positions.
func (s *Store) OpenTrades(ctx context.Context) ([]*types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, stock_id, symbol, quantity, intended_entry_price, entry_price, entry_time,
			initial_stop, initial_take_profit, current_stop, current_take_profit, exit_price, exit_time, exit_reason,
			commission, gross_pnl, net_pnl, pnl_pct, max_adverse_excursion, max_favorable_excursion,
			entry_order_id, exit_order_id, stop_broker_order_id, take_profit_broker_order_id, closing
		FROM trades WHERE exit_time IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row rowScanner) (*types.Trade, error) {
	var t types.Trade
	var entryPrice, exitPrice, grossPnL, netPnL, pnlPct, stopBrokerID, tpBrokerID sql.NullString
	var exitTime sql.NullString
	var exitReason sql.NullString
	var entryTime string
	var intendedEntry, initialStop, initialTP, currentStop, currentTP, commission, mae, mfe string
	var closing bool
	if err := row.Scan(&t.ID, &t.StrategyID, &t.StockID, &t.Symbol, &t.Quantity, &intendedEntry, &entryPrice, &entryTime,
		&initialStop, &initialTP, &currentStop, &currentTP, &exitPrice, &exitTime, &exitReason,
		&commission, &grossPnL, &netPnL, &pnlPct, &mae, &mfe,
		&t.EntryOrderID, &t.ExitOrderID, &stopBrokerID, &tpBrokerID, &closing); err != nil {
		return nil, err
	}
	t.IntendedEntryPrice = decimal.RequireFromString(intendedEntry)
	t.EntryPrice = nullDec(entryPrice)
	t.EntryTime, _ = time.Parse(time.RFC3339Nano, entryTime)
	t.InitialStop = decimal.RequireFromString(initialStop)
	t.InitialTakeProfit = decimal.RequireFromString(initialTP)
	t.CurrentStop = decimal.RequireFromString(currentStop)
	t.CurrentTakeProfit = decimal.RequireFromString(currentTP)
	t.ExitPrice = nullDec(exitPrice)
	t.ExitTime = parseNullTime(exitTime)
	t.ExitReason = types.ExitReason(exitReason.String)
	t.Commission = decimal.RequireFromString(commission)
	t.GrossPnL = nullDec(grossPnL)
	t.NetPnL = nullDec(netPnL)
	t.PnLPct = nullDec(pnlPct)
	t.MaxAdverseExcursion = decimal.RequireFromString(mae)
	t.MaxFavorableExcursion = decimal.RequireFromString(mfe)
	t.StopBrokerOrderID = stopBrokerID.String
	t.TakeProfitBrokerOrderID = tpBrokerID.String
	t.Closing = closing
	return &t, nil
}

// --- RecoveryEvent ---

// CreateRecoveryEvent appends an audit record of one Reconciler pass.
func (s *Store) CreateRecoveryEvent(ctx context.Context, e *types.RecoveryEvent) (int64, error) {
	discJSON, err := json.Marshal(e.Discrepancies)
	if err != nil {
		return 0, err
	}
	actJSON, err := json.Marshal(e.Actions)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_events (started_at, completed_at, outcome, discrepancies_json, actions_json)
		VALUES (?, ?, ?, ?, ?)`,
		e.StartedAt.UTC().Format(time.RFC3339Nano), nullTimeStr(e.CompletedAt), string(e.Outcome), string(discJSON), string(actJSON))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- BacktestRun / BacktestTrade / EquityPoint ---

// CreateBacktestRun records the parameters and outcome of one historical
// replay; fails on a duplicate (strategy, symbol, start, end, parameters)
// via the schema's UNIQUE constraint.
func (s *Store) CreateBacktestRun(ctx context.Context, r *types.BacktestRun, params types.Parameters) (int64, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (strategy_id, symbol, start, end, parameters_json, initial_capital, final_value, commission, slippage_fraction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StrategyID, r.Symbol, r.Start.UTC().Format(time.RFC3339Nano), r.End.UTC().Format(time.RFC3339Nano), string(paramsJSON),
		decStr(r.InitialCapital), decStr(r.FinalValue), decStr(r.Commission), decStr(r.SlippageFraction))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateBacktestTrade persists one simulated round-trip from a backtest run.
func (s *Store) CreateBacktestTrade(ctx context.Context, bt *types.BacktestTrade) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_trades (run_id, symbol, quantity, entry_price, entry_time, exit_price, exit_time, exit_reason, net_pnl, signal_bar_timestamp, execution_bar_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bt.RunID, bt.Symbol, bt.Quantity, decStr(bt.EntryPrice), bt.EntryTime.UTC().Format(time.RFC3339Nano),
		nullStr(decStrOrEmpty(bt.ExitPrice)), nullTimeStr(bt.ExitTime), nullStr(string(bt.ExitReason)), nullStr(decStrOrEmpty(bt.NetPnL)),
		bt.SignalBarTimestamp.UTC().Format(time.RFC3339Nano), bt.ExecutionBarTimestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateEquityPoint records one point on a run's equity curve.
func (s *Store) CreateEquityPoint(ctx context.Context, p *types.EquityCurvePoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_points (run_id, timestamp, cash, equity) VALUES (?, ?, ?, ?)`,
		p.RunID, p.Timestamp.UTC().Format(time.RFC3339Nano), decStr(p.Cash), decStr(p.Equity))
	return err
}
