// Package sqlite is the relational persistence store: open positions,
// closed trades, the single-row portfolio balance, and opaque per-strategy
// state blobs, each keyed per spec.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"perpetual-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a WAL-mode SQLite-backed model.Store. Writes are inline at the
// moment of change rather than batched, since the engine only ever writes
// a handful of rows per candle and persistence is on the critical path for
// crash recovery, not the hot path.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("opened persistence store", "path", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			entry_time TEXT NOT NULL,
			size REAL NOT NULL,
			size_usd REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			entry_time TEXT NOT NULL,
			exit_time TEXT NOT NULL,
			size REAL NOT NULL,
			size_usd REAL NOT NULL,
			pnl REAL NOT NULL,
			pnl_percent REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS portfolio (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			initial_balance REAL NOT NULL,
			balance REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strategy_state (
			strategy_name TEXT PRIMARY KEY,
			state_json TEXT NOT NULL
		);
	`)
	return err
}

func (s *Store) SavePosition(ctx context.Context, p model.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, side, entry_price, entry_time, size, size_usd, stop_loss, take_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			side=excluded.side, entry_price=excluded.entry_price, entry_time=excluded.entry_time,
			size=excluded.size, size_usd=excluded.size_usd, stop_loss=excluded.stop_loss, take_profit=excluded.take_profit
	`, p.ID, string(p.Side), p.EntryPrice, iso(p.EntryTime), p.Size, p.SizeUSD, p.StopLoss, p.TakeProfit)
	return err
}

func (s *Store) DeletePosition(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	return err
}

func (s *Store) GetOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, entry_price, entry_time, size, size_usd, stop_loss, take_profit FROM positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var side, entryTime string
		if err := rows.Scan(&p.ID, &side, &p.EntryPrice, &entryTime, &p.Size, &p.SizeUSD, &p.StopLoss, &p.TakeProfit); err != nil {
			return nil, err
		}
		p.Side = model.Side(side)
		p.EntryTime, err = parseISO(entryTime)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SaveTrade(ctx context.Context, t model.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, side, entry_price, exit_price, entry_time, exit_time, size, size_usd, pnl, pnl_percent, exit_reason, stop_loss, take_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			side=excluded.side, entry_price=excluded.entry_price, exit_price=excluded.exit_price,
			entry_time=excluded.entry_time, exit_time=excluded.exit_time, size=excluded.size,
			size_usd=excluded.size_usd, pnl=excluded.pnl, pnl_percent=excluded.pnl_percent, exit_reason=excluded.exit_reason,
			stop_loss=excluded.stop_loss, take_profit=excluded.take_profit
	`, t.ID, string(t.Side), t.EntryPrice, t.ExitPrice, iso(t.EntryTime), iso(t.ExitTime), t.Size, t.SizeUSD, t.PnL, t.PnLPercent, string(t.ExitReason), t.StopLoss, t.TakeProfit)
	return err
}

func (s *Store) GetTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, entry_price, exit_price, entry_time, exit_time, size, size_usd, pnl, pnl_percent, exit_reason, stop_loss, take_profit
		FROM trades ORDER BY exit_time ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, entryTime, exitTime, reason string
		if err := rows.Scan(&t.ID, &side, &t.EntryPrice, &t.ExitPrice, &entryTime, &exitTime, &t.Size, &t.SizeUSD, &t.PnL, &t.PnLPercent, &reason, &t.StopLoss, &t.TakeProfit); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.ExitReason = model.ExitReason(reason)
		if t.EntryTime, err = parseISO(entryTime); err != nil {
			return nil, err
		}
		if t.ExitTime, err = parseISO(exitTime); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SavePortfolio(ctx context.Context, initialBalance, balance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio (id, initial_balance, balance) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET initial_balance=excluded.initial_balance, balance=excluded.balance
	`, initialBalance, balance)
	return err
}

func (s *Store) GetPortfolio(ctx context.Context) (initialBalance, balance float64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT initial_balance, balance FROM portfolio WHERE id = 1`).Scan(&initialBalance, &balance)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return initialBalance, balance, true, nil
}

func (s *Store) SaveStrategyState(ctx context.Context, strategyName string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_state (strategy_name, state_json) VALUES (?, ?)
		ON CONFLICT(strategy_name) DO UPDATE SET state_json=excluded.state_json
	`, strategyName, string(state))
	return err
}

func (s *Store) GetStrategyState(ctx context.Context, strategyName string) ([]byte, bool, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM strategy_state WHERE strategy_name = ?`, strategyName).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(stateJSON), true, nil
}

// ClearAll deletes every row of every table.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, table := range []string{"positions", "trades", "portfolio", "strategy_state"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func iso(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseISO(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var _ model.Store = (*Store)(nil)
