package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ Journal = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id          TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL UNIQUE,
	balance             TEXT NOT NULL,
	locked_balance      TEXT NOT NULL,
	total_profit        TEXT NOT NULL,
	total_deposited     TEXT NOT NULL,
	risk_enabled        INTEGER NOT NULL DEFAULT 0,
	stop_loss_percent   TEXT,
	take_profit_percent TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	account_id    TEXT NOT NULL REFERENCES accounts(account_id),
	symbol        TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	average_price TEXT NOT NULL,
	current_price TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (account_id, symbol)
);
CREATE TABLE IF NOT EXISTS orders (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id        TEXT NOT NULL UNIQUE,
	account_id      TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	quantity        TEXT NOT NULL,
	filled_quantity TEXT NOT NULL,
	limit_price     TEXT,
	stop_price      TEXT,
	filled_price    TEXT,
	fee             TEXT NOT NULL,
	reserved        TEXT NOT NULL,
	bracket         TEXT,
	bracket_id      TEXT NOT NULL DEFAULT '',
	parent_order_id TEXT NOT NULL DEFAULT '',
	failure_reason  TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id TEXT NOT NULL UNIQUE,
	account_id     TEXT NOT NULL,
	order_id       TEXT NOT NULL UNIQUE,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	price          TEXT NOT NULL,
	fee            TEXT NOT NULL,
	realized_pnl   TEXT NOT NULL,
	executed_at    TEXT NOT NULL
);`

// SQLite is a Journal backed by an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// SaveAccount upserts the account row.
func (s *SQLite) SaveAccount(ctx context.Context, a AccountRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, user_id, balance, locked_balance, total_profit, total_deposited,
			risk_enabled, stop_loss_percent, take_profit_percent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			balance = excluded.balance,
			locked_balance = excluded.locked_balance,
			total_profit = excluded.total_profit,
			total_deposited = excluded.total_deposited,
			risk_enabled = excluded.risk_enabled,
			stop_loss_percent = excluded.stop_loss_percent,
			take_profit_percent = excluded.take_profit_percent,
			updated_at = excluded.updated_at
	`, a.AccountID, a.UserID, a.Balance.String(), a.LockedBalance.String(), a.TotalProfit.String(),
		a.TotalDeposited.String(), a.Risk.Enabled, optDecimal(a.Risk.StopLossPercent),
		optDecimal(a.Risk.TakeProfitPercent), sqliteTime(a.CreatedAt), sqliteTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.AccountID, err)
	}
	return nil
}

// SaveOrder upserts the order row.
func (s *SQLite) SaveOrder(ctx context.Context, o *domain.Order) error {
	r, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, account_id, symbol, side, type, status, quantity, filled_quantity,
			limit_price, stop_price, filled_price, fee, reserved, bracket, bracket_id, parent_order_id,
			failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			status = excluded.status,
			filled_quantity = excluded.filled_quantity,
			filled_price = excluded.filled_price,
			fee = excluded.fee,
			reserved = excluded.reserved,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
	`, o.OrderID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		r.quantity, r.filledQuantity, r.limitPrice, r.stopPrice, r.filledPrice, r.fee, r.reserved,
		r.bracket, o.BracketID, o.ParentOrderID, o.FailureReason, sqliteTime(o.CreatedAt), sqliteTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

// RecordFill commits the account, position, order and transaction rows of
// one fill atomically.
func (s *SQLite) RecordFill(ctx context.Context, f Fill) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	a := f.Account
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, locked_balance = ?, total_profit = ?, updated_at = ?
		WHERE account_id = ?
	`, a.Balance.String(), a.LockedBalance.String(), a.TotalProfit.String(), sqliteTime(a.UpdatedAt), a.AccountID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update account %s: %w", a.AccountID, domain.ErrAccountNotFound)
	}

	if p := f.Position; p != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO positions (account_id, symbol, quantity, average_price, current_price, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, symbol) DO UPDATE SET
				quantity = excluded.quantity,
				average_price = excluded.average_price,
				current_price = excluded.current_price,
				updated_at = excluded.updated_at
		`, a.AccountID, f.Symbol, p.Quantity.String(), p.AveragePrice.String(), p.CurrentPrice.String(), sqliteTime(p.UpdatedAt))
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM positions WHERE account_id = ? AND symbol = ?`, a.AccountID, f.Symbol)
	}
	if err != nil {
		return fmt.Errorf("write position: %w", err)
	}

	t := f.Transaction
	if _, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_quantity = ?, filled_price = ?, fee = ?, reserved = '0', updated_at = ?
		WHERE order_id = ?
	`, string(domain.OrderStatusFilled), t.Quantity.String(), t.Price.String(), t.Fee.String(), sqliteTime(t.ExecutedAt), t.OrderID); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, account_id, order_id, symbol, side, quantity, price, fee, realized_pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TransactionID, t.AccountID, t.OrderID, t.Symbol, string(t.Side), t.Quantity.String(), t.Price.String(),
		t.Fee.String(), t.RealizedPnl.String(), sqliteTime(t.ExecutedAt)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return tx.Commit()
}

// Load reads back every account, position, order and transaction.
func (s *SQLite) Load(ctx context.Context) (*Snapshot, error) {
	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.loadPositions(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.loadOrders(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Accounts:     assemble(accounts, positions),
		Orders:       orders,
		Transactions: txs,
	}, nil
}

func (s *SQLite) loadAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, user_id, balance, locked_balance, total_profit, total_deposited,
			risk_enabled, stop_loss_percent, take_profit_percent, created_at, updated_at
		FROM accounts ORDER BY account_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		var (
			a                                 domain.Account
			balance, locked, profit, deposits string
			slPct, tpPct                      sql.NullString
			createdAt, updatedAt              string
		)
		if err := rows.Scan(&a.AccountID, &a.UserID, &balance, &locked, &profit, &deposits,
			&a.Risk.Enabled, &slPct, &tpPct, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			[]*decimal.Decimal{&a.Balance, &a.LockedBalance, &a.TotalProfit, &a.TotalDeposited},
			balance, locked, profit, deposits,
		); err != nil {
			return nil, err
		}
		if a.Risk.StopLossPercent, err = parseOptDecimal(nullable(slPct)); err != nil {
			return nil, err
		}
		if a.Risk.TakeProfitPercent, err = parseOptDecimal(nullable(tpPct)); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
			return nil, err
		}
		a.Positions = make(map[string]*domain.Position)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLite) loadPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, symbol, quantity, average_price, current_price, updated_at FROM positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var (
			p               domain.Position
			qty, avg, price string
			updatedAt       string
			currentPrice    decimal.Decimal
		)
		if err := rows.Scan(&p.AccountID, &p.Symbol, &qty, &avg, &price, &updatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals([]*decimal.Decimal{&p.Quantity, &p.AveragePrice, &currentPrice}, qty, avg, price); err != nil {
			return nil, err
		}
		at, err := parseSQLiteTime(updatedAt)
		if err != nil {
			return nil, err
		}
		p.Mark(currentPrice, at)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLite) loadOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, account_id, symbol, side, type, status, quantity, filled_quantity,
			limit_price, stop_price, filled_price, fee, reserved, bracket, bracket_id, parent_order_id,
			failure_reason, created_at, updated_at
		FROM orders ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var (
			o                                  domain.Order
			r                                  orderRow
			side, typ, status                  string
			limitPrice, stopPrice, filledPrice sql.NullString
			bracket                            sql.NullString
			createdAt, updatedAt               string
		)
		if err := rows.Scan(&o.OrderID, &o.AccountID, &o.Symbol, &side, &typ, &status,
			&r.quantity, &r.filledQuantity, &limitPrice, &stopPrice, &filledPrice, &r.fee, &r.reserved,
			&bracket, &o.BracketID, &o.ParentOrderID, &o.FailureReason, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		o.Side, o.Type, o.Status = domain.OrderSide(side), domain.OrderType(typ), domain.OrderStatus(status)
		r.limitPrice, r.stopPrice, r.filledPrice = nullable(limitPrice), nullable(stopPrice), nullable(filledPrice)
		r.bracket = nullable(bracket)
		if err := r.decodeInto(&o); err != nil {
			return nil, fmt.Errorf("order %s: %w", o.OrderID, err)
		}
		if o.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		if o.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *SQLite) loadTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, account_id, order_id, symbol, side, quantity, price, fee, realized_pnl, executed_at
		FROM transactions ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var (
			t                        domain.Transaction
			side                     string
			qty, price, fee, pnl, at string
		)
		if err := rows.Scan(&t.TransactionID, &t.AccountID, &t.OrderID, &t.Symbol, &side, &qty, &price, &fee, &pnl, &at); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		if err := parseDecimals([]*decimal.Decimal{&t.Quantity, &t.Price, &t.Fee, &t.RealizedPnl}, qty, price, fee, pnl); err != nil {
			return nil, err
		}
		if t.ExecutedAt, err = parseSQLiteTime(at); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
