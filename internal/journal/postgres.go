package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/efreitasn/spotsim/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ Journal = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id          TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL UNIQUE,
	balance             NUMERIC NOT NULL CHECK (balance >= 0),
	locked_balance      NUMERIC NOT NULL,
	total_profit        NUMERIC NOT NULL,
	total_deposited     NUMERIC NOT NULL,
	risk_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
	stop_loss_percent   NUMERIC,
	take_profit_percent NUMERIC,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	account_id    TEXT NOT NULL REFERENCES accounts(account_id),
	symbol        TEXT NOT NULL,
	quantity      NUMERIC NOT NULL CHECK (quantity > 0),
	average_price NUMERIC NOT NULL,
	current_price NUMERIC NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, symbol)
);
CREATE TABLE IF NOT EXISTS orders (
	seq             BIGSERIAL,
	order_id        TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	quantity        NUMERIC NOT NULL,
	filled_quantity NUMERIC NOT NULL,
	limit_price     NUMERIC,
	stop_price      NUMERIC,
	filled_price    NUMERIC,
	fee             NUMERIC NOT NULL,
	reserved        NUMERIC NOT NULL,
	bracket         TEXT,
	bracket_id      TEXT NOT NULL DEFAULT '',
	parent_order_id TEXT NOT NULL DEFAULT '',
	failure_reason  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_account_idx ON orders (account_id, seq);
CREATE TABLE IF NOT EXISTS transactions (
	seq            BIGSERIAL,
	transaction_id TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	order_id       TEXT NOT NULL UNIQUE REFERENCES orders(order_id),
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       NUMERIC NOT NULL,
	price          NUMERIC NOT NULL,
	fee            NUMERIC NOT NULL,
	realized_pnl   NUMERIC NOT NULL,
	executed_at    TIMESTAMPTZ NOT NULL
);`

// Postgres is a Journal backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool. The schema must already exist.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// SaveAccount upserts the account row.
func (p *Postgres) SaveAccount(ctx context.Context, a AccountRow) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accounts (account_id, user_id, balance, locked_balance, total_profit, total_deposited,
			risk_enabled, stop_loss_percent, take_profit_percent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			locked_balance = EXCLUDED.locked_balance,
			total_profit = EXCLUDED.total_profit,
			total_deposited = EXCLUDED.total_deposited,
			risk_enabled = EXCLUDED.risk_enabled,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			updated_at = EXCLUDED.updated_at
	`, a.AccountID, a.UserID, a.Balance.String(), a.LockedBalance.String(), a.TotalProfit.String(),
		a.TotalDeposited.String(), a.Risk.Enabled, optDecimal(a.Risk.StopLossPercent),
		optDecimal(a.Risk.TakeProfitPercent), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.AccountID, err)
	}
	return nil
}

// SaveOrder upserts the order row.
func (p *Postgres) SaveOrder(ctx context.Context, o *domain.Order) error {
	r, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO orders (order_id, account_id, symbol, side, type, status, quantity, filled_quantity,
			limit_price, stop_price, filled_price, fee, reserved, bracket, bracket_id, parent_order_id,
			failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_quantity = EXCLUDED.filled_quantity,
			filled_price = EXCLUDED.filled_price,
			fee = EXCLUDED.fee,
			reserved = EXCLUDED.reserved,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at
	`, o.OrderID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		r.quantity, r.filledQuantity, r.limitPrice, r.stopPrice, r.filledPrice, r.fee, r.reserved,
		r.bracket, o.BracketID, o.ParentOrderID, o.FailureReason, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

// RecordFill commits one fill in a single transaction. The account row is
// locked with FOR UPDATE so concurrent writers for the same account queue.
func (p *Postgres) RecordFill(ctx context.Context, f Fill) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	a := f.Account
	var locked string
	if err := tx.QueryRow(ctx, `SELECT account_id FROM accounts WHERE account_id = $1 FOR UPDATE`, a.AccountID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock account %s: %w", a.AccountID, domain.ErrAccountNotFound)
		}
		return fmt.Errorf("lock account: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $1, locked_balance = $2, total_profit = $3, updated_at = $4
		WHERE account_id = $5
	`, a.Balance.String(), a.LockedBalance.String(), a.TotalProfit.String(), a.UpdatedAt, a.AccountID); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	if pos := f.Position; pos != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO positions (account_id, symbol, quantity, average_price, current_price, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (account_id, symbol) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				average_price = EXCLUDED.average_price,
				current_price = EXCLUDED.current_price,
				updated_at = EXCLUDED.updated_at
		`, a.AccountID, f.Symbol, pos.Quantity.String(), pos.AveragePrice.String(), pos.CurrentPrice.String(), pos.UpdatedAt)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM positions WHERE account_id = $1 AND symbol = $2`, a.AccountID, f.Symbol)
	}
	if err != nil {
		return fmt.Errorf("write position: %w", err)
	}

	t := f.Transaction
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, filled_quantity = $2, filled_price = $3, fee = $4, reserved = 0, updated_at = $5
		WHERE order_id = $6
	`, string(domain.OrderStatusFilled), t.Quantity.String(), t.Price.String(), t.Fee.String(), t.ExecutedAt, t.OrderID); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (transaction_id, account_id, order_id, symbol, side, quantity, price, fee, realized_pnl, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.TransactionID, t.AccountID, t.OrderID, t.Symbol, string(t.Side), t.Quantity.String(), t.Price.String(),
		t.Fee.String(), t.RealizedPnl.String(), t.ExecutedAt); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Load reads back every account, position, order and transaction.
func (p *Postgres) Load(ctx context.Context) (*Snapshot, error) {
	accounts, err := p.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := p.loadPositions(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := p.loadOrders(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := p.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Accounts:     assemble(accounts, positions),
		Orders:       orders,
		Transactions: txs,
	}, nil
}

func (p *Postgres) loadAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT account_id, user_id, balance::text, locked_balance::text, total_profit::text, total_deposited::text,
			risk_enabled, stop_loss_percent::text, take_profit_percent::text, created_at, updated_at
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
			slPct, tpPct                      *string
		)
		if err := rows.Scan(&a.AccountID, &a.UserID, &balance, &locked, &profit, &deposits,
			&a.Risk.Enabled, &slPct, &tpPct, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			[]*decimal.Decimal{&a.Balance, &a.LockedBalance, &a.TotalProfit, &a.TotalDeposited},
			balance, locked, profit, deposits,
		); err != nil {
			return nil, err
		}
		if a.Risk.StopLossPercent, err = parseOptDecimal(slPct); err != nil {
			return nil, err
		}
		if a.Risk.TakeProfitPercent, err = parseOptDecimal(tpPct); err != nil {
			return nil, err
		}
		a.Positions = make(map[string]*domain.Position)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (p *Postgres) loadPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT account_id, symbol, quantity::text, average_price::text, current_price::text, updated_at FROM positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var (
			pos             domain.Position
			qty, avg, price string
			currentPrice    decimal.Decimal
		)
		if err := rows.Scan(&pos.AccountID, &pos.Symbol, &qty, &avg, &price, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals([]*decimal.Decimal{&pos.Quantity, &pos.AveragePrice, &currentPrice}, qty, avg, price); err != nil {
			return nil, err
		}
		pos.Mark(currentPrice, pos.UpdatedAt)
		out = append(out, &pos)
	}
	return out, rows.Err()
}

func (p *Postgres) loadOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT order_id, account_id, symbol, side, type, status, quantity::text, filled_quantity::text,
			limit_price::text, stop_price::text, filled_price::text, fee::text, reserved::text, bracket,
			bracket_id, parent_order_id, failure_reason, created_at, updated_at
		FROM orders ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var (
			o                 domain.Order
			r                 orderRow
			side, typ, status string
		)
		if err := rows.Scan(&o.OrderID, &o.AccountID, &o.Symbol, &side, &typ, &status,
			&r.quantity, &r.filledQuantity, &r.limitPrice, &r.stopPrice, &r.filledPrice, &r.fee, &r.reserved,
			&r.bracket, &o.BracketID, &o.ParentOrderID, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side, o.Type, o.Status = domain.OrderSide(side), domain.OrderType(typ), domain.OrderStatus(status)
		if err := r.decodeInto(&o); err != nil {
			return nil, fmt.Errorf("order %s: %w", o.OrderID, err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (p *Postgres) loadTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT transaction_id, account_id, order_id, symbol, side, quantity::text, price::text, fee::text,
			realized_pnl::text, executed_at
		FROM transactions ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var (
			t                    domain.Transaction
			side                 string
			qty, price, fee, pnl string
		)
		if err := rows.Scan(&t.TransactionID, &t.AccountID, &t.OrderID, &t.Symbol, &side, &qty, &price, &fee, &pnl, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		if err := parseDecimals([]*decimal.Decimal{&t.Quantity, &t.Price, &t.Fee, &t.RealizedPnl}, qty, price, fee, pnl); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
