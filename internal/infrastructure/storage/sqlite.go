package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/paper_trading/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS portfolios (
			id TEXT PRIMARY KEY,
			cash_balance REAL NOT NULL,
			used_margin REAL NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			portfolio_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			average_price REAL NOT NULL,
			last_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			unrealized_pnl REAL NOT NULL,
			product TEXT NOT NULL,
			margin_reserved REAL NOT NULL,
			PRIMARY KEY (portfolio_id, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			exchange TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			product TEXT NOT NULL,
			quantity REAL NOT NULL,
			filled_quantity REAL NOT NULL,
			pending_quantity REAL NOT NULL,
			limit_price REAL NOT NULL DEFAULT 0,
			average_price REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			tag TEXT NOT NULL DEFAULT '',
			order_time DATETIME NOT NULL,
			update_time DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_portfolio ON orders(portfolio_id);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// PortfolioRepository Implementation

// SavePortfolio upserts the portfolio row and replaces its position rows
// with the snapshot's, atomically.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO portfolios (id, cash_balance, used_margin, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  cash_balance=excluded.cash_balance,
			  used_margin=excluded.used_margin,
			  updated_at=excluded.updated_at`
	if _, err := tx.ExecContext(ctx, query, p.ID, p.CashBalance, p.UsedMargin, p.CreatedAt, p.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE portfolio_id = ?`, p.ID); err != nil {
		return err
	}
	for _, pos := range p.Positions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO positions (portfolio_id, symbol, quantity, average_price, last_price, realized_pnl, unrealized_pnl, product, margin_reserved)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, pos.Symbol, pos.Quantity, pos.AveragePrice, pos.LastPrice,
			pos.RealizedPnl, pos.UnrealizedPnl, pos.Product, pos.MarginReserved)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cash_balance, used_margin, created_at, updated_at FROM portfolios WHERE id = ?`, id)

	p := &domain.Portfolio{Positions: make(map[string]*domain.Position)}
	if err := row.Scan(&p.ID, &p.CashBalance, &p.UsedMargin, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "portfolio", ID: id}
		}
		return nil, err
	}

	if err := s.loadPositions(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListPortfolios(ctx context.Context) ([]*domain.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cash_balance, used_margin, created_at, updated_at FROM portfolios`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var portfolios []*domain.Portfolio
	for rows.Next() {
		p := &domain.Portfolio{Positions: make(map[string]*domain.Position)}
		if err := rows.Scan(&p.ID, &p.CashBalance, &p.UsedMargin, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range portfolios {
		if err := s.loadPositions(ctx, p); err != nil {
			return nil, err
		}
	}
	return portfolios, nil
}

func (s *SQLiteStore) loadPositions(ctx context.Context, p *domain.Portfolio) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, quantity, average_price, last_price, realized_pnl, unrealized_pnl, product, margin_reserved
		 FROM positions WHERE portfolio_id = ?`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var pos domain.Position
		if err := rows.Scan(&pos.Symbol, &pos.Quantity, &pos.AveragePrice, &pos.LastPrice,
			&pos.RealizedPnl, &pos.UnrealizedPnl, &pos.Product, &pos.MarginReserved); err != nil {
			return err
		}
		p.Positions[pos.Symbol] = &pos
	}
	return rows.Err()
}

func (s *SQLiteStore) DeletePositions(ctx context.Context, portfolioID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE portfolio_id = ?`, portfolioID)
	return err
}

// OrderRepository Implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (id, portfolio_id, symbol, exchange, side, type, product, quantity, filled_quantity, pending_quantity, limit_price, average_price, status, message, tag, order_time, update_time)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  filled_quantity=excluded.filled_quantity,
			  pending_quantity=excluded.pending_quantity,
			  average_price=excluded.average_price,
			  status=excluded.status,
			  message=excluded.message,
			  update_time=excluded.update_time`
	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.PortfolioID, order.Symbol, order.Exchange, order.Side, order.Type, order.Product,
		order.Quantity, order.FilledQuantity, order.PendingQuantity, order.LimitPrice, order.AveragePrice,
		order.Status, order.Message, order.Tag, order.OrderTime, order.UpdateTime)
	return err
}

// UpdateOrder records a state transition of an existing order; only the
// fields a transition may change are written.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *domain.Order) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET filled_quantity = ?, pending_quantity = ?, average_price = ?, status = ?, message = ?, update_time = ?
		 WHERE id = ?`,
		order.FilledQuantity, order.PendingQuantity, order.AveragePrice,
		order.Status, order.Message, order.UpdateTime, order.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &domain.NotFoundError{Kind: "order", ID: order.ID}
	}
	return nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context, portfolioID string, limit int) ([]*domain.Order, error) {
	query := `SELECT id, portfolio_id, symbol, exchange, side, type, product, quantity, filled_quantity, pending_quantity, limit_price, average_price, status, message, tag, order_time, update_time
			  FROM orders WHERE portfolio_id = ? ORDER BY order_time ASC, id ASC`
	args := []interface{}{portfolioID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.PortfolioID, &o.Symbol, &o.Exchange, &o.Side, &o.Type, &o.Product,
			&o.Quantity, &o.FilledQuantity, &o.PendingQuantity, &o.LimitPrice, &o.AveragePrice,
			&o.Status, &o.Message, &o.Tag, &o.OrderTime, &o.UpdateTime); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) DeleteOrders(ctx context.Context, portfolioID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE portfolio_id = ?`, portfolioID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
