package domain

import "context"

// PortfolioRepository defines storage operations for portfolio snapshots.
type PortfolioRepository interface {
	SavePortfolio(ctx context.Context, p *Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*Portfolio, error)
	ListPortfolios(ctx context.Context) ([]*Portfolio, error)
	DeletePositions(ctx context.Context, portfolioID string) error
}

// OrderRepository defines storage operations for the order log. SaveOrder
// records a new order; UpdateOrder records a state transition of an
// existing one.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	UpdateOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, portfolioID string, limit int) ([]*Order, error)
	DeleteOrders(ctx context.Context, portfolioID string) error
}

// PriceFeed is a push source of market prices. The core never subscribes to
// prices itself; an adapter feeds the engine through the registered callback.
type PriceFeed interface {
	OnPriceUpdate(callback func(symbol string, price float64))
	Connect(symbols []string) error
	Close() error
}
