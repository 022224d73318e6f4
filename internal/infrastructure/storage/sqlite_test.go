package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/paper_trading/internal/domain"
	"github.com/vitos/paper_trading/internal/infrastructure/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PortfolioRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	p := domain.NewPortfolio("p1", 100_000)
	p.UsedMargin = 5000
	p.Positions["BTCUSDT"] = &domain.Position{
		Symbol:         "BTCUSDT",
		Quantity:       0.5,
		AveragePrice:   50_000,
		LastPrice:      51_000,
		RealizedPnl:    120,
		UnrealizedPnl:  500,
		Product:        domain.ProductMargin,
		MarginReserved: 5000,
	}
	require.NoError(t, store.SavePortfolio(ctx, p))

	loaded, err := store.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.CashBalance, loaded.CashBalance)
	assert.Equal(t, p.UsedMargin, loaded.UsedMargin)
	require.Contains(t, loaded.Positions, "BTCUSDT")
	assert.Equal(t, 0.5, loaded.Positions["BTCUSDT"].Quantity)
	assert.Equal(t, domain.ProductMargin, loaded.Positions["BTCUSDT"].Product)
}

func TestSQLiteStore_SavePortfolioReplacesPositions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	p := domain.NewPortfolio("p1", 100_000)
	p.Positions["A"] = &domain.Position{Symbol: "A", Quantity: 1, AveragePrice: 10, Product: domain.ProductCash}
	p.Positions["B"] = &domain.Position{Symbol: "B", Quantity: 2, AveragePrice: 20, Product: domain.ProductCash}
	require.NoError(t, store.SavePortfolio(ctx, p))

	// Position A closed: next snapshot only carries B.
	delete(p.Positions, "A")
	require.NoError(t, store.SavePortfolio(ctx, p))

	loaded, err := store.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, loaded.Positions, 1)
	assert.Contains(t, loaded.Positions, "B")
}

func TestSQLiteStore_UnknownPortfolio(t *testing.T) {
	store := newStore(t)

	_, err := store.GetPortfolio(context.Background(), "nobody")
	var notFound *domain.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestSQLiteStore_OrderLog(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	o := &domain.Order{
		ID:              "ORD-000001",
		PortfolioID:     "p1",
		Symbol:          "ETHUSDT",
		Side:            domain.SideBuy,
		Type:            domain.OrderTypeLimit,
		Product:         domain.ProductCash,
		Quantity:        2,
		PendingQuantity: 2,
		LimitPrice:      2900,
		Status:          domain.StatusOpen,
		OrderTime:       now,
		UpdateTime:      now,
	}
	require.NoError(t, store.SaveOrder(ctx, o))

	// Status transition goes through the update path.
	o.Status = domain.StatusFilled
	o.FilledQuantity = 2
	o.PendingQuantity = 0
	o.AveragePrice = 2890
	require.NoError(t, store.UpdateOrder(ctx, o))

	orders, err := store.ListOrders(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusFilled, orders[0].Status)
	assert.Equal(t, 2890.0, orders[0].AveragePrice)
	assert.Equal(t, 0.0, orders[0].PendingQuantity)

	// Updating an order that was never saved is a typed miss.
	var notFound *domain.NotFoundError
	ghost := *o
	ghost.ID = "ORD-999999"
	require.ErrorAs(t, store.UpdateOrder(ctx, &ghost), &notFound)

	require.NoError(t, store.DeleteOrders(ctx, "p1"))
	orders, err = store.ListOrders(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
