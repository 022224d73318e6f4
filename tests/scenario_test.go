package tests

import (
	"context"
	"testing"

	"github.com/vitos/paper_trading/internal/domain"
	"github.com/vitos/paper_trading/internal/infrastructure/storage"
	"github.com/vitos/paper_trading/internal/usecase"
)

// ScenarioHelper wraps common setup for end-to-end scenario tests.
type ScenarioHelper struct {
	t         *testing.T
	store     *storage.SQLiteStore
	engine    *usecase.OrderExecutionEngine
	ctx       context.Context
	portfolio string
	symbol    string
}

func NewScenarioHelper(t *testing.T, slippage usecase.SlippageConfig) *ScenarioHelper {
	store, err := storage.NewSQLiteStore(":memory:") // In-memory for speed and isolation
	if err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	history := usecase.NewPriceHistory()
	estimator := usecase.NewVolatilityEstimator(history)
	model := usecase.NewSlippageModel(slippage, estimator)
	ledger := usecase.NewPortfolioLedger(5)
	engine := usecase.NewOrderExecutionEngine(
		usecase.EngineConfig{StartingCash: 100_000, Leverage: 5},
		history, model, ledger, store, store, nil,
	)

	h := &ScenarioHelper{
		t:         t,
		store:     store,
		engine:    engine,
		ctx:       context.Background(),
		portfolio: "scenario",
		symbol:    "BTCUSDT",
	}
	engine.CreatePortfolio(h.ctx, h.portfolio)
	return h
}

func (h *ScenarioHelper) Tick(price float64) {
	h.engine.OnTick(h.symbol, price)
}

func (h *ScenarioHelper) MarketOrder(side domain.Side, qty float64) domain.OrderResult {
	return h.engine.PlaceOrder(h.ctx, h.portfolio, domain.OrderRequest{
		Symbol:   h.symbol,
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
		Product:  domain.ProductCash,
	})
}

func (h *ScenarioHelper) Portfolio() *domain.Portfolio {
	p, ok := h.engine.GetPortfolio(h.portfolio)
	if !ok {
		h.t.Fatal("Portfolio disappeared")
	}
	return p
}

const epsilon = 0.000001

func floatEquals(a, b float64) bool {
	return (a-b) < epsilon && (b-a) < epsilon
}

// A full trade round trip: open on ticks, ride the price up, close, and
// verify the realized profit landed in cash and was persisted.
func TestScenario_RoundTripProfit(t *testing.T) {
	h := NewScenarioHelper(t, usecase.SlippageConfig{Model: usecase.ModelFixed, Market: 0})

	h.Tick(100)
	result := h.MarketOrder(domain.SideBuy, 10)
	if !result.Success {
		t.Fatalf("Open failed: %s", result.Error)
	}

	h.Tick(105)
	h.Tick(110)

	p := h.Portfolio()
	pos := p.Positions[h.symbol]
	if pos == nil {
		t.Fatal("Expected open position")
	}
	if !floatEquals(pos.UnrealizedPnl, 100) {
		t.Errorf("Expected unrealized 10*(110-100)=100, got %f", pos.UnrealizedPnl)
	}

	if !h.engine.ClosePosition(h.ctx, h.portfolio, h.symbol) {
		t.Fatal("Close failed")
	}

	p = h.Portfolio()
	if len(p.Positions) != 0 {
		t.Errorf("Expected no positions, got %d", len(p.Positions))
	}
	if !floatEquals(p.CashBalance, 100_100) {
		t.Errorf("Expected cash 100100, got %f", p.CashBalance)
	}
	if !floatEquals(p.UsedMargin, 0) {
		t.Errorf("Expected no reserved margin, got %f", p.UsedMargin)
	}

	// The persisted snapshot agrees with the in-memory state.
	stored, err := h.store.GetPortfolio(h.ctx, h.portfolio)
	if err != nil {
		t.Fatalf("Load persisted portfolio: %v", err)
	}
	if !floatEquals(stored.CashBalance, p.CashBalance) {
		t.Errorf("Persisted cash %f != live cash %f", stored.CashBalance, p.CashBalance)
	}
}

// Volatility-adjusted slippage reacts to a choppy tape: the same order costs
// more after violent price swings than on a calm one.
func TestScenario_VolatilityRaisesSlippage(t *testing.T) {
	calm := NewScenarioHelper(t, usecase.SlippageConfig{
		Model:            usecase.ModelVolatilityAdjusted,
		Market:           0.001,
		SizeImpactFactor: 0.0001,
	})
	for _, price := range []float64{100, 100.01, 100.02, 100.01, 100.02} {
		calm.Tick(price)
	}
	calmQuote := calm.engine.QuoteSlippage(calm.symbol, domain.SideBuy, 10, 100)

	wild := NewScenarioHelper(t, usecase.SlippageConfig{
		Model:            usecase.ModelVolatilityAdjusted,
		Market:           0.001,
		SizeImpactFactor: 0.0001,
	})
	for _, price := range []float64{100, 106, 99, 107, 98, 108} {
		wild.Tick(price)
	}
	wildQuote := wild.engine.QuoteSlippage(wild.symbol, domain.SideBuy, 10, 100)

	if wildQuote <= calmQuote {
		t.Errorf("Expected higher slippage on volatile tape: calm=%f wild=%f", calmQuote, wildQuote)
	}
}

// A rejected order must leave no trace in positions or balances, and the
// rejection itself must be auditable in the order log.
func TestScenario_RejectionIsAudited(t *testing.T) {
	h := NewScenarioHelper(t, usecase.SlippageConfig{Model: usecase.ModelFixed, Market: 0})
	h.Tick(50_000)

	before := h.Portfolio()
	result := h.MarketOrder(domain.SideBuy, 100) // notional 5M vs 100k cash
	if result.Success {
		t.Fatal("Expected rejection")
	}

	after := h.Portfolio()
	if after.CashBalance != before.CashBalance || after.UsedMargin != before.UsedMargin {
		t.Error("Rejection mutated the portfolio")
	}

	orders := h.engine.GetOrders(h.portfolio)
	if len(orders) != 1 {
		t.Fatalf("Expected 1 order record, got %d", len(orders))
	}
	if orders[0].Status != domain.StatusRejected {
		t.Errorf("Expected REJECTED, got %s", orders[0].Status)
	}
	if orders[0].Message == "" {
		t.Error("Expected a human-readable rejection message")
	}

	// The rejection is also in durable storage.
	stored, err := h.store.ListOrders(h.ctx, h.portfolio, 0)
	if err != nil {
		t.Fatalf("List stored orders: %v", err)
	}
	if len(stored) != 1 || stored[0].Status != domain.StatusRejected {
		t.Errorf("Stored order log does not show the rejection: %+v", stored)
	}
}

// Averaging in, partially closing and resetting leaves the account exactly
// where a fresh one starts.
func TestScenario_AverageInAndReset(t *testing.T) {
	h := NewScenarioHelper(t, usecase.SlippageConfig{Model: usecase.ModelFixed, Market: 0})

	h.Tick(100)
	h.MarketOrder(domain.SideBuy, 10)
	h.Tick(110)
	h.MarketOrder(domain.SideBuy, 10)

	pos := h.Portfolio().Positions[h.symbol]
	if pos == nil || !floatEquals(pos.AveragePrice, 105) || pos.Quantity != 20 {
		t.Fatalf("Expected 20 @ 105, got %+v", pos)
	}

	h.MarketOrder(domain.SideSell, 5)

	if !h.engine.ResetPortfolio(h.ctx, h.portfolio) {
		t.Fatal("Reset failed")
	}
	if !h.engine.ResetPortfolio(h.ctx, h.portfolio) {
		t.Fatal("Second reset failed")
	}

	p := h.Portfolio()
	if p.CashBalance != 100_000 || p.UsedMargin != 0 || len(p.Positions) != 0 {
		t.Errorf("Reset did not restore initial state: %+v", p)
	}
	if orders := h.engine.GetOrders(h.portfolio); len(orders) != 0 {
		t.Errorf("Reset did not clear the order log: %d orders", len(orders))
	}
}
