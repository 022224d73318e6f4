package usecase

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/paper_trading/internal/domain"
	"go.uber.org/zap"
)

// EngineConfig carries the account-level parameters of the simulation.
type EngineConfig struct {
	StartingCash float64 `yaml:"starting_cash" json:"starting_cash"`
	Leverage     float64 `yaml:"leverage" json:"leverage"`
}

// OrderExecutionEngine turns order requests into fills. It owns the
// portfolios, the order log and the set of resting limit orders, and is the
// only component that mutates a portfolio. All mutating operations on a
// given portfolio are serialized through a per-portfolio mutex; mutable
// fields of published Order records are additionally guarded by e.mu, the
// lock order reads copy them under.
type OrderExecutionEngine struct {
	cfg      EngineConfig
	history  *PriceHistory
	slippage *SlippageModel
	ledger   *PortfolioLedger

	portfolioRepo domain.PortfolioRepository
	orderRepo     domain.OrderRepository
	logger        *zap.Logger

	mu         sync.RWMutex
	portfolios map[string]*domain.Portfolio
	locks      map[string]*sync.Mutex
	orders     map[string]*domain.Order
	resting    map[string]map[string]*domain.Order // symbol -> orderID -> order

	nextID  uint64
	timeNow func() time.Time // For testing
}

func NewOrderExecutionEngine(
	cfg EngineConfig,
	history *PriceHistory,
	slippage *SlippageModel,
	ledger *PortfolioLedger,
	portfolioRepo domain.PortfolioRepository,
	orderRepo domain.OrderRepository,
	logger *zap.Logger,
) *OrderExecutionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderExecutionEngine{
		cfg:           cfg,
		history:       history,
		slippage:      slippage,
		ledger:        ledger,
		portfolioRepo: portfolioRepo,
		orderRepo:     orderRepo,
		logger:        logger,
		portfolios:    make(map[string]*domain.Portfolio),
		locks:         make(map[string]*sync.Mutex),
		orders:        make(map[string]*domain.Order),
		resting:       make(map[string]map[string]*domain.Order),
		timeNow:       time.Now,
	}
}

// LoadState restores portfolios and the order log from storage. Resting
// OPEN orders are re-indexed so ticks can trigger them again.
func (e *OrderExecutionEngine) LoadState(ctx context.Context) error {
	portfolios, err := e.portfolioRepo.ListPortfolios(ctx)
	if err != nil {
		return fmt.Errorf("load portfolios: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var maxSeq uint64
	for _, p := range portfolios {
		e.portfolios[p.ID] = p
		e.locks[p.ID] = &sync.Mutex{}

		orders, err := e.orderRepo.ListOrders(ctx, p.ID, 0)
		if err != nil {
			return fmt.Errorf("load orders for %s: %w", p.ID, err)
		}
		for _, o := range orders {
			e.orders[o.ID] = o
			if seq := orderIDSeq(o.ID); seq > maxSeq {
				maxSeq = seq
			}
			if o.Status == domain.StatusOpen {
				e.indexRestingLocked(o)
			}
		}
	}
	// Resume the ID sequence after the highest persisted order so restarts
	// never reissue an ID and overwrite a terminal record.
	if maxSeq > atomic.LoadUint64(&e.nextID) {
		atomic.StoreUint64(&e.nextID, maxSeq)
	}
	e.logger.Info("State loaded", zap.Int("portfolios", len(portfolios)))
	return nil
}

// CreatePortfolio registers a new portfolio with the configured starting
// cash. Creating an existing id is a no-op returning the existing snapshot.
func (e *OrderExecutionEngine) CreatePortfolio(ctx context.Context, id string) *domain.Portfolio {
	e.mu.Lock()
	p, ok := e.portfolios[id]
	if !ok {
		p = domain.NewPortfolio(id, e.cfg.StartingCash)
		e.portfolios[id] = p
		e.locks[id] = &sync.Mutex{}
	}
	snapshot := p.Clone()
	e.mu.Unlock()

	if !ok {
		e.persistPortfolio(ctx, snapshot)
		e.logger.Info("Portfolio created", zap.String("portfolio", id), zap.Float64("cash", snapshot.CashBalance))
	}
	return snapshot
}

// RecordPrice feeds a price sample into the rolling history.
func (e *OrderExecutionEngine) RecordPrice(symbol string, price float64, ts time.Time) {
	e.history.Record(symbol, price, ts)
}

// QuoteSlippage is a pure query against the configured slippage model.
func (e *OrderExecutionEngine) QuoteSlippage(symbol string, side domain.Side, qty, basePrice float64) float64 {
	return e.slippage.Quote(symbol, side, qty, basePrice)
}

// ExecutionPrice returns the slippage-adjusted price for a hypothetical fill.
func (e *OrderExecutionEngine) ExecutionPrice(symbol string, side domain.Side, qty, basePrice float64) float64 {
	return e.slippage.ExecutionPrice(symbol, side, qty, basePrice)
}

// OnTick is the entry point for market prices: records the sample, marks
// open positions to market and triggers resting limit orders that became
// marketable at this price.
func (e *OrderExecutionEngine) OnTick(symbol string, price float64) {
	e.RecordPrice(symbol, price, e.timeNow())

	e.mu.RLock()
	ids := make([]string, 0, len(e.portfolios))
	for id := range e.portfolios {
		ids = append(ids, id)
	}
	var triggered []*domain.Order
	for _, o := range e.resting[symbol] {
		if limitMarketable(o.Side, o.LimitPrice, price) {
			triggered = append(triggered, o)
		}
	}
	e.mu.RUnlock()

	for _, id := range ids {
		e.markToMarket(id, symbol, price)
	}
	for _, o := range triggered {
		e.fillResting(o, price)
	}
}

func (e *OrderExecutionEngine) markToMarket(portfolioID, symbol string, price float64) {
	e.mu.RLock()
	p := e.portfolios[portfolioID]
	lock := e.locks[portfolioID]
	e.mu.RUnlock()
	if p == nil {
		return
	}

	lock.Lock()
	e.ledger.MarkToMarket(p, symbol, price)
	p.UpdatedAt = e.timeNow().UTC()
	lock.Unlock()
}

// PlaceOrder validates the request, computes an execution price and mutates
// the portfolio atomically. Validation failures never touch the ledger and
// never produce an order record; insufficient funds produce a REJECTED
// order and leave the ledger untouched.
func (e *OrderExecutionEngine) PlaceOrder(ctx context.Context, portfolioID string, req domain.OrderRequest) domain.OrderResult {
	req = normalizeRequest(req)
	if err := validateRequest(req); err != nil {
		return failure(err)
	}

	e.mu.RLock()
	p := e.portfolios[portfolioID]
	lock := e.locks[portfolioID]
	e.mu.RUnlock()
	if p == nil {
		return failure(&domain.NotFoundError{Kind: "portfolio", ID: portfolioID})
	}

	market, ok := e.history.Last(req.Symbol)
	if !ok {
		return failure(&domain.ValidationError{Field: "symbol", Reason: "unknown symbol " + req.Symbol})
	}

	now := e.timeNow().UTC()
	order := &domain.Order{
		ID:              e.newOrderID(),
		PortfolioID:     portfolioID,
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Side:            req.Side,
		Type:            req.Type,
		Product:         req.Product,
		Quantity:        req.Quantity,
		PendingQuantity: req.Quantity,
		LimitPrice:      req.Price,
		Status:          domain.StatusPending,
		Tag:             req.Tag,
		OrderTime:       now,
		UpdateTime:      now,
	}

	lock.Lock()
	var fillErr error
	switch {
	case order.Type == domain.OrderTypeMarket:
		execPrice := e.slippage.ExecutionPrice(order.Symbol, order.Side, order.Quantity, market)
		fillErr = e.fillLocked(p, order, execPrice)
	case limitMarketable(order.Side, order.LimitPrice, market):
		// Marketable limits fill at the prevailing price, which is at or
		// better than the limit.
		fillErr = e.fillLocked(p, order, market)
	default:
		order.Status = domain.StatusOpen
	}
	p.UpdatedAt = now
	lock.Unlock()

	e.mu.Lock()
	e.orders[order.ID] = order
	if order.Status == domain.StatusOpen {
		e.indexRestingLocked(order)
	}
	e.mu.Unlock()

	e.persistOrder(ctx, order)
	if fillErr == nil && order.Status == domain.StatusFilled {
		e.persistPortfolioLocked(ctx, portfolioID)
	}

	if fillErr != nil {
		e.logger.Warn("Order rejected",
			zap.String("order", order.ID),
			zap.String("portfolio", portfolioID),
			zap.String("symbol", order.Symbol),
			zap.Error(fillErr))
		return domain.OrderResult{Success: false, Order: order, Err: fillErr, Error: fillErr.Error()}
	}
	return domain.OrderResult{Success: true, Order: order}
}

// fillLocked applies a full fill at execPrice. Caller holds the portfolio
// lock. On insufficient funds the order becomes REJECTED and the error is
// returned; the portfolio is unchanged.
//
// The mutable order fields are written under e.mu so snapshot reads never
// observe a half-written transition.
func (e *OrderExecutionEngine) fillLocked(p *domain.Portfolio, order *domain.Order, execPrice float64) error {
	err := e.ledger.ApplyFill(p, order.Symbol, order.Side, order.Quantity, execPrice, order.Product)
	now := e.timeNow().UTC()

	e.mu.Lock()
	order.UpdateTime = now
	if err != nil {
		order.Status = domain.StatusRejected
		order.PendingQuantity = 0
		order.Message = err.Error()
		e.mu.Unlock()
		return err
	}
	order.Status = domain.StatusFilled
	order.FilledQuantity = order.Quantity
	order.PendingQuantity = 0
	order.AveragePrice = execPrice
	e.mu.Unlock()
	return nil
}

// fillResting fills a resting limit order that became marketable. Funds are
// re-checked at trigger time; an order that can no longer be afforded
// transitions to REJECTED.
func (e *OrderExecutionEngine) fillResting(order *domain.Order, price float64) {
	e.mu.RLock()
	p := e.portfolios[order.PortfolioID]
	lock := e.locks[order.PortfolioID]
	e.mu.RUnlock()
	if p == nil {
		return
	}

	lock.Lock()
	if order.Status != domain.StatusOpen {
		lock.Unlock()
		return
	}
	fillErr := e.fillLocked(p, order, price)
	p.UpdatedAt = e.timeNow().UTC()
	lock.Unlock()

	e.mu.Lock()
	e.unindexRestingLocked(order)
	avgPrice := order.AveragePrice
	e.mu.Unlock()

	ctx := context.Background()
	e.persistOrderUpdate(ctx, order)
	if fillErr == nil {
		e.persistPortfolioLocked(ctx, order.PortfolioID)
		e.logger.Info("Limit order filled",
			zap.String("order", order.ID),
			zap.String("symbol", order.Symbol),
			zap.Float64("price", avgPrice))
	}
}

// CancelOrder transitions a non-terminal order to CANCELLED. Unknown or
// already-terminal orders return false, never an error.
func (e *OrderExecutionEngine) CancelOrder(ctx context.Context, orderID string) bool {
	e.mu.RLock()
	order, ok := e.orders[orderID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.RLock()
	lock := e.locks[order.PortfolioID]
	e.mu.RUnlock()
	if lock == nil {
		return false
	}

	lock.Lock()
	e.mu.Lock()
	if order.Status.Terminal() {
		e.mu.Unlock()
		lock.Unlock()
		return false
	}
	order.Status = domain.StatusCancelled
	order.UpdateTime = e.timeNow().UTC()
	e.unindexRestingLocked(order)
	e.mu.Unlock()
	lock.Unlock()

	e.persistOrderUpdate(ctx, order)
	return true
}

// ClosePosition forces a full-quantity opposite market fill at the current
// market price. Returns false for unknown portfolio, unknown symbol or no
// open position.
func (e *OrderExecutionEngine) ClosePosition(ctx context.Context, portfolioID, symbol string) bool {
	e.mu.RLock()
	p := e.portfolios[portfolioID]
	e.mu.RUnlock()
	if p == nil {
		return false
	}

	e.mu.RLock()
	lock := e.locks[portfolioID]
	e.mu.RUnlock()

	lock.Lock()
	pos, ok := p.Positions[symbol]
	if !ok || pos.Quantity == 0 {
		lock.Unlock()
		return false
	}
	qty := pos.Quantity
	product := pos.Product
	lock.Unlock()

	side := domain.SideSell
	if qty < 0 {
		side = domain.SideBuy
		qty = -qty
	}

	result := e.PlaceOrder(ctx, portfolioID, domain.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
		Product:  product,
		Tag:      "close",
	})
	return result.Success
}

// ResetPortfolio recreates the portfolio with a fresh starting balance,
// clearing positions and the order log. Idempotent; false for unknown ids.
func (e *OrderExecutionEngine) ResetPortfolio(ctx context.Context, portfolioID string) bool {
	e.mu.RLock()
	_, ok := e.portfolios[portfolioID]
	lock := e.locks[portfolioID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	lock.Lock()
	fresh := domain.NewPortfolio(portfolioID, e.cfg.StartingCash)
	e.mu.Lock()
	e.portfolios[portfolioID] = fresh
	for id, o := range e.orders {
		if o.PortfolioID == portfolioID {
			e.unindexRestingLocked(o)
			delete(e.orders, id)
		}
	}
	e.mu.Unlock()
	lock.Unlock()

	if err := e.orderRepo.DeleteOrders(ctx, portfolioID); err != nil {
		e.logger.Error("Failed to clear order log", zap.String("portfolio", portfolioID), zap.Error(err))
	}
	if err := e.portfolioRepo.DeletePositions(ctx, portfolioID); err != nil {
		e.logger.Error("Failed to clear positions", zap.String("portfolio", portfolioID), zap.Error(err))
	}
	e.persistPortfolio(ctx, fresh.Clone())
	e.logger.Info("Portfolio reset", zap.String("portfolio", portfolioID))
	return true
}

// GetPortfolio returns a deep-copied snapshot.
func (e *OrderExecutionEngine) GetPortfolio(portfolioID string) (*domain.Portfolio, bool) {
	e.mu.RLock()
	p := e.portfolios[portfolioID]
	lock := e.locks[portfolioID]
	e.mu.RUnlock()
	if p == nil {
		return nil, false
	}

	lock.Lock()
	snapshot := p.Clone()
	lock.Unlock()
	return snapshot, true
}

// GetPositions returns position copies, optionally filtered by symbol.
// Sorted by symbol for stable output.
func (e *OrderExecutionEngine) GetPositions(portfolioID, symbol string) []domain.Position {
	snapshot, ok := e.GetPortfolio(portfolioID)
	if !ok {
		return nil
	}

	positions := make([]domain.Position, 0, len(snapshot.Positions))
	for sym, pos := range snapshot.Positions {
		if symbol != "" && sym != symbol {
			continue
		}
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

// GetOrders returns order copies for a portfolio, oldest first.
func (e *OrderExecutionEngine) GetOrders(portfolioID string) []domain.Order {
	e.mu.RLock()
	orders := make([]domain.Order, 0)
	for _, o := range e.orders {
		if o.PortfolioID == portfolioID {
			orders = append(orders, *o)
		}
	}
	e.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OrderTime.Equal(orders[j].OrderTime) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].OrderTime.Before(orders[j].OrderTime)
	})
	return orders
}

// --- internals ---

func (e *OrderExecutionEngine) newOrderID() string {
	return fmt.Sprintf("ORD-%06d", atomic.AddUint64(&e.nextID, 1))
}

// orderIDSeq extracts the numeric suffix of an order ID, 0 for foreign IDs.
func orderIDSeq(id string) uint64 {
	seq, err := strconv.ParseUint(strings.TrimPrefix(id, "ORD-"), 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func (e *OrderExecutionEngine) indexRestingLocked(o *domain.Order) {
	if e.resting[o.Symbol] == nil {
		e.resting[o.Symbol] = make(map[string]*domain.Order)
	}
	e.resting[o.Symbol][o.ID] = o
}

func (e *OrderExecutionEngine) unindexRestingLocked(o *domain.Order) {
	if m := e.resting[o.Symbol]; m != nil {
		delete(m, o.ID)
	}
}

// persistOrder writes a newly created order record. The order may already be
// visible to concurrent mutators, so it is copied under e.mu first.
func (e *OrderExecutionEngine) persistOrder(ctx context.Context, o *domain.Order) {
	snapshot := e.snapshotOrder(o)
	if err := e.orderRepo.SaveOrder(ctx, &snapshot); err != nil {
		e.logger.Error("Failed to persist order", zap.String("order", o.ID), zap.Error(err))
	}
}

// persistOrderUpdate records a state transition of an already-persisted order.
func (e *OrderExecutionEngine) persistOrderUpdate(ctx context.Context, o *domain.Order) {
	snapshot := e.snapshotOrder(o)
	if err := e.orderRepo.UpdateOrder(ctx, &snapshot); err != nil {
		e.logger.Error("Failed to persist order update", zap.String("order", o.ID), zap.Error(err))
	}
}

func (e *OrderExecutionEngine) snapshotOrder(o *domain.Order) domain.Order {
	e.mu.RLock()
	snapshot := *o
	e.mu.RUnlock()
	return snapshot
}

func (e *OrderExecutionEngine) persistPortfolioLocked(ctx context.Context, portfolioID string) {
	snapshot, ok := e.GetPortfolio(portfolioID)
	if !ok {
		return
	}
	e.persistPortfolio(ctx, snapshot)
}

func (e *OrderExecutionEngine) persistPortfolio(ctx context.Context, p *domain.Portfolio) {
	if err := e.portfolioRepo.SavePortfolio(ctx, p); err != nil {
		e.logger.Error("Failed to persist portfolio", zap.String("portfolio", p.ID), zap.Error(err))
	}
}

func normalizeRequest(req domain.OrderRequest) domain.OrderRequest {
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}
	if req.Product == "" {
		req.Product = domain.ProductCash
	}
	return req
}

func validateRequest(req domain.OrderRequest) error {
	if req.Symbol == "" {
		return &domain.ValidationError{Field: "symbol", Reason: "required"}
	}
	if req.Quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !req.Side.Valid() {
		return &domain.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if !req.Type.Valid() {
		return &domain.ValidationError{Field: "type", Reason: "must be MARKET or LIMIT"}
	}
	if !req.Product.Valid() {
		return &domain.ValidationError{Field: "product", Reason: "must be CASH or MARGIN"}
	}
	if req.Type == domain.OrderTypeLimit && req.Price <= 0 {
		return &domain.ValidationError{Field: "price", Reason: "limit orders need a positive price"}
	}
	return nil
}

// limitMarketable reports whether a limit order would fill at the given
// market price: buys when the market is at or below the limit, sells when
// at or above.
func limitMarketable(side domain.Side, limit, market float64) bool {
	if side == domain.SideBuy {
		return market <= limit
	}
	return market >= limit
}

func failure(err error) domain.OrderResult {
	return domain.OrderResult{Success: false, Err: err, Error: err.Error()}
}
