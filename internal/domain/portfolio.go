package domain

import "time"

// PriceSample is a single market price observation.
type PriceSample struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is owned exclusively by the portfolio ledger. Quantity is signed:
// positive for long, negative for short.
type Position struct {
	Symbol         string  `json:"symbol"`
	Quantity       float64 `json:"quantity"`
	AveragePrice   float64 `json:"average_price"`
	LastPrice      float64 `json:"last_price"`
	RealizedPnl    float64 `json:"realized_pnl"`
	UnrealizedPnl  float64 `json:"unrealized_pnl"`
	Product        Product `json:"product"`
	MarginReserved float64 `json:"margin_reserved"`
}

// Portfolio is the single mutable aggregate for one simulated account.
// All mutation funnels through the execution engine.
type Portfolio struct {
	ID          string               `json:"id"`
	CashBalance float64              `json:"cash_balance"`
	UsedMargin  float64              `json:"used_margin"`
	Positions   map[string]*Position `json:"positions"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewPortfolio creates a portfolio with the given starting cash and an
// empty position map.
func NewPortfolio(id string, startingCash float64) *Portfolio {
	now := time.Now().UTC()
	return &Portfolio{
		ID:          id,
		CashBalance: startingCash,
		Positions:   make(map[string]*Position),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AvailableMargin is the buying power remaining after current reservations.
func (p *Portfolio) AvailableMargin() float64 {
	return p.CashBalance - p.UsedMargin
}

// Clone returns a deep copy, safe to hand out as a read snapshot.
func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Positions = make(map[string]*Position, len(p.Positions))
	for sym, pos := range p.Positions {
		posCopy := *pos
		cp.Positions[sym] = &posCopy
	}
	return &cp
}
