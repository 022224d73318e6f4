package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side. Undefined sides map to themselves.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return s
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// Product is the margin/settlement regime for an order. CASH reserves the
// full notional; MARGIN reserves notional divided by the configured leverage.
type Product string

const (
	ProductCash   Product = "CASH"
	ProductMargin Product = "MARGIN"
)

func (p Product) Valid() bool {
	return p == ProductCash || p == ProductMargin
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusExpired   OrderStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest is what a caller submits to the execution engine.
type OrderRequest struct {
	Symbol       string    `json:"symbol"`
	Exchange     string    `json:"exchange,omitempty"`
	Side         Side      `json:"side"`
	Type         OrderType `json:"type"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	Product      Product   `json:"product"`
	Validity     string    `json:"validity,omitempty"`
	Tag          string    `json:"tag,omitempty"`
}

// Order is the engine's record of a submitted request. Once Status is
// terminal the record is never mutated again.
// FilledQuantity + PendingQuantity == Quantity for non-rejected orders.
type Order struct {
	ID              string      `json:"id"`
	PortfolioID     string      `json:"portfolio_id"`
	Symbol          string      `json:"symbol"`
	Exchange        string      `json:"exchange,omitempty"`
	Side            Side        `json:"side"`
	Type            OrderType   `json:"type"`
	Product         Product     `json:"product"`
	Quantity        float64     `json:"quantity"`
	FilledQuantity  float64     `json:"filled_quantity"`
	PendingQuantity float64     `json:"pending_quantity"`
	LimitPrice      float64     `json:"limit_price,omitempty"`
	AveragePrice    float64     `json:"average_price"`
	Status          OrderStatus `json:"status"`
	Message         string      `json:"message,omitempty"`
	Tag             string      `json:"tag,omitempty"`
	OrderTime       time.Time   `json:"order_time"`
	UpdateTime      time.Time   `json:"update_time"`
}

// OrderResult is returned by PlaceOrder. On rejection Order still carries
// the REJECTED record (when one was written) and Err the reason.
type OrderResult struct {
	Success bool   `json:"success"`
	Order   *Order `json:"order,omitempty"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}
