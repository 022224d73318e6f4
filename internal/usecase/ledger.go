package usecase

import (
	"math"

	"github.com/vitos/paper_trading/internal/domain"
)

// PortfolioLedger owns the position and margin bookkeeping rules for a
// portfolio. It is pure with respect to locking: the execution engine holds
// the portfolio's lock around every call.
type PortfolioLedger struct {
	leverage float64 // buying-power multiplier for MARGIN product
}

func NewPortfolioLedger(leverage float64) *PortfolioLedger {
	if leverage < 1 {
		leverage = 1
	}
	return &PortfolioLedger{leverage: leverage}
}

// reserveFor is the margin a fill of the given notional must reserve.
// CASH reserves the full notional, MARGIN divides by leverage.
func (l *PortfolioLedger) reserveFor(notional float64, product domain.Product) float64 {
	if product == domain.ProductMargin {
		return notional / l.leverage
	}
	return notional
}

// RequiredMargin returns the additional margin a fill would need beyond what
// closing the opposing part of the existing position releases. Zero means
// the fill is affordable from released margin alone.
func (l *PortfolioLedger) RequiredMargin(p *domain.Portfolio, symbol string, side domain.Side, qty, execPrice float64, product domain.Product) float64 {
	openQty := qty
	if pos, ok := p.Positions[symbol]; ok && pos.Quantity*side.Sign() < 0 {
		closeQty := math.Min(qty, math.Abs(pos.Quantity))
		openQty = qty - closeQty
	}
	if openQty <= 0 {
		return 0
	}
	return l.reserveFor(openQty*execPrice, product)
}

// ApplyFill mutates the portfolio for a fill of qty units at execPrice.
// Same-direction fills blend the average price; opposite-direction fills
// realize P&L on the closed quantity and reverse into a new position when
// qty exceeds the open quantity. A position reaching exactly zero quantity
// is deleted and its accumulated realized P&L flushed into the cash balance.
// On insufficient buying power the portfolio is left untouched.
func (l *PortfolioLedger) ApplyFill(p *domain.Portfolio, symbol string, side domain.Side, qty, execPrice float64, product domain.Product) error {
	pos := p.Positions[symbol]
	signedQty := qty * side.Sign()

	// Affordability is decided before any mutation.
	var release float64
	if pos != nil && pos.Quantity*signedQty < 0 && math.Abs(pos.Quantity) > 0 {
		closeQty := math.Min(qty, math.Abs(pos.Quantity))
		release = pos.MarginReserved * closeQty / math.Abs(pos.Quantity)
	}
	required := l.RequiredMargin(p, symbol, side, qty, execPrice, product)
	if required > p.AvailableMargin()+release {
		return &domain.InsufficientFundsError{
			PortfolioID: p.ID,
			Required:    required,
			Available:   p.AvailableMargin() + release,
		}
	}

	if pos == nil || pos.Quantity == 0 || pos.Quantity*signedQty > 0 {
		l.increase(p, pos, symbol, signedQty, execPrice, product)
		return nil
	}

	// Opposite direction: close up to the open quantity.
	openAbs := math.Abs(pos.Quantity)
	closeQty := math.Min(qty, openAbs)
	direction := 1.0
	if pos.Quantity < 0 {
		direction = -1
	}

	pos.RealizedPnl += (execPrice - pos.AveragePrice) * closeQty * direction
	pos.MarginReserved -= release
	p.UsedMargin -= release
	pos.Quantity -= direction * closeQty
	pos.LastPrice = execPrice

	if pos.Quantity == 0 {
		p.CashBalance += pos.RealizedPnl
		delete(p.Positions, symbol)
	} else {
		pos.UnrealizedPnl = (pos.LastPrice - pos.AveragePrice) * pos.Quantity
	}

	if remainder := qty - closeQty; remainder > 0 {
		l.increase(p, p.Positions[symbol], symbol, remainder*side.Sign(), execPrice, product)
	}
	return nil
}

// increase opens or adds to a position in the direction of signedQty.
func (l *PortfolioLedger) increase(p *domain.Portfolio, pos *domain.Position, symbol string, signedQty, execPrice float64, product domain.Product) {
	qty := math.Abs(signedQty)
	reserve := l.reserveFor(qty*execPrice, product)

	if pos == nil {
		pos = &domain.Position{Symbol: symbol, Product: product}
		p.Positions[symbol] = pos
	}

	oldAbs := math.Abs(pos.Quantity)
	if oldAbs+qty > 0 {
		pos.AveragePrice = (oldAbs*pos.AveragePrice + qty*execPrice) / (oldAbs + qty)
	}
	pos.Quantity += signedQty
	pos.LastPrice = execPrice
	pos.UnrealizedPnl = (pos.LastPrice - pos.AveragePrice) * pos.Quantity
	pos.MarginReserved += reserve
	p.UsedMargin += reserve
}

// MarkToMarket refreshes last price and unrealized P&L for an open position.
func (l *PortfolioLedger) MarkToMarket(p *domain.Portfolio, symbol string, price float64) {
	pos, ok := p.Positions[symbol]
	if !ok || pos.Quantity == 0 {
		return
	}
	pos.LastPrice = price
	pos.UnrealizedPnl = (price - pos.AveragePrice) * pos.Quantity
}
