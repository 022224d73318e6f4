package usecase

import (
	"github.com/vitos/paper_trading/internal/domain"
)

// SlippageModelType selects the slippage strategy. Dispatch happens once at
// construction; models are never mixed at runtime.
type SlippageModelType string

const (
	ModelFixed              SlippageModelType = "fixed"
	ModelSizeDependent      SlippageModelType = "size-dependent"
	ModelVolatilityAdjusted SlippageModelType = "volatility-adjusted"
)

func (t SlippageModelType) Valid() bool {
	switch t {
	case ModelFixed, ModelSizeDependent, ModelVolatilityAdjusted:
		return true
	}
	return false
}

const (
	// sizeImpactNotionalUnit is the order value granting one unit of impact.
	sizeImpactNotionalUnit = 10_000.0
	// sizeImpactCapFactor caps size-dependent slippage at this multiple of
	// the base slippage, so pathologically large orders stay bounded.
	sizeImpactCapFactor = 10.0

	defaultVolatilityMultiplier = 2.0

	// Volatility tier thresholds. Between the two the multiplier is
	// interpolated linearly; above the upper threshold it jumps to the
	// full multiplier. The jump at the boundary is intentional behavior
	// that callers depend on.
	volTierLow  = 0.01
	volTierHigh = 0.02
)

// SlippageConfig is immutable configuration for a SlippageModel.
type SlippageConfig struct {
	Model                SlippageModelType `yaml:"model" json:"model"`
	Market               float64           `yaml:"market" json:"market"`
	SizeImpactFactor     float64           `yaml:"size_impact_factor" json:"size_impact_factor"`
	VolatilityMultiplier float64           `yaml:"volatility_multiplier" json:"volatility_multiplier"`
}

// SlippageModel converts (symbol, side, size, base price) into an expected
// execution price. It reads the volatility estimator but never writes
// price history.
type SlippageModel struct {
	cfg        SlippageConfig
	volatility *VolatilityEstimator
	quoteFn    func(symbol string, qty, basePrice float64) float64
}

func NewSlippageModel(cfg SlippageConfig, volatility *VolatilityEstimator) *SlippageModel {
	if cfg.VolatilityMultiplier == 0 {
		cfg.VolatilityMultiplier = defaultVolatilityMultiplier
	}
	m := &SlippageModel{cfg: cfg, volatility: volatility}

	switch cfg.Model {
	case ModelSizeDependent:
		m.quoteFn = m.quoteSizeDependent
	case ModelVolatilityAdjusted:
		m.quoteFn = m.quoteVolatilityAdjusted
	default:
		m.quoteFn = m.quoteFixed
	}
	return m
}

// Quote returns the expected slippage as a non-negative fraction of the
// base price (0.002 = 0.2%).
func (m *SlippageModel) Quote(symbol string, side domain.Side, qty, basePrice float64) float64 {
	return m.quoteFn(symbol, qty, basePrice)
}

// ExecutionPrice applies the quoted slippage to the base price. Buys pay
// more, sells receive less.
func (m *SlippageModel) ExecutionPrice(symbol string, side domain.Side, qty, basePrice float64) float64 {
	fraction := m.Quote(symbol, side, qty, basePrice)
	if side == domain.SideSell {
		return basePrice * (1 - fraction)
	}
	return basePrice * (1 + fraction)
}

func (m *SlippageModel) quoteFixed(string, float64, float64) float64 {
	return m.cfg.Market
}

func (m *SlippageModel) quoteSizeDependent(_ string, qty, basePrice float64) float64 {
	orderValue := qty * basePrice
	slippage := m.cfg.Market + (orderValue/sizeImpactNotionalUnit)*m.cfg.SizeImpactFactor
	cap := m.cfg.Market * sizeImpactCapFactor
	if slippage > cap {
		return cap
	}
	return slippage
}

func (m *SlippageModel) quoteVolatilityAdjusted(symbol string, qty, basePrice float64) float64 {
	base := m.quoteSizeDependent(symbol, qty, basePrice)
	vol := m.volatility.VolatilityOf(symbol)
	return base * volatilityTierFactor(vol, m.cfg.VolatilityMultiplier)
}

// volatilityTierFactor maps a volatility estimate to a slippage multiplier.
// The interpolation divides by the upper threshold, so at exactly 2% the
// factor is only the midpoint between 1.0 and the multiplier, and jumps to
// the full multiplier just above it. Callers depend on this exact boundary
// behavior; do not smooth it.
func volatilityTierFactor(vol, multiplier float64) float64 {
	switch {
	case vol <= volTierLow:
		return 1.0
	case vol <= volTierHigh:
		return 1.0 + (vol-volTierLow)/volTierHigh*(multiplier-1.0)
	default:
		return multiplier
	}
}
