package usecase

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultVolatility is returned when there is not enough history to
	// estimate, or when the estimate degenerates to zero or non-finite.
	// Non-zero so downstream ratios never divide by zero.
	DefaultVolatility = 0.01

	// VolatilityCacheTTL is how long a computed estimate is served without
	// recomputation. Reads within the TTL do not inspect new samples.
	VolatilityCacheTTL = 60 * time.Second
)

type volatilityEntry struct {
	value  float64
	expiry time.Time
}

// VolatilityEstimator computes a cached standard deviation of simple returns
// over the retained price window of a symbol.
type VolatilityEstimator struct {
	history *PriceHistory

	mu      sync.Mutex
	cache   map[string]volatilityEntry
	timeNow func() time.Time // For testing
}

func NewVolatilityEstimator(history *PriceHistory) *VolatilityEstimator {
	return &VolatilityEstimator{
		history: history,
		cache:   make(map[string]volatilityEntry),
		timeNow: time.Now,
	}
}

// VolatilityOf returns the population standard deviation of consecutive
// simple returns for the symbol. Results are memoized for VolatilityCacheTTL.
// Never negative, never errors.
func (e *VolatilityEstimator) VolatilityOf(symbol string) float64 {
	now := e.timeNow()

	e.mu.Lock()
	if entry, ok := e.cache[symbol]; ok && now.Before(entry.expiry) {
		e.mu.Unlock()
		return entry.value
	}
	e.mu.Unlock()

	vol := e.compute(symbol)

	e.mu.Lock()
	e.cache[symbol] = volatilityEntry{value: vol, expiry: now.Add(VolatilityCacheTTL)}
	e.mu.Unlock()

	return vol
}

func (e *VolatilityEstimator) compute(symbol string) float64 {
	prices := e.history.Get(symbol)
	if len(prices) < 2 {
		return DefaultVolatility
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) == 0 {
		return DefaultVolatility
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	stddev := math.Sqrt(variance)
	if stddev == 0 || math.IsNaN(stddev) || math.IsInf(stddev, 0) {
		return DefaultVolatility
	}
	return stddev
}
