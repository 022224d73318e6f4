package usecase

import (
	"testing"
	"time"
)

func feedPrices(h *PriceHistory, symbol string, prices ...float64) {
	now := time.Now()
	for i, p := range prices {
		h.Record(symbol, p, now.Add(time.Duration(i)*time.Second))
	}
}

func TestVolatility_DefaultWithFewSamples(t *testing.T) {
	history := NewPriceHistory()
	estimator := NewVolatilityEstimator(history)

	// No samples at all.
	if vol := estimator.VolatilityOf("EMPTY"); vol != DefaultVolatility {
		t.Errorf("Expected default %f for 0 samples, got %f", DefaultVolatility, vol)
	}

	// A single sample.
	feedPrices(history, "ONE", 100)
	if vol := estimator.VolatilityOf("ONE"); vol != DefaultVolatility {
		t.Errorf("Expected default %f for 1 sample, got %f", DefaultVolatility, vol)
	}
}

func TestVolatility_ZeroVarianceDefaults(t *testing.T) {
	history := NewPriceHistory()
	estimator := NewVolatilityEstimator(history)

	// All prices identical: stddev of returns is exactly 0.
	feedPrices(history, "FLAT", 100, 100, 100, 100, 100)
	if vol := estimator.VolatilityOf("FLAT"); vol != DefaultVolatility {
		t.Errorf("Expected default %f for zero variance, got %f", DefaultVolatility, vol)
	}
}

func TestVolatility_NonNegative(t *testing.T) {
	history := NewPriceHistory()
	estimator := NewVolatilityEstimator(history)

	sequences := map[string][]float64{
		"UP":     {100, 101, 102, 103, 104},
		"DOWN":   {104, 103, 102, 101, 100},
		"CHOPPY": {100, 110, 95, 120, 90, 105},
		"TINY":   {0.0001, 0.0002, 0.0001},
	}
	for symbol, prices := range sequences {
		feedPrices(history, symbol, prices...)
		if vol := estimator.VolatilityOf(symbol); vol < 0 {
			t.Errorf("Volatility for %s is negative: %f", symbol, vol)
		}
	}
}

func TestVolatility_PopulationStdDev(t *testing.T) {
	history := NewPriceHistory()
	estimator := NewVolatilityEstimator(history)

	// Returns: +10%, -10%/1.1 ... easier: 100 -> 110 -> 99.
	// r1 = 0.10, r2 = (99-110)/110 = -0.10
	// mean = 0, population variance = (0.01 + 0.01) / 2 = 0.01, stddev = 0.1
	feedPrices(history, "SYM", 100, 110, 99)

	vol := estimator.VolatilityOf("SYM")
	if !floatEquals(vol, 0.1) {
		t.Errorf("Expected population stddev 0.1, got %f", vol)
	}
}

func TestVolatility_CacheTTL(t *testing.T) {
	history := NewPriceHistory()
	estimator := NewVolatilityEstimator(history)

	base := time.Now()
	estimator.timeNow = func() time.Time { return base }

	feedPrices(history, "SYM", 100, 110, 99)
	first := estimator.VolatilityOf("SYM")

	// New samples within the TTL are ignored; the cached value is served.
	feedPrices(history, "SYM", 200, 50, 300)
	if got := estimator.VolatilityOf("SYM"); got != first {
		t.Errorf("Expected cached value %f within TTL, got %f", first, got)
	}

	// Past the TTL the estimate is recomputed from the new window.
	estimator.timeNow = func() time.Time { return base.Add(VolatilityCacheTTL + time.Second) }
	if got := estimator.VolatilityOf("SYM"); got == first {
		t.Error("Expected recomputation after TTL expiry")
	}
}

const epsilon = 0.000001

func floatEquals(a, b float64) bool {
	return (a-b) < epsilon && (b-a) < epsilon
}
