package usecase

import (
	"sync"
	"time"

	"github.com/vitos/paper_trading/internal/domain"
)

// PriceWindow is the number of samples retained per symbol.
const PriceWindow = 20

// PriceHistory keeps a sliding window of the most recent prices per symbol.
// Oldest samples are evicted first once the window is full.
type PriceHistory struct {
	mu      sync.RWMutex
	samples map[string][]domain.PriceSample
}

func NewPriceHistory() *PriceHistory {
	return &PriceHistory{
		samples: make(map[string][]domain.PriceSample),
	}
}

// Record appends a price sample for the symbol, evicting the oldest sample
// when the window exceeds PriceWindow.
func (h *PriceHistory) Record(symbol string, price float64, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.samples[symbol], domain.PriceSample{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
	})
	if len(window) > PriceWindow {
		window = window[len(window)-PriceWindow:]
	}
	h.samples[symbol] = window
}

// Get returns the retained prices for the symbol, oldest first. Unknown
// symbols yield an empty slice.
func (h *PriceHistory) Get(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	window := h.samples[symbol]
	prices := make([]float64, len(window))
	for i, s := range window {
		prices[i] = s.Price
	}
	return prices
}

// Last returns the most recent price for the symbol.
func (h *PriceHistory) Last(symbol string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	window := h.samples[symbol]
	if len(window) == 0 {
		return 0, false
	}
	return window[len(window)-1].Price, true
}
