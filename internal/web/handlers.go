package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/paper_trading/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type placeOrderRequest struct {
	PortfolioID string `json:"portfolio_id"`
	domain.OrderRequest
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result := s.engine.PlaceOrder(r.Context(), req.PortfolioID, req.OrderRequest)
	if !result.Success {
		status := http.StatusUnprocessableEntity
		var validation *domain.ValidationError
		var notFound *domain.NotFoundError
		switch {
		case errors.As(result.Err, &validation):
			status = http.StatusBadRequest
		case errors.As(result.Err, &notFound):
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok := s.engine.CancelOrder(r.Context(), id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]bool{"success": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	if portfolioID == "" {
		s.writeError(w, http.StatusBadRequest, "portfolio_id is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.GetOrders(portfolioID))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	if portfolioID == "" {
		s.writeError(w, http.StatusBadRequest, "portfolio_id is required")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	s.writeJSON(w, http.StatusOK, s.engine.GetPositions(portfolioID, symbol))
}

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PortfolioID string `json:"portfolio_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PortfolioID == "" {
		s.writeError(w, http.StatusBadRequest, "portfolio_id is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.CreatePortfolio(r.Context(), req.PortfolioID))
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	snapshot, ok := s.engine.GetPortfolio(portfolioID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "portfolio not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleResetPortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PortfolioID string `json:"portfolio_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok := s.engine.ResetPortfolio(r.Context(), req.PortfolioID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]bool{"success": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PortfolioID string `json:"portfolio_id"`
		Symbol      string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok := s.engine.ClosePosition(r.Context(), req.PortfolioID, req.Symbol)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]bool{"success": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRecordPrice lets operators and offline tools push prices without a
// live feed.
func (s *Server) handleRecordPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" || req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "symbol and positive price are required")
		return
	}
	s.engine.OnTick(req.Symbol, req.Price)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleQuoteSlippage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	side := domain.Side(q.Get("side"))
	qty, errQty := strconv.ParseFloat(q.Get("quantity"), 64)
	price, errPrice := strconv.ParseFloat(q.Get("price"), 64)

	if symbol == "" || !side.Valid() || errQty != nil || errPrice != nil || qty <= 0 || price <= 0 {
		s.writeError(w, http.StatusBadRequest, "symbol, side, quantity and price are required")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]float64{
		"slippage":        s.engine.QuoteSlippage(symbol, side, qty, price),
		"execution_price": s.engine.ExecutionPrice(symbol, side, qty, price),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.started).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
