package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/paper_trading/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	engine  *usecase.OrderExecutionEngine
	logger  *zap.Logger
	started time.Time
}

func NewServer(port int, engine *usecase.OrderExecutionEngine, logger *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		engine:  engine,
		logger:  logger,
		started: time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Portfolios
	s.router.HandleFunc("POST /api/portfolios", s.handleCreatePortfolio)
	s.router.HandleFunc("GET /api/portfolio", s.handleGetPortfolio)
	s.router.HandleFunc("POST /api/portfolio/reset", s.handleResetPortfolio)

	// Orders
	s.router.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	s.router.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)
	s.router.HandleFunc("GET /api/orders", s.handleListOrders)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handleListPositions)
	s.router.HandleFunc("POST /api/positions/close", s.handleClosePosition)

	// Market
	s.router.HandleFunc("POST /api/prices", s.handleRecordPrice)
	s.router.HandleFunc("GET /api/slippage", s.handleQuoteSlippage)

	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
