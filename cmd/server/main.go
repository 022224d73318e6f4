package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/paper_trading/internal/infrastructure/feed"
	"github.com/vitos/paper_trading/internal/infrastructure/logger"
	"github.com/vitos/paper_trading/internal/infrastructure/storage"
	"github.com/vitos/paper_trading/internal/usecase"
	"github.com/vitos/paper_trading/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Account struct {
		StartingCash float64 `yaml:"starting_cash"`
		Leverage     float64 `yaml:"leverage"`
		Portfolios   []string `yaml:"portfolios"`
	} `yaml:"account"`
	Slippage usecase.SlippageConfig `yaml:"slippage"`
	Feed     struct {
		WSEndpoint string   `yaml:"ws_endpoint"`
		Symbols    []string `yaml:"symbols"`
	} `yaml:"feed"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Account.StartingCash == 0 {
		cfg.Account.StartingCash = 1_000_000
	}
	if cfg.Account.Leverage == 0 {
		cfg.Account.Leverage = 5
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "paper_trading.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	return &cfg, nil
}

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// 1. Load Config
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Build the simulation core
	history := usecase.NewPriceHistory()
	estimator := usecase.NewVolatilityEstimator(history)
	slippage := usecase.NewSlippageModel(cfg.Slippage, estimator)
	ledger := usecase.NewPortfolioLedger(cfg.Account.Leverage)
	engine := usecase.NewOrderExecutionEngine(
		usecase.EngineConfig{
			StartingCash: cfg.Account.StartingCash,
			Leverage:     cfg.Account.Leverage,
		},
		history, slippage, ledger, store, store, log,
	)

	ctx := context.Background()
	if err := engine.LoadState(ctx); err != nil {
		log.Error("Failed to load persisted state", zap.Error(err))
	}
	for _, id := range cfg.Account.Portfolios {
		engine.CreatePortfolio(ctx, id)
	}

	// 5. Connect the price feed
	var wsFeed *feed.WSFeed
	if cfg.Feed.WSEndpoint != "" {
		wsFeed = feed.NewWSFeed(cfg.Feed.WSEndpoint, log)
		wsFeed.OnPriceUpdate(engine.OnTick)
		if err := wsFeed.Connect(cfg.Feed.Symbols); err != nil {
			log.Error("Failed to connect price feed", zap.Error(err))
		}
	}

	// 6. Start the web server
	server := web.NewServer(cfg.Server.Port, engine, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	// 7. Wait for shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
	if wsFeed != nil {
		wsFeed.Close()
	}
}
