// Command replay runs a recorded script of ticks and orders through the
// simulation core and prints the resulting fills and portfolio, useful for
// validating slippage settings offline.
//
// Script format, one event per line:
//
//	tick,<symbol>,<price>
//	order,<portfolio>,<symbol>,<side>,<type>,<quantity>[,<limit_price>[,<product>]]
//	close,<portfolio>,<symbol>
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vitos/paper_trading/internal/domain"
	"github.com/vitos/paper_trading/internal/infrastructure/storage"
	"github.com/vitos/paper_trading/internal/usecase"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: replay <script-file> [starting-cash]")
		os.Exit(1)
	}

	startingCash := 1_000_000.0
	if len(os.Args) > 2 {
		if v, err := strconv.ParseFloat(os.Args[2], 64); err == nil {
			startingCash = v
		}
	}

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		fmt.Printf("Failed to init store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	history := usecase.NewPriceHistory()
	estimator := usecase.NewVolatilityEstimator(history)
	slippage := usecase.NewSlippageModel(usecase.SlippageConfig{
		Model:            usecase.ModelVolatilityAdjusted,
		Market:           0.001,
		SizeImpactFactor: 0.0001,
	}, estimator)
	ledger := usecase.NewPortfolioLedger(5)
	engine := usecase.NewOrderExecutionEngine(
		usecase.EngineConfig{StartingCash: startingCash, Leverage: 5},
		history, slippage, ledger, store, store, nil,
	)

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Printf("Failed to open script: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	portfolios := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")

		switch fields[0] {
		case "tick":
			if len(fields) < 3 {
				fmt.Printf("line %d: tick needs symbol,price\n", lineNo)
				continue
			}
			price, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				fmt.Printf("line %d: bad price %q\n", lineNo, fields[2])
				continue
			}
			engine.OnTick(fields[1], price)

		case "order":
			if len(fields) < 6 {
				fmt.Printf("line %d: order needs portfolio,symbol,side,type,quantity\n", lineNo)
				continue
			}
			ensurePortfolio(engine, portfolios, fields[1])
			qty, _ := strconv.ParseFloat(fields[5], 64)
			req := domain.OrderRequest{
				Symbol:   fields[2],
				Side:     domain.Side(strings.ToUpper(fields[3])),
				Type:     domain.OrderType(strings.ToUpper(fields[4])),
				Quantity: qty,
				Product:  domain.ProductCash,
			}
			if len(fields) > 6 {
				req.Price, _ = strconv.ParseFloat(fields[6], 64)
			}
			if len(fields) > 7 {
				req.Product = domain.Product(strings.ToUpper(fields[7]))
			}
			result := engine.PlaceOrder(ctx, fields[1], req)
			if result.Success {
				fmt.Printf("line %d: %s %s %s %.4f -> %s @ %.4f\n",
					lineNo, result.Order.ID, req.Side, req.Symbol, req.Quantity,
					result.Order.Status, result.Order.AveragePrice)
			} else {
				fmt.Printf("line %d: rejected: %s\n", lineNo, result.Error)
			}

		case "close":
			if len(fields) < 3 {
				fmt.Printf("line %d: close needs portfolio,symbol\n", lineNo)
				continue
			}
			ensurePortfolio(engine, portfolios, fields[1])
			ok := engine.ClosePosition(ctx, fields[1], fields[2])
			fmt.Printf("line %d: close %s %s -> %v\n", lineNo, fields[1], fields[2], ok)

		default:
			fmt.Printf("line %d: unknown event %q\n", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Scan error: %v\n", err)
		os.Exit(1)
	}

	for id := range portfolios {
		snapshot, ok := engine.GetPortfolio(id)
		if !ok {
			continue
		}
		out, _ := json.MarshalIndent(snapshot, "", "  ")
		fmt.Printf("\nPortfolio %s:\n%s\n", id, out)
	}
}

func ensurePortfolio(engine *usecase.OrderExecutionEngine, seen map[string]bool, id string) {
	if !seen[id] {
		engine.CreatePortfolio(context.Background(), id)
		seen[id] = true
	}
}
