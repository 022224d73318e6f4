package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WSFeed subscribes to a websocket tick stream and pushes prices into the
// registered callbacks. The simulation core never subscribes to prices
// itself; this adapter is the bridge.
//
// Wire format, one JSON frame per tick:
//
//	{"topic":"tick.BTCUSDT","data":{"price":50123.5}}
type WSFeed struct {
	wsURL  string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   []string
	callbacks []func(symbol string, price float64)
	closed    bool

	// Reconnection attempts are throttled so a flapping endpoint does not
	// spin the client.
	reconnectLimiter *rate.Limiter
}

func NewWSFeed(wsURL string, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFeed{
		wsURL:            wsURL,
		logger:           logger,
		reconnectLimiter: rate.NewLimiter(rate.Limit(0.5), 1), // one attempt per 2s
	}
}

// OnPriceUpdate registers a callback invoked for every decoded tick.
func (f *WSFeed) OnPriceUpdate(callback func(symbol string, price float64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Connect dials the endpoint, subscribes to the symbols and starts the
// read loop. The loop reconnects on failure until Close is called.
func (f *WSFeed) Connect(symbols []string) error {
	f.mu.Lock()
	f.symbols = symbols
	f.mu.Unlock()

	if err := f.dial(); err != nil {
		return err
	}
	go f.readLoop()
	return nil
}

func (f *WSFeed) dial() error {
	c, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = c
	symbols := f.symbols
	f.mu.Unlock()

	return f.subscribe(c, symbols)
}

func (f *WSFeed) subscribe(c *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "tick." + s
	}
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	return c.WriteJSON(subMsg)
}

func (f *WSFeed) readLoop() {
	for {
		f.mu.Lock()
		c := f.conn
		closed := f.closed
		f.mu.Unlock()
		if closed || c == nil {
			return
		}

		_, message, err := c.ReadMessage()
		if err != nil {
			f.mu.Lock()
			closed = f.closed
			f.mu.Unlock()
			if closed {
				return
			}
			f.logger.Warn("Feed read error, reconnecting", zap.Error(err))
			if !f.reconnect() {
				return
			}
			continue
		}

		f.handleMessage(message)
	}
}

func (f *WSFeed) reconnect() bool {
	for {
		if err := f.reconnectLimiter.Wait(context.Background()); err != nil {
			return false
		}
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return false
		}
		f.mu.Unlock()

		if err := f.dial(); err != nil {
			f.logger.Warn("Feed reconnect failed", zap.Error(err))
			continue
		}
		f.logger.Info("Feed reconnected", zap.String("url", f.wsURL))
		return true
	}
}

func (f *WSFeed) handleMessage(message []byte) {
	var event struct {
		Topic string `json:"topic"`
		Data  struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		f.logger.Debug("Feed unmarshal error", zap.Error(err))
		return
	}
	if !strings.HasPrefix(event.Topic, "tick.") || event.Data.Price <= 0 {
		return
	}
	symbol := strings.TrimPrefix(event.Topic, "tick.")

	f.mu.Lock()
	callbacks := f.callbacks
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(symbol, event.Data.Price)
	}
}

// Close stops the read loop and closes the connection.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
