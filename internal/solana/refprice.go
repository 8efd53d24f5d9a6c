package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	refPriceReconnectDelay = 5 * time.Second
	refPricePingInterval   = 20 * time.Second
)

// RefPriceUpdate is a SOL/USD rate observation from the secondary reference
// feed. It never carries trade or reserve data, only the conversion rate
// PriceCalculator needs for the final decimal multiplication.
type RefPriceUpdate struct {
	SolUsd decimal.Decimal
	At     time.Time
}

// RefPriceFeed maintains a websocket connection to a SOL/USD price
// reference endpoint and republishes the rate on a channel, reconnecting
// with a fixed delay on any read/dial failure.
type RefPriceFeed struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewRefPriceFeed(url string, logger *slog.Logger) *RefPriceFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefPriceFeed{
		url:      url,
		logger:   logger.With("component", "refprice"),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins emitting updates on the returned channel. The
// feed keeps reconnecting until ctx is cancelled or Stop is called.
func (f *RefPriceFeed) Start(ctx context.Context) <-chan RefPriceUpdate {
	out := make(chan RefPriceUpdate, 16)
	go f.maintainConnection(ctx, out)
	return out
}

func (f *RefPriceFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopChan) })
}

func (f *RefPriceFeed) maintainConnection(ctx context.Context, out chan<- RefPriceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopChan:
			return
		default:
			if err := f.connectAndListen(ctx, out); err != nil {
				f.logger.Error("reference price connection lost", "err", err)
			}
			select {
			case <-time.After(refPriceReconnectDelay):
			case <-ctx.Done():
				return
			case <-f.stopChan:
				return
			}
		}
	}
}

func (f *RefPriceFeed) connectAndListen(ctx context.Context, out chan<- RefPriceUpdate) error {
	f.logger.Info("connecting to reference price feed", "url", f.url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
			f.conn = nil
		}
		f.mu.Unlock()
	}()

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.heartbeat(hbCtx)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		var raw refPriceMessage
		if err := json.Unmarshal(message, &raw); err != nil {
			continue
		}
		if raw.SolUsd.IsZero() {
			continue
		}

		update := RefPriceUpdate{SolUsd: raw.SolUsd, At: time.Now()}
		select {
		case out <- update:
		default:
		}
	}
}

func (f *RefPriceFeed) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(refPricePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != nil {
				if err := f.conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					f.logger.Error("ping failed", "err", err)
				}
			}
			f.mu.Unlock()
		}
	}
}

type refPriceMessage struct {
	SolUsd decimal.Decimal `json:"sol_usd"`
}
