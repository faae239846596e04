// ws.go implements the market data WebSocket ingest loop.
//
// The feed subscribes by token id and writes "book" snapshots and
// "price_change" deltas straight into the order book store. It reconnects
// with exponential backoff (2s base, 60s cap) and re-subscribes to all
// tracked ids on reconnection. Unparseable frames are dropped at the message
// boundary; at most a handful of them are logged per connection.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/internal/book"
	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	baseReconnect    = 2 * time.Second
	maxReconnectWait = 60 * time.Second
	maxLogSamples    = 5 // diagnostic log lines per connection
)

// wsBookEvent is a full book snapshot from the market channel.
type wsBookEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Buys      []priceLevel `json:"buys"`
	Sells     []priceLevel `json:"sells"`
}

// wsPriceChange is a single level update within a price_change event.
type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

type wsPriceChangeEvent struct {
	EventType    string          `json:"event_type"`
	PriceChanges []wsPriceChange `json:"price_changes"`
}

type wsSubscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
}

type wsUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Operation string   `json:"operation"`
}

// MarketFeed maintains the market WebSocket connection and keeps the book
// store current. It is the store's only incremental writer.
type MarketFeed struct {
	url      string
	store    *book.Store
	maxSubs  int
	conn     *websocket.Conn
	connMu   sync.Mutex
	subsMu   sync.RWMutex
	subs     map[string]bool
	logCount int // resets per connection
	logger   *slog.Logger
}

// NewMarketFeed creates the ingest feed writing into the given store.
func NewMarketFeed(wsURL string, maxSubs int, store *book.Store, logger *slog.Logger) *MarketFeed {
	if maxSubs <= 0 {
		maxSubs = 400
	}
	return &MarketFeed{
		url:     wsURL,
		store:   store,
		maxSubs: maxSubs,
		subs:    make(map[string]bool),
		logger:  logger.With("component", "ws_market"),
	}
}

// Subscribe tracks token ids and, when connected, sends a subscribe message.
// Ids beyond the configured cap are dropped.
func (f *MarketFeed) Subscribe(ids []string) {
	f.subsMu.Lock()
	accepted := make([]string, 0, len(ids))
	for _, id := range ids {
		if f.subs[id] {
			continue
		}
		if len(f.subs) >= f.maxSubs {
			break
		}
		f.subs[id] = true
		accepted = append(accepted, id)
	}
	f.subsMu.Unlock()

	if len(accepted) == 0 {
		return
	}
	if err := f.writeJSON(wsUpdateMsg{Operation: "subscribe", AssetIDs: accepted}); err != nil {
		// Not connected yet; the ids are re-sent on (re)connect.
		f.logger.Debug("subscribe deferred", "count", len(accepted))
	}
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := baseReconnect

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the current connection, if any.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.logCount = 0
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "subscribed", f.subCount())

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *MarketFeed) sendInitialSubscription() error {
	f.subsMu.RLock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.subsMu.RUnlock()

	return f.writeJSON(wsSubscribeMsg{Type: "market", AssetIDs: ids})
}

func (f *MarketFeed) subCount() int {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()
	return len(f.subs)
}

// dispatchMessage routes one frame into the store. Parse errors are silently
// ignored aside from a capped number of diagnostic samples.
func (f *MarketFeed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.sampleLog("ignoring non-json ws message")
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wsBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.sampleLog("unmarshal book event failed")
			return
		}
		f.store.ApplySnapshot(evt.AssetID, parseLevels(evt.Buys), parseLevels(evt.Sells))

	case "price_change":
		var evt wsPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.sampleLog("unmarshal price_change event failed")
			return
		}
		for _, pc := range evt.PriceChanges {
			price, err1 := strconv.ParseFloat(pc.Price, 64)
			size, err2 := strconv.ParseFloat(pc.Size, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			side := types.SELL
			if pc.Side == "BUY" {
				side = types.BUY
			}
			f.store.ApplyPriceChange(pc.AssetID, price, size, side)
		}

	default:
		// Informational events we don't need.
	}
}

// sampleLog logs at most maxLogSamples diagnostics per connection so a
// misbehaving upstream can't flood the log.
func (f *MarketFeed) sampleLog(msg string) {
	f.connMu.Lock()
	n := f.logCount
	f.logCount++
	f.connMu.Unlock()
	if n < maxLogSamples {
		f.logger.Debug(msg)
	}
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
