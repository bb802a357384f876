package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
	"PolyPaper/pkg/logger"

	"github.com/gorilla/websocket"
)

// StreamConfig holds the WebSocket client settings.
type StreamConfig struct {
	URL            string
	APIKey         string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Stream implements repository.MarketStream over the venue's trade feed.
// One connection; the caller drives Reconnect on read errors.
type Stream struct {
	cfg StreamConfig
	log *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	tokenIDs  []string
}

var _ repository.MarketStream = (*Stream)(nil)

// NewStream creates a market trade stream client.
func NewStream(cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Stream{cfg: cfg, log: log}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	u := s.cfg.URL
	if s.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, s.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("gamma stream connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Info("gamma stream: connected", logger.String("url", s.cfg.URL))
	return nil
}

type subscribeMsg struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	TokenIDs []string `json:"token_ids"`
}

// Subscribe registers token trade channels. The token set is remembered so
// Reconnect can restore it.
func (s *Stream) Subscribe(ctx context.Context, tokenIDs []string) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.connected
	if ok {
		s.tokenIDs = append([]string(nil), tokenIDs...)
	}
	s.mu.Unlock()

	if !ok || conn == nil {
		return fmt.Errorf("gamma stream: not connected")
	}
	msg := subscribeMsg{Type: "subscribe", Channel: "trades", TokenIDs: tokenIDs}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("gamma stream subscribe: %w", err)
	}
	s.log.Info("gamma stream: subscribed", logger.Int("tokens", len(tokenIDs)))
	return nil
}

type wsTradeFrame struct {
	EventType string `json:"event_type"`
	TokenID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"` // ms
}

// Read streams trades and errors. A read failure ends both channels; the
// consumer decides whether to Reconnect.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, 1024)
	errs := make(chan error, 1)

	// keepalive
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(trades)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				errs <- fmt.Errorf("gamma stream: no connection")
				return
			}

			_, raw, err := conn.ReadMessage()
			if err != nil {
				s.mu.Lock()
				s.connected = false
				s.mu.Unlock()
				errs <- fmt.Errorf("gamma stream read: %w", err)
				return
			}

			trade, ok := parseTradeFrame(raw)
			if !ok {
				continue
			}
			select {
			case trades <- trade:
			default:
				// drop on backpressure
			}
		}
	}()

	return trades, errs
}

// parseTradeFrame maps a raw frame to a Trade; non-trade and malformed
// frames return ok=false.
func parseTradeFrame(raw []byte) (*models.Trade, bool) {
	var f wsTradeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f.EventType != "trade" || f.TokenID == "" {
		return nil, false
	}
	price, errP := strconv.ParseFloat(f.Price, 64)
	size, errS := strconv.ParseFloat(f.Size, 64)
	ms, errT := strconv.ParseInt(f.Timestamp, 10, 64)
	if errP != nil || errS != nil || errT != nil || price <= 0 || size <= 0 {
		return nil, false
	}
	return &models.Trade{
		TokenID:   f.TokenID,
		MarketID:  f.Market,
		Timestamp: time.UnixMilli(ms).UTC(),
		Price:     price,
		Size:      size,
		Side:      sideFromTaker(f.Side),
	}, true
}

func sideFromTaker(side string) string {
	switch side {
	case "BUY", "buy":
		return "buy"
	case "SELL", "sell":
		return "sell"
	default:
		return ""
	}
}

// Reconnect closes the current connection, waits the configured delay and
// re-subscribes the remembered token set.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.ReconnectDelay):
	}

	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	tokens := append([]string(nil), s.tokenIDs...)
	s.mu.Unlock()
	if len(tokens) == 0 {
		return nil
	}
	return s.Subscribe(ctx, tokens)
}

// Close tears down the connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected reports the connection state.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
