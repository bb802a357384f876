package usecase

import (
	"context"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	mid "PolyPaper/internal/middleware"
	pkgkafka "PolyPaper/pkg/kafka"
)

// Live trade routing backends.
const (
	BackendKafka  = "kafka"  // publish to the trades topic, consumer feeds the window
	BackendDirect = "direct" // feed the in-process window
)

// tradeEvent is the wire schema for raw trades on the kafka trades topic.
type tradeEvent struct {
	TokenID  string  `json:"token_id"`
	MarketID string  `json:"market_id"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Side     string  `json:"side"`
	TS       int64   `json:"ts"` // unix milliseconds
}

func (e tradeEvent) trade() *models.Trade {
	return &models.Trade{
		TokenID:   e.TokenID,
		MarketID:  e.MarketID,
		Timestamp: time.UnixMilli(e.TS).UTC(),
		Price:     e.Price,
		Size:      e.Size,
		Side:      e.Side,
	}
}

func eventFromTrade(t *models.Trade) tradeEvent {
	return tradeEvent{
		TokenID:  t.TokenID,
		MarketID: t.MarketID,
		Price:    t.Price,
		Size:     t.Size,
		Side:     t.Side,
		TS:       t.Timestamp.UnixMilli(),
	}
}

// TradeRouter is the pipeline's downstream: it routes validated live trades
// to the configured backend.
type TradeRouter struct {
	backend string
	topic   string
	pub     *pkgkafka.Producer
	window  *TradeWindow
	metrics domrepo.Metrics
}

var _ mid.Proc = (*TradeRouter)(nil)

// NewTradeRouter builds a router. pub may be nil for the direct backend.
func NewTradeRouter(backend, topic string, pub *pkgkafka.Producer, window *TradeWindow, metrics domrepo.Metrics) *TradeRouter {
	return &TradeRouter{
		backend: backend,
		topic:   topic,
		pub:     pub,
		window:  window,
		metrics: metrics,
	}
}

// Process routes one trade to the configured backend.
func (r *TradeRouter) Process(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade is nil")
	}

	start := time.Now()
	switch r.backend {
	case BackendKafka:
		if r.pub == nil {
			return fmt.Errorf("kafka backend without producer")
		}
		if err := r.pub.Publish(ctx, r.topic, []byte(t.TokenID), eventFromTrade(t)); err != nil {
			r.metrics.RecordError("route_publish")
			return fmt.Errorf("publish trade: %w", err)
		}
	case BackendDirect:
		r.window.Add(t)
	default:
		return fmt.Errorf("unknown backend: %s", r.backend)
	}

	r.metrics.RecordLatency("trade_route", time.Since(start).Seconds())
	return nil
}
