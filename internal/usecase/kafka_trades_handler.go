package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domrepo "PolyPaper/internal/domain/repository"
	pkgkafka "PolyPaper/pkg/kafka"
)

// KafkaTradesHandler consumes raw trade events from the trades topic and
// feeds the live window. It closes the loop for the kafka routing backend.
type KafkaTradesHandler struct {
	topic   string
	window  *TradeWindow
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaTradesHandler)(nil)

func NewKafkaTradesHandler(topic string, window *TradeWindow, metrics domrepo.Metrics) *KafkaTradesHandler {
	return &KafkaTradesHandler{topic: topic, window: window, metrics: metrics}
}

func (h *KafkaTradesHandler) Topic() string { return h.topic }

func (h *KafkaTradesHandler) Handle(ctx context.Context, b []byte) error {
	var e tradeEvent
	if err := json.Unmarshal(b, &e); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	t := e.trade()
	if t.TokenID == "" || t.Price <= 0 || t.Price > 1 || t.Size <= 0 {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("invalid trade event: token %q price %v size %v", e.TokenID, e.Price, e.Size)
	}

	h.window.Add(t)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(t.Timestamp).Seconds())
	return nil
}
