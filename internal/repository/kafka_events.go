package repository

import (
	"context"
	"fmt"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	pkgkafka "PolyPaper/pkg/kafka"
)

// KafkaEvents implements EventPublisher on the shared producer. Fills and
// combined signals go to separate topics keyed by (market, token) so the
// dashboard consumer keeps per-position ordering.
type KafkaEvents struct {
	producer     *pkgkafka.Producer
	fillsTopic   string
	signalsTopic string
}

var _ domrepo.EventPublisher = (*KafkaEvents)(nil)

func NewKafkaEvents(producer *pkgkafka.Producer, fillsTopic, signalsTopic string) *KafkaEvents {
	return &KafkaEvents{producer: producer, fillsTopic: fillsTopic, signalsTopic: signalsTopic}
}

func (k *KafkaEvents) PublishFill(ctx context.Context, f *models.Fill) error {
	if f == nil {
		return nil
	}
	key := []byte(f.MarketID + "|" + f.TokenID)
	return k.producer.Publish(ctx, k.fillsTopic, key, map[string]interface{}{
		"id":             f.ID,
		"market_id":      f.MarketID,
		"token_id":       f.TokenID,
		"side":           string(f.Side),
		"requested_size": f.RequestedSize,
		"size":           f.Size,
		"price":          f.Price,
		"fee":            f.Fee,
		"signal":         f.Signal,
		"realized":       f.Realized,
		"ts":             f.Timestamp.Format(time.RFC3339Nano),
	})
}

func (k *KafkaEvents) PublishSignal(ctx context.Context, c *models.CombinedSignalOutput) error {
	if c == nil {
		return nil
	}
	components := make([]map[string]interface{}, 0, len(c.Components))
	for _, s := range c.Components {
		components = append(components, map[string]interface{}{
			"signal":     s.Signal,
			"direction":  string(s.Direction),
			"strength":   s.Strength,
			"confidence": s.Confidence,
		})
	}
	key := []byte(c.MarketID + "|" + c.TokenID)
	return k.producer.Publish(ctx, k.signalsTopic, key, map[string]interface{}{
		"market_id":  c.MarketID,
		"token_id":   c.TokenID,
		"direction":  string(c.Direction),
		"strength":   c.Strength,
		"confidence": c.Confidence,
		"components": components,
		"weights":    c.Weights,
		"ts":         c.Timestamp.Format(time.RFC3339Nano),
	})
}

func (k *KafkaEvents) Close() error {
	if k.producer != nil {
		if err := k.producer.Close(); err != nil {
			return fmt.Errorf("close producer: %w", err)
		}
	}
	return nil
}
