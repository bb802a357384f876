package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	pkgch "PolyPaper/pkg/clickhouse"
	applogger "PolyPaper/pkg/logger"
)

// CHPredictionStore appends every emitted signal output to ClickHouse for
// offline analysis. Rows are never updated.
type CHPredictionStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.PredictionStore = (*CHPredictionStore)(nil)

func NewCHPredictionStore(ch *pkgch.Client) *CHPredictionStore {
	return &CHPredictionStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHPredictionStore) SetLogger(l *applogger.Logger) { s.l = l }

var predictionSchemas = []string{
	`CREATE DATABASE IF NOT EXISTS polypaper`,
	`CREATE TABLE IF NOT EXISTS polypaper.signal_predictions (
		ts          DateTime,
		market_id   String,
		token_id    String,
		signal      String,
		direction   String,
		strength    Float64,
		confidence  Float64,
		combined    UInt8,
		features    String,
		components  String,
		weights     String
	) ENGINE = MergeTree
	ORDER BY (token_id, ts)`,
}

func (s *CHPredictionStore) Init(ctx context.Context) error {
	for _, stmt := range predictionSchemas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init prediction schema: %w", err)
		}
	}
	return nil
}

const insertPrediction = `
	INSERT INTO polypaper.signal_predictions
	(ts, market_id, token_id, signal, direction, strength, confidence, combined, features, components, weights)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// StoreSignal appends one detector output.
func (s *CHPredictionStore) StoreSignal(ctx context.Context, out *models.SignalOutput) error {
	if out == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, insertPrediction,
		out.Timestamp,
		out.MarketID,
		out.TokenID,
		out.Signal,
		string(out.Direction),
		out.Strength,
		out.Confidence,
		uint8(0),
		marshalOrEmpty(out.Features),
		"",
		"",
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_signal error",
				applogger.String("signal", out.Signal),
				applogger.String("token_id", out.TokenID),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store signal: %w", err)
	}
	return nil
}

// StoreCombined appends one combined output with its component opinions and
// the weight vector that produced it.
func (s *CHPredictionStore) StoreCombined(ctx context.Context, c *models.CombinedSignalOutput) error {
	if c == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, insertPrediction,
		c.Timestamp,
		c.MarketID,
		c.TokenID,
		c.Signal,
		string(c.Direction),
		c.Strength,
		c.Confidence,
		uint8(1),
		marshalOrEmpty(c.Features),
		marshalOrEmpty(c.Components),
		marshalOrEmpty(c.Weights),
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_combined error",
				applogger.String("token_id", c.TokenID),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store combined: %w", err)
	}
	return nil
}

func (s *CHPredictionStore) Close() error {
	return nil // pool owned by pkg client
}

func marshalOrEmpty(v interface{}) string {
	switch t := v.(type) {
	case map[string]float64:
		if len(t) == 0 {
			return ""
		}
	case []models.SignalOutput:
		if len(t) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
