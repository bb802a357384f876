package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	pkgch "PolyPaper/pkg/clickhouse"
	applogger "PolyPaper/pkg/logger"
)

// CHBarStore implements BarStore backed by ClickHouse. One table per
// timeframe; ReplacingMergeTree on (token_id, bucket) dedupes re-collected
// buckets. Writes go to the collection timeframe's table; reads may target
// any timeframe.
type CHBarStore struct {
	db      *sql.DB
	writeTF domrepo.Timeframe
	l       *applogger.Logger
}

var _ domrepo.BarStore = (*CHBarStore)(nil)

func NewCHBarStore(ch *pkgch.Client, writeTF domrepo.Timeframe) *CHBarStore {
	if !domrepo.IsValidTimeframe(writeTF) {
		writeTF = domrepo.DefaultTimeframe()
	}
	return &CHBarStore{db: ch.DB(), writeTF: writeTF}
}

// SetLogger injects a structured logger.
func (s *CHBarStore) SetLogger(l *applogger.Logger) { s.l = l }

var barSchemas = []string{
	`CREATE DATABASE IF NOT EXISTS polypaper`,
	barTableDDL("polypaper.bars_1m"),
	barTableDDL("polypaper.bars_5m"),
	barTableDDL("polypaper.bars_15m"),
}

func barTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			bucket   DateTime,
			token_id String,
			open     Float64,
			high     Float64,
			low      Float64,
			close    Float64,
			volume   Float64
		) ENGINE = ReplacingMergeTree
		ORDER BY (token_id, bucket)
	`, table)
}

func (s *CHBarStore) Init(ctx context.Context) error {
	for _, stmt := range barSchemas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init bar schema: %w", err)
		}
	}
	return nil
}

func barTableForTF(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1m:
		return "polypaper.bars_1m", nil
	case domrepo.TF5m:
		return "polypaper.bars_5m", nil
	case domrepo.TF15m:
		return "polypaper.bars_15m", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

// StoreBatch writes bars in multi-row chunks into the collection
// timeframe's table.
func (s *CHBarStore) StoreBatch(ctx context.Context, bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	table, err := barTableForTF(s.writeTF)
	if err != nil {
		return err
	}

	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.TokenID == "" || b.Bucket.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, b.Bucket, b.TokenID, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (bucket, token_id, open, high, low, close, volume) VALUES %s",
			table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse store_bars error",
					applogger.String("table", table),
					applogger.Int("rows", len(values)),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return nil
}

// Latest returns the newest n bars for a token, oldest first.
func (s *CHBarStore) Latest(ctx context.Context, tokenID string, n int, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	table, err := barTableForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT bucket, token_id, open, high, low, close, volume
		FROM %s FINAL
		WHERE token_id = ?
		ORDER BY bucket DESC
		LIMIT ?
	`, table)
	rows, err := s.db.QueryContext(ctx, q, tokenID, n)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest_bars query error",
				applogger.String("table", table),
				applogger.String("token_id", tokenID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("latest bars: %w", err)
	}
	defer rows.Close()

	out, err := scanBars(rows, n)
	if err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Range returns bars inside [from, to], oldest first.
func (s *CHBarStore) Range(ctx context.Context, tokenID string, from, to time.Time, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	table, err := barTableForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT bucket, token_id, open, high, low, close, volume
		FROM %s FINAL
		WHERE token_id = ? AND bucket >= ? AND bucket <= ?
		ORDER BY bucket ASC
	`, table)
	rows, err := s.db.QueryContext(ctx, q, tokenID, from, to)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse range_bars query error",
				applogger.String("table", table),
				applogger.String("token_id", tokenID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("range bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows, 1024)
}

func scanBars(rows *sql.Rows, hint int) ([]models.PriceBar, error) {
	out := make([]models.PriceBar, 0, hint)
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Bucket, &b.TokenID, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHBarStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHBarStore) Close() error {
	return nil // pool owned by pkg client
}
