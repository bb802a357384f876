package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"PolyPaper/internal/domain/models"
	"PolyPaper/internal/domain/repository"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	requested_size REAL NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL,
	signal TEXT NOT NULL DEFAULT '',
	realized REAL NOT NULL DEFAULT 0,
	ts DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	avg_entry REAL NOT NULL,
	mark_price REAL NOT NULL DEFAULT 0,
	realized REAL NOT NULL DEFAULT 0,
	unrealized REAL NOT NULL DEFAULT 0,
	signal TEXT NOT NULL DEFAULT '',
	opened_at DATETIME NOT NULL,
	closed_at DATETIME
);

CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	capital REAL NOT NULL,
	available REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	fees_paid REAL NOT NULL DEFAULT 0,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	peak_equity REAL NOT NULL DEFAULT 0,
	max_drawdown REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(ts);
CREATE INDEX IF NOT EXISTS idx_fills_token ON fills(market_id, token_id);
CREATE INDEX IF NOT EXISTS idx_positions_token ON positions(market_id, token_id);
`

// SQLiteLedger implements repository.LedgerStore. Fills are append-only,
// positions carry the open/closed lifecycle and the account is a single
// row; ApplyFill commits all three inside one transaction.
type SQLiteLedger struct {
	db *sql.DB
}

var _ repository.LedgerStore = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (or creates) the ledger database in WAL mode.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteLedger{db: db}, nil
}

// DB exposes the handle so the config store can share the same file.
func (s *SQLiteLedger) DB() *sql.DB { return s.db }

func (s *SQLiteLedger) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	return nil
}

// ApplyFill persists the fill record, the refreshed position row and the
// refreshed account row as one unit. IDs are assigned to fill and pos on
// first insert.
func (s *SQLiteLedger) ApplyFill(ctx context.Context, fill *models.Fill, pos *models.Position, acct *models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fill tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO fills (market_id, token_id, side, requested_size, size, price, fee, signal, realized, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fill.MarketID, fill.TokenID, string(fill.Side), fill.RequestedSize, fill.Size, fill.Price, fill.Fee, fill.Signal, fill.Realized, fill.Timestamp)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	if fill.ID == 0 {
		if id, err := res.LastInsertId(); err == nil {
			fill.ID = id
		}
	}

	if err := savePositionTx(ctx, tx, pos); err != nil {
		return err
	}
	if err := saveAccountTx(ctx, tx, acct); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fill tx: %w", err)
	}
	return nil
}

func savePositionTx(ctx context.Context, tx *sql.Tx, pos *models.Position) error {
	closedAt := sql.NullTime{}
	if pos.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *pos.ClosedAt, Valid: true}
	}

	if pos.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO positions (market_id, token_id, side, size, avg_entry, mark_price, realized, unrealized, signal, opened_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, pos.MarketID, pos.TokenID, string(pos.Side), pos.Size, pos.AvgEntry, pos.MarkPrice, pos.Realized, pos.Unrealized, pos.Signal, pos.OpenedAt, closedAt)
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			pos.ID = id
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET side = ?, size = ?, avg_entry = ?, mark_price = ?, realized = ?, unrealized = ?, signal = ?, closed_at = ?
		WHERE id = ?
	`, string(pos.Side), pos.Size, pos.AvgEntry, pos.MarkPrice, pos.Realized, pos.Unrealized, pos.Signal, closedAt, pos.ID)
	if err != nil {
		return fmt.Errorf("update position %d: %w", pos.ID, err)
	}
	return nil
}

func saveAccountTx(ctx context.Context, tx *sql.Tx, a *models.Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO account (id, capital, available, realized_pnl, fees_paid, wins, losses, peak_equity, max_drawdown, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Capital, a.Available, a.RealizedPnL, a.FeesPaid, a.Wins, a.Losses, a.PeakEquity, a.MaxDrawdown, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// SavePosition writes one position row outside a fill transaction; used by
// the mark-to-market refresh.
func (s *SQLiteLedger) SavePosition(ctx context.Context, pos *models.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin position tx: %w", err)
	}
	defer tx.Rollback()

	if err := savePositionTx(ctx, tx, pos); err != nil {
		return err
	}
	return tx.Commit()
}

const positionColumns = `id, market_id, token_id, side, size, avg_entry, mark_price, realized, unrealized, signal, opened_at, closed_at`

func scanPosition(rows *sql.Rows) (*models.Position, error) {
	var p models.Position
	var side string
	var closedAt sql.NullTime
	if err := rows.Scan(&p.ID, &p.MarketID, &p.TokenID, &side, &p.Size, &p.AvgEntry, &p.MarkPrice, &p.Realized, &p.Unrealized, &p.Signal, &p.OpenedAt, &closedAt); err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}
	p.Side = models.Side(side)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

func (s *SQLiteLedger) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE closed_at IS NULL ORDER BY opened_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Positions lists rows filtered by status ("open", "closed" or "" for all),
// newest first.
func (s *SQLiteLedger) Positions(ctx context.Context, status string, limit int) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	switch status {
	case "open":
		query += ` WHERE closed_at IS NULL`
	case "closed":
		query += ` WHERE closed_at IS NOT NULL`
	case "":
	default:
		return nil, fmt.Errorf("unknown position status %q", status)
	}
	query += ` ORDER BY opened_at DESC`

	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Fills lists the most recent fills, newest first.
func (s *SQLiteLedger) Fills(ctx context.Context, limit int) ([]*models.Fill, error) {
	query := `
		SELECT id, market_id, token_id, side, requested_size, size, price, fee, signal, realized, ts
		FROM fills ORDER BY id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []*models.Fill
	for rows.Next() {
		var f models.Fill
		var side string
		if err := rows.Scan(&f.ID, &f.MarketID, &f.TokenID, &side, &f.RequestedSize, &f.Size, &f.Price, &f.Fee, &f.Signal, &f.Realized, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = models.Side(side)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// Account returns the single account row, or nil when none exists yet.
func (s *SQLiteLedger) Account(ctx context.Context) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT capital, available, realized_pnl, fees_paid, wins, losses, peak_equity, max_drawdown, updated_at
		FROM account WHERE id = 1
	`).Scan(&a.Capital, &a.Available, &a.RealizedPnL, &a.FeesPaid, &a.Wins, &a.Losses, &a.PeakEquity, &a.MaxDrawdown, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

func (s *SQLiteLedger) SaveAccount(ctx context.Context, a *models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin account tx: %w", err)
	}
	defer tx.Rollback()

	if err := saveAccountTx(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset wipes fills and positions and reseeds the account at the given
// capital. History is deliberately not preserved.
func (s *SQLiteLedger) Reset(ctx context.Context, capital float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM fills`, `DELETE FROM positions`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset ledger: %w", err)
		}
	}
	fresh := &models.Account{
		Capital:    capital,
		Available:  capital,
		PeakEquity: capital,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := saveAccountTx(ctx, tx, fresh); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// SQLiteConfig implements repository.ConfigStore over the ledger database's
// config table. Used when redis is disabled so the halt flag still survives
// restarts.
type SQLiteConfig struct {
	db *sql.DB
}

var _ repository.ConfigStore = (*SQLiteConfig)(nil)

// NewSQLiteConfig creates a config store sharing the ledger database.
func NewSQLiteConfig(db *sql.DB) *SQLiteConfig {
	return &SQLiteConfig{db: db}
}

// Get returns "" for keys that were never set.
func (s *SQLiteConfig) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteConfig) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO config (key, value, updated_at) VALUES (?, ?, ?)
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("config set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteConfig) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config delete %s: %w", key, err)
	}
	return nil
}
