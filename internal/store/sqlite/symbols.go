// Package sqlite is the embedded durable symbol cache. It holds resolved
// symbol records and the append-only log of symbols nothing could resolve.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"orderflow-relay/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/symbols.db"
}

// Store implements model.SymbolStore on SQLite.
type Store struct {
	db *sql.DB
}

var _ model.SymbolStore = (*Store)(nil)

// Ping checks the database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS symbols (
			symbol       TEXT    PRIMARY KEY,
			token        TEXT    NOT NULL,
			name         TEXT    NOT NULL DEFAULT '',
			sector       TEXT    NOT NULL DEFAULT '',
			market_cap   TEXT    NOT NULL DEFAULT '',
			last_updated INTEGER NOT NULL,
			is_active    INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_symbols_updated ON symbols (last_updated);

		CREATE TABLE IF NOT EXISTS symbol_requests (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol       TEXT    NOT NULL,
			requested_at INTEGER NOT NULL,
			status       TEXT    NOT NULL DEFAULT 'unknown'
		);
	`)
	return err
}

const selectCols = `symbol, token, name, sector, market_cap, last_updated, is_active`

func scanRecord(sc interface{ Scan(...any) error }) (model.SymbolRecord, error) {
	var (
		r       model.SymbolRecord
		updated int64
		active  int
	)
	if err := sc.Scan(&r.Symbol, &r.Token, &r.DisplayName, &r.Sector, &r.MarketCap, &updated, &active); err != nil {
		return r, err
	}
	r.LastUpdated = time.UnixMilli(updated).UTC()
	r.Active = active != 0
	return r, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.SymbolRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []model.SymbolRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadAll returns every active record.
func (s *Store) LoadAll(ctx context.Context) ([]model.SymbolRecord, error) {
	return s.query(ctx, `SELECT `+selectCols+` FROM symbols WHERE is_active = 1`)
}

// Get returns the record for symbol, active or not.
func (s *Store) Get(ctx context.Context, symbol string) (model.SymbolRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM symbols WHERE symbol = ?`, symbol)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SymbolRecord{}, false, nil
	}
	if err != nil {
		return model.SymbolRecord{}, false, fmt.Errorf("sqlite get %s: %w", symbol, err)
	}
	return r, true, nil
}

const upsertSQL = `
	INSERT INTO symbols (symbol, token, name, sector, market_cap, last_updated, is_active)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		token = excluded.token,
		name = excluded.name,
		sector = excluded.sector,
		market_cap = excluded.market_cap,
		last_updated = excluded.last_updated,
		is_active = excluded.is_active
`

func upsertArgs(r model.SymbolRecord) []any {
	active := 0
	if r.Active {
		active = 1
	}
	return []any{r.Symbol, r.Token, r.DisplayName, r.Sector, r.MarketCap, r.LastUpdated.UnixMilli(), active}
}

// Upsert inserts or replaces the record keyed by symbol.
func (s *Store) Upsert(ctx context.Context, r model.SymbolRecord) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, upsertArgs(r)...); err != nil {
		return fmt.Errorf("sqlite upsert %s: %w", r.Symbol, err)
	}
	return nil
}

// UpsertBatch upserts many records in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, recs []model.SymbolRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, upsertArgs(r)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert batch %s: %w", r.Symbol, err)
		}
	}
	return tx.Commit()
}

// Search returns active records whose symbol starts with prefix.
func (s *Store) Search(ctx context.Context, prefix string, limit int) ([]model.SymbolRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `
		SELECT `+selectCols+` FROM symbols
		WHERE is_active = 1 AND symbol LIKE ? ESCAPE '\'
		ORDER BY last_updated DESC
		LIMIT ?
	`, likeEscape(strings.ToUpper(prefix))+"%", limit)
}

// LogUnknown appends to the unknown-request audit log.
func (s *Store) LogUnknown(ctx context.Context, symbol string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO symbol_requests (symbol, requested_at, status) VALUES (?, ?, 'unknown')`,
		symbol, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite log unknown %s: %w", symbol, err)
	}
	return nil
}

// UnknownRequests returns the most recent audit rows, newest first.
func (s *Store) UnknownRequests(ctx context.Context, limit int) ([]model.UnknownRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, requested_at, status FROM symbol_requests
		ORDER BY requested_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbol_requests: %w", err)
	}
	defer rows.Close()

	var out []model.UnknownRequest
	for rows.Next() {
		var (
			u  model.UnknownRequest
			at int64
		)
		if err := rows.Scan(&u.Symbol, &at, &u.Status); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol_requests: %w", err)
		}
		u.RequestedAt = time.UnixMilli(at).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkStale deactivates records last updated before cutoff.
func (s *Store) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE symbols SET is_active = 0 WHERE is_active = 1 AND last_updated < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite mark stale: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
