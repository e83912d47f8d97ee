// Package postgres is the optional remote durable symbol store, used in
// place of SQLite when DATABASE_URL is configured.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow-relay/internal/model"
)

// Store implements model.SymbolStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ model.SymbolStore = (*Store)(nil)

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	log.Printf("[postgres] connected to %s", cfg.ConnConfig.Host)
	return s, nil
}

// Ping checks the pool can reach the server, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS symbols (
			symbol       TEXT        PRIMARY KEY,
			token        TEXT        NOT NULL,
			name         TEXT        NOT NULL DEFAULT '',
			sector       TEXT        NOT NULL DEFAULT '',
			market_cap   TEXT        NOT NULL DEFAULT '',
			last_updated TIMESTAMPTZ NOT NULL,
			is_active    BOOLEAN     NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS symbol_requests (
			id           BIGSERIAL   PRIMARY KEY,
			symbol       TEXT        NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL,
			status       TEXT        NOT NULL DEFAULT 'unknown'
		);`)
	return err
}

const selectCols = `symbol, token, name, sector, market_cap, last_updated, is_active`

func scanRecord(row pgx.Row) (model.SymbolRecord, error) {
	var r model.SymbolRecord
	err := row.Scan(&r.Symbol, &r.Token, &r.DisplayName, &r.Sector, &r.MarketCap, &r.LastUpdated, &r.Active)
	r.LastUpdated = r.LastUpdated.UTC()
	return r, err
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.SymbolRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query symbols: %w", err)
	}
	defer rows.Close()

	var out []model.SymbolRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres scan symbols: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LoadAll(ctx context.Context) ([]model.SymbolRecord, error) {
	return s.query(ctx, `SELECT `+selectCols+` FROM symbols WHERE is_active`)
}

func (s *Store) Get(ctx context.Context, symbol string) (model.SymbolRecord, bool, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM symbols WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SymbolRecord{}, false, nil
	}
	if err != nil {
		return model.SymbolRecord{}, false, fmt.Errorf("postgres get %s: %w", symbol, err)
	}
	return r, true, nil
}

const upsertSQL = `
	INSERT INTO symbols (symbol, token, name, sector, market_cap, last_updated, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (symbol) DO UPDATE
	SET token = EXCLUDED.token,
	    name = EXCLUDED.name,
	    sector = EXCLUDED.sector,
	    market_cap = EXCLUDED.market_cap,
	    last_updated = EXCLUDED.last_updated,
	    is_active = EXCLUDED.is_active`

func (s *Store) Upsert(ctx context.Context, r model.SymbolRecord) error {
	_, err := s.pool.Exec(ctx, upsertSQL, r.Symbol, r.Token, r.DisplayName, r.Sector, r.MarketCap, r.LastUpdated, r.Active)
	if err != nil {
		return fmt.Errorf("postgres upsert %s: %w", r.Symbol, err)
	}
	return nil
}

func (s *Store) UpsertBatch(ctx context.Context, recs []model.SymbolRecord) error {
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(upsertSQL, r.Symbol, r.Token, r.DisplayName, r.Sector, r.MarketCap, r.LastUpdated, r.Active)
	}
	return execBatch(ctx, s.pool, batch)
}

func execBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func (s *Store) Search(ctx context.Context, prefix string, limit int) ([]model.SymbolRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `
		SELECT `+selectCols+` FROM symbols
		WHERE is_active AND symbol LIKE $1
		ORDER BY last_updated DESC
		LIMIT $2`, likeEscape(strings.ToUpper(prefix))+"%", limit)
}

func (s *Store) LogUnknown(ctx context.Context, symbol string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO symbol_requests (symbol, requested_at, status) VALUES ($1, $2, 'unknown')`, symbol, at)
	if err != nil {
		return fmt.Errorf("postgres log unknown %s: %w", symbol, err)
	}
	return nil
}

func (s *Store) UnknownRequests(ctx context.Context, limit int) ([]model.UnknownRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, requested_at, status FROM symbol_requests
		ORDER BY requested_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres query symbol_requests: %w", err)
	}
	defer rows.Close()

	var out []model.UnknownRequest
	for rows.Next() {
		var u model.UnknownRequest
		if err := rows.Scan(&u.Symbol, &u.RequestedAt, &u.Status); err != nil {
			return nil, fmt.Errorf("postgres scan symbol_requests: %w", err)
		}
		u.RequestedAt = u.RequestedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE symbols SET is_active = FALSE WHERE is_active AND last_updated < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres mark stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
