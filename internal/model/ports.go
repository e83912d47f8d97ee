package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These decouple symbol resolution from the concrete durable store
// (SQLite by default, Postgres when configured).

// SymbolStore is the durable symbol cache.
type SymbolStore interface {
	// LoadAll returns every active record, used to warm the in-memory cache.
	LoadAll(ctx context.Context) ([]SymbolRecord, error)

	// Get returns the record for symbol, or ok=false when absent.
	Get(ctx context.Context, symbol string) (rec SymbolRecord, ok bool, err error)

	// Upsert inserts or replaces the record keyed by symbol.
	Upsert(ctx context.Context, rec SymbolRecord) error

	// UpsertBatch upserts many records in one transaction.
	UpsertBatch(ctx context.Context, recs []SymbolRecord) error

	// Search returns active records whose symbol starts with prefix.
	Search(ctx context.Context, prefix string, limit int) ([]SymbolRecord, error)

	// LogUnknown appends to the unknown-request audit log.
	LogUnknown(ctx context.Context, symbol string, at time.Time) error

	// UnknownRequests returns the most recent audit log rows, newest first.
	UnknownRequests(ctx context.Context, limit int) ([]UnknownRequest, error)

	// MarkStale deactivates records last updated before cutoff and
	// returns how many rows changed.
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases underlying resources.
	Close() error
}

// EnvelopePublisher mirrors outbound viewer envelopes to an external bus.
type EnvelopePublisher interface {
	// Publish sends one encoded envelope of the given type.
	Publish(ctx context.Context, msgType string, payload []byte) error

	// Close releases underlying resources.
	Close() error
}
