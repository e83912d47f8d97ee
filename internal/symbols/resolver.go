// Package symbols resolves human ticker symbols to exchange tokens through a
// layered chain: in-memory cache, durable store, then network sources in
// order. It also serves ranked search over the in-memory cache.
package symbols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"orderflow-relay/internal/model"
)

const (
	DefaultLookupTimeout = 5 * time.Second
	DefaultRetention     = 30 * 24 * time.Hour
)

// Source is one network lookup in the fallback chain.
type Source interface {
	Name() string
	// Lookup returns the record for symbol or an error. Any error, including
	// a timeout, moves resolution on to the next source.
	Lookup(ctx context.Context, symbol string) (model.SymbolRecord, error)
}

// Config tunes the resolver. Zero values take defaults.
type Config struct {
	LookupTimeout time.Duration
	Retention     time.Duration
	// Seed is written to an empty durable store on Load.
	Seed []model.SymbolRecord
	Now  func() time.Time
}

// Resolver is safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]model.SymbolRecord

	store   model.SymbolStore
	sources []Source
	group   singleflight.Group

	timeout   time.Duration
	retention time.Duration
	seed      []model.SymbolRecord
	now       func() time.Time
	log       *slog.Logger

	// Metrics hooks (optional, set externally)
	OnResolve      func(source string, d time.Duration)
	OnSourceFailed func(source string)
	OnSwept        func(n int)
}

// New creates a Resolver. store may be nil for a memory-only resolver.
func New(store model.SymbolStore, sources []Source, cfg Config, log *slog.Logger) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		cache:     make(map[string]model.SymbolRecord),
		store:     store,
		sources:   sources,
		timeout:   cfg.LookupTimeout,
		retention: cfg.Retention,
		seed:      cfg.Seed,
		now:       cfg.Now,
		log:       log.With("component", "symbols"),
	}
}

// Normalize upper-cases and trims a user-supplied symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Load warms the in-memory cache from the durable store, seeding the store
// first when it is empty.
func (r *Resolver) Load(ctx context.Context) error {
	if r.store == nil {
		r.putAll(r.seed)
		return nil
	}

	recs, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	if len(recs) == 0 && len(r.seed) > 0 {
		now := r.now().UTC()
		seeded := make([]model.SymbolRecord, len(r.seed))
		for i, s := range r.seed {
			s.Symbol = Normalize(s.Symbol)
			s.LastUpdated = now
			s.Active = true
			seeded[i] = s
		}
		if err := r.store.UpsertBatch(ctx, seeded); err != nil {
			return fmt.Errorf("seed symbols: %w", err)
		}
		recs = seeded
		r.log.Info("seeded symbol store", "count", len(seeded))
	}

	r.putAll(recs)
	r.log.Info("loaded cached symbols", "count", len(recs))
	return nil
}

func (r *Resolver) putAll(recs []model.SymbolRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if rec.LastUpdated.IsZero() {
			rec.LastUpdated = r.now().UTC()
			rec.Active = true
		}
		r.cache[Normalize(rec.Symbol)] = rec
	}
}

func (r *Resolver) put(rec model.SymbolRecord) {
	r.mu.Lock()
	r.cache[rec.Symbol] = rec
	r.mu.Unlock()
}

// Get returns an active record from the in-memory cache only.
func (r *Resolver) Get(symbol string) (model.SymbolRecord, bool) {
	r.mu.RLock()
	rec, ok := r.cache[Normalize(symbol)]
	r.mu.RUnlock()
	if !ok || !rec.Active {
		return model.SymbolRecord{}, false
	}
	return rec, true
}

// Resolve walks the chain and returns the first hit. Every hit fills the
// caches in front of it; network hits are upserted to the durable store. A
// full miss is appended to the unknown-request log and reported as a
// *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (model.SymbolRecord, error) {
	sym := Normalize(symbol)
	if sym == "" {
		return model.SymbolRecord{}, &ResolutionError{Symbol: symbol}
	}

	start := time.Now()
	if rec, ok := r.Get(sym); ok {
		r.observe("memory", start)
		return rec, nil
	}

	if err := ctx.Err(); err != nil {
		return model.SymbolRecord{}, err
	}

	// The shared lookup outlives any one caller; each caller waits on its
	// own ctx.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(sym, func() (any, error) {
		return r.resolveSlow(shared, sym, start)
	})
	select {
	case <-ctx.Done():
		return model.SymbolRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.SymbolRecord{}, res.Err
		}
		return res.Val.(model.SymbolRecord), nil
	}
}

func (r *Resolver) resolveSlow(ctx context.Context, sym string, start time.Time) (model.SymbolRecord, error) {
	if r.store != nil {
		rec, ok, err := r.store.Get(ctx, sym)
		if err != nil {
			r.log.Warn("durable cache lookup failed", "symbol", sym, "err", err)
		}
		if ok && rec.Active {
			r.put(rec)
			r.observe("store", start)
			return rec, nil
		}
	}

	for _, src := range r.sources {
		rec, err := r.lookup(ctx, src, sym)
		if err != nil {
			r.log.Debug("source miss", "source", src.Name(), "symbol", sym, "err", err)
			if r.OnSourceFailed != nil {
				r.OnSourceFailed(src.Name())
			}
			continue
		}

		rec.Symbol = sym
		rec.LastUpdated = r.now().UTC()
		rec.Active = true
		if rec.DisplayName == "" {
			rec.DisplayName = sym
		}

		r.put(rec)
		if r.store != nil {
			if err := r.store.Upsert(ctx, rec); err != nil {
				r.log.Warn("persist resolved symbol failed", "symbol", sym, "err", err)
			}
		}
		r.log.Info("resolved symbol", "symbol", sym, "token", rec.Token, "source", src.Name())
		r.observe(src.Name(), start)
		return rec, nil
	}

	if r.store != nil {
		if err := r.store.LogUnknown(ctx, sym, r.now().UTC()); err != nil {
			r.log.Warn("log unknown symbol failed", "symbol", sym, "err", err)
		}
	}
	r.log.Info("unknown symbol", "symbol", sym)
	r.observe("miss", start)
	return model.SymbolRecord{}, &ResolutionError{Symbol: sym}
}

// lookup bounds a single source call by the configured timeout.
func (r *Resolver) lookup(ctx context.Context, src Source, sym string) (model.SymbolRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := src.Lookup(ctx, sym)
	if err != nil {
		return rec, err
	}
	if rec.Token == "" {
		return rec, fmt.Errorf("%s: empty token for %s", src.Name(), sym)
	}
	return rec, nil
}

func (r *Resolver) observe(source string, start time.Time) {
	if r.OnResolve != nil {
		r.OnResolve(source, time.Since(start))
	}
}

// Count returns the number of active cached symbols.
func (r *Resolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.cache {
		if rec.Active {
			n++
		}
	}
	return n
}
