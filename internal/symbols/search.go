package symbols

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"orderflow-relay/internal/model"
)

// DefaultSearchLimit applies when a caller passes limit <= 0.
const DefaultSearchLimit = 20

// Relevance ranks, best first.
const (
	rankExact = iota
	rankSymbolContains
	rankNameContains
	rankOther
	rankNone
)

func rank(q string, rec model.SymbolRecord) int {
	sym := strings.ToUpper(rec.Symbol)
	switch {
	case sym == q:
		return rankExact
	case strings.Contains(sym, q):
		return rankSymbolContains
	case strings.Contains(strings.ToUpper(rec.DisplayName), q):
		return rankNameContains
	case strings.Contains(strings.ToUpper(rec.Sector), q):
		return rankOther
	default:
		return rankNone
	}
}

// Search matches query case-insensitively against the in-memory cache only.
// Results are ordered by relevance, then most recently updated first, and
// truncated to limit.
func (r *Resolver) Search(query string, limit int) []model.SymbolRecord {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return []model.SymbolRecord{}
	}

	type hit struct {
		rec  model.SymbolRecord
		rank int
	}

	r.mu.RLock()
	hits := make([]hit, 0, 16)
	for _, rec := range r.cache {
		if !rec.Active {
			continue
		}
		if rk := rank(q, rec); rk != rankNone {
			hits = append(hits, hit{rec: rec, rank: rk})
		}
	}
	r.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if !a.rec.LastUpdated.Equal(b.rec.LastUpdated) {
			return a.rec.LastUpdated.After(b.rec.LastUpdated)
		}
		return a.rec.Symbol < b.rec.Symbol
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]model.SymbolRecord, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

// SearchStored runs a symbol-prefix search against the durable store and
// warms the in-memory cache with what it finds. A shared store can hold
// records resolved by another relay instance since this one loaded.
func (r *Resolver) SearchStored(ctx context.Context, query string, limit int) ([]model.SymbolRecord, error) {
	if r.store == nil {
		return []model.SymbolRecord{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := Normalize(query)
	if q == "" {
		return []model.SymbolRecord{}, nil
	}
	recs, err := r.store.Search(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search stored symbols %q: %w", q, err)
	}
	out := make([]model.SymbolRecord, 0, len(recs))
	for _, rec := range recs {
		if !rec.Active {
			continue
		}
		rec.Symbol = Normalize(rec.Symbol)
		r.put(rec)
		out = append(out, rec)
	}
	return out, nil
}

// Popular returns active symbols, most recently updated first.
func (r *Resolver) Popular(limit int) []model.SymbolRecord {
	if limit <= 0 {
		limit = 50
	}
	all := r.All()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastUpdated.Equal(all[j].LastUpdated) {
			return all[i].LastUpdated.After(all[j].LastUpdated)
		}
		return all[i].Symbol < all[j].Symbol
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// All returns every active cached record in symbol order.
func (r *Resolver) All() []model.SymbolRecord {
	r.mu.RLock()
	out := make([]model.SymbolRecord, 0, len(r.cache))
	for _, rec := range r.cache {
		if rec.Active {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
