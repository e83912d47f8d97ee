package symbols

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"orderflow-relay/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	recs    map[string]model.SymbolRecord
	unknown []model.UnknownRequest
	upserts int
}

func newMemStore(recs ...model.SymbolRecord) *memStore {
	s := &memStore{recs: make(map[string]model.SymbolRecord)}
	for _, r := range recs {
		s.recs[r.Symbol] = r
	}
	return s
}

func (s *memStore) LoadAll(context.Context) ([]model.SymbolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SymbolRecord
	for _, r := range s.recs {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, sym string) (model.SymbolRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[sym]
	return r, ok, nil
}

func (s *memStore) Upsert(_ context.Context, r model.SymbolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[r.Symbol] = r
	s.upserts++
	return nil
}

func (s *memStore) UpsertBatch(ctx context.Context, recs []model.SymbolRecord) error {
	for _, r := range recs {
		s.Upsert(ctx, r)
	}
	return nil
}

func (s *memStore) Search(_ context.Context, prefix string, limit int) ([]model.SymbolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SymbolRecord
	for sym, r := range s.recs {
		if strings.HasPrefix(sym, strings.ToUpper(prefix)) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) LogUnknown(_ context.Context, sym string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unknown = append(s.unknown, model.UnknownRequest{Symbol: sym, RequestedAt: at, Status: "unknown"})
	return nil
}

func (s *memStore) UnknownRequests(_ context.Context, limit int) ([]model.UnknownRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UnknownRequest(nil), s.unknown...), nil
}

func (s *memStore) MarkStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for sym, r := range s.recs {
		if r.Active && r.LastUpdated.Before(cutoff) {
			r.Active = false
			s.recs[sym] = r
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

// fakeSource answers from a fixed table and counts calls.
type fakeSource struct {
	name  string
	table map[string]string // symbol -> token
	block bool              // wait for ctx instead of answering
	gate  chan struct{}     // when set, hold each lookup until closed

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Lookup(ctx context.Context, sym string) (model.SymbolRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return model.SymbolRecord{}, ctx.Err()
		}
	}
	if f.block {
		<-ctx.Done()
		return model.SymbolRecord{}, ctx.Err()
	}
	tok, ok := f.table[sym]
	if !ok {
		return model.SymbolRecord{}, errors.New("not listed")
	}
	return model.SymbolRecord{Symbol: sym, Token: tok, DisplayName: sym + " LTD"}, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
