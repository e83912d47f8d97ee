package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"orderflow-relay/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "symbols.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	rec := model.SymbolRecord{Symbol: "RELIANCE", Token: "2885633", DisplayName: "Reliance Industries Ltd", Sector: "Energy", LastUpdated: now, Active: true}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, "RELIANCE")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Token != "2885633" || got.Sector != "Energy" || !got.Active || !got.LastUpdated.Equal(now) {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec.Token = "2885634"
	rec.LastUpdated = now.Add(time.Hour)
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _, _ = s.Get(ctx, "RELIANCE")
	if got.Token != "2885634" {
		t.Fatalf("expected token updated, got %s", got.Token)
	}

	if _, ok, err := s.Get(ctx, "NOPE"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestStore_SearchAndLoadAll(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []model.SymbolRecord{
		{Symbol: "TCS", Token: "2953217", DisplayName: "Tata Consultancy Services", LastUpdated: now, Active: true},
		{Symbol: "TATAMOTORS", Token: "884737", DisplayName: "Tata Motors", LastUpdated: now.Add(-time.Minute), Active: true},
		{Symbol: "INFY", Token: "408065", DisplayName: "Infosys", LastUpdated: now, Active: true},
		{Symbol: "TATAOLD", Token: "1", DisplayName: "Old", LastUpdated: now, Active: false},
	}
	if err := s.UpsertBatch(ctx, recs); err != nil {
		t.Fatalf("batch: %v", err)
	}

	res, err := s.Search(ctx, "ta", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Symbol != "TATAMOTORS" {
		t.Fatalf("expected [TATAMOTORS], got %+v", res)
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 active records, got %d", len(all))
	}
}

func TestStore_MarkStale(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.Upsert(ctx, model.SymbolRecord{Symbol: "OLD", Token: "1", LastUpdated: now.AddDate(0, 0, -31), Active: true})
	s.Upsert(ctx, model.SymbolRecord{Symbol: "NEW", Token: "2", LastUpdated: now, Active: true})

	n, err := s.MarkStale(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale row, got %d", n)
	}
	old, _, _ := s.Get(ctx, "OLD")
	if old.Active {
		t.Fatal("OLD should be inactive")
	}
	fresh, _, _ := s.Get(ctx, "NEW")
	if !fresh.Active {
		t.Fatal("NEW should stay active")
	}
}

func TestStore_UnknownLog(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	s.LogUnknown(ctx, "FOO", t0)
	s.LogUnknown(ctx, "BAR", t0.Add(time.Second))
	s.LogUnknown(ctx, "FOO", t0.Add(2*time.Second))

	rows, err := s.UnknownRequests(ctx, 10)
	if err != nil {
		t.Fatalf("unknown requests: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (append-only), got %d", len(rows))
	}
	if rows[0].Symbol != "FOO" || rows[0].Status != "unknown" {
		t.Fatalf("expected newest FOO/unknown first, got %+v", rows[0])
	}
}
