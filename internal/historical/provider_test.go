package historical

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-relay/internal/model"
)

type fakeFetcher struct {
	candles []model.Candle
	err     error
	calls   int
	from    time.Time
	to      time.Time
	period  string
}

func (f *fakeFetcher) Historical(_ context.Context, symbol, period string, from, to time.Time) ([]model.Candle, error) {
	f.calls++
	f.from, f.to, f.period = from, to, period
	return f.candles, f.err
}

func candle(ts time.Time, o, h, l, c string, vol int64) model.Candle {
	return model.Candle{
		TS:     ts,
		Open:   decimal.RequireFromString(o),
		High:   decimal.RequireFromString(h),
		Low:    decimal.RequireFromString(l),
		Close:  decimal.RequireFromString(c),
		Volume: vol,
	}
}

func TestLookback(t *testing.T) {
	cases := map[string]time.Duration{
		"1min":  24 * time.Hour,
		"5min":  3 * 24 * time.Hour,
		"15min": 7 * 24 * time.Hour,
		"1hour": 30 * 24 * time.Hour,
		"1day":  365 * 24 * time.Hour,
	}
	for tf, want := range cases {
		if !ValidTimeframe(tf) {
			t.Errorf("%s should be valid", tf)
		}
		if got := Lookback(tf); got != want {
			t.Errorf("Lookback(%s) = %v, want %v", tf, got, want)
		}
	}
	if ValidTimeframe("2min") {
		t.Error("2min should be invalid")
	}
}

func TestProvider_CachesPerSymbolAndTimeframe(t *testing.T) {
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	f := &fakeFetcher{candles: []model.Candle{candle(now.Add(-time.Hour), "100", "101", "99", "100.5", 1000)}}
	p := New(f, Config{Now: func() time.Time { return now }}, nil)
	ctx := context.Background()

	if _, err := p.Candles(ctx, "TCS", "5min"); err != nil {
		t.Fatalf("candles: %v", err)
	}
	if f.period != "5min" || !f.to.Equal(now) || !f.from.Equal(now.Add(-3*24*time.Hour)) {
		t.Fatalf("unexpected request: period=%s from=%v to=%v", f.period, f.from, f.to)
	}
	p.Candles(ctx, "TCS", "5min")
	if f.calls != 1 {
		t.Fatalf("second request should hit the cache, fetcher called %d times", f.calls)
	}
	p.Candles(ctx, "TCS", "1min")
	if f.calls != 2 {
		t.Fatalf("different timeframe should fetch, fetcher called %d times", f.calls)
	}

	now = now.Add(61 * time.Minute)
	p.Candles(ctx, "TCS", "5min")
	if f.calls != 3 {
		t.Fatalf("expired entry should refetch, fetcher called %d times", f.calls)
	}
}

func TestProvider_Errors(t *testing.T) {
	ctx := context.Background()

	p := New(&fakeFetcher{}, Config{}, nil)
	if _, err := p.OffMarketData(ctx, "TCS", "1min"); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := p.OffMarketData(ctx, "TCS", "3min"); !errors.Is(err, ErrInvalidTimeframe) {
		t.Fatalf("expected ErrInvalidTimeframe, got %v", err)
	}

	boom := errors.New("boom")
	f := &fakeFetcher{err: boom}
	p = New(f, Config{}, nil)
	if _, err := p.OffMarketData(ctx, "TCS", "1min"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	p.OffMarketData(ctx, "TCS", "1min")
	if f.calls != 2 {
		t.Fatalf("failures must not be cached")
	}
}

func TestVolumeProfile(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	vp := VolumeProfile([]model.Candle{
		candle(ts, "100", "102", "99", "101", 1001), // up
		candle(ts, "101", "102", "99", "100", 1001), // down
		candle(ts, "100", "101", "99", "100", 1001), // flat
	})
	want := [][2]int64{{700, 301}, {301, 700}, {500, 501}}
	for i, w := range want {
		if vp[i].BuyVolume != w[0] || vp[i].SellVolume != w[1] {
			t.Errorf("candle %d: buy/sell = %d/%d, want %d/%d", i, vp[i].BuyVolume, vp[i].SellVolume, w[0], w[1])
		}
		if vp[i].BuyVolume+vp[i].SellVolume != vp[i].Volume {
			t.Errorf("candle %d: split does not sum to volume", i)
		}
	}
	if vp[0].Price != 101 {
		t.Errorf("profile price should be the close, got %v", vp[0].Price)
	}
}

func TestOrderFlow(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	flow := OrderFlow([]model.Candle{candle(ts, "100", "110", "100", "108", 1000)})
	if len(flow) != 10 {
		t.Fatalf("expected 10 ticks for volume 1000, got %d", len(flow))
	}
	for i, tk := range flow {
		wantPrice := 100 + float64(i)
		if tk.Price != wantPrice {
			t.Errorf("tick %d price = %v, want %v", i, tk.Price, wantPrice)
		}
		wantSide := "buy"
		if i%3 == 0 {
			wantSide = "sell"
		}
		if tk.Side != wantSide {
			t.Errorf("tick %d side = %s, want %s", i, tk.Side, wantSide)
		}
		if tk.Quantity != 100 {
			t.Errorf("tick %d qty = %d, want 100", i, tk.Quantity)
		}
	}

	capped := OrderFlow([]model.Candle{candle(ts, "100", "100", "100", "100", 1_000_000)})
	if len(capped) != 50 {
		t.Fatalf("expected cap of 50 ticks, got %d", len(capped))
	}
	if capped[0].Price != 100 || capped[1].Side != "sell" || capped[0].Side != "buy" {
		t.Fatalf("flat down candle: %+v %+v", capped[0], capped[1])
	}

	if thin := OrderFlow([]model.Candle{candle(ts, "1", "1", "1", "1", 99)}); len(thin) != 0 {
		t.Fatalf("volume under 100 should produce no ticks, got %d", len(thin))
	}
}

func TestOrderFlow_CoversEveryCandle(t *testing.T) {
	start := time.Unix(1700000000, 0)
	var candles []model.Candle
	for i := 0; i < 30; i++ {
		candles = append(candles, candle(start.Add(time.Duration(i)*time.Minute), "100", "101", "99", "100", 200))
	}
	flow := OrderFlow(candles)
	if len(flow) != 60 {
		t.Fatalf("expected 2 ticks for each of 30 candles, got %d", len(flow))
	}
	if flow[0].Timestamp != float64(start.Unix()) {
		t.Fatalf("first tick should come from the first candle, got %v", flow[0].Timestamp)
	}
}

func TestSimulatedDepth(t *testing.T) {
	d := SimulatedDepth(candle(time.Now(), "990", "1010", "980", "1000", 5000))
	if len(d.Bids) != 20 || len(d.Asks) != 20 {
		t.Fatalf("expected 20 levels a side, got %d/%d", len(d.Bids), len(d.Asks))
	}
	if d.Bids[0].Price.String() != "999" || d.Asks[0].Price.String() != "1001" {
		t.Fatalf("touch = %s/%s", d.Bids[0].Price, d.Asks[0].Price)
	}
	if d.Bids[19].Price.String() != "980" || d.Asks[19].Price.String() != "1020" {
		t.Fatalf("deepest = %s/%s", d.Bids[19].Price, d.Asks[19].Price)
	}
	wantQty := []int64{1000, 500, 333, 250, 200, 166, 142, 125, 111, 100, 100}
	for i, q := range wantQty {
		if d.Bids[i].Qty != q || d.Asks[i].Qty != q {
			t.Errorf("level %d qty = %d/%d, want %d", i, d.Bids[i].Qty, d.Asks[i].Qty, q)
		}
	}
	if d.LastTrade == nil || d.LastTrade.Side != "buy" || d.LastTrade.Quantity != 5000 {
		t.Fatalf("last trade = %+v", d.LastTrade)
	}
}

func TestBuildSnapshot(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s := BuildSnapshot("INFY", "1hour", []model.Candle{
		candle(time.Unix(1700000000, 0), "1500", "1510", "1495", "1505", 200),
	}, now)
	if s.Symbol != "INFY" || s.Timeframe != "1hour" || s.MarketStatus != "closed" {
		t.Fatalf("unexpected header %+v", s)
	}
	if len(s.Candles) != 1 || s.Candles[0].OHLC != [4]float64{1500, 1510, 1495, 1505} {
		t.Fatalf("unexpected candles %+v", s.Candles)
	}
	if s.Timestamp != 1700003600 || s.Candles[0].Timestamp != 1700000000 {
		t.Fatalf("timestamps: %v %v", s.Timestamp, s.Candles[0].Timestamp)
	}
	if len(s.OrderFlow) != 2 || len(s.VolumeProfile) != 1 {
		t.Fatalf("derived series: flow=%d profile=%d", len(s.OrderFlow), len(s.VolumeProfile))
	}
}
