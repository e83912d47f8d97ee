package agg

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-relay/internal/model"
)

func tick(price string, qty int64, side model.Side) model.Tick {
	return model.Tick{Price: decimal.RequireFromString(price), Qty: qty, Side: side}
}

func TestAggregator_VolumeConservation(t *testing.T) {
	a := NewWithClock(100*time.Millisecond, DefaultCapacity, time.Now, nil)

	in := []model.Tick{
		tick("2885.50", 10, model.SideBuy),
		tick("2885.50", 7, model.SideSell),
		tick("2885.50", 5, model.SideUnknown),
		tick("2886.00", 3, model.SideUnknown),
		tick("2884.95", 40, model.SideSell),
		tick("2886.0", 1, model.SideBuy), // same price as 2886.00
	}
	var inputVolume int64
	for _, tk := range in {
		a.Ingest(tk)
		inputVolume += tk.Qty
	}

	trades := a.Flush(time.Now())
	if len(trades) != 3 {
		t.Fatalf("expected 3 price groups, got %d", len(trades))
	}

	var total int64
	for _, tr := range trades {
		if tr.BuyVolume+tr.SellVolume != tr.TotalVolume {
			t.Errorf("price %s: buy %d + sell %d != total %d", tr.Price, tr.BuyVolume, tr.SellVolume, tr.TotalVolume)
		}
		total += tr.TotalVolume
	}
	if total != inputVolume {
		t.Fatalf("expected total volume %d, got %d", inputVolume, total)
	}

	// sorted ascending
	if !trades[0].Price.Equal(decimal.RequireFromString("2884.95")) {
		t.Errorf("expected lowest price first, got %s", trades[0].Price)
	}

	mid := trades[1]
	if mid.BuyVolume != 12 || mid.SellVolume != 10 || mid.TradeCount != 3 {
		t.Errorf("2885.50: got buy=%d sell=%d count=%d, want 12/10/3", mid.BuyVolume, mid.SellVolume, mid.TradeCount)
	}

	top := trades[2]
	if top.BuyVolume != 2 || top.SellVolume != 2 || top.TotalVolume != 4 {
		t.Errorf("2886: got buy=%d sell=%d total=%d, want 2/2/4", top.BuyVolume, top.SellVolume, top.TotalVolume)
	}
}

func TestAggregator_UnknownSideRounding(t *testing.T) {
	a := NewWithClock(100*time.Millisecond, DefaultCapacity, time.Now, nil)
	a.Ingest(tick("100", 7, model.SideUnknown))

	trades := a.Flush(time.Now())
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].BuyVolume != 3 || trades[0].SellVolume != 4 {
		t.Fatalf("expected buy=3 sell=4, got buy=%d sell=%d", trades[0].BuyVolume, trades[0].SellVolume)
	}
}

func TestAggregator_FlushWindow(t *testing.T) {
	a := NewWithClock(100*time.Millisecond, DefaultCapacity, time.Now, nil)
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// empty buffer: no-op
	if got := a.Flush(t0); got != nil {
		t.Fatalf("expected nil flush on empty buffer, got %v", got)
	}

	a.Ingest(tick("10", 1, model.SideBuy))
	if got := a.Flush(t0); len(got) != 1 {
		t.Fatalf("expected first flush to emit 1 trade, got %d", len(got))
	}
	if a.Buffered() != 0 {
		t.Fatalf("expected buffer cleared, got %d", a.Buffered())
	}

	a.Ingest(tick("10", 1, model.SideBuy))
	if got := a.Flush(t0.Add(50 * time.Millisecond)); got != nil {
		t.Fatalf("expected no-op flush inside window, got %v", got)
	}
	if a.Buffered() != 1 {
		t.Fatalf("no-op flush must keep the buffer, got %d", a.Buffered())
	}

	if got := a.Flush(t0.Add(100 * time.Millisecond)); len(got) != 1 {
		t.Fatalf("expected flush after window, got %d", len(got))
	}
}

func TestAggregator_EvictsOldestOnOverflow(t *testing.T) {
	a := NewWithClock(100*time.Millisecond, 3, time.Now, nil)
	evicted := 0
	a.OnEvicted = func() { evicted++ }

	a.Ingest(tick("1", 100, model.SideBuy))
	a.Ingest(tick("2", 1, model.SideBuy))
	a.Ingest(tick("3", 1, model.SideBuy))
	a.Ingest(tick("4", 1, model.SideBuy))

	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	trades := a.Flush(time.Now())
	for _, tr := range trades {
		if tr.Price.Equal(decimal.NewFromInt(1)) {
			t.Fatal("oldest tick should have been evicted")
		}
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
}

func TestAggregator_Run(t *testing.T) {
	a := NewWithClock(20*time.Millisecond, DefaultCapacity, time.Now, nil)
	tickCh := make(chan model.Tick, 100)
	outCh := make(chan Batch, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, outCh)
		close(done)
	}()

	tickCh <- tick("500", 10, model.SideBuy)
	tickCh <- tick("500", 5, model.SideSell)

	select {
	case b := <-outCh:
		if len(b.Trades) != 1 || b.Trades[0].TotalVolume != 15 {
			t.Fatalf("unexpected batch: %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}

	cancel()
	<-done
}

func TestAggregator_RunFlushesDirectIngest(t *testing.T) {
	a := NewWithClock(20*time.Millisecond, DefaultCapacity, time.Now, nil)
	outCh := make(chan Batch, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, nil, outCh)

	a.Ingest(tick("501", 7, model.SideBuy))

	select {
	case b := <-outCh:
		if len(b.Trades) != 1 || b.Trades[0].BuyVolume != 7 {
			t.Fatalf("unexpected batch: %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
}
