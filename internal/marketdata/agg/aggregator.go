package agg

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"orderflow-relay/internal/model"
	"orderflow-relay/internal/ringbuf"
)

const (
	// DefaultWindow is the aggregation window length.
	DefaultWindow = 100 * time.Millisecond
	// DefaultCapacity bounds the tick buffer; older ticks are evicted first.
	DefaultCapacity = 10_000
)

// Batch is everything flushed at one window boundary, sorted by price.
type Batch struct {
	Trades    []model.AggregatedTrade
	WindowEnd time.Time
}

// Aggregator collapses raw ticks into per-price volume summaries on a fixed
// window. Run owns it in a single goroutine; Ingest and Flush are also safe
// to call directly.
type Aggregator struct {
	mu        sync.Mutex
	buf       *ringbuf.Ring[model.Tick]
	lastFlush time.Time

	window time.Duration
	now    func() time.Time
	log    *slog.Logger

	// Metrics hooks (optional, set externally)
	OnEvicted      func()
	OnFlush        func(trades int)
	OnDroppedBatch func()
}

// New creates an Aggregator with the default window and capacity.
func New(log *slog.Logger) *Aggregator {
	return NewWithClock(DefaultWindow, DefaultCapacity, time.Now, log)
}

// NewWithClock creates an Aggregator with explicit sizing and clock.
func NewWithClock(window time.Duration, capacity int, now func() time.Time, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		buf:    ringbuf.New[model.Tick](capacity),
		window: window,
		now:    now,
		log:    log.With("component", "agg"),
	}
}

// Ingest buffers one tick.
func (a *Aggregator) Ingest(t model.Tick) {
	a.mu.Lock()
	evicted := a.buf.Push(t)
	a.mu.Unlock()
	if evicted && a.OnEvicted != nil {
		a.OnEvicted()
	}
}

// Buffered returns the number of ticks waiting for the next flush.
func (a *Aggregator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

// Flush groups every buffered tick by exact price and clears the buffer.
// It returns nil without touching the buffer when less than one window has
// passed since the previous flush or when nothing is buffered.
func (a *Aggregator) Flush(now time.Time) []model.AggregatedTrade {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastFlush.IsZero() && now.Sub(a.lastFlush) < a.window {
		return nil
	}
	if a.buf.Len() == 0 {
		return nil
	}

	groups := make(map[string]*model.AggregatedTrade)
	a.buf.Drain(func(t model.Tick) {
		key := t.Price.String()
		g, ok := groups[key]
		if !ok {
			g = &model.AggregatedTrade{Price: t.Price, WindowEnd: now}
			groups[key] = g
		}
		g.Add(t)
	})
	a.lastFlush = now

	out := make([]model.AggregatedTrade, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Run consumes ticks from tickCh, flushes every window and sends non-empty
// batches to outCh. Blocks until ctx is cancelled or tickCh is closed.
// tickCh may be nil when the owner feeds ticks through Ingest.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, outCh chan<- Batch) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			a.Ingest(tick)

		case <-ticker.C:
			now := a.now()
			trades := a.Flush(now)
			if len(trades) == 0 {
				continue
			}
			if a.OnFlush != nil {
				a.OnFlush(len(trades))
			}
			a.emit(Batch{Trades: trades, WindowEnd: now}, outCh)
		}
	}
}

// emit sends a batch to outCh. Non-blocking to avoid stalling ingestion.
func (a *Aggregator) emit(b Batch, outCh chan<- Batch) {
	select {
	case outCh <- b:
	default:
		a.log.Warn("output full, dropping batch", "trades", len(b.Trades))
		if a.OnDroppedBatch != nil {
			a.OnDroppedBatch()
		}
	}
}
